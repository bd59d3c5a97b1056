package ports

import (
	"context"
	"io"
	"time"

	"scenerender/internal/pkg/errors"
)

// ErrObjectNotFound is returned (possibly wrapped) when a key has no object.
var ErrObjectNotFound = errors.New(errors.CodeNotFound, "object not found")

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	// Size is -1 when unknown.
	Size int64
}

type PutObjectOutput struct {
	ObjectKey string
	Size      int64
}

type ObjectInfo struct {
	ContentType string
	Size        int64
}

type SignedURLOutput struct {
	// URL is empty when the backend cannot presign; callers stream instead.
	URL       string
	ExpiresAt time.Time
}

// ObjectStore holds scene uploads and render artifacts under slash-separated
// keys such as "scenes/<id>.hipnc" or "models/<id>.glb". Implementations:
// localfs, gdrive, s3.
type ObjectStore interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, info ObjectInfo, err error)
	StatObject(ctx context.Context, objectKey string) (ObjectInfo, error)
	DeleteObject(ctx context.Context, objectKey string) error

	GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (SignedURLOutput, error)
}
