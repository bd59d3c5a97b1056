package s3

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"scenerender/internal/pkg/errors"
	"scenerender/internal/ports"
)

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
}

// Storage implements ports.ObjectStore on any S3-compatible bucket.
type Storage struct {
	cl     *minio.Client
	bucket string
}

func New(cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.ValidationField("S3_BUCKET", "bucket is required")
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, errors.Wrap(err, "s3.new", "create client")
	}
	return &Storage{cl: cl, bucket: cfg.Bucket}, nil
}

func (s *Storage) Provider() string { return "s3" }

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Storage) EnsureBucket(ctx context.Context, region string) error {
	ok, err := s.cl.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "s3.ensure_bucket", "check bucket")
	}
	if ok {
		return nil
	}
	if err := s.cl.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "s3.ensure_bucket", "create bucket")
	}
	return nil
}

func (s *Storage) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object_key is required")
	}
	size := in.Size
	if size == 0 {
		size = -1
	}
	info, err := s.cl.PutObject(ctx, s.bucket, in.ObjectKey, in.Reader, size, minio.PutObjectOptions{
		ContentType: in.ContentType,
	})
	if err != nil {
		return ports.PutObjectOutput{}, errors.WrapWithCode(err, errors.CodeUnavailable, "s3.put", "upload object")
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: info.Size}, nil
}

func (s *Storage) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, ports.ObjectInfo, error) {
	// HEAD first so a missing key fails here rather than on first Read.
	info, err := s.StatObject(ctx, objectKey)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}
	obj, err := s.cl.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, ports.ObjectInfo{}, s.mapErr(err, "s3.get", objectKey)
	}
	return obj, info, nil
}

func (s *Storage) StatObject(ctx context.Context, objectKey string) (ports.ObjectInfo, error) {
	info, err := s.cl.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ports.ObjectInfo{}, s.mapErr(err, "s3.stat", objectKey)
	}
	return ports.ObjectInfo{ContentType: info.ContentType, Size: info.Size}, nil
}

func (s *Storage) DeleteObject(ctx context.Context, objectKey string) error {
	if err := s.cl.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return s.mapErr(err, "s3.delete", objectKey)
	}
	return nil
}

func (s *Storage) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	u, err := s.cl.PresignedGetObject(ctx, s.bucket, objectKey, expiresIn, nil)
	if err != nil {
		return ports.SignedURLOutput{}, s.mapErr(err, "s3.presign", objectKey)
	}
	return ports.SignedURLOutput{URL: u.String(), ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

func (s *Storage) mapErr(err error, op, objectKey string) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return errors.Wrap(ports.ErrObjectNotFound, op, "no object at "+objectKey)
	}
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, "object storage request failed")
}
