package localfs

import (
	"context"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scenerender/internal/pkg/errors"
	"scenerender/internal/ports"
)

// LocalFS stores objects as files under a root directory. It is also the
// shared-volume layout: a key "models/x.glb" is the file <root>/models/x.glb.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

// Path resolves a key to its file, rejecting keys that escape the root.
func (l *LocalFS) Path(objectKey string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectKey))
	if objectKey == "" || filepath.IsAbs(clean) || clean == "." ||
		clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.ValidationField("object_key", "invalid object key: "+objectKey)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.Path(in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "create directory")
	}

	// Write beside the target and rename, so readers never see half a file.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "create temp file")
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, in.Reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "write object")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ports.PutObjectOutput{}, errors.Wrap(err, "localfs.put", "commit object")
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

func (l *LocalFS) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, ports.ObjectInfo, error) {
	p, err := l.Path(objectKey)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, ports.ObjectInfo{}, notFoundOr(err, objectKey)
	}

	info := ports.ObjectInfo{ContentType: mime.TypeByExtension(filepath.Ext(p))}
	if st, statErr := f.Stat(); statErr == nil {
		info.Size = st.Size()
	}
	// Prefer extension-based type. If empty, sniff first bytes.
	if info.ContentType == "" {
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		_, _ = f.Seek(0, io.SeekStart)
		info.ContentType = http.DetectContentType(buf[:n])
	}
	return f, info, nil
}

func (l *LocalFS) StatObject(ctx context.Context, objectKey string) (ports.ObjectInfo, error) {
	p, err := l.Path(objectKey)
	if err != nil {
		return ports.ObjectInfo{}, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return ports.ObjectInfo{}, notFoundOr(err, objectKey)
	}
	if st.IsDir() {
		return ports.ObjectInfo{}, errors.Wrap(ports.ErrObjectNotFound, "localfs.stat", objectKey+" is a directory")
	}
	return ports.ObjectInfo{ContentType: mime.TypeByExtension(filepath.Ext(p)), Size: st.Size()}, nil
}

func (l *LocalFS) DeleteObject(ctx context.Context, objectKey string) error {
	p, err := l.Path(objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "localfs.delete", "remove object")
	}
	return nil
}

// GetSignedURL returns no URL; local objects are streamed by the API.
func (l *LocalFS) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

func notFoundOr(err error, objectKey string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(ports.ErrObjectNotFound, "localfs", "no object at "+objectKey)
	}
	return errors.Wrap(err, "localfs", "open object")
}
