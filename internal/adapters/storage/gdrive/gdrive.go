package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"scenerender/internal/pkg/errors"
	"scenerender/internal/ports"
)

// Client implements ports.ObjectStore on Google Drive. Drive has no paths, so
// every object is a file in one folder whose Name is the full object key.
// Writing an existing key replaces that file's content.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

// lookup finds the Drive file holding objectKey.
func (c *Client) lookup(ctx context.Context, objectKey string) (*drive.File, error) {
	q := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(objectKey))
	if c.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(c.folderID))
	}

	list, err := c.srv.Files.List().
		Q(q).
		Fields("files(id, name, mimeType, size)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.lookup", "list files")
	}
	if len(list.Files) == 0 {
		return nil, errors.Wrap(ports.ErrObjectNotFound, "gdrive.lookup", "no object at "+objectKey)
	}
	return list.Files[0], nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, errors.ValidationField("object_key", "object_key is required")
	}

	var opts []googleapi.MediaOption
	if in.ContentType != "" {
		opts = append(opts, googleapi.ContentType(in.ContentType))
	}

	existing, err := c.lookup(ctx, in.ObjectKey)
	switch {
	case err == nil:
		updated, err := c.srv.Files.Update(existing.Id, &drive.File{}).
			Media(in.Reader, opts...).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		if err != nil {
			return ports.PutObjectOutput{}, errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.put", "update file")
		}
		return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: updated.Size}, nil

	case !errors.IsNotFound(err):
		return ports.PutObjectOutput{}, err
	}

	file := &drive.File{Name: in.ObjectKey}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}
	created, err := c.srv.Files.Create(file).
		Media(in.Reader, opts...).
		Fields("id, size").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return ports.PutObjectOutput{}, errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.put", "upload failed")
	}
	size := created.Size
	if size == 0 {
		size = in.Size
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, ports.ObjectInfo, error) {
	f, err := c.lookup(ctx, objectKey)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}

	resp, err := c.srv.Files.Get(f.Id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ports.ObjectInfo{}, errors.Wrap(ports.ErrObjectNotFound, "gdrive.get", "no object at "+objectKey)
		}
		return nil, ports.ObjectInfo{}, errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.get", "download failed")
	}

	return resp.Body, ports.ObjectInfo{
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

func (c *Client) StatObject(ctx context.Context, objectKey string) (ports.ObjectInfo, error) {
	f, err := c.lookup(ctx, objectKey)
	if err != nil {
		return ports.ObjectInfo{}, err
	}
	return ports.ObjectInfo{ContentType: f.MimeType, Size: f.Size}, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	f, err := c.lookup(ctx, objectKey)
	if errors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.srv.Files.Delete(f.Id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.delete", "delete file")
	}
	return nil
}

// GetSignedURL returns no URL; Drive files are streamed through the API.
func (c *Client) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
