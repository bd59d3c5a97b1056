package gdrive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"scenerender/internal/pkg/errors"
)

// fakeDrive answers the list and delete calls the client makes.
type fakeDrive struct {
	mu      sync.Mutex
	files   map[string]*drive.File // by name
	queries []string
	deleted []string
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
		q := r.URL.Query().Get("q")
		f.queries = append(f.queries, q)
		resp := drive.FileList{Files: []*drive.File{}}
		for name, file := range f.files {
			if strings.Contains(q, "name = '"+name+"'") {
				resp.Files = append(resp.Files, file)
			}
		}
		_ = json.NewEncoder(w).Encode(resp)

	case r.Method == http.MethodDelete:
		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		f.deleted = append(f.deleted, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotImplemented)
	}
}

func newTestClient(t *testing.T, fake *fakeDrive) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)
	return NewClient(svc, "folder-1")
}

func TestStatObject(t *testing.T) {
	fake := &fakeDrive{files: map[string]*drive.File{
		"models/r1.glb": {Id: "drive-1", Name: "models/r1.glb", MimeType: "model/gltf-binary", Size: 2048},
	}}
	c := newTestClient(t, fake)

	info, err := c.StatObject(context.Background(), "models/r1.glb")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size)
	assert.Equal(t, "model/gltf-binary", info.ContentType)

	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0], "'folder-1' in parents")
	assert.Contains(t, fake.queries[0], "trashed = false")
}

func TestStatObjectMissing(t *testing.T) {
	c := newTestClient(t, &fakeDrive{files: map[string]*drive.File{}})
	_, err := c.StatObject(context.Background(), "models/nope.glb")
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteObject(t *testing.T) {
	fake := &fakeDrive{files: map[string]*drive.File{
		"thumbnails/r1.png": {Id: "drive-7", Name: "thumbnails/r1.png"},
	}}
	c := newTestClient(t, fake)

	require.NoError(t, c.DeleteObject(context.Background(), "thumbnails/r1.png"))
	require.NoError(t, c.DeleteObject(context.Background(), "thumbnails/missing.png"))
	assert.Equal(t, []string{"drive-7"}, fake.deleted)
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
	assert.Equal(t, `a\\b`, escapeQuery(`a\b`))
}
