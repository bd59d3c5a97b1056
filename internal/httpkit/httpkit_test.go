package httpkit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	called := false
	h := CORS(CORSOptions{AllowedOrigins: []string{" http://app.local "}, AllowCredentials: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/render", nil)
	req.Header.Set("Origin", "http://app.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "http://app.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.True(t, called)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var v struct {
		UserUUID string `json:"userUuid"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userUuid":"u","extra":1}`))
	assert.Error(t, DecodeJSON(req, &v))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userUuid":"u"}`))
	require.NoError(t, DecodeJSON(req, &v))
	assert.Equal(t, "u", v.UserUUID)
}

func TestStreamFile(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, StreamFile(rec, strings.NewReader("glb"), "model/gltf-binary", 3, "model.glb"))

	assert.Equal(t, "glb", rec.Body.String())
	assert.Equal(t, "3", rec.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename="model.glb"`, rec.Header().Get("Content-Disposition"))
}

func TestCORSWildcardEchoesOrigin(t *testing.T) {
	h := CORS(CORSOptions{AllowedOrigins: []string{"*"}, ExposedHeaders: []string{"X-Request-ID"}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/get_stored_models", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}
