package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"scenerender/internal/dispatch"
	"scenerender/internal/httpkit"
	"scenerender/internal/pkg/errors"
)

// downloadable maps a download extension to the object key of an artifact.
var downloadable = map[string]func(name string) string{
	"glb": dispatch.GLBObjectKey,
	"png": dispatch.ThumbnailObjectKey,
}

// GenerateDownload mints a temporary link for a stored artifact.
func (h *Handler) GenerateDownload(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	ext := q.Get("ext")
	keyFor, ok := downloadable[ext]
	if !ok {
		return errors.ValidationField("ext", "ext must be glb or png")
	}
	name, ok := artifactName(q.Get("filename"), "."+ext)
	if !ok {
		return errors.ValidationField("filename", "filename is required")
	}

	if _, err := h.sp.StatObject(r.Context(), keyFor(name)); err != nil {
		return err
	}

	link := h.downloads.Mint(name, ext)
	h.log.FromContext(r.Context()).Debug("download link minted", "link_id", link.ID, "filename", name, "ext", ext)
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"id":         link.ID,
		"url":        "/download/" + ext + "/" + link.ID,
		"expires_at": link.ExpiresAt,
	})
	return nil
}

// Download serves a live link as an attachment. Expired and unknown links are
// both 404.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) error {
	ext := chi.URLParam(r, "ext")
	link, err := h.downloads.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	keyFor, ok := downloadable[link.Ext]
	if !ok || link.Ext != ext {
		return errors.NotFound("download", link.ID)
	}

	key := keyFor(link.Filename)
	rc, info, err := h.sp.GetObject(r.Context(), key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := httpkit.StreamFile(w, rc, info.ContentType, info.Size, link.Filename+"."+ext); err != nil {
		h.log.FromContext(r.Context()).Warn("download interrupted", "object_key", key, "error", err.Error())
	}
	return nil
}
