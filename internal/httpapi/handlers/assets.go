package handlers

import (
	"bytes"
	"image/png"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nfnt/resize"

	"scenerender/internal/dispatch"
	"scenerender/internal/httpkit"
	"scenerender/internal/pkg/errors"
)

const (
	glbContentType  = "model/gltf-binary"
	glbDownloadName = "model.gltf"

	minThumbSize = 16
	maxThumbSize = 1024
)

// artifactName strips ext from a route parameter and rejects anything that is
// not a single path element.
func artifactName(raw, ext string) (string, bool) {
	name := strings.TrimSuffix(raw, ext)
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return name, true
}

func (h *Handler) placeholderName() string {
	return strings.TrimSuffix(path.Base(h.placeholderKey), ".glb")
}

// glbKey maps a render ID, or the placeholder's name, to its object key.
func (h *Handler) glbKey(name string) string {
	if h.placeholderKey != "" && name == h.placeholderName() {
		return h.placeholderKey
	}
	return dispatch.GLBObjectKey(name)
}

// GetGLB streams a rendered model. The ".glb" suffix is optional.
func (h *Handler) GetGLB(w http.ResponseWriter, r *http.Request) error {
	name, ok := artifactName(chi.URLParam(r, "filename"), ".glb")
	if !ok {
		return errors.ValidationField("filename", "Requested an invalid .glb file.")
	}
	return h.streamGLB(w, r, h.glbKey(name))
}

func (h *Handler) streamGLB(w http.ResponseWriter, r *http.Request, key string) error {
	rc, info, err := h.sp.GetObject(r.Context(), key)
	if errors.IsNotFound(err) {
		return errors.ValidationField("filename", "Requested an invalid .glb file.")
	}
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := httpkit.StreamFile(w, rc, glbContentType, info.Size, glbDownloadName); err != nil {
		h.log.FromContext(r.Context()).Warn("glb stream interrupted", "object_key", key, "error", err.Error())
	}
	return nil
}

// GetThumbnail streams a render's thumbnail. ?size=N scales it to fit an NxN
// box.
func (h *Handler) GetThumbnail(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	name, ok := artifactName(chi.URLParam(r, "filename"), ".png")
	if !ok {
		return errors.ValidationField("filename", "Requested an invalid thumbnail.")
	}

	size := 0
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < minThumbSize || n > maxThumbSize {
			return errors.ValidationField("size", "size must be between 16 and 1024")
		}
		size = n
	}

	key := dispatch.ThumbnailObjectKey(name)
	rc, info, err := h.sp.GetObject(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if size == 0 {
		if err := httpkit.StreamFile(w, rc, "image/png", info.Size, ""); err != nil {
			h.log.FromContext(ctx).Warn("thumbnail stream interrupted", "object_key", key, "error", err.Error())
		}
		return nil
	}

	img, err := png.Decode(rc)
	if err != nil {
		return errors.Wrap(err, "assets.thumbnail", "stored thumbnail is not a png")
	}
	scaled := resize.Thumbnail(uint(size), uint(size), img, resize.Lanczos3)

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, scaled); err != nil {
		return errors.Wrap(err, "assets.thumbnail", "failed to encode thumbnail")
	}
	return httpkit.StreamFile(w, buf, "image/png", int64(buf.Len()), "")
}

// GetNanoID returns a short share token for a render's model, or for the
// placeholder when ?placeholder=true. Asking twice yields the same token.
func (h *Handler) GetNanoID(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	placeholder := q.Get("placeholder") == "true"

	target := h.placeholderName()
	if !placeholder {
		name, ok := artifactName(q.Get("filename"), ".glb")
		if !ok {
			return errors.ValidationField("filename", "Specify the render to share.")
		}
		if _, err := h.sp.StatObject(r.Context(), dispatch.GLBObjectKey(name)); err != nil {
			return err
		}
		target = name
	}

	token, err := h.store.MintOrReuseShareToken(r.Context(), target, placeholder)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]string{"nano_id": token})
	return nil
}

// GetGLBFromNano streams the model a share token points at.
func (h *Handler) GetGLBFromNano(w http.ResponseWriter, r *http.Request) error {
	link, err := h.store.ResolveShareToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		return err
	}
	key := dispatch.GLBObjectKey(link.Target)
	if link.Placeholder {
		key = h.placeholderKey
	}
	return h.streamGLB(w, r, key)
}
