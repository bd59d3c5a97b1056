package processor

import (
	"path/filepath"
	"strings"

	"scenerender/internal/models"
)

// ContentTypeFor picks the upload content type of an artifact.
func ContentTypeFor(t models.RenderType, filename string) string {
	switch t {
	case models.RenderGLB:
		return "model/gltf-binary"
	case models.RenderThumbnail:
		return "image/png"
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".exr":
		return "image/x-exr"
	case ".glb":
		return "model/gltf-binary"
	case ".usd", ".usdc", ".usda", ".usdz":
		return "model/vnd.usd"
	default:
		return "application/octet-stream"
	}
}
