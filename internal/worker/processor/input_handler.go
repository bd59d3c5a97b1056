package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"scenerender/internal/ids"
	"scenerender/internal/models"
	"scenerender/internal/ports"
)

type InputHandler struct {
	sp      ports.ObjectStore
	workDir string
}

func NewInputHandler(sp ports.ObjectStore, workDir string) *InputHandler {
	return &InputHandler{sp: sp, workDir: workDir}
}

// LocalPath is where the scene of f is kept on this worker.
func (ih *InputHandler) LocalPath(f *models.UploadedFile) string {
	return filepath.Join(ih.workDir, "scenes", ids.SanitizeFilename(f.ID+f.Ext))
}

// Materialize makes the scene available on local disk. Scenes are immutable
// once uploaded, so a copy left by an earlier job is reused.
func (ih *InputHandler) Materialize(ctx context.Context, f *models.UploadedFile) (string, error) {
	localPath := ih.LocalPath(f)
	if st, err := os.Stat(localPath); err == nil && st.Size() > 0 {
		return localPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create scenes directory: %w", err)
	}

	rc, _, err := ih.sp.GetObject(ctx, f.ObjectKey())
	if err != nil {
		return "", fmt.Errorf("download scene failed file_uuid=%s: %w", f.ID, err)
	}
	defer rc.Close()

	if err := ih.saveToLocal(localPath, rc); err != nil {
		return "", fmt.Errorf("failed to save scene locally file_uuid=%s: %w", f.ID, err)
	}
	return localPath, nil
}

// saveToLocal writes through a temp file so concurrent workers never see a
// partial scene.
func (ih *InputHandler) saveToLocal(localPath string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".scene-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), localPath)
}
