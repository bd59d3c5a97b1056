package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"scenerender/internal/ids"
	"scenerender/internal/models"
	"scenerender/internal/ports"
)

type OutputHandler struct {
	sp      ports.ObjectStore
	workDir string
}

func NewOutputHandler(sp ports.ObjectStore, workDir string) *OutputHandler {
	return &OutputHandler{sp: sp, workDir: workDir}
}

// JobDir holds everything a render writes locally.
func (oh *OutputHandler) JobDir(job models.RenderJob) string {
	return filepath.Join(oh.workDir, "renders", ids.SanitizeFilename(job.RenderID), string(job.Type))
}

// Prepare creates the job directory and returns the path the engine writes to.
func (oh *OutputHandler) Prepare(job models.RenderJob) (string, error) {
	dir := oh.JobDir(job)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return filepath.Join(dir, ids.SanitizeFilename(job.Output.Filename)), nil
}

// Upload stores the artifact at the job's object key.
func (oh *OutputHandler) Upload(ctx context.Context, job models.RenderJob, localPath string) (ports.PutObjectOutput, error) {
	st, err := os.Stat(localPath)
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("engine produced no output at %s: %w", localPath, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	out, err := oh.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   job.Output.ObjectKey,
		ContentType: ContentTypeFor(job.Type, job.Output.Filename),
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("failed to upload artifact: %w", err)
	}
	return out, nil
}
