package processor

import (
	"os"
	"path/filepath"

	"scenerender/internal/models"
	"scenerender/internal/pkg/logger"
)

type Cleanup struct {
	outputs      *OutputHandler
	cleanupLocal bool
	log          *logger.Logger
}

func NewCleanup(outputs *OutputHandler, cleanupLocal bool, log *logger.Logger) *Cleanup {
	return &Cleanup{outputs: outputs, cleanupLocal: cleanupLocal, log: log}
}

// CleanupJob removes the job's local output. The render directory itself is
// left when the sibling job of the same render still uses it.
func (c *Cleanup) CleanupJob(job models.RenderJob) {
	if !c.cleanupLocal {
		return
	}

	dir := c.outputs.JobDir(job)
	if err := os.RemoveAll(dir); err != nil {
		c.log.Warn("failed to remove job directory", "dir", dir, "error", err.Error())
		return
	}
	// Fails while the other job of this render is still writing; that is fine.
	_ = os.Remove(filepath.Dir(dir))
}
