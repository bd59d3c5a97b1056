package processor

import (
	contracts "scenerender/internal/contracts/renderer/v0"
	"scenerender/internal/models"
)

// renderRequest translates a queued job into the engine contract.
func renderRequest(job models.RenderJob, scenePath, outputPath string) contracts.RenderRequest {
	req := contracts.RenderRequest{
		RenderID:   job.RenderID,
		Type:       string(job.Type),
		ScenePath:  scenePath,
		NodePath:   job.NodePath,
		ROPPath:    job.ROPPath,
		OutputPath: outputPath,
	}
	if job.Type.HasFrames() {
		req.Frames = contracts.Frames{Start: job.Frames.Start, End: job.Frames.End, Step: job.Frames.Step}
	} else {
		req.Resolution = contracts.DefaultResolution
	}
	return req
}
