// Package processor runs one queued render job from scene download to
// completion notice.
package processor

import (
	"context"
	"time"

	"scenerender/internal/models"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/pkg/logger"
	"scenerender/internal/ports"
	"scenerender/internal/relay"
	"scenerender/internal/worker/renderer"
)

// Store is the part of the key-value store a worker needs.
type Store interface {
	GetFile(ctx context.Context, fileID string) (*models.UploadedFile, error)
	RecordRenderResult(ctx context.Context, r models.RenderResult) error
}

// Notifier publishes progress and completion to the relay.
type Notifier interface {
	RenderProgress(ctx context.Context, socketID, nodePath string, progress float64) error
	ThumbProgress(ctx context.Context, socketID, nodePath string, progress float64) error
	Complete(ctx context.Context, c relay.Completion) error
}

type Deps struct {
	Store        Store
	Engine       renderer.Engine
	SP           ports.ObjectStore
	Relay        Notifier
	WorkDir      string
	CleanupLocal bool
	// ProgressRate caps distinct progress updates per second per job.
	ProgressRate float64
	Log          *logger.Logger
}

type Processor struct {
	store        Store
	engine       renderer.Engine
	relay        Notifier
	progressRate float64
	log          *logger.Logger
	now          func() time.Time

	inputHandler  *InputHandler
	outputHandler *OutputHandler
	cleanup       *Cleanup
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	p := &Processor{
		store:        d.Store,
		engine:       d.Engine,
		relay:        d.Relay,
		progressRate: d.ProgressRate,
		log:          log,
		now:          time.Now,
	}

	p.inputHandler = NewInputHandler(d.SP, d.WorkDir)
	p.outputHandler = NewOutputHandler(d.SP, d.WorkDir)
	p.cleanup = NewCleanup(p.outputHandler, d.CleanupLocal, log)

	return p
}

// ProcessJob runs job to completion. An engine failure is logged and
// swallowed: nothing is recorded or published and the browser times out on
// its own. Errors returned here are infrastructure failures.
func (p *Processor) ProcessJob(ctx context.Context, job models.RenderJob) error {
	log := &logger.Logger{Logger: p.log.FromContext(logger.ContextWithRenderID(ctx, job.RenderID)).With(
		"render_type", string(job.Type),
		"node_path", job.NodePath,
	)}

	// 1. Scene
	file, err := p.store.GetFile(ctx, job.FileID)
	if err != nil {
		return errors.Wrap(err, "processor.fetch", "failed to load scene metadata")
	}

	log.Debug("materializing scene", "file_uuid", file.ID)
	scenePath, err := p.inputHandler.Materialize(ctx, file)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "processor.inputs", "failed to materialize scene")
	}

	// 2. Output location
	outputPath, err := p.outputHandler.Prepare(job)
	if err != nil {
		return errors.Wrap(err, "processor.outputs", "failed to prepare output")
	}
	defer p.cleanup.CleanupJob(job)

	// 3. Render
	thr := newThrottle(p.progressRate, func(pct float64) { p.publishProgress(ctx, log, job, pct) })

	log.Info("starting render", "scene", scenePath)
	start := p.now()
	if err := p.engine.Render(ctx, renderRequest(job, scenePath, outputPath), thr.Offer); err != nil {
		log.Error("engine reported failure",
			"code", string(errors.GetCode(err)),
			"error", err.Error(),
			"duration_ms", p.now().Sub(start).Milliseconds(),
		)
		return nil
	}
	log.Debug("render completed", "duration_ms", p.now().Sub(start).Milliseconds())

	// 4. Upload
	uploaded, err := p.outputHandler.Upload(ctx, job, outputPath)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "processor.upload", "failed to upload artifact")
	}
	log.Debug("artifact uploaded", "object_key", uploaded.ObjectKey, "size", uploaded.Size)

	// 5. Result
	result := models.RenderResult{
		RenderID:   job.RenderID,
		Type:       job.Type,
		FileID:     job.FileID,
		NodePath:   job.NodePath,
		Filename:   job.Output.Filename,
		RenderedAt: p.now().UTC(),
	}
	if job.Type.HasFrames() {
		frames := job.Frames
		result.Frames = &frames
	}
	if err := p.store.RecordRenderResult(ctx, result); err != nil {
		return errors.Wrap(err, "processor.save", "failed to record render result")
	}

	// 6. Notify
	if job.SocketID == "" {
		log.Debug("no socket to notify")
		return nil
	}
	c := relay.Completion{
		SocketID:   job.SocketID,
		FileID:     job.FileID,
		RenderType: job.Type,
		NodePath:   job.NodePath,
		FilePath:   job.Output.ObjectKey,
		RenderID:   job.RenderID,
	}
	if job.Type.HasFrames() {
		c.FrameInfo = job.Frames.Slice()
	}
	if err := p.relay.Complete(ctx, c); err != nil {
		return errors.Wrap(err, "processor.notify", "failed to publish completion")
	}

	log.Info("render finished")
	return nil
}

func (p *Processor) publishProgress(ctx context.Context, log *logger.Logger, job models.RenderJob, pct float64) {
	if job.SocketID == "" {
		return
	}
	var err error
	if job.Type == models.RenderThumbnail {
		err = p.relay.ThumbProgress(ctx, job.SocketID, job.NodePath, pct)
	} else {
		err = p.relay.RenderProgress(ctx, job.SocketID, job.NodePath, pct)
	}
	if err != nil {
		log.Warn("progress publish failed", "progress", pct, "error", err.Error())
	}
}
