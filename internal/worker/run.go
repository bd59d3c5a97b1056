// Package worker consumes render jobs from the queue and runs them through
// the engine.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"scenerender/internal/models"
	"scenerender/internal/pkg/logger"
	"scenerender/internal/worker/processor"
	"scenerender/internal/worker/queue"
)

const defaultPopTimeout = 5 * time.Second

// Run starts Concurrency consumer loops and blocks until ctx is canceled.
// A job that has started is finished before its loop exits.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	n := d.Concurrency
	if n < 1 {
		n = 1
	}
	popTimeout := d.PopTimeout
	if popTimeout <= 0 {
		popTimeout = defaultPopTimeout
	}

	q := queue.NewRedisQueue(d.RDB, d.QueueName)
	p := processor.New(processor.Deps{
		Store:        d.Store,
		Engine:       d.Engine,
		SP:           d.SP,
		Relay:        d.Relay,
		WorkDir:      d.WorkDir,
		CleanupLocal: d.CleanupLocal,
		ProgressRate: d.ProgressRate,
		Log:          log,
	})

	log.Info("worker started", "concurrency", n, "queue", d.QueueName)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		slotLog := &logger.Logger{Logger: log.With("slot", i)}
		g.Go(func() error {
			consume(gctx, q, p, popTimeout, slotLog)
			return nil
		})
	}
	err := g.Wait()
	log.Info("worker stopped")
	return err
}

func consume(ctx context.Context, q *queue.RedisQueue, p *processor.Processor, popTimeout time.Duration, log *logger.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}

		payload, ok, err := q.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			continue
		}

		job, err := queue.Decode(payload)
		if err != nil {
			log.Error("dropping undecodable job", "error", err.Error(), "payload_bytes", len(payload))
			continue
		}

		// The job keeps running through shutdown; only new pops stop.
		jobCtx := logger.ContextWithSocketID(logger.ContextWithRenderID(context.WithoutCancel(ctx), job.RenderID), job.SocketID)
		jobLog := log.WithRenderID(job.RenderID)

		jobLog.Info("processing job", "render_type", string(job.Type))
		startTime := time.Now()

		if err := runJob(jobCtx, p, job); err != nil {
			jobLog.Error("job failed",
				"error", err.Error(),
				"duration_ms", time.Since(startTime).Milliseconds(),
			)
		} else {
			jobLog.Info("job completed",
				"duration_ms", time.Since(startTime).Milliseconds(),
			)
		}
	}
}

func runJob(ctx context.Context, p *processor.Processor, job models.RenderJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return p.ProcessJob(ctx, job)
}
