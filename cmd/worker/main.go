package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"scenerender/internal/config"
	"scenerender/internal/pkg/logger"
	"scenerender/internal/pkg/shutdown"
	"scenerender/internal/relay"
	"scenerender/internal/storage"
	"scenerender/internal/store"
	"scenerender/internal/worker"
	"scenerender/internal/worker/renderer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "scenerender-worker",
		AddSource:   cfg.LogSource,
	})

	if err := cfg.RequireWorker(); err != nil {
		log.LogFatal("invalid configuration", err)
	}
	log.Info("starting scenerender worker", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rendering jobs are allowed to finish; the deadline only bounds cleanup.
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})

	st := store.New(rdb, log)
	if err := st.Ping(ctx); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	sp, err := storage.NewProvider(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	engine, err := renderer.New(cfg.RendererMode, cfg.RendererCmd, cfg.RendererBaseURL, log)
	if err != nil {
		log.LogFatal("failed to configure render engine", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx, worker.Deps{
			RDB:          rdb,
			QueueName:    cfg.QueueName,
			Store:        st,
			Relay:        relay.NewPublisher(rdb),
			Engine:       engine,
			SP:           sp,
			WorkDir:      cfg.WorkDir,
			CleanupLocal: cfg.CleanupLocal,
			Concurrency:  cfg.WorkerConcurrency,
			ProgressRate: cfg.ProgressRate,
			Log:          log,
		})
	}()

	shutdownMgr.Register("worker", func(ctx context.Context) error {
		log.Info("stopping job consumers")
		cancel()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := shutdownMgr.Wait(context.Background()); err != nil {
		log.Error("shutdown finished with errors", "error", err.Error())
		os.Exit(1)
	}
}
