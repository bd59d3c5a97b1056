package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"scenerender/internal/config"
	"scenerender/internal/dispatch"
	"scenerender/internal/downloads"
	"scenerender/internal/httpapi"
	"scenerender/internal/httpapi/handlers"
	"scenerender/internal/pkg/logger"
	"scenerender/internal/pkg/shutdown"
	"scenerender/internal/realtime"
	"scenerender/internal/relay"
	"scenerender/internal/session"
	"scenerender/internal/storage"
	"scenerender/internal/store"
	"scenerender/internal/worker/processor"
	"scenerender/internal/worker/queue"
	"scenerender/internal/worker/renderer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "scenerender-api",
		AddSource:   cfg.LogSource,
	})

	if err := cfg.RequireAPI(); err != nil {
		log.LogFatal("invalid configuration", err)
	}
	log.Info("starting scenerender API", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize shutdown manager
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	// Connect to Redis
	log.Info("connecting to Redis")
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
	log.Info("Redis connected")

	// Initialize storage provider
	log.Info("initializing storage provider")
	sp, err := storage.NewProvider(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	engine, err := renderer.New(cfg.RendererMode, cfg.RendererCmd, cfg.RendererBaseURL, log)
	if err != nil {
		log.LogFatal("failed to configure render engine", err)
	}

	// The api keeps its own scene cache for graph browsing and validation.
	scenes := processor.NewInputHandler(sp, filepath.Join(cfg.WorkDir, "api"))

	dispatcher := dispatch.New(dispatch.Deps{
		Files:  st,
		Scenes: scenes,
		Engine: engine,
		Queue:  queue.NewRedisQueue(rdb, cfg.QueueName),
		Log:    log,
	})

	links := downloads.NewTable(cfg.DownloadTTL)
	go links.RunSweeper(ctx, time.Minute)

	sessions := session.NewManager(cfg.SecretKey, 0, cfg.SessionSecure)

	h := handlers.New(handlers.Deps{
		Store:          st,
		Dispatcher:     dispatcher,
		Engine:         engine,
		Scenes:         scenes,
		SP:             sp,
		Downloads:      links,
		Sessions:       sessions,
		Log:            log,
		MaxUploadBytes: cfg.MaxUploadMiB << 20,
		PlaceholderKey: cfg.PlaceholderFile,
	})

	hub := realtime.NewHub(log, cfg.CORSOriginList(), h.SocketEvent)
	shutdownMgr.RegisterSimple("websocket-hub", hub.Close)

	// Relay worker progress to the sockets that submitted the renders.
	listener := relay.NewListener(rdb, hub, log)
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			log.LogError(ctx, "relay listener stopped", err)
		}
	}()
	shutdownMgr.RegisterSimple("relay-listener", cancel)

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers:    h,
		Hub:         hub,
		Sessions:    sessions,
		CORSOrigins: cfg.CORSOriginList(),
		Log:         log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:        "0.0.0.0:" + cfg.HTTPPort,
		Handler:     router,
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 120 * time.Second,
	}

	// Register server shutdown
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	// Start server in goroutine
	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.HTTPPort,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	// Wait for shutdown signal
	if err := shutdownMgr.Wait(context.Background()); err != nil {
		log.Error("shutdown finished with errors", "error", err.Error())
		os.Exit(1)
	}
}
