package worker

import (
	"time"

	"github.com/redis/go-redis/v9"

	"scenerender/internal/pkg/logger"
	"scenerender/internal/ports"
	"scenerender/internal/worker/processor"
	"scenerender/internal/worker/renderer"
)

type Deps struct {
	RDB       *redis.Client
	QueueName string

	Store  processor.Store
	Relay  processor.Notifier
	Engine renderer.Engine
	SP     ports.ObjectStore

	WorkDir      string
	CleanupLocal bool
	// Concurrency is the number of jobs rendered at once.
	Concurrency  int
	ProgressRate float64
	// PopTimeout bounds each blocking queue read so shutdown is noticed.
	PopTimeout time.Duration

	Log *logger.Logger
}
