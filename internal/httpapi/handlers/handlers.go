// Package handlers implements the browser-facing HTTP routes and the
// WebSocket render submission event.
package handlers

import (
	"net/http"

	"scenerender/internal/dispatch"
	"scenerender/internal/downloads"
	"scenerender/internal/pkg/logger"
	"scenerender/internal/pkg/middleware"
	"scenerender/internal/ports"
	"scenerender/internal/session"
	"scenerender/internal/store"
	"scenerender/internal/worker/renderer"
)

const defaultMaxUpload = 512 << 20

type Deps struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher
	Engine     renderer.Engine
	// Scenes materializes uploads for the graph browser.
	Scenes    dispatch.Scenes
	SP        ports.ObjectStore
	Downloads *downloads.Table
	Sessions  *session.Manager
	Log       *logger.Logger

	MaxUploadBytes int64
	// PlaceholderKey is the object key of the model shown before any render.
	PlaceholderKey string
}

type Handler struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	engine     renderer.Engine
	scenes     dispatch.Scenes
	sp         ports.ObjectStore
	downloads  *downloads.Table
	sessions   *session.Manager
	log        *logger.Logger

	maxUpload      int64
	placeholderKey string
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Handler{
		store:          d.Store,
		dispatcher:     d.Dispatcher,
		engine:         d.Engine,
		scenes:         d.Scenes,
		sp:             d.SP,
		downloads:      d.Downloads,
		sessions:       d.Sessions,
		log:            log.WithComponent("httpapi"),
		maxUpload:      maxUpload,
		placeholderKey: d.PlaceholderKey,
	}
}

// Wrap adapts an error-returning handler method.
func (h *Handler) Wrap(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
	return middleware.WrapHandler(h.log, fn)
}
