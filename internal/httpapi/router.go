// Package httpapi wires the HTTP routes and the WebSocket endpoint.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"scenerender/internal/httpapi/handlers"
	"scenerender/internal/httpkit"
	"scenerender/internal/pkg/logger"
	"scenerender/internal/pkg/middleware"
	"scenerender/internal/realtime"
	"scenerender/internal/session"
)

type Deps struct {
	Handlers    *handlers.Handler
	Hub         *realtime.Hub
	Sessions    *session.Manager
	CORSOrigins []string
	Log         *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.Recovery(d.Log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAgeSeconds:    600,
	}))
	r.Use(d.Sessions.Middleware)

	h := d.Handlers

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- SESSION ----
	r.Get("/generate_user_uuid", h.Wrap(h.GenerateUserUUID))
	r.Post("/set_existing_user_uuid", h.Wrap(h.SetExistingUserUUID))

	// ---- SCENES ----
	r.Post("/hip_upload", h.Wrap(h.UploadScene))
	r.Get("/get_stored_models", h.Wrap(h.StoredModels))
	r.Get("/node_data", h.Wrap(h.NodeData))
	r.Post("/validate_node", h.Wrap(h.ValidateNode))

	// ---- RENDERS ----
	r.Post("/render", h.Wrap(h.SubmitRender))
	r.Get("/get_glb/{filename}", h.Wrap(h.GetGLB))
	r.Get("/get_thumbnail/{filename}", h.Wrap(h.GetThumbnail))

	// ---- SHARING ----
	r.Get("/get_nano_id", h.Wrap(h.GetNanoID))
	r.Get("/get_glb_from_nano/{token}", h.Wrap(h.GetGLBFromNano))
	r.Get("/generate_download", h.Wrap(h.GenerateDownload))
	r.Get("/download/{ext}/{id}", h.Wrap(h.Download))

	// ---- WEBSOCKET ----
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID := ""
		if s, ok := session.FromContext(r.Context()); ok {
			userID = s.UserID
		}
		d.Hub.Serve(w, r, userID)
	})

	return r
}
