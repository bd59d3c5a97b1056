package handlers

import (
	"context"
	"net/http"
	"time"

	"scenerender/internal/httpkit"
	"scenerender/internal/pkg/errors"
)

const healthCheckTimeout = 5 * time.Second

type healthCheck struct {
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	LatencyMS   int64  `json:"latency_ms"`
	Provider    string `json:"provider,omitempty"`
	Placeholder *bool  `json:"placeholder,omitempty"`
}

type healthReport struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Checks  map[string]healthCheck `json:"checks,omitempty"`
}

// Health reports liveness. With ?deep=true it also probes Redis and the
// object store and reports "degraded" if either fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := healthReport{Status: "ok", Service: "scenerender-api"}

	if r.URL.Query().Get("deep") == "true" {
		ctx := r.Context()
		report.Checks = map[string]healthCheck{
			"redis":   probe(ctx, h.checkRedis),
			"storage": probe(ctx, h.checkStorage),
		}
		for name, c := range report.Checks {
			if c.Status != "ok" {
				report.Status = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "check", name, "error", c.Error)
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, report)
}

func probe(ctx context.Context, fn func(context.Context, *healthCheck) error) healthCheck {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	c := healthCheck{Status: "ok"}
	if err := fn(ctx, &c); err != nil {
		c.Status, c.Error = "error", err.Error()
	}
	c.LatencyMS = time.Since(start).Milliseconds()
	return c
}

func (h *Handler) checkRedis(ctx context.Context, _ *healthCheck) error {
	return h.store.Ping(ctx)
}

// checkStorage stats the placeholder model. A missing object still proves the
// backend answered.
func (h *Handler) checkStorage(ctx context.Context, c *healthCheck) error {
	c.Provider = h.sp.Provider()
	_, err := h.sp.StatObject(ctx, h.placeholderKey)
	found := err == nil
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	c.Placeholder = &found
	return nil
}
