// Package renderer talks to the render engine, either by running its command
// line entry point or through an HTTP sidecar.
package renderer

import (
	"context"

	contracts "scenerender/internal/contracts/renderer/v0"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/pkg/logger"
)

// ProgressFunc receives render progress in percent.
type ProgressFunc func(percent float64)

// Engine is the render engine as seen by the api and the workers.
type Engine interface {
	// ResolveNode reports whether nodePath exists in the scene and can be rendered.
	ResolveNode(ctx context.Context, scenePath, nodePath string) (contracts.ResolveResponse, error)
	// SceneGraph lists the children of parent.
	SceneGraph(ctx context.Context, scenePath, parent string) (contracts.GraphResponse, error)
	// Render blocks until the engine exits. onProgress may be nil.
	Render(ctx context.Context, req contracts.RenderRequest, onProgress ProgressFunc) error
}

// Mode names accepted by New.
const (
	ModeExec = "exec"
	ModeHTTP = "http"
)

// New builds the engine for mode. command is used by ModeExec and baseURL by
// ModeHTTP.
func New(mode, command, baseURL string, log *logger.Logger) (Engine, error) {
	switch mode {
	case "", ModeExec:
		e, err := NewExecEngine(command, log)
		if err != nil {
			return nil, err
		}
		return e, nil
	case ModeHTTP:
		if baseURL == "" {
			return nil, errors.ValidationField("RENDERER_HTTP_BASEURL", "renderer base URL is required")
		}
		return NewHTTPClient(baseURL), nil
	default:
		return nil, errors.ValidationField("RENDERER_MODE", "unknown renderer mode "+mode)
	}
}
