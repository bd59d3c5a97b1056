package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	contracts "scenerender/internal/contracts/renderer/v0"
	"scenerender/internal/pkg/errors"
)

// HTTPClient forwards engine requests to a renderer sidecar. The sidecar does
// not stream progress, so Render only reports completion.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *HTTPClient) ResolveNode(ctx context.Context, scenePath, nodePath string) (contracts.ResolveResponse, error) {
	var out contracts.ResolveResponse
	err := c.post(ctx, "/resolve", contracts.ResolveRequest{ScenePath: scenePath, NodePath: nodePath}, &out)
	return out, err
}

func (c *HTTPClient) SceneGraph(ctx context.Context, scenePath, parent string) (contracts.GraphResponse, error) {
	var out contracts.GraphResponse
	err := c.post(ctx, "/graph", contracts.GraphRequest{ScenePath: scenePath, Parent: parent}, &out)
	return out, err
}

func (c *HTTPClient) Render(ctx context.Context, req contracts.RenderRequest, onProgress ProgressFunc) error {
	if err := c.post(ctx, "/render", req, nil); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "renderer.http", "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "renderer.http", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "renderer.http", "renderer unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := fmt.Sprintf("renderer http %d", res.StatusCode)
		var e contracts.ErrorResponse
		if json.NewDecoder(io.LimitReader(res.Body, 64*1024)).Decode(&e) == nil && e.Error != "" {
			msg += ": " + e.Error
		}
		return errors.New(errors.CodeEngine, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.WrapWithCode(err, errors.CodeEngine, "renderer.http", "decode response")
	}
	return nil
}
