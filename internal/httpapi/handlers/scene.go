package handlers

import (
	"net/http"
	"strings"

	contracts "scenerender/internal/contracts/renderer/v0"
	"scenerender/internal/httpkit"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/session"
)

const defaultGraphParent = "/obj"

// graph elements follow the {"data": {...}} shape the browser's graph view
// consumes; edges and nodes share one list.
type graphElement struct {
	Data any `json:"data"`
}

type graphNode struct {
	ID       string   `json:"id"`
	Path     string   `json:"path"`
	NodeType string   `json:"node_type"`
	Category string   `json:"category"`
	Color    [3]int   `json:"color"`
	CookTime *float64 `json:"cooktime"`
	CanEnter bool     `json:"can_enter"`
	Icon     string   `json:"icon,omitempty"`
}

type graphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type nodeDataResponse struct {
	Elements    []graphElement    `json:"elements"`
	Start       float64           `json:"start"`
	End         float64           `json:"end"`
	Category    string            `json:"category"`
	ParentIcons map[string]string `json:"parent_icons"`
	SessionID   string            `json:"session_id,omitempty"`
}

// NodeData lists the children of a network inside an uploaded scene.
func (h *Handler) NodeData(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	q := r.URL.Query()

	fileID := q.Get("uuid")
	if fileID == "" {
		return errors.ValidationField("uuid", "A file UUID is required.")
	}
	parent := q.Get("name")
	if parent == "" {
		parent = defaultGraphParent
	}

	file, err := h.store.GetFile(ctx, fileID)
	if errors.IsNotFound(err) {
		return errors.ValidationField("uuid", "No matching files with provided UUID.")
	}
	if err != nil {
		return err
	}

	scenePath, err := h.scenes.Materialize(ctx, file)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "scene.materialize", "scene is not available")
	}

	graph, err := h.engine.SceneGraph(ctx, scenePath, parent)
	if err != nil {
		return err
	}

	resp := buildNodeData(graph)
	if sess, ok := session.FromContext(ctx); ok {
		resp.SessionID = sess.SessionID
	}
	httpkit.WriteJSON(w, http.StatusOK, resp)
	return nil
}

func buildNodeData(g contracts.GraphResponse) nodeDataResponse {
	resp := nodeDataResponse{
		Elements:    make([]graphElement, 0, len(g.Nodes)),
		Start:       g.Start,
		End:         g.End,
		Category:    g.Category,
		ParentIcons: g.ParentIcons,
	}
	if resp.ParentIcons == nil {
		resp.ParentIcons = map[string]string{}
	}

	for _, n := range g.Nodes {
		resp.Elements = append(resp.Elements, graphElement{Data: graphNode{
			ID:       n.Name,
			Path:     n.Path,
			NodeType: n.Type,
			Category: strings.ToLower(n.Category),
			Color:    n.Color,
			CookTime: n.CookTime,
			CanEnter: n.Children > 0,
			Icon:     n.Icon,
		}})
		for _, out := range n.Outputs {
			resp.Elements = append(resp.Elements, graphElement{Data: graphEdge{
				ID:     n.Name + "-" + out,
				Source: n.Name,
				Target: out,
			}})
		}
	}
	return resp
}

type validateNodeRequest struct {
	File string `json:"file"`
	Path string `json:"path"`
}

// ValidateNode tells the browser whether a node can be submitted for render.
func (h *Handler) ValidateNode(w http.ResponseWriter, r *http.Request) error {
	var req validateNodeRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		return errors.Validation("invalid JSON body")
	}
	if req.File == "" {
		return errors.ValidationField("file", "A file UUID is required.")
	}

	v, err := h.dispatcher.Validate(r.Context(), req.File, req.Path)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, v)
	return nil
}
