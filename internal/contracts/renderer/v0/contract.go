// Package v0 is the wire contract between the workers and the render engine.
// The exec transport writes these as JSON on the engine's stdin; the HTTP
// transport posts them to the renderer sidecar.
package v0

import "strings"

// Render types understood by the engine.
const (
	TypeThumbnail = "thumb"
	TypeGLB       = "glb"
	TypeROP       = "rop"
)

// DefaultResolution is the edge length of square thumbnail renders.
const DefaultResolution = 512

// uncookable node types are skipped when the engine pre-cooks a scene.
var uncookable = map[string]bool{
	"cam":   true,
	"bone":  true,
	"light": true,
}

// Cookable reports whether nodes of nodeType are cooked before graph export.
func Cookable(nodeType string) bool {
	return !uncookable[strings.ToLower(nodeType)]
}

// Frames is an inclusive animation range.
type Frames struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Step  float64 `json:"step"`
}

// Node is one scene-graph node.
type Node struct {
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Type     string   `json:"node_type"`
	Category string   `json:"category"`
	Color    [3]int   `json:"color"`
	CookTime *float64 `json:"cooktime"`
	Icon     string   `json:"icon,omitempty"`
	// Outputs names the siblings this node feeds.
	Outputs  []string `json:"outputs,omitempty"`
	Children int      `json:"children"`
}

// ResolveRequest asks whether a node exists and can be rendered.
type ResolveRequest struct {
	ScenePath string `json:"scene_path"`
	NodePath  string `json:"node_path"`
}

// ResolveResponse answers a ResolveRequest. Reason is set when Renderable is false.
type ResolveResponse struct {
	Found      bool   `json:"found"`
	Renderable bool   `json:"renderable"`
	Reason     string `json:"reason,omitempty"`
	Node       *Node  `json:"node,omitempty"`
}

// GraphRequest lists the children of Parent.
type GraphRequest struct {
	ScenePath string `json:"scene_path"`
	Parent    string `json:"parent"`
}

// GraphResponse is one level of the scene graph.
type GraphResponse struct {
	Category    string            `json:"category"`
	Start       float64           `json:"start"`
	End         float64           `json:"end"`
	Nodes       []Node            `json:"nodes"`
	ParentIcons map[string]string `json:"parent_icons"`
}

// RenderRequest runs one render to a local output path.
type RenderRequest struct {
	RenderID   string `json:"render_id"`
	Type       string `json:"type"`
	ScenePath  string `json:"scene_path"`
	NodePath   string `json:"node_path"`
	ROPPath    string `json:"rop_path,omitempty"`
	Frames     Frames `json:"frames"`
	OutputPath string `json:"output_path"`
	Resolution int    `json:"resolution,omitempty"`
}

// ErrorResponse is written by the engine when a request fails.
type ErrorResponse struct {
	Error string `json:"error"`
}
