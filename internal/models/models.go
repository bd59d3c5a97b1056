package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RenderType names the kind of artifact a render produces.
type RenderType string

const (
	// RenderThumbnail is a still preview image of the target node.
	RenderThumbnail RenderType = "thumb"
	// RenderGLB is an interchange 3D file export.
	RenderGLB RenderType = "glb"
	// RenderROP is the output of an arbitrary render-operator node.
	RenderROP RenderType = "rop"
)

// RenderTypes lists every type a file can hold results for.
var RenderTypes = []RenderType{RenderGLB, RenderThumbnail, RenderROP}

// Valid reports whether t is a known render type.
func (t RenderType) Valid() bool {
	switch t {
	case RenderThumbnail, RenderGLB, RenderROP:
		return true
	}
	return false
}

// HasFrames reports whether results of this type carry a frame range.
func (t RenderType) HasFrames() bool {
	return t == RenderGLB || t == RenderROP
}

// FrameRange describes which frames of an animation to render.
type FrameRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Step  float64 `json:"step"`
}

// Validate checks the range is renderable.
func (f FrameRange) Validate() error {
	if f.Step <= 0 {
		return fmt.Errorf("frame step must be positive, got %v", f.Step)
	}
	if f.End < f.Start {
		return fmt.Errorf("frame end %v is before start %v", f.End, f.Start)
	}
	return nil
}

// String renders the range as "start-end", the format stored with results.
func (f FrameRange) String() string {
	return formatFrame(f.Start) + "-" + formatFrame(f.End)
}

// Slice returns [start, end] as sent to browsers with completion events.
func (f FrameRange) Slice() []float64 {
	return []float64{f.Start, f.End}
}

// ParseFrameRange parses the "start-end" form written by String.
func ParseFrameRange(s string) (FrameRange, bool) {
	i := strings.LastIndex(s, "-")
	if i <= 0 {
		return FrameRange{}, false
	}
	start, err1 := strconv.ParseFloat(s[:i], 64)
	end, err2 := strconv.ParseFloat(s[i+1:], 64)
	if err1 != nil || err2 != nil {
		return FrameRange{}, false
	}
	return FrameRange{Start: start, End: end, Step: 1}, true
}

func formatFrame(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// UploadedFile is a scene file stored once per content hash.
type UploadedFile struct {
	ID               string    `json:"file_uuid"`
	OriginalFilename string    `json:"original_filename"`
	ContentHash      string    `json:"content_hash"`
	OwnerID          string    `json:"owner"`
	Ext              string    `json:"ext"`
	UploadedAt       time.Time `json:"upload_date"`
}

// ObjectKey is where the scene bytes live in object storage.
func (f UploadedFile) ObjectKey() string {
	return SceneObjectKey(f.ID, f.Ext)
}

// SceneObjectKey builds the storage key for a scene file.
func SceneObjectKey(fileID, ext string) string {
	return "scenes/" + fileID + ext
}

// RenderResult points at a finished render artifact.
type RenderResult struct {
	RenderID   string      `json:"render_id"`
	Type       RenderType  `json:"render_type"`
	FileID     string      `json:"file_uuid"`
	NodePath   string      `json:"node_path"`
	Filename   string      `json:"filename"`
	Frames     *FrameRange `json:"frames,omitempty"`
	RenderedAt time.Time   `json:"rendered_at,omitempty"`
}

// OutputTarget is where a job writes its artifact.
type OutputTarget struct {
	// ObjectKey is the storage key the artifact is uploaded to.
	ObjectKey string `json:"object_key"`
	// Filename is the base name recorded with the result.
	Filename string `json:"filename"`
}

// RenderJob is the queue payload for one engine invocation. It only exists
// between submission and the completion notification.
type RenderJob struct {
	RenderID string       `json:"render_id"`
	Type     RenderType   `json:"type"`
	NodePath string       `json:"node_path"`
	Frames   FrameRange   `json:"frames"`
	SocketID string       `json:"socket_id"`
	FileID   string       `json:"file_uuid"`
	Output   OutputTarget `json:"output"`
	// ROPPath is the render-operator node driving a RenderROP job.
	ROPPath     string    `json:"rop_path,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ShareLink maps a public token to an internal file or render identifier.
type ShareLink struct {
	Token       string `json:"token"`
	Target      string `json:"target"`
	Placeholder bool   `json:"placeholder"`
}
