// Package relay carries render progress and completion notices from the
// workers to the API process over Redis pub/sub, and from there to the
// browser session that submitted the render.
package relay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"scenerender/internal/models"
)

// Redis channels written by workers.
const (
	ChannelRenderProgress = "glb_progress_channel"
	ChannelThumbProgress  = "thumb_progress_channel"
	ChannelCompletion     = "render_completion_channel"
)

// Browser events emitted into a session room.
const (
	EventRenderProgress = "node_render_progress_channel"
	EventThumbProgress  = "node_thumb_progress_channel"
	EventRenderFinished = "node_render_finish_channel"
	EventThumbFinished  = "node_thumb_finish_channel"
)

// Percent is a progress value. Engine scripts publish it either as a JSON
// number or as a numeric string.
type Percent float64

// Valid reports whether p is within 0..100. NaN is not.
func (p Percent) Valid() bool {
	return p >= 0 && p <= 100
}

func (p *Percent) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(strings.Trim(string(b), `"`), 64)
	if err != nil {
		return fmt.Errorf("progress %s is not a number", b)
	}
	*p = Percent(v)
	return nil
}

// RenderProgress reports a main render's percentage.
type RenderProgress struct {
	SocketID string   `json:"socket_id"`
	NodePath string   `json:"render_node_path"`
	Progress *Percent `json:"progress"`
}

// ThumbProgress reports a thumbnail render's percentage.
type ThumbProgress struct {
	SocketID string   `json:"socket_id"`
	NodePath string   `json:"nodePath"`
	Progress *Percent `json:"progress"`
}

// Completion announces a finished artifact.
type Completion struct {
	SocketID   string            `json:"socket_id"`
	FileID     string            `json:"file_uuid"`
	RenderType models.RenderType `json:"render_type"`
	NodePath   string            `json:"render_node_path"`
	FilePath   string            `json:"render_file_path"`
	RenderID   string            `json:"render_id,omitempty"`
	FrameInfo  []float64         `json:"frame_info,omitempty"`
}

// ProgressEvent is what the browser receives for both progress kinds.
type ProgressEvent struct {
	NodePath string  `json:"nodePath"`
	Progress float64 `json:"progress"`
}

// FinishedEvent is what the browser receives when an artifact is ready.
type FinishedEvent struct {
	FileID     string    `json:"hipFile"`
	Filename   string    `json:"fileName"`
	NodePath   string    `json:"nodePath"`
	RenderID   string    `json:"renderId,omitempty"`
	FrameRange []float64 `json:"frameRange,omitempty"`
}

// missingFieldError names the first required field absent from a message.
type missingFieldError struct {
	channel string
	field   string
}

func (e *missingFieldError) Error() string {
	return fmt.Sprintf("%s message missing %s", e.channel, e.field)
}

func rangeError(channel string, p Percent) error {
	return fmt.Errorf("%s message progress %v is outside 0..100", channel, float64(p))
}

func decodeRenderProgress(payload string) (RenderProgress, error) {
	var m RenderProgress
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return m, err
	}
	switch {
	case m.SocketID == "":
		return m, &missingFieldError{ChannelRenderProgress, "socket_id"}
	case m.NodePath == "":
		return m, &missingFieldError{ChannelRenderProgress, "render_node_path"}
	case m.Progress == nil:
		return m, &missingFieldError{ChannelRenderProgress, "progress"}
	case !m.Progress.Valid():
		return m, rangeError(ChannelRenderProgress, *m.Progress)
	}
	return m, nil
}

func decodeThumbProgress(payload string) (ThumbProgress, error) {
	var m ThumbProgress
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return m, err
	}
	switch {
	case m.SocketID == "":
		return m, &missingFieldError{ChannelThumbProgress, "socket_id"}
	case m.NodePath == "":
		return m, &missingFieldError{ChannelThumbProgress, "nodePath"}
	case m.Progress == nil:
		return m, &missingFieldError{ChannelThumbProgress, "progress"}
	case !m.Progress.Valid():
		return m, rangeError(ChannelThumbProgress, *m.Progress)
	}
	return m, nil
}

func decodeCompletion(payload string) (Completion, error) {
	var m Completion
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return m, err
	}
	switch {
	case m.SocketID == "":
		return m, &missingFieldError{ChannelCompletion, "socket_id"}
	case m.FileID == "":
		return m, &missingFieldError{ChannelCompletion, "file_uuid"}
	case m.RenderType == "":
		return m, &missingFieldError{ChannelCompletion, "render_type"}
	case m.NodePath == "":
		return m, &missingFieldError{ChannelCompletion, "render_node_path"}
	case m.FilePath == "":
		return m, &missingFieldError{ChannelCompletion, "render_file_path"}
	case !m.RenderType.Valid():
		return m, fmt.Errorf("unknown render type %q", m.RenderType)
	case m.RenderType.HasFrames() && len(m.FrameInfo) != 2:
		return m, &missingFieldError{ChannelCompletion, "frame_info"}
	}
	return m, nil
}

// finishedEvent maps a completion onto the browser event name and payload.
func finishedEvent(c Completion) (string, FinishedEvent) {
	ev := FinishedEvent{
		FileID:   c.FileID,
		Filename: baseName(c.FilePath),
		NodePath: c.NodePath,
		RenderID: c.RenderID,
	}
	if c.RenderType == models.RenderThumbnail {
		return EventThumbFinished, ev
	}
	ev.FrameRange = c.FrameInfo
	return EventRenderFinished, ev
}

// baseName strips any directory from a path or object key.
func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
