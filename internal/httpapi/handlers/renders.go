package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"scenerender/internal/dispatch"
	"scenerender/internal/httpkit"
	"scenerender/internal/models"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/realtime"
)

// WebSocket events.
const (
	EventSubmitRender    = "submit_render_task"
	EventSubmitRenderAck = "submit_render_task_ack"
)

// frameValue accepts frame numbers sent either as JSON numbers or as the
// strings form inputs produce.
type frameValue float64

func (f *frameValue) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("frame %s is not a number", b)
	}
	*f = frameValue(v)
	return nil
}

// renderTask is the submission body shared by POST /render and the
// submit_render_task event.
type renderTask struct {
	File           string      `json:"file"`
	Path           string      `json:"path"`
	Start          *frameValue `json:"start"`
	End            *frameValue `json:"end"`
	Step           *frameValue `json:"step"`
	Type           string      `json:"type,omitempty"`
	ROPPath        string      `json:"rop_path,omitempty"`
	OutputTemplate string      `json:"output_template,omitempty"`
	SkipThumbnail  bool        `json:"skip_thumbnail,omitempty"`
}

func (t renderTask) frames() models.FrameRange {
	if t.Start == nil && t.End == nil {
		return models.FrameRange{}
	}
	fr := models.FrameRange{Step: 1}
	if t.Start != nil {
		fr.Start = float64(*t.Start)
		fr.End = fr.Start
	}
	if t.End != nil {
		fr.End = float64(*t.End)
		if t.Start == nil {
			fr.Start = fr.End
		}
	}
	if t.Step != nil && *t.Step != 0 {
		fr.Step = float64(*t.Step)
	}
	return fr
}

func (t renderTask) request(socketID string) dispatch.Request {
	return dispatch.Request{
		NodePath:       t.Path,
		Frames:         t.frames(),
		FileID:         t.File,
		SocketID:       socketID,
		Type:           models.RenderType(t.Type),
		ROPPath:        t.ROPPath,
		OutputTemplate: t.OutputTemplate,
		SkipThumbnail:  t.SkipThumbnail,
	}
}

type submitAck struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Filename string `json:"filename,omitempty"`
}

// SubmitRender queues a render over plain HTTP. Such renders have no socket,
// so the caller polls /get_stored_models or the artifact routes instead of
// receiving events.
func (h *Handler) SubmitRender(w http.ResponseWriter, r *http.Request) error {
	var task renderTask
	if err := httpkit.DecodeJSON(r, &task); err != nil {
		return errors.Validation("invalid JSON body")
	}

	sub, err := h.dispatcher.Submit(r.Context(), task.request(""))
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"render_id": sub.RenderID,
		"filename":  sub.Filename,
		"jobs":      len(sub.Jobs),
	})
	return nil
}

// SocketEvent handles inbound WebSocket frames.
func (h *Handler) SocketEvent(ctx context.Context, c *realtime.Conn, event string, data json.RawMessage) {
	log := h.log.FromContext(ctx).WithSocketID(c.ID())

	switch event {
	case EventSubmitRender:
		ack := h.submitFromSocket(ctx, c.ID(), data)
		if err := c.Send(EventSubmitRenderAck, ack); err != nil {
			log.Warn("failed to send submission ack", "error", err.Error())
		}
	default:
		log.Debug("ignoring socket event", "event", event)
	}
}

func (h *Handler) submitFromSocket(ctx context.Context, socketID string, data json.RawMessage) submitAck {
	log := h.log.FromContext(ctx).WithSocketID(socketID)

	var task renderTask
	if err := json.Unmarshal(data, &task); err != nil {
		return submitAck{Message: "Invalid render submission."}
	}
	if task.Path == "" {
		return submitAck{Message: "Invalid submission node provided."}
	}

	sub, err := h.dispatcher.Submit(ctx, task.request(socketID))
	if err != nil {
		log.Warn("render submission rejected", "error", err.Error(), "code", string(errors.GetCode(err)))
		return submitAck{Message: ackMessage(err)}
	}
	return submitAck{Success: true, Message: "Submission succeeded.", Filename: sub.RenderID}
}

func ackMessage(err error) string {
	var appErr *errors.Error
	if !errors.As(err, &appErr) || appErr.Code == errors.CodeInternal {
		return "Render submission failed."
	}
	return appErr.Message
}
