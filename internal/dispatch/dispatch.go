// Package dispatch validates render requests, decides where their artifacts
// go and hands them to the worker queue.
package dispatch

import (
	"context"
	"os"
	"path"
	"strings"
	"time"

	contracts "scenerender/internal/contracts/renderer/v0"
	"scenerender/internal/ids"
	"scenerender/internal/models"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/pkg/logger"
	"scenerender/internal/worker/renderer"
)

// DefaultROPTemplate names rop artifacts when the request gives no template.
const DefaultROPTemplate = "${NODE}_${RENDER_ID}.exr"

// Files reads scene metadata.
type Files interface {
	GetFile(ctx context.Context, fileID string) (*models.UploadedFile, error)
}

// Scenes makes a scene available to the engine on local disk.
type Scenes interface {
	Materialize(ctx context.Context, f *models.UploadedFile) (string, error)
}

// Queue accepts resolved jobs.
type Queue interface {
	Push(ctx context.Context, jobs ...models.RenderJob) error
}

// Request is a render submission as received from a browser.
type Request struct {
	NodePath string
	Frames   models.FrameRange
	FileID   string
	SocketID string
	// Type defaults to RenderGLB.
	Type    models.RenderType
	ROPPath string
	// OutputTemplate names rop artifacts. See DefaultROPTemplate.
	OutputTemplate string
	SkipThumbnail  bool
}

// Submission is what the caller gets back once the jobs are queued.
type Submission struct {
	RenderID string
	// Filename is the main artifact's base name.
	Filename string
	Jobs     []models.RenderJob
}

// Validation is the outcome of checking a node before rendering it.
type Validation struct {
	OK     bool   `json:"success"`
	Reason string `json:"message,omitempty"`
}

type Deps struct {
	Files  Files
	Scenes Scenes
	Engine renderer.Engine
	Queue  Queue
	Log    *logger.Logger
}

type Dispatcher struct {
	files  Files
	scenes Scenes
	engine renderer.Engine
	queue  Queue
	log    *logger.Logger
	newID  func() string
	now    func() time.Time
}

func New(d Deps) *Dispatcher {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Dispatcher{
		files:  d.Files,
		scenes: d.Scenes,
		engine: d.Engine,
		queue:  d.Queue,
		log:    log.WithComponent("dispatch"),
		newID:  ids.NewID,
		now:    time.Now,
	}
}

// Validate checks that nodePath names renderable geometry in the file's
// scene. A node that cannot be rendered is reported through Validation, not
// as an error; errors mean the check itself could not run.
func (d *Dispatcher) Validate(ctx context.Context, fileID, nodePath string) (Validation, error) {
	v, _, err := d.validate(ctx, fileID, nodePath)
	return v, err
}

func (d *Dispatcher) validate(ctx context.Context, fileID, nodePath string) (Validation, *models.UploadedFile, error) {
	if reason := checkNodePath(nodePath); reason != "" {
		return Validation{Reason: reason}, nil, nil
	}

	file, err := d.files.GetFile(ctx, fileID)
	if errors.IsNotFound(err) {
		return Validation{Reason: "no uploaded file " + fileID}, nil, nil
	}
	if err != nil {
		return Validation{}, nil, err
	}

	scenePath, err := d.scenes.Materialize(ctx, file)
	if err != nil {
		return Validation{}, nil, errors.WrapWithCode(err, errors.CodeUnavailable, "dispatch.validate", "scene is not available")
	}

	res, err := d.engine.ResolveNode(ctx, scenePath, nodePath)
	if err != nil {
		return Validation{}, nil, err
	}
	switch {
	case !res.Found:
		return Validation{Reason: "node " + nodePath + " does not exist"}, file, nil
	case res.Node != nil && !contracts.Cookable(res.Node.Type):
		return Validation{Reason: res.Node.Type + " nodes have no renderable geometry"}, file, nil
	case !res.Renderable:
		reason := res.Reason
		if reason == "" {
			reason = "node " + nodePath + " cannot be rendered"
		}
		return Validation{Reason: reason}, file, nil
	}
	return Validation{OK: true}, file, nil
}

// Submit validates req, resolves output locations and enqueues the main job
// plus, unless skipped, a thumbnail job. It returns as soon as the jobs are
// queued.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Submission, error) {
	log := d.log.FromContext(ctx)

	if req.Type == "" {
		req.Type = models.RenderGLB
	}
	if !req.Type.Valid() {
		return Submission{}, errors.ValidationField("type", "unknown render type "+string(req.Type))
	}
	if !ids.IsID(req.FileID) {
		return Submission{}, errors.ValidationField("file", "file id is not a valid UUID")
	}
	if req.Frames == (models.FrameRange{}) {
		req.Frames = models.FrameRange{Start: 1, End: 1, Step: 1}
	}
	if req.Type.HasFrames() {
		if err := req.Frames.Validate(); err != nil {
			return Submission{}, errors.ValidationField("frames", err.Error())
		}
	}

	v, file, err := d.validate(ctx, req.FileID, req.NodePath)
	if err != nil {
		return Submission{}, err
	}
	if !v.OK {
		return Submission{}, errors.ValidationField("path", v.Reason).WithField("reason", v.Reason)
	}

	renderID := d.newID()
	main, err := d.mainOutput(req, file, renderID)
	if err != nil {
		return Submission{}, err
	}

	base := models.RenderJob{
		RenderID:    renderID,
		NodePath:    req.NodePath,
		Frames:      req.Frames,
		SocketID:    req.SocketID,
		FileID:      file.ID,
		SubmittedAt: d.now().UTC(),
	}

	mainJob := base
	mainJob.Type = req.Type
	mainJob.Output = main
	mainJob.ROPPath = req.ROPPath
	jobs := []models.RenderJob{mainJob}

	if req.Type != models.RenderThumbnail && !req.SkipThumbnail {
		thumb := base
		thumb.Type = models.RenderThumbnail
		thumb.Output = thumbnailOutput(renderID)
		jobs = append(jobs, thumb)
	}

	if err := d.queue.Push(ctx, jobs...); err != nil {
		return Submission{}, err
	}

	log.Info("render submitted",
		"render_id", renderID,
		"file_uuid", file.ID,
		"node_path", req.NodePath,
		"render_type", string(req.Type),
		"jobs", len(jobs),
	)
	return Submission{RenderID: renderID, Filename: main.Filename, Jobs: jobs}, nil
}

func (d *Dispatcher) mainOutput(req Request, file *models.UploadedFile, renderID string) (models.OutputTarget, error) {
	switch req.Type {
	case models.RenderGLB:
		return GLBOutput(renderID), nil
	case models.RenderThumbnail:
		return thumbnailOutput(renderID), nil
	}

	tpl := req.OutputTemplate
	if tpl == "" {
		tpl = DefaultROPTemplate
	}
	name, err := ExpandTemplate(tpl, TemplateVars{
		Filename: strings.TrimSuffix(file.OriginalFilename, path.Ext(file.OriginalFilename)),
		RenderID: renderID,
		Node:     path.Base(req.NodePath),
	})
	if err != nil {
		return models.OutputTarget{}, err
	}
	return models.OutputTarget{
		ObjectKey: "renders/" + renderID + "/" + name,
		Filename:  path.Base(name),
	}, nil
}

// GLBOutput is where the interchange export of a render is stored.
func GLBOutput(renderID string) models.OutputTarget {
	return models.OutputTarget{ObjectKey: GLBObjectKey(renderID), Filename: renderID + ".glb"}
}

// GLBObjectKey is the storage key of a glb named id.
func GLBObjectKey(id string) string {
	return "models/" + id + ".glb"
}

// ThumbnailObjectKey is the storage key of a render's thumbnail.
func ThumbnailObjectKey(id string) string {
	return "thumbnails/" + id + ".png"
}

func thumbnailOutput(renderID string) models.OutputTarget {
	return models.OutputTarget{ObjectKey: ThumbnailObjectKey(renderID), Filename: renderID + ".png"}
}

// TemplateVars are the substitutions available in output templates.
type TemplateVars struct {
	Filename string
	RenderID string
	Node     string
}

// ExpandTemplate substitutes ${FILENAME}, ${RENDER_ID} and ${NODE}. The
// result must stay a relative path without parent references.
func ExpandTemplate(tpl string, vars TemplateVars) (string, error) {
	var unknown string
	out := os.Expand(tpl, func(name string) string {
		switch name {
		case "FILENAME":
			return vars.Filename
		case "RENDER_ID":
			return vars.RenderID
		case "NODE":
			return vars.Node
		}
		if unknown == "" {
			unknown = name
		}
		return ""
	})
	if unknown != "" {
		return "", errors.ValidationField("output_template", "unknown template variable "+unknown)
	}

	clean := path.Clean(strings.ReplaceAll(out, "\\", "/"))
	if clean == "." || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.ValidationField("output_template", "output template must name a file inside the render directory")
	}
	return clean, nil
}

func checkNodePath(p string) string {
	switch {
	case p == "":
		return "node path is required"
	case !strings.HasPrefix(p, "/"):
		return "node path must be absolute"
	case p == "/":
		return "the scene root cannot be rendered"
	case strings.ContainsAny(p, " \t\n"):
		return "node path contains whitespace"
	}
	return ""
}
