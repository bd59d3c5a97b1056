package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	contracts "scenerender/internal/contracts/renderer/v0"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/pkg/logger"
	"scenerender/internal/worker/progress"
)

const stderrTail = 4096

// waitDelay bounds how long Wait keeps the output pipes open after the
// engine exits or is killed. Grandchildren holding stdout do not hang a job.
const waitDelay = 10 * time.Second

// ExecEngine runs the engine command once per request. The request is written
// to stdin as JSON and the subcommand (resolve, graph or render) is appended
// to the configured arguments.
type ExecEngine struct {
	argv        []string
	passthrough io.Writer
	log         *logger.Logger
}

// ExecOption configures an ExecEngine.
type ExecOption func(*ExecEngine)

// WithPassthrough sets where non-progress render output is copied.
func WithPassthrough(w io.Writer) ExecOption {
	return func(e *ExecEngine) { e.passthrough = w }
}

// NewExecEngine parses command, e.g. "hython /opt/engine/engine.py".
func NewExecEngine(command string, log *logger.Logger, opts ...ExecOption) (*ExecEngine, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.ValidationField("RENDER_ENGINE_CMD", "engine command is empty")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	e := &ExecEngine{argv: argv, passthrough: os.Stdout, log: log.WithComponent("engine")}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *ExecEngine) ResolveNode(ctx context.Context, scenePath, nodePath string) (contracts.ResolveResponse, error) {
	var out contracts.ResolveResponse
	err := e.call(ctx, "resolve", contracts.ResolveRequest{ScenePath: scenePath, NodePath: nodePath}, &out)
	return out, err
}

func (e *ExecEngine) SceneGraph(ctx context.Context, scenePath, parent string) (contracts.GraphResponse, error) {
	var out contracts.GraphResponse
	err := e.call(ctx, "graph", contracts.GraphRequest{ScenePath: scenePath, Parent: parent}, &out)
	return out, err
}

// Render streams the engine's stdout through the progress extractor. Wait runs
// alongside the extractor and closes the pipe when it returns, so the final
// marker is still handled and a stuck descendant cannot outlive waitDelay.
func (e *ExecEngine) Render(ctx context.Context, req contracts.RenderRequest, onProgress ProgressFunc) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "renderer.exec", "encode render request")
	}

	cmd := e.command(ctx, "render")
	cmd.Stdin = bytes.NewReader(body)
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr

	stdout, stdoutW, err := progress.Pipe(cmd)
	if err != nil {
		return err
	}

	ext := &progress.Extractor{
		Passthrough: e.passthrough,
		Log:         e.log.FromContext(ctx),
		OnProgress: func(p int) {
			if onProgress != nil {
				onProgress(float64(p))
			}
		},
	}

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		return errors.WrapWithCode(err, errors.CodeEngine, "renderer.exec", "start engine")
	}

	waited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = stdoutW.Close()
		waited <- err
	}()

	readErr := ext.Run(stdout)
	waitErr := <-waited
	if waitErr != nil {
		return engineError("render", waitErr, nil, stderr.String())
	}
	if readErr != nil {
		e.log.FromContext(ctx).Warn("engine output ended with a read error", "error", readErr.Error())
	}
	return nil
}

func (e *ExecEngine) call(ctx context.Context, sub string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "renderer.exec", "encode "+sub+" request")
	}

	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: stderrTail}
	cmd := e.command(ctx, sub)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return engineError(sub, err, stdout.Bytes(), stderr.String())
	}
	if err := json.Unmarshal(lastLine(stdout.Bytes()), out); err != nil {
		return errors.WrapWithCode(err, errors.CodeEngine, "renderer.exec", "engine "+sub+" returned invalid json")
	}
	return nil
}

func (e *ExecEngine) command(ctx context.Context, sub string) *exec.Cmd {
	args := append(append([]string{}, e.argv[1:]...), sub)
	cmd := exec.CommandContext(ctx, e.argv[0], args...)
	cmd.WaitDelay = waitDelay
	return cmd
}

// engineError prefers the engine's own error message over the exit status.
func engineError(sub string, err error, stdout []byte, stderr string) error {
	msg := "engine " + sub + " failed"
	var resp contracts.ErrorResponse
	if len(stdout) > 0 && json.Unmarshal(lastLine(stdout), &resp) == nil && resp.Error != "" {
		msg += ": " + resp.Error
	} else if s := strings.TrimSpace(stderr); s != "" {
		msg += ": " + s
	}
	return errors.WrapWithCode(err, errors.CodeEngine, "renderer.exec", msg)
}

// lastLine skips log chatter the engine may print before its JSON answer.
func lastLine(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
