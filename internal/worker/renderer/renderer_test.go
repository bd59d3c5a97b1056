package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contracts "scenerender/internal/contracts/renderer/v0"
	"scenerender/internal/pkg/errors"
	"scenerender/internal/pkg/logger"
)

const fakeEngine = `#!/bin/sh
cat > /dev/null
case "$1" in
resolve)
  echo "loading scene"
  echo '{"found":true,"renderable":true,"node":{"name":"geo1","path":"/obj/geo1","node_type":"geo","category":"object","color":[0,0,0],"cooktime":null,"children":2}}'
  ;;
graph)
  echo '{"category":"Object","start":1,"end":24,"nodes":[{"name":"geo1","path":"/obj/geo1","node_type":"geo","category":"object","color":[255,0,0],"cooktime":0.5,"outputs":["null1"],"children":2}],"parent_icons":{}}'
  ;;
render)
  echo "ALF_PROGRESS 10%"
  echo "cooking /obj/geo1"
  echo "ALF_PROGRESS 100%"
  ;;
esac
`

const failingEngine = `#!/bin/sh
cat > /dev/null
echo '{"error":"node /obj/missing not found"}'
echo "traceback" >&2
exit 3
`

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	p := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o755))
	return p
}

func TestNewExecEngineRequiresCommand(t *testing.T) {
	_, err := NewExecEngine("   ", logger.Discard())
	assert.True(t, errors.IsValidation(err))
}

func TestExecEngineResolveAndGraph(t *testing.T) {
	e, err := NewExecEngine("sh "+writeScript(t, fakeEngine), logger.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	res, err := e.ResolveNode(ctx, "/work/scene.hipnc", "/obj/geo1")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.True(t, res.Renderable)
	require.NotNil(t, res.Node)
	assert.Equal(t, 2, res.Node.Children)

	g, err := e.SceneGraph(ctx, "/work/scene.hipnc", "/obj")
	require.NoError(t, err)
	assert.Equal(t, "Object", g.Category)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, []string{"null1"}, g.Nodes[0].Outputs)
}

func TestExecEngineRenderStreamsProgress(t *testing.T) {
	var out bytes.Buffer
	e, err := NewExecEngine("sh "+writeScript(t, fakeEngine), logger.Discard(), WithPassthrough(&out))
	require.NoError(t, err)

	var got []float64
	err = e.Render(context.Background(), contracts.RenderRequest{Type: contracts.TypeGLB}, func(p float64) {
		got = append(got, p)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 100}, got)
	assert.Equal(t, "cooking /obj/geo1\n", out.String())
}

const chattyEngine = `#!/bin/sh
cat > /dev/null
head -c 2000000 /dev/zero | tr '\0' a
echo
echo "ALF_PROGRESS 50%"
echo "ALF_PROGRESS 100%"
`

func TestExecEngineRenderSurvivesHugeOutputLine(t *testing.T) {
	e, err := NewExecEngine("sh "+writeScript(t, chattyEngine), logger.Discard(), WithPassthrough(io.Discard))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var got []float64
	err = e.Render(ctx, contracts.RenderRequest{Type: contracts.TypeROP}, func(p float64) {
		got = append(got, p)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 100}, got)
}

func TestExecEngineFailureIsEngineError(t *testing.T) {
	e, err := NewExecEngine("sh "+writeScript(t, failingEngine), logger.Discard(), WithPassthrough(&bytes.Buffer{}))
	require.NoError(t, err)

	_, err = e.ResolveNode(context.Background(), "/work/scene.hipnc", "/obj/missing")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeEngine))
	assert.Contains(t, err.Error(), "node /obj/missing not found")

	err = e.Render(context.Background(), contracts.RenderRequest{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeEngine))
	assert.Contains(t, err.Error(), "traceback")
}

func TestTailBufferKeepsEnd(t *testing.T) {
	tb := &tailBuffer{limit: 4}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg"))
	assert.Equal(t, "defg", tb.String())
}

func TestHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/resolve":
			var req contracts.ResolveRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.NodePath == "/obj/cam1" {
				_ = json.NewEncoder(w).Encode(contracts.ResolveResponse{Found: true, Reason: "cameras cannot be rendered"})
				return
			}
			_ = json.NewEncoder(w).Encode(contracts.ResolveResponse{Found: true, Renderable: true})
		case "/render":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(contracts.ErrorResponse{Error: "rop missing"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/")
	ctx := context.Background()

	res, err := c.ResolveNode(ctx, "s.hip", "/obj/geo1")
	require.NoError(t, err)
	assert.True(t, res.Renderable)

	res, err = c.ResolveNode(ctx, "s.hip", "/obj/cam1")
	require.NoError(t, err)
	assert.False(t, res.Renderable)
	assert.Equal(t, "cameras cannot be rendered", res.Reason)

	err = c.Render(ctx, contracts.RenderRequest{}, nil)
	assert.True(t, errors.IsCode(err, errors.CodeEngine))
	assert.Contains(t, err.Error(), "rop missing")

	_, err = c.SceneGraph(ctx, "s.hip", "/obj")
	assert.True(t, errors.IsCode(err, errors.CodeEngine))
}

func TestHTTPClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url).ResolveNode(context.Background(), "s.hip", "/obj/geo1")
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
}

func TestNewPicksTransport(t *testing.T) {
	e, err := New(ModeExec, "hython engine.py", "", logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &ExecEngine{}, e)

	e, err = New(ModeHTTP, "", "http://renderer:8090/", logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, e)

	_, err = New(ModeHTTP, "", "", logger.Discard())
	assert.True(t, errors.IsValidation(err))

	e, err = New(ModeExec, "", "", logger.Discard())
	assert.Nil(t, e)
	assert.True(t, errors.IsValidation(err))

	_, err = New("grpc", "", "", logger.Discard())
	assert.True(t, errors.IsValidation(err))
}
