package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenerender/internal/adapters/storage/localfs"
	contracts "scenerender/internal/contracts/renderer/v0"
	"scenerender/internal/dispatch"
	"scenerender/internal/downloads"
	"scenerender/internal/httpapi/handlers"
	"scenerender/internal/pkg/logger"
	"scenerender/internal/ports"
	"scenerender/internal/realtime"
	"scenerender/internal/session"
	"scenerender/internal/store"
	"scenerender/internal/worker/processor"
	"scenerender/internal/worker/queue"
	"scenerender/internal/worker/renderer"
)

const queueName = "test:jobs"

// fakeEngine resolves /obj/geo1 at once. /obj/slow resolves only after gate
// is closed, like an engine still loading a heavy scene.
type fakeEngine struct {
	gate chan struct{}
}

func (e fakeEngine) ResolveNode(ctx context.Context, _, nodePath string) (contracts.ResolveResponse, error) {
	if nodePath == "/obj/slow" && e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return contracts.ResolveResponse{}, ctx.Err()
		}
	}
	if nodePath == "/obj/geo1" || nodePath == "/obj/slow" {
		return contracts.ResolveResponse{Found: true, Renderable: true, Node: &contracts.Node{Type: "geo"}}, nil
	}
	return contracts.ResolveResponse{}, nil
}

func (fakeEngine) SceneGraph(_ context.Context, _, parent string) (contracts.GraphResponse, error) {
	cook := 0.25
	return contracts.GraphResponse{
		Category: "Object",
		Start:    1,
		End:      240,
		Nodes: []contracts.Node{
			{Name: "geo1", Path: parent + "/geo1", Type: "geo", Category: "Object/geo", Color: [3]int{204, 204, 204}, CookTime: &cook, Outputs: []string{"null1"}, Children: 3},
			{Name: "null1", Path: parent + "/null1", Type: "null", Category: "Object/null"},
		},
		ParentIcons: map[string]string{"obj": "data:image/svg+xml;utf8,x"},
	}, nil
}

func (fakeEngine) Render(context.Context, contracts.RenderRequest, renderer.ProgressFunc) error {
	return nil
}

type fixture struct {
	t       *testing.T
	router  http.Handler
	rdb     *redis.Client
	sp      *localfs.LocalFS
	cookies []*http.Cookie
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithEngine(t, fakeEngine{})
}

func newFixtureWithEngine(t *testing.T, engine fakeEngine) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.Discard()
	st := store.New(rdb, log)
	sp := localfs.New(t.TempDir())
	scenes := processor.NewInputHandler(sp, t.TempDir())
	sessions := session.NewManager("test-secret", time.Hour, false)

	d := dispatch.New(dispatch.Deps{
		Files:  st,
		Scenes: scenes,
		Engine: engine,
		Queue:  queue.NewRedisQueue(rdb, queueName),
		Log:    log,
	})
	h := handlers.New(handlers.Deps{
		Store:          st,
		Dispatcher:     d,
		Engine:         engine,
		Scenes:         scenes,
		SP:             sp,
		Downloads:      downloads.NewTable(time.Minute),
		Sessions:       sessions,
		Log:            log,
		MaxUploadBytes: 1 << 20,
		PlaceholderKey: "placeholder/placeholder.glb",
	})
	hub := realtime.NewHub(log, nil, h.SocketEvent)
	t.Cleanup(hub.Close)

	return &fixture{
		t: t,
		router: NewRouter(Deps{
			Handlers:    h,
			Hub:         hub,
			Sessions:    sessions,
			CORSOrigins: []string{"http://localhost:5173"},
			Log:         log,
		}),
		rdb: rdb,
		sp:  sp,
	}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	f.t.Helper()
	for _, c := range f.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(url string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, url, nil))
}

func (f *fixture) postJSON(url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return f.do(req)
}

func (f *fixture) login() string {
	f.t.Helper()
	rec := f.get("/generate_user_uuid")
	require.Equal(f.t, http.StatusOK, rec.Code)
	f.cookies = rec.Result().Cookies()
	require.NotEmpty(f.t, f.cookies)

	var body map[string]string
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["user_uuid"]
}

func (f *fixture) upload(filename, content string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("hipfile", filename)
	require.NoError(f.t, err)
	_, _ = part.Write([]byte(content))
	require.NoError(f.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/hip_upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return f.do(req)
}

func (f *fixture) uploadedID(filename, content string) string {
	f.t.Helper()
	rec := f.upload(filename, content)
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["uuid"]
}

func (f *fixture) put(key string, data []byte) {
	f.t.Helper()
	_, err := f.sp.PutObject(context.Background(), ports.PutObjectInput{ObjectKey: key, Reader: bytes.NewReader(data), Size: int64(len(data))})
	require.NoError(f.t, err)
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Message
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.get("/health?deep=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "localfs", checks["storage"].(map[string]any)["provider"])
	assert.Equal(t, "ok", checks["redis"].(map[string]any)["status"])
}

func TestSetExistingUserUUID(t *testing.T) {
	f := newFixture(t)

	rec := f.postJSON("/set_existing_user_uuid", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"status":"error","message":"No UUID provided"}`, rec.Body.String())

	rec = f.postJSON("/set_existing_user_uuid", `{"userUuid":"not-a-uuid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.postJSON("/set_existing_user_uuid", `{"userUuid":"0b7d1f0e-2f44-4c2a-9d59-6f2a1c1e8d10"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","message":"UUID set in session"}`, rec.Body.String())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestUploadDeduplicatesContent(t *testing.T) {
	f := newFixture(t)

	rec := f.upload("shot.hipnc", "scene")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "upload needs a session")

	f.login()
	first := f.uploadedID("shot.hipnc", "scene")
	again := f.uploadedID("renamed.hipnc", "scene")
	assert.Equal(t, first, again)

	_, err := f.sp.StatObject(context.Background(), "scenes/"+first+".hipnc")
	assert.NoError(t, err)

	rec = f.upload("notes.txt", "scene")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File type not allowed", errorMessage(t, rec))

	rec = f.upload("", "scene")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoredModels(t *testing.T) {
	f := newFixture(t)
	user := f.login()

	rec := f.get("/get_stored_models")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request. Specify a user_uuid.", errorMessage(t, rec))

	rec = f.get("/get_stored_models?userUuid=" + user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := f.uploadedID("shot.hip", "scene")
	rec = f.get("/get_stored_models?userUuid=" + user)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ModelData []store.UploadRecord `json:"model_data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.ModelData, 1)
	assert.Equal(t, id, body.ModelData[0].FileID)
	assert.Equal(t, "shot.hip", body.ModelData[0].OriginalFilename)
}

func TestNodeData(t *testing.T) {
	f := newFixture(t)
	f.login()
	id := f.uploadedID("shot.hipnc", "scene")

	rec := f.get("/node_data")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "A file UUID is required.", errorMessage(t, rec))

	rec = f.get("/node_data?uuid=" + id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Elements []struct {
			Data map[string]any `json:"data"`
		} `json:"elements"`
		Start       float64           `json:"start"`
		End         float64           `json:"end"`
		Category    string            `json:"category"`
		ParentIcons map[string]string `json:"parent_icons"`
		SessionID   string            `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Elements, 3)

	geo := body.Elements[0].Data
	assert.Equal(t, "geo1", geo["id"])
	assert.Equal(t, "/obj/geo1", geo["path"])
	assert.Equal(t, "object/geo", geo["category"])
	assert.Equal(t, true, geo["can_enter"])
	assert.Equal(t, 0.25, geo["cooktime"])

	edge := body.Elements[1].Data
	assert.Equal(t, "geo1-null1", edge["id"])
	assert.Equal(t, "null1", edge["target"])

	assert.Equal(t, false, body.Elements[2].Data["can_enter"])
	assert.Equal(t, 240.0, body.End)
	assert.NotEmpty(t, body.SessionID)
	assert.Contains(t, body.ParentIcons, "obj")
}

func TestSubmitAndValidate(t *testing.T) {
	f := newFixture(t)
	f.login()
	id := f.uploadedID("shot.hipnc", "scene")
	ctx := context.Background()

	rec := f.postJSON("/validate_node", `{"file":"`+id+`","path":"/obj/geo1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = f.postJSON("/validate_node", `{"file":"`+id+`","path":"/obj/missing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	rec = f.postJSON("/render", `{"file":"`+id+`","path":"/obj/missing"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	n, err := f.rdb.LLen(ctx, queueName).Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = f.postJSON("/render", `{"file":"`+id+`","path":"/obj/geo1","start":"1","end":24}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["jobs"])
	assert.Equal(t, body["render_id"].(string)+".glb", body["filename"])

	n, err = f.rdb.LLen(ctx, queueName).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestGLBAndShareLinks(t *testing.T) {
	f := newFixture(t)
	f.put("models/r1.glb", []byte("glb-bytes"))
	f.put("placeholder/placeholder.glb", []byte("placeholder"))

	rec := f.get("/get_glb/r1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "glb-bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "model.gltf")

	rec = f.get("/get_glb/r1.glb")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get("/get_glb/placeholder.glb")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "placeholder", rec.Body.String())

	rec = f.get("/get_glb/nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Requested an invalid .glb file.", errorMessage(t, rec))

	token := func(url string) string {
		rec := f.get(url)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body["nano_id"]
	}
	tok := token("/get_nano_id?filename=r1")
	assert.Equal(t, tok, token("/get_nano_id?filename=r1.glb"))
	ph := token("/get_nano_id?placeholder=true")
	assert.NotEqual(t, tok, ph)

	rec = f.get("/get_glb_from_nano/" + tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "glb-bytes", rec.Body.String())

	rec = f.get("/get_glb_from_nano/" + ph)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "placeholder", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.get("/get_glb_from_nano/unknown").Code)
	assert.Equal(t, http.StatusNotFound, f.get("/get_nano_id?filename=missing").Code)
}

func TestThumbnailResize(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 32))))
	f.put("thumbnails/r1.png", buf.Bytes())

	rec := f.get("/get_thumbnail/r1.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, buf.Len(), rec.Body.Len())

	rec = f.get("/get_thumbnail/r1?size=16")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	assert.Equal(t, http.StatusBadRequest, f.get("/get_thumbnail/r1?size=4").Code)
	assert.Equal(t, http.StatusNotFound, f.get("/get_thumbnail/r2").Code)
}

func TestDownloadLinks(t *testing.T) {
	f := newFixture(t)
	f.put("models/r1.glb", []byte("glb-bytes"))

	assert.Equal(t, http.StatusBadRequest, f.get("/generate_download?filename=r1&ext=exe").Code)
	assert.Equal(t, http.StatusNotFound, f.get("/generate_download?filename=r2&ext=glb").Code)

	rec := f.get("/generate_download?filename=r1&ext=glb")
	require.Equal(t, http.StatusOK, rec.Code)
	var link struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	assert.Equal(t, "/download/glb/"+link.ID, link.URL)

	rec = f.get(link.URL)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "glb-bytes", rec.Body.String())
	assert.Equal(t, `attachment; filename="r1.glb"`, rec.Header().Get("Content-Disposition"))

	assert.Equal(t, http.StatusNotFound, f.get("/download/png/"+link.ID).Code)
	assert.Equal(t, http.StatusNotFound, f.get("/download/glb/unknown").Code)
}

func TestSocketSubmitRender(t *testing.T) {
	f := newFixture(t)
	f.login()
	id := f.uploadedID("shot.hipnc", "scene")

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() realtime.Envelope {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var env realtime.Envelope
		require.NoError(t, ws.ReadJSON(&env))
		return env
	}
	require.Equal(t, realtime.EventConnected, read().Event)

	send := func(data string) map[string]any {
		require.NoError(t, ws.WriteJSON(map[string]any{
			"event": handlers.EventSubmitRender,
			"data":  json.RawMessage(data),
		}))
		env := read()
		require.Equal(t, handlers.EventSubmitRenderAck, env.Event)
		var ack map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &ack))
		return ack
	}

	ack := send(`{"path":"","file":"` + id + `"}`)
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, "Invalid submission node provided.", ack["message"])

	ack = send(`{"path":"/obj/geo1","start":1,"end":10,"step":1,"file":"` + id + `"}`)
	assert.Equal(t, true, ack["success"], ack["message"])
	assert.NotEmpty(t, ack["filename"])

	payload, ok, err := queue.NewRedisQueue(f.rdb, queueName).Pop(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	job, err := queue.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, ack["filename"], job.RenderID)
	assert.NotEmpty(t, job.SocketID)
}

func TestSocketSlowResolveKeepsConnectionServing(t *testing.T) {
	gate := make(chan struct{})
	f := newFixtureWithEngine(t, fakeEngine{gate: gate})
	f.login()
	id := f.uploadedID("heavy.hipnc", "scene")

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	readAck := func() map[string]any {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var env realtime.Envelope
		require.NoError(t, ws.ReadJSON(&env))
		require.Equal(t, handlers.EventSubmitRenderAck, env.Event)
		var ack map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &ack))
		return ack
	}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var hello realtime.Envelope
	require.NoError(t, ws.ReadJSON(&hello))
	require.Equal(t, realtime.EventConnected, hello.Event)

	for _, path := range []string{"/obj/slow", "/obj/geo1"} {
		require.NoError(t, ws.WriteJSON(map[string]any{
			"event": handlers.EventSubmitRender,
			"data":  json.RawMessage(`{"path":"` + path + `","file":"` + id + `"}`),
		}))
	}

	fast := readAck()
	assert.Equal(t, true, fast["success"], fast["message"])

	close(gate)
	slow := readAck()
	assert.Equal(t, true, slow["success"], slow["message"])
	assert.NotEqual(t, fast["filename"], slow["filename"])
}
