package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"dubsync/internal/core/domain"
	"dubsync/internal/core/services"
	"dubsync/internal/infrastructure/media/virtual"
	"dubsync/internal/infrastructure/monitoring"
	"dubsync/internal/infrastructure/scheduler"
	"dubsync/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedEvent struct {
	Type    string
	Payload interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeBroadcaster) Broadcast(eventType string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Type: eventType, Payload: payload})
}

func (f *fakeBroadcaster) ConnectionCount() int { return 0 }

func (f *fakeBroadcaster) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type apiFixture struct {
	t      *testing.T
	sched  *scheduler.Manual
	host   *virtual.Host
	events *fakeBroadcaster
	stats  *services.MetricsService
	router *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	log := zaptest.NewLogger(t)
	sugar := log.Sugar()
	sched := scheduler.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	host := virtual.NewHost(sched, virtual.DefaultOptions())
	stats := services.NewMetricsService()
	probe := services.NewMediaProbe(host, sugar)

	store := services.NewGameSessionStore(host, probe, nil, sched, services.StoreOptionsFromConfig(cfg), stats, sugar)
	captures := services.NewCaptureFactory(host, sched, services.CaptureOptionsFromConfig(cfg), stats, sugar)
	machine := services.NewRoundStateMachine(store, host, sched, captures, services.RoundOptionsFromConfig(cfg), stats, sugar)
	exporter := services.NewExportEngine(host, sched, services.ExportOptionsFromConfig(cfg), stats, sugar)
	events := &fakeBroadcaster{}

	game := NewGameHandler(store, machine, services.NewImporter(store, sugar), exporter, host, events, stats, cfg, sugar)
	health := monitoring.NewHealthChecker(sugar)
	health.AddHandleCheck(host.Handles(), 1000, 0, time.Second)
	system := NewSystemHandler(health, stats, events, prometheus.NewRegistry())

	t.Cleanup(func() {
		game.Close()
		machine.Close()
	})

	return &apiFixture{
		t:      t,
		sched:  sched,
		host:   host,
		events: events,
		stats:  stats,
		router: NewRouter(cfg, log, game, system, nil),
	}
}

func (f *apiFixture) clip(d time.Duration) []byte {
	f.t.Helper()
	data, err := virtual.SynthesizeClip(virtual.ClipSpec{Width: 320, Height: 180, FPS: 30, Duration: d})
	require.NoError(f.t, err)
	return data
}

type upload struct {
	name, mimeType string
	content        []byte
}

func multipartBody(t *testing.T, field string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.name))
		h.Set("Content-Type", f.mimeType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func (f *apiFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case *http.Request:
		req = b
	default:
		data, err := json.Marshal(b)
		require.NoError(f.t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// doDriven serves the request on a goroutine while virtual time advances.
func (f *apiFixture) doDriven(method, path string) *httptest.ResponseRecorder {
	f.t.Helper()
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	}()

	deadline := time.Now().Add(10 * time.Second)
	for {
		select {
		case <-done:
			return w
		default:
		}
		if time.Now().After(deadline) {
			f.t.Fatal("timed out driving the virtual clock")
		}
		f.sched.Advance(10 * time.Millisecond)
		time.Sleep(50 * time.Microsecond)
	}
}

func (f *apiFixture) importClips(n int) {
	f.t.Helper()
	var files []upload
	for i := 0; i < n; i++ {
		files = append(files, upload{name: fmt.Sprintf("clip%d.dubv", i), mimeType: virtual.ClipMimeType, content: f.clip(time.Second)})
	}
	body, contentType := multipartBody(f.t, "files", files...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", contentType)
	w := f.do(http.MethodPost, "", req)
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *apiFixture) recordRound() {
	f.t.Helper()
	w := f.do(http.MethodPost, "/api/v1/session/take/start", nil)
	require.Equal(f.t, http.StatusAccepted, w.Code, w.Body.String())
	f.sched.Advance(3 * time.Second)
	f.sched.Advance(time.Second)
}

func TestGameHandler_ImportBatch(t *testing.T) {
	f := newAPIFixture(t)

	body, contentType := multipartBody(t, "files",
		upload{name: "a.dubv", mimeType: virtual.ClipMimeType, content: f.clip(time.Second)},
		upload{name: "notes.txt", mimeType: "text/plain", content: []byte("hello")},
	)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", contentType)
	w := f.do(http.MethodPost, "", req)
	require.Equal(t, http.StatusCreated, w.Code)

	report := decode(t, w)
	assert.Len(t, report["imported"], 1)
	require.Len(t, report["failed"], 1)
	assert.Equal(t, "notes.txt", report["failed"].([]interface{})[0].(map[string]interface{})["name"])

	w = f.do(http.MethodGet, "/api/v1/videos", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lib := decode(t, w)
	assert.EqualValues(t, 1, lib["total"])
	assert.Equal(t, false, lib["can_start"])
	assert.Positive(t, f.events.count(EventLibrary))
}

func TestGameHandler_ImportRejectsOnlyInvalid(t *testing.T) {
	f := newAPIFixture(t)

	body, contentType := multipartBody(t, "files", upload{name: "empty.webm", mimeType: "video/webm"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "", req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/videos", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "", req).Code)
}

func TestGameHandler_SessionErrors(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/v1/session", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error"])

	w = f.do(http.MethodPost, "/api/v1/sessions", gin.H{"mode": "meme"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_LIBRARY", decode(t, w)["error"])

	f.importClips(3)
	w = f.do(http.MethodPost, "/api/v1/sessions", gin.H{"mode": "karaoke"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/session/round/advance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/sessions", gin.H{"mode": "meme"}).Code)
	w = f.do(http.MethodPost, "/api/v1/session/round/advance", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, w)["error"])
}

func TestGameHandler_PlayRoundAndDownload(t *testing.T) {
	f := newAPIFixture(t)
	f.importClips(3)

	w := f.do(http.MethodPost, "/api/v1/sessions", gin.H{"mode": "serious"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	session := created["session"].(map[string]interface{})
	assert.Len(t, session["rounds"], 3)
	assert.Equal(t, "serious", session["mode"])

	w = f.do(http.MethodPost, "/api/v1/session/kind", gin.H{"kind": "audio"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/api/v1/session/take/start", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	state := decode(t, w)["state"].(map[string]interface{})
	assert.Equal(t, string(domain.PhaseCountingDown), state["phase"])

	w = f.do(http.MethodPost, "/api/v1/session/take/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.sched.Advance(3 * time.Second)
	f.sched.Advance(time.Second)

	w = f.do(http.MethodGet, "/api/v1/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, string(domain.PhaseStopped), got["state"].(map[string]interface{})["phase"])
	round0 := got["session"].(map[string]interface{})["rounds"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, true, round0["completed"])
	videoName := round0["video"].(map[string]interface{})["name"].(string)

	w = f.do(http.MethodGet, "/api/v1/session/rounds/0/audio", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, virtual.AudioMimeType, w.Header().Get("Content-Type"))
	stem := videoName[:len(videoName)-len(".dubv")]
	assert.Contains(t, w.Header().Get("Content-Disposition"), "doublage-"+stem+".wav")
	assert.NotEmpty(t, w.Body.Bytes())

	w = f.do(http.MethodGet, "/api/v1/session/rounds/1/audio", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = f.do(http.MethodGet, "/api/v1/session/rounds/9/audio", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(http.MethodGet, "/api/v1/session/rounds/x/audio", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Positive(t, f.events.count(EventTakeState))
}

func TestGameHandler_ExportRound(t *testing.T) {
	f := newAPIFixture(t)
	f.importClips(3)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/sessions", gin.H{"mode": "meme"}).Code)
	f.recordRound()

	w := f.doDriven(http.MethodPost, "/api/v1/session/rounds/0/export")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, virtual.ClipMimeType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "doublage-complet-clip")
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".dubv")

	clip, err := virtual.DecodeClip(w.Body.Bytes())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, clip.Header.Duration, 0.1)

	assert.Positive(t, f.events.count(EventExportProgress))
	assert.Equal(t, 1, f.stats.Snapshot().Exports)
}

func TestGameHandler_FullSessionAndReview(t *testing.T) {
	f := newAPIFixture(t)
	f.importClips(3)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/sessions", gin.H{"mode": "meme"}).Code)

	for i := 0; i < 3; i++ {
		f.recordRound()
		w := f.do(http.MethodPost, "/api/v1/session/round/advance", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := f.do(http.MethodGet, "/api/v1/session", nil)
	got := decode(t, w)
	assert.Equal(t, true, got["session"].(map[string]interface{})["completed"])
	assert.Equal(t, string(domain.PhaseComplete), got["state"].(map[string]interface{})["phase"])

	w = f.do(http.MethodPost, "/api/v1/session/review/1/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["active_round"])

	w = f.do(http.MethodPost, "/api/v1/session/review/2/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["active_round"])

	w = f.do(http.MethodPost, "/api/v1/session/review/2/toggle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, -1, decode(t, w)["active_round"])

	w = f.do(http.MethodPost, "/api/v1/session/review/mute", gin.H{"muted": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodPost, "/api/v1/session/review/7/toggle", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/session", nil).Code)
	assert.Equal(t, 0, f.host.Handles().Live())
}

func TestGameHandler_RestartRoundDiscardsTake(t *testing.T) {
	f := newAPIFixture(t)
	f.importClips(3)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/sessions", gin.H{"mode": "meme"}).Code)

	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/session/take/start", nil).Code)
	f.sched.Advance(time.Second)

	w := f.do(http.MethodPost, "/api/v1/session/round/restart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.PhaseIdle), decode(t, w)["state"].(map[string]interface{})["phase"])

	f.sched.Advance(5 * time.Second)
	w = f.do(http.MethodGet, "/api/v1/session", nil)
	round0 := decode(t, w)["session"].(map[string]interface{})["rounds"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, false, round0["completed"])
	assert.Equal(t, 0, f.host.LiveDeviceTracks())
}

func TestGameHandler_DeleteAndReattach(t *testing.T) {
	f := newAPIFixture(t)
	f.importClips(1)

	w := f.do(http.MethodGet, "/api/v1/videos", nil)
	videos := decode(t, w)["videos"].([]interface{})
	id := videos[0].(map[string]interface{})["id"].(string)

	body, contentType := multipartBody(t, "file", upload{name: "clip0.dubv", mimeType: virtual.ClipMimeType, content: f.clip(2 * time.Second)})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/videos/"+id+"/content", body)
	req.Header.Set("Content-Type", contentType)
	w = f.do(http.MethodPut, "", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	video := decode(t, w)["video"].(map[string]interface{})
	assert.InDelta(t, 2.0, video["duration"], 0.05)
	assert.Equal(t, true, video["hasValidFile"])

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/videos/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/v1/videos/"+id, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/api/v1/videos/not-an-id", nil).Code)
}

func TestSystemHandler(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = f.do(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "metrics")

	w = f.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
