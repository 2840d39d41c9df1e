package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/signally/internal/credential"
	"pkt.systems/signally/internal/eventbus"
	"pkt.systems/signally/internal/metrics"
	"pkt.systems/signally/internal/realtime"
	"pkt.systems/signally/internal/summarizer"
	"pkt.systems/signally/schema"
)

type fakeService struct {
	mu        sync.Mutex
	state     schema.SessionState
	startErr  error
	toggleErr error
	reloads   int
	starts    []schema.StartRecordingRequest
	stops     []schema.StopRecordingRequest
}

func (f *fakeService) GetState(ctx context.Context, req schema.GetStateRequest) (schema.GetStateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return schema.GetStateResponse{State: f.state, Transcript: []schema.TranscriptFragment{{Text: "Hello team"}}}, nil
}

func (f *fakeService) StartRecording(ctx context.Context, req schema.StartRecordingRequest) (schema.StartRecordingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return schema.StartRecordingResponse{}, f.startErr
	}
	f.state = schema.StateRecording
	return schema.StartRecordingResponse{Session: "s1", State: schema.StateRecording}, nil
}

func (f *fakeService) StopRecording(ctx context.Context, req schema.StopRecordingRequest) (schema.StopRecordingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, req)
	f.state = schema.StateIdle
	return schema.StopRecordingResponse{State: schema.StateIdle}, nil
}

func (f *fakeService) ToggleRecording(ctx context.Context, req schema.ToggleRecordingRequest) (schema.ToggleRecordingResponse, error) {
	if f.toggleErr != nil {
		return schema.ToggleRecordingResponse{Action: "none"}, f.toggleErr
	}
	return schema.ToggleRecordingResponse{Action: "start", State: schema.StateRecording}, nil
}

func (f *fakeService) ReloadCredential(ctx context.Context, req schema.ReloadCredentialRequest) (schema.ReloadCredentialResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return schema.ReloadCredentialResponse{HasCredential: true}, nil
}

func (f *fakeService) OpenWindow(ctx context.Context, req schema.OpenWindowRequest) (schema.OpenWindowResponse, error) {
	return schema.OpenWindowResponse{}, schema.ErrWindowUnavailable
}

func (f *fakeService) RequestSummary(ctx context.Context, req schema.RequestSummaryRequest) (schema.RequestSummaryResponse, error) {
	return schema.RequestSummaryResponse{Summary: "Team sync", NewQuestions: []string{"Who owns it?"}}, nil
}

type memStore struct {
	values map[string]string
}

func (m *memStore) Get(key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) Set(key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memStore) Remove(key string) error {
	delete(m.values, key)
	return nil
}

type testServer struct {
	service *fakeService
	bus     *eventbus.Bus
	store   *memStore
	handler http.Handler
}

func newTestServer(cfg Config) *testServer {
	ts := &testServer{
		service: &fakeService{state: schema.StateIdle},
		bus:     eventbus.New(nil),
		store:   &memStore{values: map[string]string{}},
	}
	ts.handler = NewServer(cfg, ts.service, ts.bus, ts.store, metrics.NewMetrics("")).Handler()
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func waitForSurfaces(t *testing.T, bus *eventbus.Bus, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(bus.Surfaces()) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d surfaces, got %v", n, bus.Surfaces())
}

func TestRecordingEndpoints(t *testing.T) {
	ts := newTestServer(Config{})

	rec := ts.do(http.MethodPost, "/api/recording/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d body %s", rec.Code, rec.Body.String())
	}
	if got := decodeMap(t, rec)["session"]; got != "s1" {
		t.Fatalf("session = %v", got)
	}
	rec = ts.do(http.MethodPost, "/api/recording/stop", `{"force":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if len(ts.service.stops) != 1 || !ts.service.stops[0].Force {
		t.Fatalf("expected forced stop, got %+v", ts.service.stops)
	}
	rec = ts.do(http.MethodGet, "/api/state", "")
	if got := decodeMap(t, rec)["state"]; got != "idle" {
		t.Fatalf("state = %v", got)
	}
	if rec := ts.do(http.MethodGet, "/api/recording/start", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestStartRejectsUnknownFields(t *testing.T) {
	ts := newTestServer(Config{})
	rec := ts.do(http.MethodPost, "/api/recording/start", `{"tab":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ts.service.starts) != 0 {
		t.Fatalf("start must not run on bad payload")
	}
}

func TestErrorsAnswerSuccessFalse(t *testing.T) {
	ts := newTestServer(Config{})
	ts.service.toggleErr = schema.ErrBusy
	rec := ts.do(http.MethodPost, "/api/recording/toggle", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("toggle status = %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["success"] != false || body["error"] != "busy" {
		t.Fatalf("unexpected body %v", body)
	}

	ts.service.startErr = schema.ErrMissingCredential
	rec = ts.do(http.MethodPost, "/api/recording/start", "{}")
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("start status = %d", rec.Code)
	}
	if got := decodeMap(t, rec)["error"]; got != schema.ErrMissingCredential.Error() {
		t.Fatalf("error = %v", got)
	}

	rec = ts.do(http.MethodPost, "/api/window/open", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("window status = %d", rec.Code)
	}
}

func TestCredentialEndpoints(t *testing.T) {
	ts := newTestServer(Config{})

	rec := ts.do(http.MethodPut, "/api/credential", `{"apiKey":"pk-nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid key status = %d", rec.Code)
	}
	if got := decodeMap(t, rec)["error"]; got != schema.ErrInvalidCredential.Error() {
		t.Fatalf("error = %v", got)
	}

	rec = ts.do(http.MethodPut, "/api/credential", `{"apiKey":"  sk-proj-abcdefgh1234 "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d body %s", rec.Code, rec.Body.String())
	}
	if ts.store.values[schema.SettingOpenAIAPIKey] != "sk-proj-abcdefgh1234" {
		t.Fatalf("stored = %q", ts.store.values[schema.SettingOpenAIAPIKey])
	}
	if ts.service.reloads != 1 {
		t.Fatalf("expected reload after save, got %d", ts.service.reloads)
	}

	body := decodeMap(t, ts.do(http.MethodGet, "/api/credential", ""))
	if body["configured"] != true || body["masked"] != "sk-...1234" {
		t.Fatalf("unexpected credential view %v", body)
	}

	if rec := ts.do(http.MethodDelete, "/api/credential", ""); rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if _, ok := ts.store.values[schema.SettingOpenAIAPIKey]; ok {
		t.Fatalf("expected key cleared")
	}
	if ts.service.reloads != 2 {
		t.Fatalf("expected reload after clear, got %d", ts.service.reloads)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	ts := newTestServer(Config{})
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stream?surface=overlay&id=o1")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}
	waitForSurfaces(t, ts.bus, 1)
	ts.bus.OnEvent(schema.Event{Type: schema.EventTranscriptionCompleted, Data: &schema.EventData{Transcript: "Hello team"}})

	reader := bufio.NewReader(resp.Body)
	var dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}
	var event schema.Event
	if err := json.Unmarshal([]byte(dataLine), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != schema.EventTranscriptionCompleted || event.Data.Transcript != "Hello team" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestStreamRejectsUnknownSurface(t *testing.T) {
	ts := newTestServer(Config{})
	rec := ts.do(http.MethodGet, "/api/stream?surface=sidebar", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebSocketCommandsAndEvents(t *testing.T) {
	ts := newTestServer(Config{})
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?surface=popup&id=p1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(schema.SurfaceCommand{ID: "1", Command: schema.CommandStart}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply schema.SurfaceReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != schema.SurfaceReplyType || reply.ID != "1" || !reply.Success {
		t.Fatalf("unexpected reply %+v", reply)
	}

	if err := conn.WriteJSON(schema.SurfaceCommand{ID: "2", Command: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Success || !strings.Contains(reply.Error, "unknown command") {
		t.Fatalf("expected unknown command reply, got %+v", reply)
	}

	waitForSurfaces(t, ts.bus, 1)
	if id, ok := ts.bus.FirstOfKind(schema.SurfacePopup); !ok || id != "p1" {
		t.Fatalf("expected popup p1 attached, got %q %v", id, ok)
	}
	ts.bus.Send("p1", schema.Event{Type: schema.EventFocusWindow})
	var event schema.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != schema.EventFocusWindow {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestBasePathServesIndex(t *testing.T) {
	ts := newTestServer(Config{BasePath: "/signally"})

	rec := ts.do(http.MethodGet, "/signally", "")
	if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "/signally/" {
		t.Fatalf("redirect = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = ts.do(http.MethodGet, "/signally/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("index status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `<base href="/signally/" />`) {
		t.Fatalf("expected base href in index")
	}
	if rec := ts.do(http.MethodGet, "/signally/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(Config{})
	ts.do(http.MethodGet, "/api/state", "")
	rec := ts.do(http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `signally_http_requests_total{method="GET",route="/api/state",status="200"} 1`) {
		t.Fatalf("expected request counter in metrics output:\n%s", rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{schema.ErrInvalidCredential, http.StatusBadRequest},
		{schema.ErrMissingCredential, http.StatusPreconditionFailed},
		{schema.ErrAlreadyRecording, http.StatusConflict},
		{summarizer.ErrEmptyWindow, http.StatusConflict},
		{&credential.Error{Kind: credential.KindUnreachable}, http.StatusBadGateway},
		{&realtime.SessionError{Stage: "signal", Err: errors.New("boom")}, http.StatusBadGateway},
		{summarizer.ErrInvalidResponse, http.StatusBadGateway},
		{fmt.Errorf("%w: quota exceeded", schema.ErrSessionFailed), http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
