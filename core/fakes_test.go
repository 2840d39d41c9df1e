package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"pkt.systems/signally/internal/credential"
	"pkt.systems/signally/internal/realtime"
	"pkt.systems/signally/internal/summarizer"
	"pkt.systems/signally/schema"
)

type fakeFetcher struct {
	mu    sync.Mutex
	value string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context) (credential.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return credential.Credential{}, f.err
	}
	return credential.Credential{Value: f.value}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSessions struct {
	mu      sync.Mutex
	starts  int
	stops   int
	err     error
	events  realtime.Handler
	source  string
	cred    string
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeSessions) Start(ctx context.Context, req realtime.StartRequest) error {
	f.mu.Lock()
	f.starts++
	f.events = req.Events
	f.source = req.Source
	f.cred = req.Credential
	entered, block, err := f.entered, f.block, f.err
	f.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &realtime.SessionError{Stage: "signal", Err: ctx.Err()}
		}
	}
	return err
}

func (f *fakeSessions) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeSessions) handler() realtime.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeSessions) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakeCompleter struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
	block   chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, apiKey string, body []byte) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", summarizer.ErrEmptyResponse
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSettings struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func (f *fakeSettings) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	value, ok := f.values[key]
	return value, ok, nil
}

func (f *fakeSettings) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[key] = value
}

type fakeSurfaces struct {
	mu       sync.Mutex
	surfaces []schema.Surface
	sent     map[schema.SurfaceID][]schema.Event
}

func (f *fakeSurfaces) Surfaces() []schema.Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.Surface(nil), f.surfaces...)
}

func (f *fakeSurfaces) FirstOfKind(kind schema.SurfaceKind) (schema.SurfaceID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, surface := range f.surfaces {
		if surface.Kind == kind {
			return surface.ID, true
		}
	}
	return "", false
}

func (f *fakeSurfaces) Send(id schema.SurfaceID, event schema.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[schema.SurfaceID][]schema.Event{}
	}
	f.sent[id] = append(f.sent[id], event)
	return true
}

type fakeLauncher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeLauncher) Launch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []schema.Event
}

func (s *recordingSink) OnEvent(event schema.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []schema.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Event(nil), s.events...)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func (s *recordingSink) states() []schema.SessionState {
	var out []schema.SessionState
	for _, event := range s.snapshot() {
		if event.Type == schema.EventStateChanged {
			out = append(out, event.State)
		}
	}
	return out
}

func (s *recordingSink) ofType(eventType schema.EventType) []schema.Event {
	var out []schema.Event
	for _, event := range s.snapshot() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func (s *recordingSink) waitFor(t *testing.T, eventType schema.EventType, count int) []schema.Event {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := s.ofType(eventType); len(got) >= count {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, got %+v", count, eventType, s.snapshot())
	return nil
}

type coordinatorHarness struct {
	fetcher   *fakeFetcher
	sessions  *fakeSessions
	completer *fakeCompleter
	engine    *summarizer.Engine
	settings  *fakeSettings
	surfaces  *fakeSurfaces
	launcher  *fakeLauncher
	sink      *recordingSink
	svc       Service
}

func newCoordinatorHarness(t *testing.T, threshold int) *coordinatorHarness {
	t.Helper()
	h := &coordinatorHarness{
		fetcher:   &fakeFetcher{value: "ek_test"},
		sessions:  &fakeSessions{},
		completer: &fakeCompleter{},
		settings:  &fakeSettings{},
		surfaces:  &fakeSurfaces{},
		launcher:  &fakeLauncher{},
		sink:      &recordingSink{},
	}
	h.settings.set(schema.SettingOpenAIAPIKey, "sk-test")
	h.engine = summarizer.New(summarizer.Config{Threshold: threshold}, h.completer, nil)
	svc, err := NewService(schema.ServiceConfig{SummaryThreshold: threshold}, ServiceDeps{
		Credentials: h.fetcher,
		Sessions:    h.sessions,
		Summarizer:  h.engine,
		Settings:    h.settings,
		Surfaces:    h.surfaces,
		Windows:     h.launcher,
		EventSink:   h.sink,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *coordinatorHarness) start(t *testing.T) realtime.Handler {
	t.Helper()
	resp, err := h.svc.StartRecording(context.Background(), schema.StartRecordingRequest{})
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if resp.State != schema.StateRecording || resp.Session == "" {
		t.Fatalf("unexpected start response: %+v", resp)
	}
	handler := h.sessions.handler()
	if handler == nil {
		t.Fatalf("expected realtime handler")
	}
	return handler
}

func (h *coordinatorHarness) state(t *testing.T) schema.GetStateResponse {
	t.Helper()
	resp, err := h.svc.GetState(context.Background(), schema.GetStateRequest{})
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	return resp
}

func fragment(id, text string) schema.TranscriptFragment {
	return schema.TranscriptFragment{ItemID: schema.ItemID(id), Text: text, CreatedAt: time.Now()}
}
