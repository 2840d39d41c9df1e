package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/signally/internal/credential"
	"pkt.systems/signally/internal/logx"
	"pkt.systems/signally/internal/realtime"
	"pkt.systems/signally/internal/summarizer"
	"pkt.systems/signally/schema"
)

// Toggle actions reported by ToggleRecording.
const (
	ToggleStart = "start"
	ToggleStop  = "stop"
	ToggleNone  = "none"
)

// service owns the recording state machine and the session buffers.
type service struct {
	cfg      schema.ServiceConfig
	creds    credential.Fetcher
	sessions SessionManager
	engine   Summarizer
	settings SettingsReader
	surfaces SurfaceRegistry
	windows  WindowLauncher
	sink     EventSink
	logger   pslog.Logger
	now      func() time.Time

	mu         sync.Mutex
	state      schema.SessionState
	details    schema.StateDetails
	session    schema.SessionID
	gen        uint64
	runCtx     context.Context
	runCancel  context.CancelFunc
	teardown   chan struct{}
	current    string
	transcript []schema.TranscriptFragment
}

// NewService constructs the session coordinator.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Credentials == nil {
		return nil, errors.New("credential dependency is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session manager dependency is required")
	}
	if deps.Summarizer == nil {
		return nil, errors.New("summarizer dependency is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &service{
		cfg:      normalized,
		creds:    deps.Credentials,
		sessions: deps.Sessions,
		engine:   deps.Summarizer,
		settings: deps.Settings,
		surfaces: deps.Surfaces,
		windows:  deps.Windows,
		sink:     deps.EventSink,
		logger:   logger,
		now:      time.Now,
		state:    schema.StateIdle,
		details:  schema.DefaultDetails(schema.StateIdle),
	}
	if has, err := s.loadCredential(); err != nil {
		logger.Warn("coordinator credential load failed", "err", err)
	} else {
		logger.Debug("coordinator credential loaded", "configured", has)
	}
	return s, nil
}

func (s *service) GetState(ctx context.Context, req schema.GetStateRequest) (schema.GetStateResponse, error) {
	if ctx == nil {
		return schema.GetStateResponse{}, errors.New("missing context")
	}
	snap := s.engine.Snapshot()
	s.mu.Lock()
	resp := schema.GetStateResponse{
		State:      s.state,
		Details:    s.details,
		Session:    s.session,
		Current:    s.current,
		Transcript: append(make([]schema.TranscriptFragment, 0, len(s.transcript)), s.transcript...),
	}
	s.mu.Unlock()
	resp.Summaries = append(make([]schema.SummaryRecord, 0, len(snap.Summaries)), snap.Summaries...)
	resp.FollowUps = append(make([]string, 0, len(snap.FollowUps)), snap.FollowUps...)
	resp.HasCredential = s.engine.HasAPIKey()
	resp.Surfaces = []schema.Surface{}
	if s.surfaces != nil {
		resp.Surfaces = append(resp.Surfaces, s.surfaces.Surfaces()...)
	}
	pslog.Ctx(ctx).Debug("coordinator state read", "state", resp.State, "fragments", len(resp.Transcript))
	return resp, nil
}

func (s *service) StartRecording(ctx context.Context, req schema.StartRecordingRequest) (schema.StartRecordingResponse, error) {
	if ctx == nil {
		return schema.StartRecordingResponse{}, errors.New("missing context")
	}
	log := pslog.Ctx(ctx)
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = s.cfg.DefaultSource
	}

	s.mu.Lock()
	switch s.state {
	case schema.StateConnecting, schema.StateRecording:
		state := s.state
		s.mu.Unlock()
		log.Info("coordinator start rejected", "state", state)
		return schema.StartRecordingResponse{State: state}, schema.ErrAlreadyRecording
	case schema.StateStopping:
		s.mu.Unlock()
		log.Info("coordinator start rejected", "state", schema.StateStopping)
		return schema.StartRecordingResponse{State: schema.StateStopping}, schema.ErrStopInProgress
	}
	if !s.engine.HasAPIKey() {
		s.transitionLocked(schema.StateError, schema.StateDetails{Message: schema.ErrMissingCredential.Error()})
		s.mu.Unlock()
		log.Warn("coordinator start rejected", "reason", "missing credential")
		return schema.StartRecordingResponse{State: schema.StateError}, schema.ErrMissingCredential
	}
	s.gen++
	gen := s.gen
	sessionID := newSessionID(s.now())
	runCtx, runCancel := detachRunContext(ctx)
	log = logx.WithSession(runCtx, sessionID)
	runCtx = logx.ContextWithSessionLogger(runCtx, log, sessionID)
	pending := s.teardown
	s.session = sessionID
	s.runCtx = runCtx
	s.runCancel = runCancel
	s.current = ""
	s.transcript = nil
	s.engine.Reset()
	s.transitionLocked(schema.StateConnecting, schema.DefaultDetails(schema.StateConnecting))
	s.mu.Unlock()
	log.Info("coordinator start", "source", source)

	if pending != nil {
		select {
		case <-pending:
		case <-runCtx.Done():
		}
	}
	cred, err := s.creds.Fetch(runCtx)
	if err != nil {
		return s.failStart(log, gen, "credential", err)
	}
	events := &sessionEvents{svc: s, gen: gen, log: log}
	if err := s.sessions.Start(runCtx, realtime.StartRequest{Source: source, Credential: cred.Value, Events: events}); err != nil {
		return s.failStart(log, gen, "session", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		state, err := s.state, s.supersededLocked()
		s.mu.Unlock()
		log.Info("coordinator start cancelled", "stage", "established", "state", state)
		return schema.StartRecordingResponse{Session: sessionID, State: state}, err
	}
	s.transitionLocked(schema.StateRecording, schema.DefaultDetails(schema.StateRecording))
	s.mu.Unlock()
	log.Info("coordinator start ok")
	return schema.StartRecordingResponse{Session: sessionID, State: schema.StateRecording}, nil
}

func (s *service) failStart(log pslog.Logger, gen uint64, stage string, err error) (schema.StartRecordingResponse, error) {
	s.mu.Lock()
	if s.gen != gen {
		state, superseded := s.state, s.supersededLocked()
		s.mu.Unlock()
		log.Info("coordinator start cancelled", "stage", stage, "state", state)
		return schema.StartRecordingResponse{State: state}, superseded
	}
	cancel := s.runCancel
	s.runCtx, s.runCancel = nil, nil
	s.transitionLocked(schema.StateError, schema.StateDetails{Message: err.Error()})
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	log.Warn("coordinator start failed", "stage", stage, "err", err)
	return schema.StartRecordingResponse{State: schema.StateError}, err
}

// supersededLocked explains why a pending start lost its generation. An
// upstream error while connecting leaves the service in error; anything
// else is a stop.
func (s *service) supersededLocked() error {
	if s.state == schema.StateError && s.details.Message != "" {
		return fmt.Errorf("%w: %s", schema.ErrSessionFailed, s.details.Message)
	}
	return schema.ErrStartCancelled
}

func (s *service) StopRecording(ctx context.Context, req schema.StopRecordingRequest) (schema.StopRecordingResponse, error) {
	if ctx == nil {
		return schema.StopRecordingResponse{}, errors.New("missing context")
	}
	s.mu.Lock()
	from := s.state
	switch from {
	case schema.StateIdle, schema.StateStopping:
		s.mu.Unlock()
		pslog.Ctx(ctx).Debug("coordinator stop skipped", "state", from)
		return schema.StopRecordingResponse{State: from}, nil
	case schema.StateConnecting, schema.StateError:
		if !req.Force {
			s.mu.Unlock()
			pslog.Ctx(ctx).Info("coordinator stop rejected", "state", from)
			return schema.StopRecordingResponse{State: from}, schema.ErrNotRecording
		}
	}
	s.gen++
	cancel := s.runCancel
	s.runCtx, s.runCancel = nil, nil
	log := logx.WithSession(ctx, s.session)
	s.transitionLocked(schema.StateStopping, schema.StateDetails{})
	s.mu.Unlock()
	log.Info("coordinator stop", "from", from, "force", req.Force)

	if cancel != nil {
		cancel()
	}
	s.sessions.Stop()
	s.engine.Reset()

	s.mu.Lock()
	s.current = ""
	s.transcript = nil
	s.session = ""
	s.transitionLocked(schema.StateIdle, schema.DefaultDetails(schema.StateIdle))
	s.mu.Unlock()
	log.Info("coordinator stop ok")
	return schema.StopRecordingResponse{State: schema.StateIdle}, nil
}

func (s *service) ToggleRecording(ctx context.Context, req schema.ToggleRecordingRequest) (schema.ToggleRecordingResponse, error) {
	if ctx == nil {
		return schema.ToggleRecordingResponse{}, errors.New("missing context")
	}
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case schema.StateRecording:
		resp, err := s.StopRecording(ctx, schema.StopRecordingRequest{})
		return schema.ToggleRecordingResponse{Action: ToggleStop, State: resp.State}, err
	case schema.StateIdle, schema.StateError:
		resp, err := s.StartRecording(ctx, schema.StartRecordingRequest{Source: req.Source})
		return schema.ToggleRecordingResponse{Action: ToggleStart, State: resp.State}, err
	default:
		pslog.Ctx(ctx).Info("coordinator toggle ignored", "state", state)
		return schema.ToggleRecordingResponse{Action: ToggleNone, State: state}, schema.ErrBusy
	}
}

func (s *service) ReloadCredential(ctx context.Context, req schema.ReloadCredentialRequest) (schema.ReloadCredentialResponse, error) {
	if ctx == nil {
		return schema.ReloadCredentialResponse{}, errors.New("missing context")
	}
	log := pslog.Ctx(ctx)
	has, err := s.loadCredential()
	if err != nil {
		log.Warn("coordinator credential reload failed", "err", err)
		return schema.ReloadCredentialResponse{}, err
	}
	log.Info("coordinator credential reload ok", "configured", has)
	return schema.ReloadCredentialResponse{HasCredential: has}, nil
}

func (s *service) loadCredential() (bool, error) {
	if s.settings == nil {
		return s.engine.HasAPIKey(), nil
	}
	key, ok, err := s.settings.Get(schema.SettingOpenAIAPIKey)
	if err != nil {
		return false, err
	}
	if !ok {
		key = ""
	}
	s.engine.SetAPIKey(key)
	return s.engine.HasAPIKey(), nil
}

func (s *service) OpenWindow(ctx context.Context, req schema.OpenWindowRequest) (schema.OpenWindowResponse, error) {
	if ctx == nil {
		return schema.OpenWindowResponse{}, errors.New("missing context")
	}
	log := pslog.Ctx(ctx)
	if s.surfaces != nil {
		if id, ok := s.surfaces.FirstOfKind(schema.SurfacePopup); ok {
			if s.surfaces.Send(id, schema.Event{Type: schema.EventFocusWindow, Timestamp: s.now()}) {
				log.Info("coordinator window focus ok", "surface", id)
				return schema.OpenWindowResponse{Focused: true}, nil
			}
		}
	}
	if s.windows == nil {
		log.Warn("coordinator window launch rejected", "reason", "no launcher")
		return schema.OpenWindowResponse{}, schema.ErrWindowUnavailable
	}
	if err := s.windows.Launch(ctx); err != nil {
		log.Warn("coordinator window launch failed", "err", err)
		return schema.OpenWindowResponse{}, err
	}
	log.Info("coordinator window launch ok")
	return schema.OpenWindowResponse{Focused: false}, nil
}

func (s *service) RequestSummary(ctx context.Context, req schema.RequestSummaryRequest) (schema.RequestSummaryResponse, error) {
	if ctx == nil {
		return schema.RequestSummaryResponse{}, errors.New("missing context")
	}
	s.mu.Lock()
	state := s.state
	gen := s.gen
	s.mu.Unlock()
	if state != schema.StateRecording {
		pslog.Ctx(ctx).Info("coordinator summary rejected", "state", state)
		return schema.RequestSummaryResponse{}, schema.ErrNotRecording
	}
	result, err := s.summarize(ctx, gen, "request")
	if err != nil {
		return schema.RequestSummaryResponse{}, err
	}
	return schema.RequestSummaryResponse{
		Summary:      result.Summary,
		Questions:    append([]string{}, result.Questions...),
		NewQuestions: append([]string{}, result.NewQuestions...),
	}, nil
}

// summarize runs one engine call and fans out its outcome unless the
// session it belongs to has ended.
func (s *service) summarize(ctx context.Context, gen uint64, trigger string) (summarizer.Result, error) {
	log := pslog.Ctx(ctx)
	result, err := s.engine.GenerateSummary(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(gen) || errors.Is(err, summarizer.ErrReset) {
		log.Debug("coordinator summary discarded", "trigger", trigger)
		return summarizer.Result{}, summarizer.ErrReset
	}
	if errors.Is(err, summarizer.ErrEmptyWindow) {
		log.Debug("coordinator summary skipped", "trigger", trigger, "reason", "empty window")
		return summarizer.Result{}, err
	}
	if err != nil {
		s.emitLocked(schema.Event{Type: schema.EventSummaryError, Data: &schema.EventData{Error: err.Error()}})
		log.Warn("coordinator summary failed", "trigger", trigger, "err", err)
		return summarizer.Result{}, err
	}
	s.emitLocked(schema.Event{Type: schema.EventSummaryGenerated, Data: &schema.EventData{Summary: result.Summary}})
	if len(result.NewQuestions) > 0 {
		s.emitLocked(schema.Event{
			Type: schema.EventFollowUpsGenerated,
			Data: &schema.EventData{Questions: append([]string(nil), result.NewQuestions...)},
		})
	}
	log.Info("coordinator summary ok", "trigger", trigger, "new_questions", len(result.NewQuestions), "truncated", result.Truncated)
	return result, nil
}

// liveLocked reports whether control channel callbacks for gen still apply.
// Messages can arrive once the answer is applied, before the start has
// moved the service to recording.
func (s *service) liveLocked(gen uint64) bool {
	if s.gen != gen {
		return false
	}
	return s.state == schema.StateRecording || s.state == schema.StateConnecting
}

func (s *service) onDelta(gen uint64, itemID schema.ItemID, delta string, current string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(gen) {
		return
	}
	s.current = current
	s.emitLocked(schema.Event{
		Type: schema.EventTranscriptionDelta,
		Data: &schema.EventData{ItemID: itemID, Delta: delta, Current: current},
	})
}

func (s *service) onCompleted(log pslog.Logger, gen uint64, fragment schema.TranscriptFragment) {
	s.mu.Lock()
	if !s.liveLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.current = ""
	if strings.TrimSpace(fragment.Text) == "" {
		s.mu.Unlock()
		log.Debug("coordinator transcript skipped", "item", fragment.ItemID, "reason", "blank")
		return
	}
	s.transcript = append(s.transcript, fragment)
	if limit := s.cfg.TranscriptMaxFragments; limit > 0 && len(s.transcript) > limit {
		s.transcript = append([]schema.TranscriptFragment(nil), s.transcript[len(s.transcript)-limit:]...)
	}
	s.emitLocked(schema.Event{
		Type: schema.EventTranscriptionCompleted,
		Data: &schema.EventData{ItemID: fragment.ItemID, Transcript: fragment.Text},
	})
	candidate := s.engine.AddTranscription(fragment.Text)
	runCtx := s.runCtx
	s.mu.Unlock()
	if candidate && runCtx != nil {
		go func() {
			_, _ = s.summarize(runCtx, gen, "cadence")
		}()
	}
}

func (s *service) onUpstreamError(log pslog.Logger, gen uint64, message string) {
	s.mu.Lock()
	if !s.liveLocked(gen) {
		s.mu.Unlock()
		log.Debug("coordinator upstream error ignored", "err", message)
		return
	}
	s.gen++
	cancel := s.runCancel
	s.runCtx, s.runCancel = nil, nil
	s.current = ""
	done := make(chan struct{})
	s.teardown = done
	s.transitionLocked(schema.StateError, schema.StateDetails{Message: message})
	s.mu.Unlock()
	log.Warn("coordinator upstream error", "err", message)
	if cancel != nil {
		cancel()
	}
	// Runs on the control channel goroutine; stop off it.
	go func() {
		s.sessions.Stop()
		close(done)
		s.mu.Lock()
		if s.teardown == done {
			s.teardown = nil
		}
		s.mu.Unlock()
	}()
}

func (s *service) transitionLocked(state schema.SessionState, details schema.StateDetails) {
	s.state = state
	s.details = details
	s.emitLocked(schema.Event{Type: schema.EventStateChanged, State: state, Details: &details})
}

func (s *service) emitLocked(event schema.Event) {
	if s.sink == nil {
		return
	}
	if event.Session == "" {
		event.Session = s.session
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.sink.OnEvent(event)
}

// sessionEvents routes realtime callbacks for one session generation.
type sessionEvents struct {
	svc *service
	gen uint64
	log pslog.Logger
}

func (h *sessionEvents) OnDelta(itemID schema.ItemID, delta string, current string) {
	h.svc.onDelta(h.gen, itemID, delta, current)
}

func (h *sessionEvents) OnCompleted(fragment schema.TranscriptFragment) {
	h.svc.onCompleted(h.log, h.gen, fragment)
}

func (h *sessionEvents) OnError(message string) {
	h.svc.onUpstreamError(h.log, h.gen, message)
}

// newSessionID returns "rec-<utc timestamp>-<random hex>".
func newSessionID(now time.Time) schema.SessionID {
	var buf [4]byte
	suffix := "0000"
	if _, err := rand.Read(buf[:]); err == nil {
		suffix = hex.EncodeToString(buf[:])
	}
	return schema.SessionID("rec-" + now.UTC().Format("20060102T150405") + "-" + suffix)
}

func detachRunContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.Background()
	if ctx != nil {
		if logger := pslog.Ctx(ctx); logger != nil {
			base = logx.CopyContextFields(pslog.ContextWithLogger(base, logger), ctx)
		}
	}
	return context.WithCancel(base)
}
