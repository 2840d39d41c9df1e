// Package realtime owns the peer-to-peer transcription session: audio
// capture, the peer connection, SDP signaling and control channel events.
package realtime

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// DefaultChannelLabel is the control data channel label.
const DefaultChannelLabel = "oai-events"

var (
	// ErrSessionActive indicates Start was called while a session is live.
	ErrSessionActive = errors.New("realtime session already active")
	errTornDown      = errors.New("realtime session torn down")
)

// SessionError wraps a setup failure with the stage it happened in.
type SessionError struct {
	Stage string
	Err   error
}

func (e *SessionError) Error() string {
	if e == nil || e.Err == nil {
		return "realtime session failed"
	}
	return e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Config configures a Manager.
type Config struct {
	ChannelLabel string
	Peers        PeerFactory
	Signaler     Signaler
	Capture      Capture
	Playback     PlaybackFactory
	Logger       pslog.Logger
}

// StartRequest describes one session.
type StartRequest struct {
	Source     string
	Credential string
	Events     Handler
}

// Manager runs at most one realtime session at a time.
type Manager struct {
	label    string
	peers    PeerFactory
	signaler Signaler
	capture  Capture
	playback PlaybackFactory
	log      pslog.Logger
	now      func() time.Time

	mu      sync.Mutex
	session *session
}

// NewManager constructs a Manager. Nil collaborators fall back to pion,
// HTTP signaling against DefaultCallsURL, Ogg capture and discarded playback.
func NewManager(cfg Config) *Manager {
	if cfg.ChannelLabel == "" {
		cfg.ChannelLabel = DefaultChannelLabel
	}
	if cfg.Peers == nil {
		cfg.Peers = NewPionPeerFactory(PeerConfig{})
	}
	if cfg.Signaler == nil {
		cfg.Signaler = HTTPSignaler{}
	}
	if cfg.Capture == nil {
		cfg.Capture = OggCapture{}
	}
	if cfg.Playback == nil {
		cfg.Playback = DiscardPlayback()
	}
	return &Manager{
		label:    cfg.ChannelLabel,
		peers:    cfg.Peers,
		signaler: cfg.Signaler,
		capture:  cfg.Capture,
		playback: cfg.Playback,
		log:      cfg.Logger,
		now:      time.Now,
	}
}

// session holds everything opened for one Start. Fields are registered
// as setup progresses so teardown can run at any point.
type session struct {
	mu       sync.Mutex
	closed   bool
	channel  io.Closer
	peer     Peer
	source   AudioSource
	playback Playback
	cancel   context.CancelFunc
	pumpDone chan struct{}
}

func (s *session) register(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errTornDown
	}
	fn()
	return nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) teardown(log pslog.Logger) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	channel, peer, source, playback := s.channel, s.peer, s.source, s.playback
	cancel, pumpDone := s.cancel, s.pumpDone
	s.mu.Unlock()

	if channel != nil {
		if err := channel.Close(); err != nil {
			log.Debug("realtime channel close failed", "err", err)
		}
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			log.Debug("realtime peer close failed", "err", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if source != nil {
		if err := source.Close(); err != nil {
			log.Debug("realtime source close failed", "err", err)
		}
	}
	if pumpDone != nil {
		select {
		case <-pumpDone:
		case <-time.After(time.Second):
			log.Warn("realtime audio pump stop timed out")
		}
	}
	if playback != nil {
		if err := playback.Close(); err != nil {
			log.Debug("realtime playback close failed", "err", err)
		}
	}
}

// Active reports whether a session is registered.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Start establishes a session. ctx bounds setup and the lifetime of the
// outbound audio pump. Any failure tears down everything opened so far and
// returns a *SessionError.
func (m *Manager) Start(ctx context.Context, req StartRequest) error {
	log := m.logger(ctx)
	if req.Events == nil {
		return &SessionError{Stage: "setup", Err: errors.New("event handler is required")}
	}
	if strings.TrimSpace(req.Credential) == "" {
		return &SessionError{Stage: "setup", Err: errors.New("credential is required")}
	}
	sess := &session{}
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return ErrSessionActive
	}
	m.session = sess
	m.mu.Unlock()

	fail := func(stage string, err error) error {
		if errors.Is(err, errTornDown) && ctx.Err() != nil {
			err = ctx.Err()
		}
		log.Warn("realtime start failed", "stage", stage, "err", err)
		sess.teardown(log)
		m.mu.Lock()
		if m.session == sess {
			m.session = nil
		}
		m.mu.Unlock()
		return &SessionError{Stage: stage, Err: err}
	}
	checkpoint := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sess.isClosed() {
			return errTornDown
		}
		return nil
	}

	log.Info("realtime start", "source", req.Source)
	source, err := m.capture.Open(ctx, req.Source)
	if err != nil {
		return fail("capture", err)
	}
	if err := sess.register(func() { sess.source = source }); err != nil {
		_ = source.Close()
		return fail("capture", err)
	}
	if err := checkpoint(); err != nil {
		return fail("capture", err)
	}

	peer, err := m.peers()
	if err != nil {
		return fail("peer", err)
	}
	if err := sess.register(func() { sess.peer = peer }); err != nil {
		_ = peer.Close()
		return fail("peer", err)
	}
	track, err := peer.AddAudioTrack()
	if err != nil {
		return fail("peer", err)
	}

	playback, err := m.playback()
	if err != nil {
		return fail("playback", err)
	}
	if err := sess.register(func() { sess.playback = playback }); err != nil {
		_ = playback.Close()
		return fail("playback", err)
	}
	peer.OnRemoteAudio(playback)

	disp := &dispatcher{handler: req.Events, log: log, now: m.now, stopped: sess.isClosed}
	channel, err := peer.CreateDataChannel(m.label, disp.handleMessage)
	if err != nil {
		return fail("channel", err)
	}
	if err := sess.register(func() { sess.channel = channel }); err != nil {
		_ = channel.Close()
		return fail("channel", err)
	}
	peer.OnConnectionStateChange(func(state string) {
		log.Debug("realtime connection state", "state", state)
		if state == "failed" && !sess.isClosed() {
			req.Events.OnError("realtime connection failed")
		}
	})

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return fail("offer", err)
	}
	if err := checkpoint(); err != nil {
		return fail("offer", err)
	}
	answer, err := m.signaler.Exchange(ctx, req.Credential, offer)
	if err != nil {
		return fail("signal", err)
	}
	if err := checkpoint(); err != nil {
		return fail("signal", err)
	}
	if err := peer.SetAnswer(answer); err != nil {
		return fail("answer", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	pumpDone := make(chan struct{})
	if err := sess.register(func() {
		sess.cancel = cancel
		sess.pumpDone = pumpDone
	}); err != nil {
		cancel()
		return fail("answer", err)
	}
	go m.pump(pumpCtx, log, source, track, pumpDone)
	log.Info("realtime start ok")
	return nil
}

// Stop tears down the current session. It is safe to call at any time,
// including mid-setup and when nothing is running.
func (m *Manager) Stop() {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.mu.Unlock()
	if sess == nil {
		return
	}
	log := m.log
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	sess.teardown(log)
	log.Info("realtime stop ok")
}

func (m *Manager) pump(ctx context.Context, log pslog.Logger, source AudioSource, track AudioTrack, done chan struct{}) {
	defer close(done)
	frames := 0
	for {
		if ctx.Err() != nil {
			return
		}
		sample, err := source.NextSample()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Info("realtime audio source ended", "frames", frames)
			} else if ctx.Err() == nil {
				log.Warn("realtime audio read failed", "err", err, "frames", frames)
			}
			return
		}
		if err := track.WriteSample(sample); err != nil {
			log.Debug("realtime audio write failed", "err", err)
			return
		}
		frames++
		if sample.Duration <= 0 {
			continue
		}
		timer := time.NewTimer(sample.Duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) logger(ctx context.Context) pslog.Logger {
	if m.log != nil {
		return m.log
	}
	return pslog.Ctx(ctx)
}
