// Package signally composes the session coordinator with its HTTP API and
// the optional token proxy.
package signally

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/signally/core"
	"pkt.systems/signally/httpapi"
	"pkt.systems/signally/internal/eventbus"
	"pkt.systems/signally/internal/metrics"
	"pkt.systems/signally/internal/tokenproxy"
	"pkt.systems/signally/schema"
)

// Server composes the HTTP API and token proxy services.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service          schema.ServiceConfig
	HTTP             httpapi.Config
	Proxy            tokenproxy.Config
	SurfaceDepth     int
	MetricsNamespace string
}

// ServerDeps captures dependencies required to build the server. The
// surface registry in ServiceDeps is provided by the compositor.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
	Credentials httpapi.CredentialStore
	Metrics     *metrics.Metrics
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP  bool
	enableProxy bool
}

// WithHTTP enables the coordinator HTTP API and popup page.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithProxy enables the token proxy.
func WithProxy() ServerOption {
	return func(o *serverOptions) { o.enableProxy = true }
}

// New constructs a composable signally server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableProxy {
		return nil, errors.New("no services enabled")
	}

	m := deps.Metrics
	if m == nil {
		m = metrics.NewMetrics(cfg.MetricsNamespace)
	}

	var service core.Service
	var httpSrv *httpapi.Server
	if options.enableHTTP {
		normalized, err := schema.NormalizeServiceConfig(cfg.Service)
		if err != nil {
			return nil, err
		}
		cfg.Service = normalized

		serviceDeps := deps.ServiceDeps
		bus := eventbus.New(serviceDeps.Logger,
			eventbus.WithDepth(cfg.SurfaceDepth),
			eventbus.WithDropObserver(m.RecordDrop),
		)
		sinks := []core.EventSink{bus, m}
		if serviceDeps.EventSink != nil {
			sinks = append(sinks, serviceDeps.EventSink)
		}
		serviceDeps.EventSink = fanout(sinks)
		serviceDeps.Surfaces = bus

		svc, err := core.NewService(cfg.Service, serviceDeps)
		if err != nil {
			return nil, err
		}
		service = svc
		httpSrv = httpapi.NewServer(cfg.HTTP, service, bus, deps.Credentials, m)
	}

	var proxy *tokenproxy.Server
	if options.enableProxy {
		proxy = tokenproxy.New(cfg.Proxy, tokenproxy.WithMetrics(m))
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		httpSrv: httpSrv,
		proxy:   proxy,
		windows: deps.ServiceDeps.Windows,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service core.Service
	httpSrv *httpapi.Server
	proxy   *tokenproxy.Server
	windows core.WindowLauncher
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"proxy", s.options.enableProxy,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_url", s.cfg.HTTP.BaseURL,
		"http_base_path", s.cfg.HTTP.BasePath,
		"proxy_addr", s.proxyAddr(),
	)
	if s.options.enableHTTP && s.httpSrv != nil {
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	if s.options.enableProxy && s.proxy != nil {
		go func() {
			if err := httpapi.ListenAndServe(s.ctx, s.proxy.Addr(), s.proxy.Handler()); err != nil {
				log.Error("proxy server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) proxyAddr() string {
	if s.proxy == nil {
		return ""
	}
	return s.proxy.Addr()
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

type windowCloser interface {
	Close()
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if s.service != nil {
		stopCtx := pslog.ContextWithLogger(context.Background(), log)
		if _, err := s.service.StopRecording(stopCtx, schema.StopRecordingRequest{Force: true}); err != nil {
			log.Warn("server recording stop failed", "err", err)
		} else {
			log.Info("server recording stop ok")
		}
	}
	if closer, ok := s.windows.(windowCloser); ok {
		closer.Close()
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}

// fanout delivers each coordinator event to every sink in order.
type fanout []core.EventSink

func (f fanout) OnEvent(event schema.Event) {
	for _, sink := range f {
		sink.OnEvent(event)
	}
}
