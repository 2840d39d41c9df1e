package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/signally"
	"pkt.systems/signally/core"
	"pkt.systems/signally/httpapi"
	"pkt.systems/signally/internal/appconfig"
	"pkt.systems/signally/internal/credential"
	"pkt.systems/signally/internal/metrics"
	"pkt.systems/signally/internal/persist"
	"pkt.systems/signally/internal/realtime"
	"pkt.systems/signally/internal/summarizer"
	"pkt.systems/signally/internal/tokenproxy"
	"pkt.systems/signally/internal/window"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var withProxy bool
	var noWindow bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session coordinator and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			store, err := persist.NewStoreWithLogger(cfg.StateDir, cfg.Settings.KeyStorePath, logger)
			if err != nil {
				return err
			}
			logger.Info("settings store ready", "path", store.Path(), "sealed", store.Sealed())

			m := metrics.NewMetrics(cfg.Metrics.Namespace)
			serviceDeps, err := buildServiceDeps(cmd, cfg, store, noWindow, logger)
			if err != nil {
				return err
			}

			serverCfg := signally.ServerConfig{
				Service:          cfg.ServiceConfig(),
				HTTP:             toHTTPConfig(cfg.HTTP),
				SurfaceDepth:     cfg.Session.SurfaceBuffer,
				MetricsNamespace: cfg.Metrics.Namespace,
			}
			opts := []signally.ServerOption{signally.WithHTTP()}
			if withProxy {
				proxyCfg, err := proxyConfigFromEnv(cfg.Proxy, "")
				if err != nil {
					return err
				}
				serverCfg.Proxy = proxyCfg
				opts = append(opts, signally.WithProxy())
			}

			server, err := signally.New(serverCfg, signally.ServerDeps{
				ServiceDeps: serviceDeps,
				Credentials: store,
				Metrics:     m,
			}, opts...)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), server, logger)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&withProxy, "with-proxy", false, "also serve the token proxy (reads OPENAI_API_KEY)")
	cmd.Flags().BoolVar(&noWindow, "no-window", false, "disable the detached popup window")
	return cmd
}

func buildServiceDeps(cmd *cobra.Command, cfg appconfig.Config, store *persist.Store, noWindow bool, logger pslog.Logger) (core.ServiceDeps, error) {
	creds := credential.New(
		credential.WithURL(cfg.Credential.TokenURL),
		credential.WithClientKey(cfg.Credential.ClientKey),
		credential.WithLogger(logger),
	)

	playback := realtime.DiscardPlayback()
	if cfg.Realtime.PlaybackPath != "" {
		playback = realtime.OggRecorder(cfg.Realtime.PlaybackPath)
	}
	sessions := realtime.NewManager(realtime.Config{
		ChannelLabel: cfg.Realtime.ChannelLabel,
		Peers:        realtime.NewPionPeerFactory(realtime.PeerConfig{ICEServers: cfg.Realtime.ICEServers}),
		Signaler:     realtime.HTTPSignaler{URL: cfg.Realtime.CallsURL},
		Capture:      realtime.OggCapture{Stdin: cmd.InOrStdin()},
		Playback:     playback,
		Logger:       logger,
	})

	engine := summarizer.New(
		cfg.SummarizerConfig(),
		summarizer.NewResponsesClient(summarizer.WithBaseURL(cfg.Summary.BaseURL)),
		logger,
	)

	deps := core.ServiceDeps{
		Credentials: creds,
		Sessions:    sessions,
		Summarizer:  engine,
		Settings:    store,
		Logger:      logger,
	}
	if !noWindow {
		launcher, err := window.New(window.Config{
			URL:      cfg.WindowURL(),
			ExecPath: cfg.Window.ExecPath,
			Width:    cfg.Window.Width,
			Height:   cfg.Window.Height,
			Headless: cfg.Window.Headless,
		}, logger)
		if err != nil {
			return core.ServiceDeps{}, err
		}
		deps.Windows = launcher
	}
	return deps, nil
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:             cfg.Addr,
		BaseURL:          cfg.BaseURL,
		BasePath:         cfg.BasePath,
		HeartbeatSeconds: cfg.HeartbeatSeconds,
	}
}

func toProxyConfig(cfg appconfig.ProxyConfig, upstreamKey string) tokenproxy.Config {
	return tokenproxy.Config{
		Addr:          cfg.Addr,
		UpstreamURL:   cfg.UpstreamURL,
		UpstreamKey:   upstreamKey,
		AllowOrigin:   cfg.AllowOrigin,
		ClientKeyHash: cfg.ClientKeyHash,
	}
}

func runServer(parent context.Context, server signally.Server, logger pslog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("server stop failed", "err", err)
		}
	}()
	if err := server.Start(ctx); err != nil {
		return err
	}
	return server.Wait()
}
