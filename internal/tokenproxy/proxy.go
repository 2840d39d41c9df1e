// Package tokenproxy mints short-lived realtime client secrets so the
// upstream API key never leaves the host running the proxy.
package tokenproxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pkt.systems/pslog"
	"pkt.systems/signally/httpapi"
	"pkt.systems/signally/internal/logx"
	"pkt.systems/signally/internal/metrics"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":3000"
	// DefaultUpstreamURL is the client secret endpoint.
	DefaultUpstreamURL = "https://api.openai.com/v1/realtime/client_secrets"
	// DefaultAllowOrigin allows any origin.
	DefaultAllowOrigin = "*"
	// MisconfiguredCode is returned when no upstream key is configured.
	MisconfiguredCode = "server_misconfigured"
)

const maxUpstreamBody = 1 << 20

// Config configures the proxy.
type Config struct {
	Addr        string
	UpstreamURL string
	UpstreamKey string
	AllowOrigin string
	// ClientKeyHash is a bcrypt hash. When set, /token requires a matching
	// bearer token.
	ClientKeyHash string
}

// Server serves the token endpoints.
type Server struct {
	cfg     Config
	client  *http.Client
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithHTTPClient overrides the upstream HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) {
		if client != nil {
			s.client = client
		}
	}
}

// WithMetrics records token outcomes and exposes /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New constructs a proxy server.
func New(cfg Config, opts ...Option) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if strings.TrimSpace(cfg.UpstreamURL) == "" {
		cfg.UpstreamURL = DefaultUpstreamURL
	}
	if strings.TrimSpace(cfg.AllowOrigin) == "" {
		cfg.AllowOrigin = DefaultAllowOrigin
	}
	cfg.UpstreamKey = strings.TrimSpace(cfg.UpstreamKey)
	cfg.ClientKeyHash = strings.TrimSpace(cfg.ClientKeyHash)
	s := &Server{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// Handler returns the proxy http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/test", s.handleTest)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	var observe httpapi.RequestObserver
	if s.metrics != nil {
		observe = s.metrics.RecordRequest
	}
	return httpapi.WithRequestLogging(s.withCORS(mux), observe)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if s.cfg.AllowOrigin != "*" {
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	if !s.authorized(r) {
		log.Warn("proxy token unauthorized")
		s.record("unauthorized")
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}
	if s.cfg.UpstreamKey == "" {
		log.Error("proxy token misconfigured", "reason", "upstream key not set")
		s.record("misconfigured")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "Server configuration error: API key not configured",
			"code":  MisconfiguredCode,
		})
		return
	}

	body, err := json.Marshal(DefaultSessionConfig())
	if err != nil {
		s.failed(w, log, err)
		return
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.cfg.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		s.failed(w, log, err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.UpstreamKey)
	req.Header.Set("Content-Type", "application/json")
	start := s.now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.failed(w, log, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		s.failed(w, log, err)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("proxy token rejected", "status", resp.StatusCode)
		s.record("rejected")
		writeJSON(w, resp.StatusCode, map[string]any{
			"error":   fmt.Sprintf("OpenAI API error: %d", resp.StatusCode),
			"details": string(payload),
		})
		return
	}
	if !json.Valid(payload) {
		s.failed(w, log, errors.New("upstream returned invalid JSON"))
		return
	}
	s.record("ok")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
	log.Info("proxy token issued", "duration_ms", s.now().Sub(start).Milliseconds())
}

func (s *Server) failed(w http.ResponseWriter, log pslog.Logger, err error) {
	log.Warn("proxy token failed", "err", err)
	s.record("error")
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error":   "Failed to generate token",
		"message": err.Error(),
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.ClientKeyHash == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.cfg.ClientKeyHash), []byte(strings.TrimSpace(token))) == nil
}

func (s *Server) record(status string) {
	if s.metrics != nil {
		s.metrics.RecordToken(status)
	}
}

// HashClientKey returns the bcrypt hash stored as proxy.client_key_hash.
func HashClientKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("client key is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
