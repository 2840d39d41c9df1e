package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"pkt.systems/signally/core"
	"pkt.systems/signally/internal/credential"
	"pkt.systems/signally/internal/logx"
	"pkt.systems/signally/internal/metrics"
	"pkt.systems/signally/internal/persist"
	"pkt.systems/signally/internal/realtime"
	"pkt.systems/signally/internal/summarizer"
	"pkt.systems/signally/internal/version"
	"pkt.systems/signally/schema"
)

// SurfaceBus attaches presentation surfaces to the event fan-out.
type SurfaceBus interface {
	Subscribe(surface schema.Surface) (<-chan schema.Event, func())
}

// CredentialStore persists the user's API key.
type CredentialStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Server serves the coordinator API, the surface streams and the popup page.
type Server struct {
	cfg       Config
	service   core.Service
	bus       SurfaceBus
	store     CredentialStore
	metrics   *metrics.Metrics
	basePath  string
	baseHref  string
	heartbeat time.Duration
}

// NewServer constructs an HTTP server. store and m may be nil.
func NewServer(cfg Config, service core.Service, bus SurfaceBus, store CredentialStore, m *metrics.Metrics) *Server {
	return &Server{
		cfg:       cfg,
		service:   service,
		bus:       bus,
		store:     store,
		metrics:   m,
		basePath:  cfg.mountPath(),
		baseHref:  cfg.baseHref(),
		heartbeat: cfg.heartbeat(),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.FS(assetsFS))))
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/recording/start", s.handleStart)
	mux.HandleFunc("/api/recording/stop", s.handleStop)
	mux.HandleFunc("/api/recording/toggle", s.handleToggle)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/credential", s.handleCredential)
	mux.HandleFunc("/api/credential/reload", s.handleReload)
	mux.HandleFunc("/api/window/open", s.handleOpenWindow)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	var observe RequestObserver
	if s.metrics != nil {
		observe = s.metrics.RecordRequest
	}
	handler := WithRequestLogging(mux, observe)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data, err := fs.ReadFile(assetsFS, "index.html")
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	stat, err := fs.Stat(assetsFS, "index.html")
	if err != nil {
		http.Error(w, "index not found", http.StatusInternalServerError)
		return
	}
	data = applyBaseHref(data, s.baseHref)
	http.ServeContent(w, r, "index.html", stat.ModTime(), bytes.NewReader(data))
}

const baseHrefPlaceholder = "<!-- BASE_HREF -->"

func applyBaseHref(data []byte, baseHref string) []byte {
	replacement := ""
	if strings.TrimSpace(baseHref) != "" {
		replacement = fmt.Sprintf(`<base href="%s" />`, html.EscapeString(baseHref))
	}
	return bytes.ReplaceAll(data, []byte(baseHrefPlaceholder), []byte(replacement))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Get()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, err := s.service.GetState(r.Context(), schema.GetStateRequest{})
	if err != nil {
		logx.Ctx(r.Context()).Warn("http state failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	var payload schema.StartRecordingRequest
	if err := decodeOptionalJSON(r.Body, &payload); err != nil {
		log.Warn("http start decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.StartRecording(r.Context(), payload)
	if err != nil {
		log.Warn("http start failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http start ok", "session", resp.Session)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	var payload schema.StopRecordingRequest
	if err := decodeOptionalJSON(r.Body, &payload); err != nil {
		log.Warn("http stop decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.StopRecording(r.Context(), payload)
	if err != nil {
		log.Warn("http stop failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http stop ok", "force", payload.Force)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	var payload schema.ToggleRecordingRequest
	if err := decodeOptionalJSON(r.Body, &payload); err != nil {
		log.Warn("http toggle decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.ToggleRecording(r.Context(), payload)
	if err != nil {
		log.Warn("http toggle failed", "action", resp.Action, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http toggle ok", "action", resp.Action)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	resp, err := s.service.RequestSummary(r.Context(), schema.RequestSummaryRequest{})
	if err != nil {
		log.Warn("http summary failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http summary ok", "new_questions", len(resp.NewQuestions))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, err := s.service.ReloadCredential(r.Context(), schema.ReloadCredentialRequest{})
	if err != nil {
		logx.Ctx(r.Context()).Warn("http credential reload failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	resp, err := s.service.OpenWindow(r.Context(), schema.OpenWindowRequest{})
	if err != nil {
		log.Warn("http window open failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http window open ok", "focused", resp.Focused)
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("settings store not configured"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		value, ok, err := s.store.Get(schema.SettingOpenAIAPIKey)
		if err != nil {
			log.Warn("http credential read failed", "err", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"configured": ok && value != "",
			"masked":     persist.MaskSecret(value),
		})
	case http.MethodPut:
		var payload struct {
			APIKey string `json:"apiKey"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http credential decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		key, err := persist.ValidateAPIKey(payload.APIKey)
		if err != nil {
			log.Warn("http credential rejected", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.store.Set(schema.SettingOpenAIAPIKey, key); err != nil {
			log.Warn("http credential save failed", "err", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.reloadAfterChange(w, r)
		log.Info("http credential save ok")
	case http.MethodDelete:
		if err := s.store.Remove(schema.SettingOpenAIAPIKey); err != nil {
			log.Warn("http credential clear failed", "err", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.reloadAfterChange(w, r)
		log.Info("http credential clear ok")
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) reloadAfterChange(w http.ResponseWriter, r *http.Request) {
	resp, err := s.service.ReloadCredential(r.Context(), schema.ReloadCredentialRequest{})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "hasCredential": resp.HasCredential})
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// decodeOptionalJSON accepts an empty body as the zero request.
func decodeOptionalJSON(body io.Reader, target any) error {
	err := decodeJSON(body, target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

// statusFor maps coordinator errors to HTTP status codes.
func statusFor(err error) int {
	var credErr *credential.Error
	var sessErr *realtime.SessionError
	var apiErr *summarizer.APIError
	switch {
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidCredential),
		errors.Is(err, schema.ErrInvalidSurface):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrMissingCredential):
		return http.StatusPreconditionFailed
	case errors.Is(err, schema.ErrAlreadyRecording),
		errors.Is(err, schema.ErrStopInProgress),
		errors.Is(err, schema.ErrNotRecording),
		errors.Is(err, schema.ErrStartCancelled),
		errors.Is(err, schema.ErrBusy),
		errors.Is(err, summarizer.ErrEmptyWindow),
		errors.Is(err, summarizer.ErrReset):
		return http.StatusConflict
	case errors.Is(err, schema.ErrWindowUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &credErr),
		errors.As(err, &sessErr),
		errors.As(err, &apiErr),
		errors.Is(err, schema.ErrSessionFailed),
		errors.Is(err, summarizer.ErrInvalidResponse),
		errors.Is(err, summarizer.ErrEmptyResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
