package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/signally/internal/logx"
	"pkt.systems/signally/schema"
)

const (
	wsReadLimit    = 64 << 10
	wsWriteTimeout = 10 * time.Second
)

func parseSurface(r *http.Request) (schema.Surface, error) {
	query := r.URL.Query()
	kind := schema.SurfaceKind(strings.TrimSpace(query.Get("surface")))
	switch kind {
	case schema.SurfaceOverlay, schema.SurfacePopup, schema.SurfaceTerminal:
	default:
		return schema.Surface{}, fmt.Errorf("%w: unknown kind %q", schema.ErrInvalidSurface, kind)
	}
	id := strings.TrimSpace(query.Get("id"))
	if id == "" {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return schema.Surface{}, err
		}
		id = string(kind) + "-" + hex.EncodeToString(buf[:])
	}
	return schema.Surface{ID: schema.SurfaceID(id), Kind: kind}, nil
}

func (s *Server) attach(r *http.Request, surface schema.Surface) (context.Context, <-chan schema.Event, func()) {
	log := logx.WithSurface(r.Context(), surface)
	ctx := logx.ContextWithSurfaceLogger(r.Context(), log, surface)
	events, unsubscribe := s.bus.Subscribe(surface)
	s.metrics.RecordSurfaceAttach(surface.Kind)
	return ctx, events, func() {
		unsubscribe()
		s.metrics.RecordSurfaceDetach(surface.Kind)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	surface, err := parseSurface(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, events, detach := s.attach(r, surface)
	defer detach()
	log := logx.Ctx(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Surface-ID", string(surface.ID))
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	var seq uint64
	log.Info("http stream opened")
	for {
		select {
		case <-ctx.Done():
			log.Info("http stream closed")
			return
		case event, ok := <-events:
			if !ok {
				log.Info("http stream closed", "reason", "unsubscribed")
				return
			}
			seq++
			if err := writeSSEvent(w, seq, event); err != nil {
				log.Warn("http stream write failed", "err", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEvent(w http.ResponseWriter, seq uint64, event schema.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", seq)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	surface, err := parseSurface(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Ctx(r.Context()).Warn("http ws upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(wsReadLimit)

	ctx, events, detach := s.attach(r, surface)
	defer detach()
	log := logx.Ctx(ctx)

	replies := make(chan schema.SurfaceReply, 8)
	readDone := make(chan error, 1)
	go func() {
		for {
			var cmd schema.SurfaceCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				readDone <- err
				return
			}
			log.Debug("http ws command", "command", cmd.Command)
			reply := s.dispatch(ctx, cmd)
			select {
			case replies <- reply:
			case <-ctx.Done():
				readDone <- ctx.Err()
				return
			}
		}
	}()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	log.Info("http ws opened")
	for {
		var writeErr error
		select {
		case err := <-readDone:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("http ws read failed", "err", err)
			}
			log.Info("http ws closed")
			return
		case event, ok := <-events:
			if !ok {
				log.Info("http ws closed", "reason", "unsubscribed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			writeErr = conn.WriteJSON(event)
		case reply := <-replies:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			writeErr = conn.WriteJSON(reply)
		case <-ticker.C:
			writeErr = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
		}
		if writeErr != nil {
			log.Warn("http ws write failed", "err", writeErr)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd schema.SurfaceCommand) schema.SurfaceReply {
	reply := schema.SurfaceReply{Type: schema.SurfaceReplyType, ID: cmd.ID, Command: cmd.Command}
	var (
		data any
		err  error
	)
	switch cmd.Command {
	case schema.CommandGetState:
		data, err = s.service.GetState(ctx, schema.GetStateRequest{})
	case schema.CommandStart:
		data, err = s.service.StartRecording(ctx, schema.StartRecordingRequest{Source: cmd.Source})
	case schema.CommandStop:
		data, err = s.service.StopRecording(ctx, schema.StopRecordingRequest{Force: cmd.Force})
	case schema.CommandToggle:
		data, err = s.service.ToggleRecording(ctx, schema.ToggleRecordingRequest{Source: cmd.Source})
	case schema.CommandSummarize:
		data, err = s.service.RequestSummary(ctx, schema.RequestSummaryRequest{})
	case schema.CommandReload:
		data, err = s.service.ReloadCredential(ctx, schema.ReloadCredentialRequest{})
	case schema.CommandOpenWindow:
		data, err = s.service.OpenWindow(ctx, schema.OpenWindowRequest{})
	default:
		err = fmt.Errorf("%w: unknown command %q", schema.ErrInvalidRequest, cmd.Command)
	}
	if err != nil {
		logx.Ctx(ctx).Warn("http ws command failed", "command", cmd.Command, "err", err)
		reply.Error = err.Error()
		return reply
	}
	reply.Success = true
	reply.Data = data
	return reply
}
