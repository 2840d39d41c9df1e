package realtime

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/signally/internal/logx"
	"pkt.systems/signally/schema"
)

// Handler receives translated control channel events. Calls arrive in
// message order from a single goroutine per session.
type Handler interface {
	OnDelta(itemID schema.ItemID, delta string, current string)
	OnCompleted(fragment schema.TranscriptFragment)
	OnError(message string)
}

const unknownServerError = "Unknown server error"

type eventStream struct {
	reader *bufio.Reader
}

type eventDecodeError struct {
	line []byte
	err  error
}

func (e *eventDecodeError) Error() string {
	if e == nil || e.err == nil {
		return "event decode error"
	}
	return e.err.Error()
}

func (e *eventDecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *eventDecodeError) Line() []byte {
	if e == nil {
		return nil
	}
	return e.line
}

func newEventStream(r io.Reader) *eventStream {
	return &eventStream{reader: bufio.NewReader(r)}
}

// Next returns the next decoded event, skipping blank lines.
func (s *eventStream) Next() (schema.ServerEvent, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return schema.ServerEvent{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return schema.ServerEvent{}, err
			}
			continue
		}
		event, decodeErr := decodeServerEvent(line)
		if decodeErr != nil {
			return schema.ServerEvent{}, &eventDecodeError{line: append([]byte(nil), line...), err: decodeErr}
		}
		return event, nil
	}
}

func decodeServerEvent(line []byte) (schema.ServerEvent, error) {
	var event schema.ServerEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return schema.ServerEvent{}, err
	}
	event.Raw = append([]byte(nil), line...)
	return event, nil
}

// dispatcher translates server events for one session and owns the
// running transcript for the in-progress utterance.
type dispatcher struct {
	handler Handler
	log     pslog.Logger
	now     func() time.Time
	stopped func() bool

	mu      sync.Mutex
	current strings.Builder
}

func (d *dispatcher) handleMessage(data []byte) {
	if d.stopped != nil && d.stopped() {
		return
	}
	stream := newEventStream(bytes.NewReader(data))
	for {
		event, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var decodeErr *eventDecodeError
			if errors.As(err, &decodeErr) {
				d.log.Warn("realtime event decode failed", "err", err, "line", logx.Preview(string(decodeErr.Line()), 200))
				continue
			}
			return
		}
		d.dispatch(event)
	}
}

func (d *dispatcher) dispatch(event schema.ServerEvent) {
	switch event.Type {
	case schema.ServerTranscriptionDelta:
		d.mu.Lock()
		d.current.WriteString(event.Delta)
		current := d.current.String()
		d.mu.Unlock()
		d.log.Trace("realtime transcription delta", "item", event.ItemID, "len", len(event.Delta))
		d.handler.OnDelta(event.ItemID, event.Delta, current)
	case schema.ServerTranscriptionCompleted:
		d.mu.Lock()
		d.current.Reset()
		d.mu.Unlock()
		d.log.Debug("realtime transcription completed", "item", event.ItemID, "len", len(event.Transcript))
		d.handler.OnCompleted(schema.TranscriptFragment{
			ItemID:    event.ItemID,
			Text:      event.Transcript,
			CreatedAt: d.now(),
		})
	case schema.ServerError:
		message := unknownServerError
		if event.Error != nil && strings.TrimSpace(event.Error.Message) != "" {
			message = event.Error.Message
		}
		d.log.Warn("realtime server error", "err", message)
		d.handler.OnError(message)
	default:
		d.log.Trace("realtime event ignored", "type", event.Type)
	}
}
