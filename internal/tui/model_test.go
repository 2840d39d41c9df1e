package tui

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"pkt.systems/signally/schema"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []schema.SurfaceCommand
}

func (f *fakeConn) Next() (Frame, error) { return Frame{}, errors.New("closed") }

func (f *fakeConn) Send(cmd schema.SurfaceCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func eventFrame(event schema.Event) frameMsg {
	return frameMsg{frame: Frame{Event: &event}}
}

func TestNewModelStartsIdle(t *testing.T) {
	m := New(&fakeConn{}, "tab")
	if m.state != schema.StateIdle {
		t.Fatalf("state = %s", m.state)
	}
	if !strings.Contains(m.View(), schema.DetailsIdle) {
		t.Fatalf("view missing idle details:\n%s", m.View())
	}
}

func TestModelAppliesEvents(t *testing.T) {
	m := New(&fakeConn{}, "")
	steps := []tea.Msg{
		eventFrame(schema.Event{Type: schema.EventStateChanged, State: schema.StateRecording, Details: &schema.StateDetails{Message: schema.DetailsRecording}}),
		eventFrame(schema.Event{Type: schema.EventTranscriptionDelta, Data: &schema.EventData{Current: "Hello te"}}),
		eventFrame(schema.Event{Type: schema.EventTranscriptionCompleted, Data: &schema.EventData{Transcript: "Hello team"}}),
		eventFrame(schema.Event{Type: schema.EventSummaryGenerated, Data: &schema.EventData{Summary: "Team sync"}}),
		eventFrame(schema.Event{Type: schema.EventFollowUpsGenerated, Data: &schema.EventData{Questions: []string{"Who owns it?"}}}),
	}
	for _, msg := range steps {
		updated, cmd := m.Update(msg)
		if cmd == nil {
			t.Fatalf("expected read command after frame")
		}
		m = updated.(Model)
	}
	if m.state != schema.StateRecording {
		t.Fatalf("state = %s", m.state)
	}
	if m.current != "" {
		t.Fatalf("current should clear on completion, got %q", m.current)
	}
	if len(m.transcript) != 1 || m.transcript[0] != "Hello team" {
		t.Fatalf("transcript = %v", m.transcript)
	}
	view := m.View()
	for _, want := range []string{"Hello team", "Team sync", "1. Who owns it?"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelConnectingClearsSession(t *testing.T) {
	m := New(&fakeConn{}, "")
	m.transcript = []string{"old"}
	m.summary = "old summary"
	m.followUps = []string{"old?"}
	updated, _ := m.Update(eventFrame(schema.Event{Type: schema.EventStateChanged, State: schema.StateConnecting}))
	m = updated.(Model)
	if len(m.transcript) != 0 || m.summary != "" || len(m.followUps) != 0 {
		t.Fatalf("expected cleared session, got %+v", m)
	}
}

func TestModelSummaryError(t *testing.T) {
	m := New(&fakeConn{}, "")
	updated, _ := m.Update(eventFrame(schema.Event{Type: schema.EventSummaryError, Data: &schema.EventData{Error: "rate limited"}}))
	m = updated.(Model)
	if !strings.Contains(m.View(), "rate limited") {
		t.Fatalf("view missing error")
	}
}

func TestModelGetStateReply(t *testing.T) {
	snap := schema.GetStateResponse{
		State:      schema.StateRecording,
		Details:    schema.StateDetails{Message: schema.DetailsRecording},
		Current:    "and then",
		Transcript: []schema.TranscriptFragment{{Text: "first"}, {Text: "second"}},
		Summaries:  []schema.SummaryRecord{{Text: "older"}, {Text: "latest"}},
		FollowUps:  []string{"Why?"},
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m := New(&fakeConn{}, "")
	updated, _ := m.Update(frameMsg{frame: Frame{Reply: &Reply{Command: schema.CommandGetState, Success: true, Data: data}}})
	m = updated.(Model)
	if m.state != schema.StateRecording || m.current != "and then" || m.summary != "latest" {
		t.Fatalf("unexpected model: %+v", m)
	}
	if len(m.transcript) != 2 || len(m.followUps) != 1 {
		t.Fatalf("unexpected transcript/followups: %v %v", m.transcript, m.followUps)
	}
}

func TestModelFailedReply(t *testing.T) {
	m := New(&fakeConn{}, "")
	updated, _ := m.Update(frameMsg{frame: Frame{Reply: &Reply{Command: schema.CommandToggle, Error: "busy"}}})
	m = updated.(Model)
	if m.lastError != "busy" {
		t.Fatalf("lastError = %q", m.lastError)
	}
}

func TestModelKeysSendCommands(t *testing.T) {
	conn := &fakeConn{}
	m := New(conn, "tab")
	keys := []struct {
		msg  tea.KeyMsg
		want schema.SurfaceCommandName
	}{
		{tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, schema.CommandToggle},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}}, schema.CommandSummarize},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'o'}}, schema.CommandOpenWindow},
	}
	for _, tc := range keys {
		updated, cmd := m.Update(tc.msg)
		m = updated.(Model)
		if cmd == nil {
			t.Fatalf("key %q produced no command", tc.msg.String())
		}
		cmd()
	}
	if len(conn.sent) != len(keys) {
		t.Fatalf("sent = %+v", conn.sent)
	}
	for i, tc := range keys {
		if conn.sent[i].Command != tc.want {
			t.Fatalf("sent[%d] = %s, want %s", i, conn.sent[i].Command, tc.want)
		}
		if conn.sent[i].Source != "tab" {
			t.Fatalf("sent[%d] missing source", i)
		}
	}
	if conn.sent[0].ID == conn.sent[1].ID {
		t.Fatalf("command ids must be unique")
	}
}

func TestModelQuitOnConnectionError(t *testing.T) {
	m := New(&fakeConn{}, "")
	updated, cmd := m.Update(connErrMsg{err: errors.New("eof")})
	m = updated.(Model)
	if !m.closed || cmd == nil {
		t.Fatalf("expected quit on connection error")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}

func TestVisibleTranscriptKeepsTail(t *testing.T) {
	m := New(&fakeConn{}, "")
	for i := 0; i < 40; i++ {
		m.transcript = append(m.transcript, strings.Repeat("x", i+1))
	}
	m.height = 20
	lines := m.visibleTranscript()
	if len(lines) != 8 {
		t.Fatalf("visible = %d", len(lines))
	}
	if lines[len(lines)-1] != m.transcript[39] {
		t.Fatalf("expected newest line last")
	}
}
