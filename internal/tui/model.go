// Package tui is the terminal presentation surface. It attaches to the
// coordinator over a websocket and renders state, transcript, summary and
// follow-up questions.
package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"pkt.systems/signally/schema"
)

// Conn is the surface connection the model reads frames from.
type Conn interface {
	Next() (Frame, error)
	Send(cmd schema.SurfaceCommand) error
}

type frameMsg struct{ frame Frame }

type connErrMsg struct{ err error }

type sentMsg struct{ err error }

// Model is the root bubbletea model.
type Model struct {
	conn   Conn
	source string
	seq    int

	state      schema.SessionState
	details    string
	transcript []string
	current    string
	summary    string
	followUps  []string
	lastError  string
	closed     bool

	width  int
	height int
}

// New constructs a model bound to conn. source is passed to start commands.
func New(conn Conn, source string) Model {
	return Model{
		conn:    conn,
		source:  source,
		state:   schema.StateIdle,
		details: schema.DetailsIdle,
	}
}

// Init requests the current state and starts reading frames.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.sendCmd(schema.SurfaceCommand{ID: "init", Command: schema.CommandGetState}), m.readCmd())
}

func (m Model) readCmd() tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		frame, err := conn.Next()
		if err != nil {
			return connErrMsg{err: err}
		}
		return frameMsg{frame: frame}
	}
}

func (m Model) sendCmd(cmd schema.SurfaceCommand) tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		return sentMsg{err: conn.Send(cmd)}
	}
}

func (m *Model) command(name schema.SurfaceCommandName) tea.Cmd {
	m.seq++
	return m.sendCmd(schema.SurfaceCommand{ID: strconv.Itoa(m.seq), Command: name, Source: m.source})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case frameMsg:
		if msg.frame.Event != nil {
			m.handleEvent(*msg.frame.Event)
		}
		if msg.frame.Reply != nil {
			m.handleReply(*msg.frame.Reply)
		}
		return m, m.readCmd()
	case sentMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}
		return m, nil
	case connErrMsg:
		m.closed = true
		m.lastError = "connection closed: " + msg.err.Error()
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case " ", "t":
		return m, m.command(schema.CommandToggle)
	case "s":
		return m, m.command(schema.CommandSummarize)
	case "o":
		return m, m.command(schema.CommandOpenWindow)
	case "r":
		return m, m.command(schema.CommandGetState)
	}
	return m, nil
}

func (m *Model) handleEvent(event schema.Event) {
	data := event.Data
	if data == nil {
		data = &schema.EventData{}
	}
	switch event.Type {
	case schema.EventStateChanged:
		m.state = event.State
		if event.Details != nil {
			m.details = event.Details.Message
		}
		if event.State == schema.StateConnecting {
			m.transcript = nil
			m.current = ""
			m.summary = ""
			m.followUps = nil
			m.lastError = ""
		}
	case schema.EventTranscriptionDelta:
		m.current = data.Current
	case schema.EventTranscriptionCompleted:
		m.current = ""
		m.transcript = append(m.transcript, data.Transcript)
	case schema.EventSummaryGenerated:
		m.summary = data.Summary
		m.lastError = ""
	case schema.EventFollowUpsGenerated:
		m.followUps = append(m.followUps, data.Questions...)
	case schema.EventSummaryError:
		m.lastError = data.Error
	}
}

func (m *Model) handleReply(reply Reply) {
	if !reply.Success {
		m.lastError = reply.Error
		return
	}
	if reply.Command != schema.CommandGetState {
		return
	}
	var snap schema.GetStateResponse
	if err := reply.Decode(&snap); err != nil {
		m.lastError = err.Error()
		return
	}
	m.state = snap.State
	m.details = snap.Details.Message
	m.current = snap.Current
	m.transcript = m.transcript[:0]
	for _, fragment := range snap.Transcript {
		m.transcript = append(m.transcript, fragment.Text)
	}
	m.summary = ""
	if n := len(snap.Summaries); n > 0 {
		m.summary = snap.Summaries[n-1].Text
	}
	m.followUps = append([]string(nil), snap.FollowUps...)
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("signally"))
	b.WriteString("  ")
	b.WriteString(stateBadge(string(m.state)))
	b.WriteString("\n")
	if m.details != "" {
		b.WriteString(detailStyle.Render(m.details))
		b.WriteString("\n")
	}

	b.WriteString(sectionStyle.Render("Transcript"))
	b.WriteString("\n")
	for _, line := range m.visibleTranscript() {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.current != "" {
		b.WriteString(partialStyle.Render(m.current))
		b.WriteString("\n")
	}

	if m.summary != "" {
		b.WriteString(sectionStyle.Render("Summary"))
		b.WriteString("\n")
		b.WriteString(m.summary)
		b.WriteString("\n")
	}
	if len(m.followUps) > 0 {
		b.WriteString(sectionStyle.Render("Follow-up questions"))
		b.WriteString("\n")
		for i, q := range m.followUps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	if m.lastError != "" {
		b.WriteString(errorStyle.Render(m.lastError))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("space toggle • s follow-ups • o popup • r refresh • q quit"))
	return b.String()
}

func (m Model) visibleTranscript() []string {
	limit := len(m.transcript)
	if m.height > 0 {
		// header, sections, summary and help take roughly a dozen lines
		if room := m.height - 12 - len(m.followUps); room < limit {
			limit = max(room, 3)
		}
	}
	if limit >= len(m.transcript) {
		return m.transcript
	}
	return m.transcript[len(m.transcript)-limit:]
}
