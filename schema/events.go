package schema

import (
	"encoding/json"
	"time"
)

// ServerEventType is the type field of a realtime control channel message.
type ServerEventType string

const (
	// ServerTranscriptionDelta carries partial transcription text.
	ServerTranscriptionDelta ServerEventType = "conversation.item.input_audio_transcription.delta"
	// ServerTranscriptionCompleted carries a finished utterance.
	ServerTranscriptionCompleted ServerEventType = "conversation.item.input_audio_transcription.completed"
	// ServerError reports an upstream failure.
	ServerError ServerEventType = "error"
)

// ServerEvent is the decoded shape of a control channel message. Unknown
// types decode fine and are ignored by the consumer.
type ServerEvent struct {
	Type       ServerEventType  `json:"type"`
	ItemID     ItemID           `json:"item_id,omitempty"`
	Delta      string           `json:"delta,omitempty"`
	Transcript string           `json:"transcript,omitempty"`
	Error      *ServerErrorBody `json:"error,omitempty"`
	Raw        json.RawMessage  `json:"-"`
}

// ServerErrorBody is the error payload of an upstream error event.
type ServerErrorBody struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// EventType identifies a UI-facing notification.
type EventType string

const (
	// EventStateChanged reports a state machine transition.
	EventStateChanged EventType = "transcription-state-changed"
	// EventTranscriptionDelta reports partial transcript text.
	EventTranscriptionDelta EventType = "transcription-delta"
	// EventTranscriptionCompleted reports a completed fragment.
	EventTranscriptionCompleted EventType = "transcription-completed"
	// EventSummaryGenerated reports a new summary.
	EventSummaryGenerated EventType = "summary-generated"
	// EventFollowUpsGenerated reports newly generated follow-up questions.
	EventFollowUpsGenerated EventType = "followup-questions-generated"
	// EventSummaryError reports a failed summarization.
	EventSummaryError EventType = "summary-error"
	// EventFocusWindow asks a popup surface to bring itself to front.
	EventFocusWindow EventType = "focus-window"
)

// Event is the notification fanned out to attached surfaces.
type Event struct {
	Type      EventType     `json:"type"`
	Session   SessionID     `json:"session,omitempty"`
	State     SessionState  `json:"state,omitempty"`
	Details   *StateDetails `json:"details,omitempty"`
	Data      *EventData    `json:"data,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventData holds content payloads. Only the fields relevant to the event
// type are set.
type EventData struct {
	ItemID     ItemID   `json:"itemId,omitempty"`
	Delta      string   `json:"delta,omitempty"`
	Current    string   `json:"current,omitempty"`
	Transcript string   `json:"transcript,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Questions  []string `json:"questions,omitempty"`
	Error      string   `json:"error,omitempty"`
}
