package schema

import "time"

// SessionID identifies one recording session from connecting to idle.
type SessionID string

// ItemID identifies a transcription item reported by the realtime service.
type ItemID string

// SurfaceID identifies one attached presentation surface.
type SurfaceID string

// SurfaceKind describes what kind of surface is attached.
type SurfaceKind string

const (
	// SurfaceOverlay is an in-page overlay panel.
	SurfaceOverlay SurfaceKind = "overlay"
	// SurfacePopup is the detached popup window.
	SurfacePopup SurfaceKind = "popup"
	// SurfaceTerminal is a terminal watcher.
	SurfaceTerminal SurfaceKind = "terminal"
)

// Surface identifies an attached subscriber.
type Surface struct {
	ID   SurfaceID   `json:"id"`
	Kind SurfaceKind `json:"kind"`
}

// SessionState is the recording state machine value.
type SessionState string

const (
	// StateIdle means nothing is recording.
	StateIdle SessionState = "idle"
	// StateConnecting means a session is being established.
	StateConnecting SessionState = "connecting"
	// StateRecording means audio is streaming and transcripts flow.
	StateRecording SessionState = "recording"
	// StateStopping means teardown is in progress.
	StateStopping SessionState = "stopping"
	// StateError means the last session failed.
	StateError SessionState = "error"
)

// Active reports whether the state holds a live or pending session.
func (s SessionState) Active() bool {
	return s == StateConnecting || s == StateRecording
}

// StateDetails carries the human readable reason for a state.
type StateDetails struct {
	Message string `json:"message,omitempty"`
}

// Default detail messages per state.
const (
	DetailsConnecting = "Connecting..."
	DetailsRecording  = "Recording tab audio..."
	DetailsIdle       = "Ready to record"
)

// DefaultDetails returns the detail message shown for a state when no
// failure message applies.
func DefaultDetails(state SessionState) StateDetails {
	switch state {
	case StateConnecting:
		return StateDetails{Message: DetailsConnecting}
	case StateRecording:
		return StateDetails{Message: DetailsRecording}
	case StateIdle:
		return StateDetails{Message: DetailsIdle}
	default:
		return StateDetails{}
	}
}

// TranscriptFragment is one completed utterance.
type TranscriptFragment struct {
	ItemID    ItemID    `json:"itemId,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// SummaryRecord is one successful summarization result.
type SummaryRecord struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
