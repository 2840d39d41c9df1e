package schema

// State queries.

// GetStateRequest asks for the current coordinator snapshot.
type GetStateRequest struct{}

// GetStateResponse is the snapshot a newly attached surface pulls.
type GetStateResponse struct {
	State         SessionState         `json:"state"`
	Details       StateDetails         `json:"details"`
	Session       SessionID            `json:"session,omitempty"`
	Current       string               `json:"current,omitempty"`
	Transcript    []TranscriptFragment `json:"transcript"`
	Summaries     []SummaryRecord      `json:"summaries"`
	FollowUps     []string             `json:"followUps"`
	Surfaces      []Surface            `json:"surfaces"`
	HasCredential bool                 `json:"hasCredential"`
}

// Recording lifecycle.

// StartRecordingRequest starts a session for an audio source.
type StartRecordingRequest struct {
	// Source names the audio input. Empty selects the configured default.
	Source string `json:"source,omitempty"`
}

// StartRecordingResponse reports the started session.
type StartRecordingResponse struct {
	Session SessionID    `json:"session"`
	State   SessionState `json:"state"`
}

// StopRecordingRequest stops the current session.
type StopRecordingRequest struct {
	// Force allows stopping from connecting or error.
	Force bool `json:"force,omitempty"`
}

// StopRecordingResponse reports the state after the stop.
type StopRecordingResponse struct {
	State SessionState `json:"state"`
}

// ToggleRecordingRequest stops a recording session or starts a new one.
type ToggleRecordingRequest struct {
	Source string `json:"source,omitempty"`
}

// ToggleRecordingResponse reports which action the toggle took.
type ToggleRecordingResponse struct {
	Action string       `json:"action"`
	State  SessionState `json:"state"`
}

// Credential.

// ReloadCredentialRequest re-reads the persisted API key.
type ReloadCredentialRequest struct{}

// ReloadCredentialResponse reports whether a key is configured.
type ReloadCredentialResponse struct {
	HasCredential bool `json:"hasCredential"`
}

// Windows.

// OpenWindowRequest focuses or launches the popup surface.
type OpenWindowRequest struct{}

// OpenWindowResponse reports whether an existing popup was focused.
type OpenWindowResponse struct {
	Focused bool `json:"focused"`
}

// Summaries.

// RequestSummaryRequest asks for an on-demand summary of the current window.
type RequestSummaryRequest struct{}

// RequestSummaryResponse reports the summary that was produced.
type RequestSummaryResponse struct {
	Summary      string   `json:"summary"`
	Questions    []string `json:"questions"`
	NewQuestions []string `json:"newQuestions"`
}
