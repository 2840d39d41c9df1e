package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAlreadyRecording indicates a session is already connecting or recording.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrStopInProgress indicates a stop is still tearing down the previous session.
	ErrStopInProgress = errors.New("stop in progress")
	// ErrNotRecording indicates a stop was requested with no live session.
	ErrNotRecording = errors.New("not recording")
	// ErrStartCancelled indicates a stop won the race against a pending start.
	ErrStartCancelled = errors.New("start cancelled")
	// ErrSessionFailed indicates the upstream ended the session before it was established.
	ErrSessionFailed = errors.New("session failed")
	// ErrMissingCredential indicates no API key is configured.
	ErrMissingCredential = errors.New("OpenAI API key not configured. Please set it in settings.")
	// ErrInvalidCredential indicates an API key with the wrong shape.
	ErrInvalidCredential = errors.New("Invalid API key format. OpenAI keys start with \"sk-\"")
	// ErrInvalidSurface indicates an unknown surface kind or id.
	ErrInvalidSurface = errors.New("invalid surface")
	// ErrWindowUnavailable indicates no window launcher is configured.
	ErrWindowUnavailable = errors.New("window launcher not configured")
	// ErrBusy indicates the session is mid-transition and the command was ignored.
	ErrBusy = errors.New("busy")
)
