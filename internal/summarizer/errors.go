package summarizer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNoCredential indicates no API key is configured.
	ErrNoCredential = errors.New("OpenAI API key not configured. Please set it in settings.")
	// ErrEmptyWindow indicates there is no transcription to summarize.
	ErrEmptyWindow = errors.New("no transcription to summarize")
	// ErrPayloadTooLarge indicates the request stayed above the size limit after truncation.
	ErrPayloadTooLarge = errors.New("summary payload too large")
	// ErrEmptyResponse indicates the model returned no text.
	ErrEmptyResponse = errors.New("No content in API response")
	// ErrInvalidResponse indicates the model text was not the expected JSON shape.
	ErrInvalidResponse = errors.New("invalid summary response")
	// ErrReset indicates the engine was reset while the call was in flight.
	ErrReset = errors.New("summary discarded after reset")
)

// APIError is a non-2xx answer from the Responses API.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "API request failed"
	}
	msg := fmt.Sprintf("API request failed: %d %s", e.Status, http.StatusText(e.Status))
	if detail := strings.TrimSpace(e.Message); detail != "" {
		msg += ": " + detail
	}
	return msg
}
