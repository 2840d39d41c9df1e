package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultCallsURL is the realtime signaling endpoint.
const DefaultCallsURL = "https://api.openai.com/v1/realtime/calls"

// Signaler exchanges an SDP offer for an answer.
type Signaler interface {
	Exchange(ctx context.Context, credential string, offer string) (string, error)
}

// HTTPSignaler posts the offer to the realtime calls endpoint.
type HTTPSignaler struct {
	URL    string
	Client *http.Client
}

// Exchange implements Signaler.
func (s HTTPSignaler) Exchange(ctx context.Context, credential string, offer string) (string, error) {
	url := s.URL
	if strings.TrimSpace(url) == "" {
		url = DefaultCallsURL
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("OpenAI API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("OpenAI API error: %d - empty answer", resp.StatusCode)
	}
	return answer, nil
}
