package credential

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newProxy(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestFetchSuccess(t *testing.T) {
	srv, _ := newProxy(t, http.StatusOK, `{"value":"ek_123","expires_at":1700000000}`)
	cred, err := New(WithURL(srv.URL)).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if cred.Value != "ek_123" {
		t.Fatalf("value = %q", cred.Value)
	}
	if cred.ExpiresAt.Unix() != 1700000000 {
		t.Fatalf("expires_at = %v", cred.ExpiresAt)
	}
}

func TestFetchSendsClientKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"value":"v"}`))
	}))
	defer srv.Close()
	if _, err := New(WithURL(srv.URL), WithClientKey("secret")).Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("authorization = %q", auth)
	}
}

func TestFetchClassifiesFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{
			name:    "misconfigured-code",
			status:  http.StatusInternalServerError,
			body:    `{"error":"Server configuration error: API key not configured","code":"server_misconfigured"}`,
			kind:    KindServerMisconfigured,
			message: "Server configuration error: API key not configured",
		},
		{
			name:    "misconfigured-text",
			status:  http.StatusInternalServerError,
			body:    `{"error":"Server configuration error: API key not configured"}`,
			kind:    KindServerMisconfigured,
			message: "Server configuration error: API key not configured",
		},
		{
			name:    "upstream",
			status:  http.StatusUnauthorized,
			body:    `{"error":"OpenAI API error: 401","details":"bad key"}`,
			kind:    KindUpstreamRejected,
			message: "OpenAI API error: 401",
		},
		{
			name:    "no-json",
			status:  http.StatusBadGateway,
			body:    `gateway down`,
			kind:    KindUpstreamRejected,
			message: "Token server error: 502",
		},
		{
			name:    "missing-value",
			status:  http.StatusOK,
			body:    `{"id":"sess"}`,
			kind:    KindMalformedResponse,
			message: "Invalid token response from server",
		},
		{
			name:    "bad-json",
			status:  http.StatusOK,
			body:    `{`,
			kind:    KindMalformedResponse,
			message: "Invalid token response from server",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, calls := newProxy(t, tc.status, tc.body)
			_, err := New(WithURL(srv.URL)).Fetch(context.Background())
			var credErr *Error
			if !errors.As(err, &credErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if credErr.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", credErr.Kind, tc.kind)
			}
			if credErr.Error() != tc.message {
				t.Fatalf("message = %q, want %q", credErr.Error(), tc.message)
			}
			if tc.kind == KindUpstreamRejected && (credErr.Status != tc.status || credErr.Body != tc.body) {
				t.Fatalf("expected status/body passthrough, got %d %q", credErr.Status, credErr.Body)
			}
			if got := atomic.LoadInt32(calls); got != 1 {
				t.Fatalf("expected exactly one request, got %d", got)
			}
		})
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	_, err := New(WithURL(url)).Fetch(context.Background())
	var credErr *Error
	if !errors.As(err, &credErr) || credErr.Kind != KindUnreachable {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}
