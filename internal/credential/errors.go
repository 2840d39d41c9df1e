package credential

// Kind classifies a credential failure.
type Kind string

const (
	// KindServerMisconfigured means the proxy has no upstream API key.
	KindServerMisconfigured Kind = "server_misconfigured"
	// KindUpstreamRejected means the proxy or upstream refused the request.
	KindUpstreamRejected Kind = "upstream_rejected"
	// KindMalformedResponse means a 2xx answer lacked a usable secret.
	KindMalformedResponse Kind = "malformed_response"
	// KindUnreachable means no HTTP answer was received.
	KindUnreachable Kind = "unreachable"
)

// Error is returned by Client.Fetch.
type Error struct {
	Kind    Kind
	Status  int
	Body    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "credential error"
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
