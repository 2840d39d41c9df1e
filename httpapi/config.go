package httpapi

import (
	"strings"
	"time"
)

const defaultHeartbeat = 15 * time.Second

// Config defines HTTP API and popup page settings.
type Config struct {
	Addr string
	// BaseURL is the public origin the popup page is served from, used for
	// the page's <base href>.
	BaseURL string
	// BasePath mounts every route under a prefix, e.g. "/signally".
	BasePath string
	// HeartbeatSeconds is the idle interval between stream keepalives.
	HeartbeatSeconds int
}

// mountPath returns BasePath as "/prefix" with no trailing slash, or "" when
// the API is served at the root.
func (c Config) mountPath() string {
	trimmed := strings.Trim(strings.TrimSpace(c.BasePath), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

// baseHref is the <base href> injected into the popup page. Empty means
// relative URLs resolve against the request path.
func (c Config) baseHref() string {
	href := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/") + c.mountPath()
	if href == "" {
		return ""
	}
	return href + "/"
}

func (c Config) heartbeat() time.Duration {
	if c.HeartbeatSeconds <= 0 {
		return defaultHeartbeat
	}
	return time.Duration(c.HeartbeatSeconds) * time.Second
}
