package persist

import (
	"strings"

	"pkt.systems/signally/schema"
)

// ValidateAPIKey trims key and checks it looks like an OpenAI key.
func ValidateAPIKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", schema.ErrMissingCredential
	}
	if !strings.HasPrefix(trimmed, "sk-") {
		return "", schema.ErrInvalidCredential
	}
	return trimmed, nil
}

// MaskSecret renders a key for display, keeping the prefix and the last
// four characters.
func MaskSecret(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	prefix := key[:3]
	return prefix + "..." + key[len(key)-4:]
}
