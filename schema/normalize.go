package schema

import (
	"strings"
	"unicode"
)

// NormalizeSurfaceKind validates and normalizes a surface kind.
// Allowed values: overlay, popup, terminal.
func NormalizeSurfaceKind(value string) (SurfaceKind, error) {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	switch SurfaceKind(trimmed) {
	case SurfaceOverlay, SurfacePopup, SurfaceTerminal:
		return SurfaceKind(trimmed), nil
	default:
		return "", ErrInvalidSurface
	}
}

// ValidateSurfaceID ensures a surface id matches [A-Za-z0-9._-] and is at
// most 64 characters long.
func ValidateSurfaceID(id SurfaceID) error {
	raw := string(id)
	if raw == "" || len(raw) > 64 {
		return ErrInvalidSurface
	}
	for _, r := range raw {
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		return ErrInvalidSurface
	}
	return nil
}

// NormalizeSurface validates both surface fields.
func NormalizeSurface(id string, kind string) (Surface, error) {
	normalizedKind, err := NormalizeSurfaceKind(kind)
	if err != nil {
		return Surface{}, err
	}
	sid := SurfaceID(strings.TrimSpace(id))
	if err := ValidateSurfaceID(sid); err != nil {
		return Surface{}, err
	}
	return Surface{ID: sid, Kind: normalizedKind}, nil
}
