package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/signally/internal/credential"
	"pkt.systems/signally/internal/realtime"
	"pkt.systems/signally/internal/summarizer"
	"pkt.systems/signally/schema"
)

// SessionManager runs the realtime transcription connection.
type SessionManager interface {
	Start(ctx context.Context, req realtime.StartRequest) error
	Stop()
}

// Summarizer is the rolling summarization engine.
type Summarizer interface {
	SetAPIKey(key string)
	HasAPIKey() bool
	AddTranscription(text string) bool
	Reset()
	Snapshot() summarizer.Snapshot
	GenerateSummary(ctx context.Context) (summarizer.Result, error)
}

// SettingsReader reads persisted settings.
type SettingsReader interface {
	Get(key string) (string, bool, error)
}

// SurfaceRegistry exposes the attached presentation surfaces.
type SurfaceRegistry interface {
	Surfaces() []schema.Surface
	FirstOfKind(kind schema.SurfaceKind) (schema.SurfaceID, bool)
	Send(id schema.SurfaceID, event schema.Event) bool
}

// WindowLauncher opens a detached popup window.
type WindowLauncher interface {
	Launch(ctx context.Context) error
}

// ServiceDeps captures dependencies for the coordinator. Credentials,
// Sessions and Summarizer are required.
type ServiceDeps struct {
	Credentials credential.Fetcher
	Sessions    SessionManager
	Summarizer  Summarizer
	Settings    SettingsReader
	Surfaces    SurfaceRegistry
	Windows     WindowLauncher
	EventSink   EventSink
	Logger      pslog.Logger
}
