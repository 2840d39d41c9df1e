package core

import (
	"context"

	"pkt.systems/signally/schema"
)

// Service is the transport-agnostic API of the session coordinator.
type Service interface {
	GetState(ctx context.Context, req schema.GetStateRequest) (schema.GetStateResponse, error)
	StartRecording(ctx context.Context, req schema.StartRecordingRequest) (schema.StartRecordingResponse, error)
	StopRecording(ctx context.Context, req schema.StopRecordingRequest) (schema.StopRecordingResponse, error)
	ToggleRecording(ctx context.Context, req schema.ToggleRecordingRequest) (schema.ToggleRecordingResponse, error)
	ReloadCredential(ctx context.Context, req schema.ReloadCredentialRequest) (schema.ReloadCredentialResponse, error)
	OpenWindow(ctx context.Context, req schema.OpenWindowRequest) (schema.OpenWindowResponse, error)
	RequestSummary(ctx context.Context, req schema.RequestSummaryRequest) (schema.RequestSummaryResponse, error)
}
