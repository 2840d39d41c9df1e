package realtime

import (
	"context"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
)

// AudioTrack accepts outbound audio samples.
type AudioTrack interface {
	WriteSample(sample media.Sample) error
}

// Playback receives the remote audio stream.
type Playback interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Peer is the subset of a peer connection the manager drives.
type Peer interface {
	AddAudioTrack() (AudioTrack, error)
	CreateDataChannel(label string, onMessage func([]byte)) (io.Closer, error)
	OnRemoteAudio(sink Playback)
	OnConnectionStateChange(fn func(state string))
	// CreateOffer creates the local offer, waits for ICE gathering and
	// returns the complete SDP.
	CreateOffer(ctx context.Context) (string, error)
	SetAnswer(sdp string) error
	Close() error
}

// PeerFactory creates a fresh peer connection per session.
type PeerFactory func() (Peer, error)
