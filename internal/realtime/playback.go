package realtime

import (
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// PlaybackFactory creates the remote audio sink for a session.
type PlaybackFactory func() (Playback, error)

// DiscardPlayback drops remote audio.
func DiscardPlayback() PlaybackFactory {
	return func() (Playback, error) { return discard{}, nil }
}

// OggRecorder writes remote audio to an Ogg/Opus file.
func OggRecorder(path string) PlaybackFactory {
	return func() (Playback, error) {
		writer, err := oggwriter.New(path, opusSampleRate, 2)
		if err != nil {
			return nil, err
		}
		return writer, nil
	}
}

type discard struct{}

func (discard) WriteRTP(*rtp.Packet) error { return nil }
func (discard) Close() error               { return nil }
