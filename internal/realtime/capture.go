package realtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	opusSampleRate      = 48000
	defaultPageDuration = 20 * time.Millisecond
)

// Capture acquires an audio stream for a named source.
type Capture interface {
	Open(ctx context.Context, source string) (AudioSource, error)
}

// AudioSource yields Opus samples until io.EOF.
type AudioSource interface {
	NextSample() (media.Sample, error)
	Close() error
}

// OggCapture reads Ogg/Opus audio from a file path, or from Stdin when the
// source is "-".
type OggCapture struct {
	Stdin io.Reader
}

// Open implements Capture.
func (c OggCapture) Open(ctx context.Context, source string) (AudioSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("audio source is required")
	}
	var rc io.ReadCloser
	if source == "-" {
		in := c.Stdin
		if in == nil {
			in = os.Stdin
		}
		rc = io.NopCloser(in)
	} else {
		file, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		rc = file
	}
	reader, _, err := oggreader.NewWith(rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	return &oggSource{reader: reader, closer: rc}, nil
}

type oggSource struct {
	reader      *oggreader.OggReader
	closer      io.Closer
	lastGranule uint64
}

func (s *oggSource) NextSample() (media.Sample, error) {
	for {
		payload, header, err := s.reader.ParseNextPage()
		if err != nil {
			return media.Sample{}, err
		}
		if bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}
		duration := defaultPageDuration
		if header != nil && header.GranulePosition > s.lastGranule {
			samples := header.GranulePosition - s.lastGranule
			if s.lastGranule != 0 {
				duration = time.Duration(samples) * time.Second / opusSampleRate
			}
			s.lastGranule = header.GranulePosition
		}
		return media.Sample{Data: payload, Duration: duration}, nil
	}
}

func (s *oggSource) Close() error {
	return s.closer.Close()
}
