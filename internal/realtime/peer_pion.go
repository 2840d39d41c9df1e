package realtime

import (
	"context"
	"io"

	"github.com/pion/webrtc/v4"
)

// PeerConfig configures pion peer connections.
type PeerConfig struct {
	ICEServers []string
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

// NewPionPeerFactory returns a PeerFactory backed by pion/webrtc.
func NewPionPeerFactory(cfg PeerConfig) PeerFactory {
	return func() (Peer, error) {
		config := webrtc.Configuration{}
		if len(cfg.ICEServers) > 0 {
			config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
		}
		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			return nil, err
		}
		return &pionPeer{pc: pc}, nil
	}
}

func (p *pionPeer) AddAudioTrack() (AudioTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "signally")
	if err != nil {
		return nil, err
	}
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	// RTCP must be read for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return track, nil
}

func (p *pionPeer) CreateDataChannel(label string, onMessage func([]byte)) (io.Closer, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		onMessage(msg.Data)
	})
	return dc, nil
}

func (p *pionPeer) OnRemoteAudio(sink Playback) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		for {
			packet, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if err := sink.WriteRTP(packet); err != nil {
				return
			}
		}
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(state string)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(state.String())
	})
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	local := p.pc.LocalDescription()
	if local == nil {
		return offer.SDP, nil
	}
	return local.SDP, nil
}

func (p *pionPeer) SetAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
