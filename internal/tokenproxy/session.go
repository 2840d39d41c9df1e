package tokenproxy

// SessionRequest is the body posted to the client secret endpoint.
type SessionRequest struct {
	Session SessionConfig `json:"session"`
}

// SessionConfig describes a transcription-only realtime session.
type SessionConfig struct {
	Type  string       `json:"type"`
	Audio AudioSection `json:"audio"`
}

// AudioSection holds the audio settings.
type AudioSection struct {
	Input AudioInput `json:"input"`
}

// AudioInput configures the inbound audio pipeline.
type AudioInput struct {
	Format         AudioFormat    `json:"format"`
	NoiseReduction NoiseReduction `json:"noise_reduction"`
	Transcription  Transcription  `json:"transcription"`
	TurnDetection  TurnDetection  `json:"turn_detection"`
}

type AudioFormat struct {
	Type string `json:"type"`
	Rate int    `json:"rate"`
}

type NoiseReduction struct {
	Type string `json:"type"`
}

type Transcription struct {
	Model    string `json:"model"`
	Language string `json:"language"`
	Prompt   string `json:"prompt"`
}

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

// DefaultSessionConfig returns the fixed session every token is minted for.
func DefaultSessionConfig() SessionRequest {
	return SessionRequest{
		Session: SessionConfig{
			Type: "transcription",
			Audio: AudioSection{
				Input: AudioInput{
					Format:         AudioFormat{Type: "audio/pcm", Rate: 24000},
					NoiseReduction: NoiseReduction{Type: "near_field"},
					Transcription:  Transcription{Model: "whisper-1", Language: "en", Prompt: ""},
					TurnDetection: TurnDetection{
						Type:              "server_vad",
						Threshold:         0.5,
						PrefixPaddingMS:   300,
						SilenceDurationMS: 500,
					},
				},
			},
		},
	}
}
