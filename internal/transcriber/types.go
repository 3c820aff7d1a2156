package transcriber

import (
	"os"
	"time"
)

// VADConfig tunes the realtime endpoint's server-side voice activity
// detection.
type VADConfig struct {
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
}

type Config struct {
	// RealtimeURL is the websocket endpoint for streaming transcription.
	RealtimeURL string
	// SessionURL is the ephemeral-credential exchange endpoint.
	SessionURL string
	// BatchURL is the batch transcription endpoint.
	BatchURL string

	APIKey string
	Model  string

	// ScratchDir receives per-capture WAV scratch files.
	ScratchDir string
	// CaptureRate is the sample rate of frames delivered to Feed.
	CaptureRate int

	PollInterval   time.Duration
	MaxUploadBytes int

	VAD VADConfig
}

func (c Config) withDefaults() Config {
	if c.CaptureRate <= 0 {
		c.CaptureRate = 48000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = defaultMaxUpload
	}
	if c.ScratchDir == "" {
		c.ScratchDir = os.TempDir()
	}
	if c.Model == "" {
		c.Model = "whisper-1"
	}
	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = 0.5
	}
	if c.VAD.PrefixPaddingMs == 0 {
		c.VAD.PrefixPaddingMs = 300
	}
	if c.VAD.SilenceDurationMs == 0 {
		c.VAD.SilenceDurationMs = 500
	}
	return c
}
