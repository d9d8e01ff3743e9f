package vocalis

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vocalis-ai/vocalis-go/pkg/core/audio"
	"github.com/vocalis-ai/vocalis-go/pkg/core/backoff"
)

// Config holds all configuration for a voice session client.
type Config struct {
	// ServerURL is the WebSocket endpoint (ws:// or wss://).
	ServerURL string `json:"server_url"`

	// TenantID identifies the tenant announced after every connect.
	TenantID string `json:"tenant_id"`

	// TenantName is the human-readable tenant name.
	TenantName string `json:"tenant_name"`

	// AuthToken, when set, is sent as a bearer token at connection open.
	AuthToken string `json:"auth_token,omitempty"`

	// AutoReconnect enables automatic reconnection after unexpected
	// disconnects. Default: true.
	AutoReconnect bool `json:"auto_reconnect"`

	// MaxReconnectAttempts caps consecutive reconnect attempts.
	// 0 means unlimited. Default: 5.
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`

	// ReconnectDelayMS is the initial reconnect delay. Default: 1000.
	ReconnectDelayMS int `json:"reconnect_delay_ms"`

	// MaxReconnectDelayMS caps the exponential reconnect delay.
	// Default: 30000.
	MaxReconnectDelayMS int `json:"max_reconnect_delay_ms"`

	// PingIntervalMS is the keep-alive cadence. Default: 30000.
	PingIntervalMS int `json:"ping_interval_ms"`

	// ConnectTimeoutMS bounds each connection attempt. Default: 10000.
	ConnectTimeoutMS int `json:"connect_timeout_ms"`

	// InputSampleRateHz is the capture wire rate. Default: 16000.
	InputSampleRateHz int `json:"input_sample_rate_hz"`

	// OutputSampleRateHz is the playback wire rate. Default: 24000.
	OutputSampleRateHz int `json:"output_sample_rate_hz"`

	// Channels is the wire channel count. Default: 1 (mono).
	Channels int `json:"channels"`

	// BitsPerSample is the wire sample depth. Default: 16.
	BitsPerSample int `json:"bits_per_sample"`

	// BufferSize is the byte size of outbound audio frames. Default: 4096.
	BufferSize int `json:"buffer_size"`

	// PlaybackGain scales playback samples, clamped to the 16-bit range.
	// Default: 1.0.
	PlaybackGain float64 `json:"playback_gain"`

	// UnmuteTailDelayMS is how long after playback drains before the
	// microphone unmutes. Default: 500.
	UnmuteTailDelayMS int `json:"unmute_tail_delay_ms"`

	// EventBufferSize is the event channel capacity. Default: 256.
	EventBufferSize int `json:"event_buffer_size"`

	// Debug enables debug-level logging.
	Debug bool `json:"debug"`

	// Logger, when nil, falls back to slog.Default().
	Logger *slog.Logger `json:"-"`

	// Source overrides the microphone adapter. Nil selects the native
	// miniaudio source.
	Source audio.Source `json:"-"`

	// Sink overrides the speaker adapter. Nil selects the native oto sink.
	Sink audio.Sink `json:"-"`
}

// DefaultConfig returns a Config with production defaults for everything but
// the server endpoint and tenant identity.
func DefaultConfig() Config {
	return Config{
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
		ReconnectDelayMS:     1000,
		MaxReconnectDelayMS:  30000,
		PingIntervalMS:       30000,
		ConnectTimeoutMS:     10000,
		InputSampleRateHz:    16000,
		OutputSampleRateHz:   24000,
		Channels:             1,
		BitsPerSample:        16,
		BufferSize:           4096,
		PlaybackGain:         1.0,
		UnmuteTailDelayMS:    500,
		EventBufferSize:      256,
	}
}

// withDefaults fills zero-valued fields so a hand-built Config behaves like
// DefaultConfig plus overrides.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	// MaxReconnectAttempts is left alone: zero means unlimited.
	if c.ReconnectDelayMS <= 0 {
		c.ReconnectDelayMS = d.ReconnectDelayMS
	}
	if c.MaxReconnectDelayMS <= 0 {
		c.MaxReconnectDelayMS = d.MaxReconnectDelayMS
	}
	if c.PingIntervalMS <= 0 {
		c.PingIntervalMS = d.PingIntervalMS
	}
	if c.ConnectTimeoutMS <= 0 {
		c.ConnectTimeoutMS = d.ConnectTimeoutMS
	}
	if c.InputSampleRateHz <= 0 {
		c.InputSampleRateHz = d.InputSampleRateHz
	}
	if c.OutputSampleRateHz <= 0 {
		c.OutputSampleRateHz = d.OutputSampleRateHz
	}
	if c.Channels <= 0 {
		c.Channels = d.Channels
	}
	if c.BitsPerSample <= 0 {
		c.BitsPerSample = d.BitsPerSample
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.PlaybackGain <= 0 {
		c.PlaybackGain = d.PlaybackGain
	}
	if c.UnmuteTailDelayMS <= 0 {
		c.UnmuteTailDelayMS = d.UnmuteTailDelayMS
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = d.EventBufferSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// validate rejects configurations the session could not run with.
func (c Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}
	if err := c.captureFormat().Validate(); err != nil {
		return fmt.Errorf("capture format: %w", err)
	}
	if err := c.playbackFormat().Validate(); err != nil {
		return fmt.Errorf("playback format: %w", err)
	}
	return nil
}

func (c Config) captureFormat() audio.Format {
	return audio.Format{
		SampleRate:    c.InputSampleRateHz,
		Channels:      c.Channels,
		BitsPerSample: c.BitsPerSample,
	}
}

func (c Config) playbackFormat() audio.Format {
	return audio.Format{
		SampleRate:    c.OutputSampleRateHz,
		Channels:      c.Channels,
		BitsPerSample: c.BitsPerSample,
	}
}

func (c Config) backoffPolicy() backoff.Policy {
	return backoff.Policy{
		InitialDelay: time.Duration(c.ReconnectDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(c.MaxReconnectDelayMS) * time.Millisecond,
		MaxAttempts:  c.MaxReconnectAttempts,
	}
}

func (c Config) unmuteTail() time.Duration {
	return time.Duration(c.UnmuteTailDelayMS) * time.Millisecond
}
