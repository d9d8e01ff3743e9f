// Package audio implements the capture and playback pipelines that move raw
// PCM between the local devices and the transport. Device access lives
// behind the Source and Sink interfaces; see the device subpackage for the
// concrete adapters.
package audio

import "fmt"

// Format specifies PCM audio format parameters.
type Format struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100, 48000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultCaptureFormat returns the wire format for microphone audio.
func DefaultCaptureFormat() Format {
	return Format{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// DefaultPlaybackFormat returns the wire format for assistant audio.
func DefaultPlaybackFormat() Format {
	return Format{
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// Validate checks that the format is usable for s16le PCM processing.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	if f.BitsPerSample != 16 {
		return fmt.Errorf("only 16-bit PCM is supported, got %d bits", f.BitsPerSample)
	}
	return nil
}

// BytesPerFrame returns the size of one sample frame across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// BytesPerSecond returns the audio byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (f Format) DurationMs(bytes int) int {
	if f.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / f.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in
// milliseconds.
func (f Format) BytesForDurationMs(ms int) int {
	return (f.BytesPerSecond() * ms) / 1000
}
