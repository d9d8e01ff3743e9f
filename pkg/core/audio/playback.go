package audio

import (
	"fmt"
	"sync"
)

// Sink accepts PCM frames for an output device and reports per-frame
// completion.
type Sink interface {
	// Start opens the output device at the given format. Idempotent.
	Start(format Format) error

	// Enqueue schedules a frame and invokes done once the device has
	// consumed it. done runs on the device's completion goroutine.
	Enqueue(frame []byte, done func()) error

	// Flush drops all queued frames without invoking their done callbacks
	// and leaves the device ready to accept new frames.
	Flush() error

	// Stop tears down the device. Idempotent.
	Stop() error
}

// Playback owns the output device, applies gain, and tracks the number of
// frames scheduled but not yet completed. When that count drains to zero it
// fires the idle callback, exactly once per drain.
type Playback struct {
	sink   Sink
	format Format
	gain   float64

	mu          sync.Mutex
	playing     bool
	pending     int
	queuedBytes int64
	playedBytes int64
	onIdle      func()
}

// NewPlayback creates a playback pipeline. gain scales samples with clamping
// to the 16-bit range; 1.0 leaves audio untouched.
func NewPlayback(sink Sink, format Format, gain float64) *Playback {
	if gain <= 0 {
		gain = 1.0
	}
	return &Playback{
		sink:   sink,
		format: format,
		gain:   gain,
	}
}

// SetIdleFunc registers the callback fired when the pending frame count
// drains to zero. Must be set before the first Enqueue.
func (p *Playback) SetIdleFunc(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onIdle = fn
}

// Start opens the output device. Idempotent while playing.
func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked()
}

func (p *Playback) startLocked() error {
	if p.playing {
		return nil
	}
	if err := p.sink.Start(p.format); err != nil {
		return fmt.Errorf("open output device: %w", err)
	}
	p.playing = true
	return nil
}

// Enqueue applies gain and schedules a frame on the device. Playback is
// auto-started when idle so a server greeting can arrive before the caller
// explicitly starts streaming.
func (p *Playback) Enqueue(frame []byte) error {
	p.mu.Lock()
	if err := p.startLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	buf := ApplyGain(frame, p.gain)
	p.pending++
	p.queuedBytes += int64(len(buf))
	p.mu.Unlock()

	n := len(buf)
	if err := p.sink.Enqueue(buf, func() { p.complete(n) }); err != nil {
		// Roll the counter back through the normal completion path so the
		// drained state stays consistent.
		p.complete(n)
		return fmt.Errorf("enqueue frame: %w", err)
	}
	return nil
}

// complete decrements the pending counter, clamping at zero, and fires the
// idle callback on the 1 -> 0 transition.
func (p *Playback) complete(bytes int) {
	var fire func()
	p.mu.Lock()
	if p.pending > 0 {
		p.pending--
		p.playedBytes += int64(bytes)
		if p.pending == 0 {
			fire = p.onIdle
		}
	}
	p.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// Clear flushes the device substream and resets the pending counter to zero.
// The device stays ready for new frames; no idle signal is fired. Used on
// interrupt to discard queued speech without racing delayed completions.
func (p *Playback) Clear() error {
	p.mu.Lock()
	p.pending = 0
	p.playedBytes = p.queuedBytes
	playing := p.playing
	p.mu.Unlock()

	if !playing {
		return nil
	}
	if err := p.sink.Flush(); err != nil {
		return fmt.Errorf("flush output device: %w", err)
	}
	return nil
}

// Stop tears down the device. Idempotent.
func (p *Playback) Stop() error {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return nil
	}
	p.playing = false
	p.pending = 0
	p.playedBytes = p.queuedBytes
	p.mu.Unlock()

	return p.sink.Stop()
}

// Playing reports whether the output device is open.
func (p *Playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Pending returns the number of frames scheduled but not yet completed.
func (p *Playback) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// BufferedMs returns how much queued audio has not yet been consumed by the
// device, in milliseconds.
func (p *Playback) BufferedMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format.DurationMs(int(p.queuedBytes - p.playedBytes))
}

// PlayedMs returns how much audio the device has consumed in total, in
// milliseconds.
func (p *Playback) PlayedMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format.DurationMs(int(p.playedBytes))
}
