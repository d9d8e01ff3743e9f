package audio

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPermissionDenied is reported by a Source when the platform refuses
// microphone access. The capture pipeline maps it to a permission error
// instead of a generic capture failure.
var ErrPermissionDenied = errors.New("audio input permission denied")

// Source provides raw PCM frames from an input device.
type Source interface {
	// Open prepares the device and returns the native format frames will
	// be delivered in. fn may be called from a device thread as soon as
	// Start is invoked.
	Open(fn func(frame []byte)) (Format, error)

	// Start begins frame delivery. Open must have succeeded.
	Start() error

	// Stop halts delivery and releases the device. Idempotent.
	Stop() error
}

// Capture owns the input device and converts its native frames to the wire
// format, emitting fixed-size frames to the registered consumer.
type Capture struct {
	source Source
	wire   Format
	// bufSize is the byte size of emitted frames.
	bufSize int

	mu        sync.Mutex
	capturing bool
	conv      *converter
	assembly  []byte
	onFrame   func(frame []byte)
}

// NewCapture creates a capture pipeline targeting the given wire format.
// bufferSize is the byte size of the frames handed to the consumer.
func NewCapture(source Source, wire Format, bufferSize int) *Capture {
	return &Capture{
		source:  source,
		wire:    wire,
		bufSize: bufferSize,
	}
}

// Start opens the input device and begins delivering wire-format frames to
// onFrame. Frames arrive on the device's callback goroutine. Idempotent
// while capturing.
func (c *Capture) Start(onFrame func(frame []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		return nil
	}

	c.onFrame = onFrame
	native, err := c.source.Open(c.handleNative)
	if err != nil {
		c.onFrame = nil
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("open input device: %w", err)
	}
	if native.SampleRate == 0 {
		_ = c.source.Stop()
		c.onFrame = nil
		return fmt.Errorf("input device reports no sample rate (unavailable or virtual device)")
	}

	c.conv = newConverter(native, c.wire)
	c.assembly = c.assembly[:0]

	if err := c.source.Start(); err != nil {
		_ = c.source.Stop()
		c.onFrame = nil
		return fmt.Errorf("start input device: %w", err)
	}

	c.capturing = true
	return nil
}

// handleNative converts one native buffer and emits any complete wire-format
// frames. Runs on the source's delivery goroutine.
func (c *Capture) handleNative(frame []byte) {
	c.mu.Lock()
	if c.onFrame == nil {
		// Stopped; drop frames still in flight from the device thread.
		c.mu.Unlock()
		return
	}
	if c.conv != nil {
		frame = c.conv.convert(frame)
	}
	c.assembly = append(c.assembly, frame...)

	var out [][]byte
	for len(c.assembly) >= c.bufSize {
		chunk := make([]byte, c.bufSize)
		copy(chunk, c.assembly[:c.bufSize])
		c.assembly = c.assembly[c.bufSize:]
		out = append(out, chunk)
	}
	fn := c.onFrame
	c.mu.Unlock()

	for _, chunk := range out {
		fn(chunk)
	}
}

// Stop tears down the device and consumer. Idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return nil
	}
	c.capturing = false
	c.onFrame = nil
	c.assembly = nil
	c.conv = nil
	c.mu.Unlock()

	// source.Stop may join the device thread, and a delivery in flight on
	// that thread blocks in handleNative until the mutex is free.
	return c.source.Stop()
}

// Capturing reports whether the pipeline is actively delivering frames.
func (c *Capture) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}
