package main

import (
	"sync"

	"github.com/vocalis-ai/vocalis-go/pkg/core/audio"
	"github.com/vocalis-ai/vocalis-go/pkg/core/audio/device"
)

func buildDevices(opts options, capture audio.Format) (audio.Source, audio.Sink) {
	if opts.UseFFmpeg {
		return device.NewFFmpegSource(capture), device.NewFFplaySink()
	}
	return device.NewMalgoSource(capture), device.NewOtoSink()
}

// meteredSource wraps a capture source and tracks the RMS level of the most
// recent frame, for the /status line.
type meteredSource struct {
	inner audio.Source

	mu    sync.Mutex
	level float64
}

func newMeteredSource(inner audio.Source) *meteredSource {
	return &meteredSource{inner: inner}
}

func (m *meteredSource) Open(fn func(frame []byte)) (audio.Format, error) {
	return m.inner.Open(func(frame []byte) {
		m.mu.Lock()
		m.level = audio.RMSEnergy(frame)
		m.mu.Unlock()
		fn(frame)
	})
}

func (m *meteredSource) Start() error { return m.inner.Start() }

func (m *meteredSource) Stop() error { return m.inner.Stop() }

// Level returns the RMS energy of the last captured frame, 0..1.
func (m *meteredSource) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}
