// Package device provides the platform audio adapters behind the audio
// package's Source and Sink interfaces. MalgoSource and OtoSink talk to the
// native audio stack directly; FFmpegSource and FFplaySink shell out to the
// ffmpeg tools for environments where the native backends are unavailable.
package device

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/vocalis-ai/vocalis-go/pkg/core/audio"
)

// MalgoSource captures microphone audio through miniaudio. The device is
// asked for the wire format directly; miniaudio resamples internally, so no
// client-side conversion is needed.
type MalgoSource struct {
	format audio.Format

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	opened bool
}

// NewMalgoSource creates a microphone source delivering frames in the given
// format.
func NewMalgoSource(format audio.Format) *MalgoSource {
	return &MalgoSource{format: format}
}

// Open initializes the audio context and capture device. fn receives raw
// PCM on miniaudio's device thread once Start is called.
func (s *MalgoSource) Open(fn func(frame []byte)) (audio.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return s.format, nil
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return audio.Format{}, wrapMalgoErr("init audio context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.format.Channels)
	deviceConfig.SampleRate = uint32(s.format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			fn(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		return audio.Format{}, wrapMalgoErr("init capture device", err)
	}

	s.ctx = ctx
	s.device = device
	s.opened = true
	return s.format, nil
}

// Start begins capture.
func (s *MalgoSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return fmt.Errorf("capture device is not open")
	}
	if err := s.device.Start(); err != nil {
		return wrapMalgoErr("start capture device", err)
	}
	return nil
}

// Stop halts capture and releases the device and context. Idempotent.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false

	if s.device != nil {
		s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		s.ctx.Uninit()
		s.ctx = nil
	}
	return nil
}

// wrapMalgoErr maps miniaudio access failures to ErrPermissionDenied so
// callers can surface a permission prompt instead of a generic device error.
func wrapMalgoErr(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%s: %w", op, audio.ErrPermissionDenied)
	}
	return fmt.Errorf("%s: %w", op, err)
}
