package device

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/vocalis-ai/vocalis-go/pkg/core/audio"
)

// otoEntry is one queued frame plus its completion callback.
type otoEntry struct {
	data []byte
	done func()
}

// OtoSink plays PCM through the system speaker via oto. Frames are queued and
// pulled by the player's read loop; a frame's completion fires once its last
// byte has been handed to the device buffer.
//
// oto allows a single context per process, so the context is created on the
// first Start and kept across Stop.
type OtoSink struct {
	mu     sync.Mutex
	cond   *sync.Cond
	otoCtx *oto.Context
	format audio.Format
	player *oto.Player
	queue  []otoEntry
	// offset is the read position within the head queue entry.
	offset int
	// gen invalidates readers of flushed players so they exit instead of
	// stealing frames queued afterwards.
	gen int
}

// NewOtoSink creates a speaker sink. The device format is fixed by the first
// Start call.
func NewOtoSink() *OtoSink {
	s := &OtoSink{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start initializes the oto context at the given format. Idempotent; calling
// again with a different format is an error because the process-wide context
// cannot be reconfigured.
func (s *OtoSink) Start(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.otoCtx != nil {
		if format.SampleRate != s.format.SampleRate || format.Channels != s.format.Channels {
			return fmt.Errorf("speaker already initialized at %d Hz, cannot reopen at %d Hz",
				s.format.SampleRate, format.SampleRate)
		}
		return nil
	}

	opts := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		// Small device buffer keeps latency low at the cost of underrun
		// headroom.
		BufferSize: 100 * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	s.otoCtx = otoCtx
	s.format = format
	return nil
}

// Enqueue queues a frame for playback. The player is created lazily on the
// first frame so the speaker stays silent until there is something to play.
func (s *OtoSink) Enqueue(frame []byte, done func()) error {
	s.mu.Lock()
	if s.otoCtx == nil {
		s.mu.Unlock()
		return errors.New("speaker is not started")
	}
	s.queue = append(s.queue, otoEntry{data: frame, done: done})
	if s.player == nil {
		reader := &otoReader{sink: s, gen: s.gen}
		s.player = s.otoCtx.NewPlayer(reader)
		s.player.Play()
	}
	s.cond.Signal()
	s.mu.Unlock()
	return nil
}

// Flush drops all queued frames without firing their completions and tears
// down the current player. The next Enqueue starts a fresh one.
func (s *OtoSink) Flush() error {
	s.mu.Lock()
	s.queue = nil
	s.offset = 0
	s.gen++
	player := s.player
	s.player = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		// Pause stops audio immediately, Reset clears oto's internal
		// buffer so stale audio cannot bleed into the next player.
		player.Pause()
		player.Reset()
		player.Close()
	}
	return nil
}

// Stop flushes the queue and releases the player. The oto context persists
// for the life of the process. Idempotent.
func (s *OtoSink) Stop() error {
	return s.Flush()
}

// otoReader feeds one player generation from the sink's queue. It blocks
// until frames arrive and reports EOF once the sink has moved on to a newer
// generation.
type otoReader struct {
	sink *OtoSink
	gen  int
}

func (r *otoReader) Read(p []byte) (int, error) {
	s := r.sink
	s.mu.Lock()

	for r.gen == s.gen && len(s.queue) == 0 {
		s.cond.Wait()
	}
	if r.gen != s.gen {
		s.mu.Unlock()
		return 0, io.EOF
	}

	var dones []func()
	n := 0
	for n < len(p) && len(s.queue) > 0 {
		entry := s.queue[0]
		c := copy(p[n:], entry.data[s.offset:])
		n += c
		s.offset += c
		if s.offset == len(entry.data) {
			if entry.done != nil {
				dones = append(dones, entry.done)
			}
			s.queue = s.queue[1:]
			s.offset = 0
		}
	}
	s.mu.Unlock()

	for _, done := range dones {
		done()
	}
	return n, nil
}
