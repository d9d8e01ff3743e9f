package vocalis

import (
	"sync"
	"time"
)

// echoGuard suppresses microphone capture while the assistant is audible so
// speaker output cannot loop back through the microphone as user speech.
//
// Mute is called synchronously for every inbound audio frame, before the
// frame is queued for playback. Unmuting is conservative: when playback
// drains, a tail timer covers the audio still sitting in the device buffer,
// and only its expiry (or an explicit Unmute on barge-in) re-enables capture.
type echoGuard struct {
	tail time.Duration

	mu    sync.Mutex
	muted bool
	armed bool
	timer *time.Timer

	// onUnmute fires when the tail timer expires. Explicit Unmute calls do
	// not trigger it; the caller already knows.
	onUnmute func()
}

func newEchoGuard(tail time.Duration, onUnmute func()) *echoGuard {
	return &echoGuard{
		tail:     tail,
		onUnmute: onUnmute,
	}
}

// Mute suppresses capture and cancels any pending unmute. Called for every
// inbound audio frame, so it must stay cheap.
func (g *echoGuard) Mute() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.muted = true
	g.cancelTailLocked()
}

// Unmute re-enables capture immediately, discarding any pending tail.
func (g *echoGuard) Unmute() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.muted = false
	g.cancelTailLocked()
}

// PlaybackIdle arms the tail timer. If no new audio arrives before it
// expires, capture unmutes.
func (g *echoGuard) PlaybackIdle() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.muted {
		return
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.armed = true
	g.timer = time.AfterFunc(g.tail, g.expire)
}

// expire is called when the tail timer fires.
func (g *echoGuard) expire() {
	g.mu.Lock()
	if !g.armed {
		// A newer frame re-muted (or the guard was unmuted) after this
		// timer was already committed to firing.
		g.mu.Unlock()
		return
	}
	g.armed = false
	g.muted = false
	callback := g.onUnmute
	g.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// Muted reports whether capture frames should be dropped.
func (g *echoGuard) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

func (g *echoGuard) cancelTailLocked() {
	g.armed = false
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
