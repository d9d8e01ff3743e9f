package device

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/vocalis-ai/vocalis-go/pkg/core/audio"
)

// FFmpegSource captures microphone audio by running ffmpeg against the
// platform capture backend and reading raw s16le from its stdout. It is the
// fallback for environments where the miniaudio backend is unavailable.
type FFmpegSource struct {
	format audio.Format

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	fn      func(frame []byte)
	opened  bool
	stopped bool
}

// NewFFmpegSource creates an ffmpeg-backed microphone source delivering
// frames in the given format. ffmpeg performs the resampling.
func NewFFmpegSource(format audio.Format) *FFmpegSource {
	return &FFmpegSource{format: format}
}

// Open verifies ffmpeg is available and prepares the capture process.
func (s *FFmpegSource) Open(fn func(frame []byte)) (audio.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return s.format, nil
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return audio.Format{}, errors.New("ffmpeg is required for microphone capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := captureArgs(runtime.GOOS, s.format)
	if err != nil {
		return audio.Format{}, err
	}

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return audio.Format{}, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard

	s.cmd = cmd
	s.stdout = stdout
	s.fn = fn
	s.opened = true
	s.stopped = false
	return s.format, nil
}

// Start launches the capture process and begins delivering frames.
func (s *FFmpegSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return errors.New("capture process is not open")
	}
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg capture: %w", err)
	}

	go s.readLoop(s.stdout, s.fn)
	return nil
}

// readLoop pumps stdout into the frame callback until the process exits.
func (s *FFmpegSource) readLoop(stdout io.Reader, fn func(frame []byte)) {
	buf := make([]byte, 1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			fn(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Stop kills the capture process. Idempotent.
func (s *FFmpegSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened || s.stopped {
		s.opened = false
		return nil
	}
	s.stopped = true
	s.opened = false

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	return nil
}

func captureArgs(goos string, format audio.Format) ([]string, error) {
	common := []string{
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le", "-",
	}
	switch goos {
	case "darwin":
		return append([]string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
		}, common...), nil
	case "linux":
		return append([]string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
		}, common...), nil
	default:
		return nil, fmt.Errorf("microphone capture via ffmpeg is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

// FFplaySink plays PCM by piping it to an ffplay process. ffplay gives no
// consumption feedback, so frame completions are paced against the wall
// clock using the frame duration.
type FFplaySink struct {
	mu       sync.Mutex
	format   audio.Format
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	started  bool
	playhead time.Time
	timers   map[*time.Timer]struct{}
	// gen invalidates completion timers scheduled before a Flush.
	gen int
}

// NewFFplaySink creates an ffplay-backed speaker sink.
func NewFFplaySink() *FFplaySink {
	return &FFplaySink{timers: make(map[*time.Timer]struct{})}
}

// Start launches the ffplay process at the given format. Idempotent.
func (s *FFplaySink) Start(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if _, err := exec.LookPath("ffplay"); err != nil {
		return errors.New("ffplay is required for audio playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	s.format = format
	if err := s.startLocked(); err != nil {
		return err
	}
	s.started = true
	return nil
}

func (s *FFplaySink) startLocked() error {
	s.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(s.format.SampleRate),
		"-ac", strconv.Itoa(s.format.Channels),
		"-i", "pipe:0",
	)
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	s.cmd.Stdout = io.Discard
	s.cmd.Stderr = io.Discard
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.stdin = stdin
	return nil
}

// Enqueue writes a frame to the ffplay pipe and schedules its completion for
// when the frame's audio should have finished playing.
func (s *FFplaySink) Enqueue(frame []byte, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		return errors.New("ffplay is not started")
	}
	if _, err := s.stdin.Write(frame); err != nil {
		return fmt.Errorf("write to ffplay: %w", err)
	}

	if done == nil {
		return nil
	}
	now := time.Now()
	if s.playhead.Before(now) {
		s.playhead = now
	}
	bps := s.format.BytesPerSecond()
	if bps > 0 {
		s.playhead = s.playhead.Add(time.Duration(len(frame)) * time.Second / time.Duration(bps))
	}

	gen := s.gen
	var t *time.Timer
	t = time.AfterFunc(s.playhead.Sub(now), func() {
		s.mu.Lock()
		delete(s.timers, t)
		stale := s.gen != gen
		s.mu.Unlock()
		if !stale {
			done()
		}
	})
	s.timers[t] = struct{}{}
	return nil
}

// Flush discards buffered audio by restarting the ffplay process and cancels
// pending completions.
func (s *FFplaySink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.dropTimersLocked()
	s.killLocked()
	return s.startLocked()
}

// Stop kills the ffplay process and cancels pending completions. Idempotent.
func (s *FFplaySink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	s.dropTimersLocked()
	s.killLocked()
	return nil
}

func (s *FFplaySink) dropTimersLocked() {
	s.gen++
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
	s.playhead = time.Time{}
}

func (s *FFplaySink) killLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
}
