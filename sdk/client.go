// Package vocalis is the client SDK for Vocalis voice sessions.
//
// A Client owns one WebSocket session plus the local audio pipelines and
// exposes everything that happens as a single ordered event stream. Construct
// it with New, start with Connect, consume Events (or Handle) until Close.
package vocalis

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocalis-ai/vocalis-go/pkg/core"
	"github.com/vocalis-ai/vocalis-go/pkg/core/audio"
	"github.com/vocalis-ai/vocalis-go/pkg/core/audio/device"
	"github.com/vocalis-ai/vocalis-go/pkg/core/metrics"
	"github.com/vocalis-ai/vocalis-go/pkg/core/protocol"
	"github.com/vocalis-ai/vocalis-go/pkg/core/transport"
)

// Client is the main entry point for the SDK. It composes the transport
// session, the capture and playback pipelines, and the echo guard that keeps
// speaker output from looping back through the microphone.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	sessionID string

	session  *transport.Session
	capture  *audio.Capture
	playback *audio.Playback
	guard    *echoGuard
	stats    *metrics.Metrics

	events chan Event

	mu          sync.Mutex
	closed      bool
	dialStarted time.Time
	connectedAt time.Time

	closeOnce sync.Once
	runDone   chan struct{}
}

// New validates the configuration and creates a client. Multiple independent
// clients may coexist in one process. The returned client holds no open
// devices or connections until Connect / StartAudioStreaming.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	hello, err := protocol.Encode(protocol.TenantInfo{
		TenantID:   cfg.TenantID,
		TenantName: cfg.TenantName,
	})
	if err != nil {
		return nil, err
	}

	session, err := transport.New(transport.Config{
		URL:            cfg.ServerURL,
		AuthToken:      cfg.AuthToken,
		HelloFrame:     hello,
		ConnectTimeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		PingInterval:   time.Duration(cfg.PingIntervalMS) * time.Millisecond,
		AutoReconnect:  cfg.AutoReconnect,
		Backoff:        cfg.backoffPolicy(),
		EventBuffer:    cfg.EventBufferSize,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	source := cfg.Source
	if source == nil {
		source = device.NewMalgoSource(cfg.captureFormat())
	}
	sink := cfg.Sink
	if sink == nil {
		sink = device.NewOtoSink()
	}

	c := &Client{
		cfg:       cfg,
		logger:    cfg.Logger,
		sessionID: uuid.NewString(),
		session:   session,
		capture:   audio.NewCapture(source, cfg.captureFormat(), cfg.BufferSize),
		playback:  audio.NewPlayback(sink, cfg.playbackFormat(), cfg.PlaybackGain),
		stats:     metrics.New(""),
		events:    make(chan Event, cfg.EventBufferSize),
		runDone:   make(chan struct{}),
	}
	c.guard = newEchoGuard(cfg.unmuteTail(), func() {
		c.logger.Debug("microphone unmuted after playback tail")
	})
	c.playback.SetIdleFunc(c.guard.PlaybackIdle)

	go c.run()
	return c, nil
}

// Connect starts the connection sequence. It returns immediately; the outcome
// arrives as a ConnectedEvent or an ErrorEvent.
func (c *Client) Connect() {
	c.mu.Lock()
	c.dialStarted = time.Now()
	c.mu.Unlock()

	c.logger.Info("connecting", "url", c.cfg.ServerURL, "session_id", c.sessionID)
	c.session.Connect()
}

// Disconnect closes the connection and suppresses reconnection. The audio
// pipelines stay as they are; captured frames are dropped until the next
// successful Connect.
func (c *Client) Disconnect() {
	c.session.Disconnect()
}

// IsConnected reports whether the session is currently connected.
func (c *Client) IsConnected() bool {
	return c.session.Connected()
}

// State returns the current connection state.
func (c *Client) State() transport.State {
	return c.session.State()
}

// StartAudioStreaming opens the microphone and speaker pipelines. The session
// must already be connected; otherwise no device is touched and the call
// fails with an audio capture error.
func (c *Client) StartAudioStreaming() error {
	if !c.session.Connected() {
		serr := core.NewAudioCaptureFailed("Not connected to server", nil)
		c.stats.RecordError(string(serr.Kind))
		c.emit(ErrorEvent{Err: serr})
		return serr
	}

	if err := c.playback.Start(); err != nil {
		serr := core.NewAudioPlaybackFailed("failed to open audio output", err)
		c.stats.RecordError(string(serr.Kind))
		c.emit(ErrorEvent{Err: serr})
		return serr
	}

	if err := c.capture.Start(c.handleCaptureFrame); err != nil {
		var serr *core.Error
		if errors.Is(err, audio.ErrPermissionDenied) {
			serr = core.NewAudioPermissionDenied("microphone permission denied")
		} else {
			serr = core.NewAudioCaptureFailed("failed to start audio capture", err)
		}
		c.stats.RecordError(string(serr.Kind))
		c.emit(ErrorEvent{Err: serr})
		return serr
	}

	c.logger.Info("audio streaming started", "session_id", c.sessionID)
	return nil
}

// StopAudioStreaming stops both audio pipelines unconditionally. Safe to call
// in any state.
func (c *Client) StopAudioStreaming() {
	wasStreaming := c.capture.Capturing()

	if err := c.capture.Stop(); err != nil {
		c.logger.Warn("stopping capture", "error", err)
	}
	if err := c.playback.Stop(); err != nil {
		c.logger.Warn("stopping playback", "error", err)
	}

	if wasStreaming {
		c.logger.Info("audio streaming stopped", "session_id", c.sessionID)
	}
}

// IsStreaming reports whether the microphone pipeline is delivering frames.
func (c *Client) IsStreaming() bool {
	return c.capture.Capturing()
}

// SendMessage writes raw text to the server without protocol framing.
func (c *Client) SendMessage(text string) error {
	if err := c.session.SendText([]byte(text)); err != nil {
		return c.sendFailed(err)
	}
	c.stats.RecordMessage("raw", "outbound")
	return nil
}

// SendChatMessage sends a typed user message.
func (c *Client) SendChatMessage(text string) error {
	return c.sendControl(protocol.TypeChatMessage, protocol.ChatMessage{Text: text})
}

// SendLlmResponse answers a previously received LlmRequiredEvent.
func (c *Client) SendLlmResponse(text string) error {
	return c.sendControl(protocol.TypeLlmResponse, protocol.LlmResponse{Text: text})
}

func (c *Client) sendControl(wireType string, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		serr := core.NewMessageSendFailed("failed to encode message", err)
		c.stats.RecordError(string(serr.Kind))
		return serr
	}
	if err := c.session.SendText(data); err != nil {
		return c.sendFailed(err)
	}
	c.stats.RecordMessage(wireType, "outbound")
	return nil
}

func (c *Client) sendFailed(err error) error {
	serr, ok := core.AsError(err)
	if !ok {
		serr = core.NewMessageSendFailed("failed to send message", err)
	}
	c.stats.RecordError(string(serr.Kind))
	return serr
}

// EnsurePlayback opens the output device ahead of the first inbound frame so
// a server greeting plays without device-open latency. It does not affect the
// echo guard; nothing is capturing yet.
func (c *Client) EnsurePlayback() error {
	if err := c.playback.Start(); err != nil {
		serr := core.NewAudioPlaybackFailed("failed to open audio output", err)
		c.stats.RecordError(string(serr.Kind))
		return serr
	}
	return nil
}

// ClearAudioQueue drops all queued playback audio. The device stays open and
// immediately accepts new frames.
func (c *Client) ClearAudioQueue() {
	if err := c.playback.Clear(); err != nil {
		c.logger.Warn("clearing playback queue", "error", err)
	}
}

// BufferedMs reports how many milliseconds of queued playback audio the
// device has not consumed yet.
func (c *Client) BufferedMs() int {
	return c.playback.BufferedMs()
}

// PlayedMs reports how many milliseconds of queued playback audio the device
// has consumed.
func (c *Client) PlayedMs() int {
	return c.playback.PlayedMs()
}

// Events returns the client's event channel. It is closed by Close.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Metrics returns the client's metrics registry, for mounting its Handler on
// an HTTP server.
func (c *Client) Metrics() *metrics.Metrics {
	return c.stats
}

// SessionID returns the correlation ID attached to this client's logs and
// lifetime. It is generated once at construction and survives reconnects.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Close stops streaming, disconnects, and closes the event channel. Safe to
// call more than once and in any component state.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.StopAudioStreaming()
		_ = c.session.Close()
		// The run loop drains remaining transport events before the event
		// channel is closed underneath a consumer.
		<-c.runDone

		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()

		c.logger.Info("session closed", "session_id", c.sessionID)
	})
	return nil
}

// run consumes transport events in order until the transport closes its
// channel. All connection-derived facade events originate here, which is what
// keeps their ordering consistent.
func (c *Client) run() {
	defer close(c.runDone)
	for ev := range c.session.Events() {
		c.handleTransportEvent(ev)
	}
}

func (c *Client) handleTransportEvent(ev transport.Event) {
	switch ev := ev.(type) {
	case transport.Opened:
		c.mu.Lock()
		delay := time.Since(c.dialStarted)
		c.connectedAt = time.Now()
		c.mu.Unlock()
		c.stats.RecordSessionStart(delay)
		c.emit(StateChangedEvent{State: transport.StateConnected})
		c.emit(ConnectedEvent{})

	case transport.Closed:
		c.mu.Lock()
		var lifetime time.Duration
		if !c.connectedAt.IsZero() {
			lifetime = time.Since(c.connectedAt)
			c.connectedAt = time.Time{}
		}
		c.mu.Unlock()
		status := "dropped"
		if ev.Reason == "manual" {
			status = "completed"
		}
		c.stats.RecordSessionEnd(status, lifetime)
		c.emit(StateChangedEvent{State: transport.StateDisconnected})
		c.emit(DisconnectedEvent{Reason: ev.Reason})

	case transport.Reconnecting:
		c.mu.Lock()
		// The next dial begins when the backoff timer fires.
		c.dialStarted = time.Now().Add(ev.Delay)
		c.mu.Unlock()
		c.stats.RecordReconnect()
		c.emit(StateChangedEvent{State: transport.StateReconnecting})
		c.emit(ReconnectingEvent{Attempt: ev.Attempt, Delay: ev.Delay})

	case transport.BinaryFrame:
		c.handleAudioFrame(ev.Data)

	case transport.TextFrame:
		c.handleControlFrame(ev.Data)

	case transport.Failure:
		c.stats.RecordError(string(ev.Err.Kind))
		c.emit(ErrorEvent{Err: ev.Err})
	}
}

// handleAudioFrame routes one inbound PCM frame to playback. The mute must
// land before the frame is queued: once the sink has the bytes they can reach
// the speaker at any moment.
func (c *Client) handleAudioFrame(frame []byte) {
	c.guard.Mute()

	if err := c.playback.Enqueue(frame); err != nil {
		serr := core.NewAudioPlaybackFailed("failed to queue audio for playback", err)
		c.stats.RecordError(string(serr.Kind))
		c.emit(ErrorEvent{Err: serr})
		return
	}

	if c.cfg.Debug {
		c.logger.Debug("audio frame received", "bytes", len(frame))
	}
	c.stats.RecordAudio("received", len(frame))
	c.emit(AudioReceivedEvent{Bytes: len(frame)})
}

func (c *Client) handleControlFrame(raw []byte) {
	switch m := protocol.Decode(raw).(type) {
	case protocol.Transcript:
		c.stats.RecordMessage(protocol.TypeTranscript, "inbound")
		c.emit(TranscriptEvent{
			Text:             m.Text,
			IsFinal:          m.IsFinal,
			Language:         m.Language,
			RequiresResponse: m.RequiresResponse,
		})

	case protocol.AssistantMessage:
		c.stats.RecordMessage(protocol.TypeAssistantMessage, "inbound")
		c.emit(AssistantMessageEvent{Text: m.Text})

	case protocol.FillerStarted:
		c.stats.RecordMessage(protocol.TypeFillerStarted, "inbound")
		c.emit(FillerStartedEvent{})

	case protocol.LlmRequired:
		c.stats.RecordMessage(protocol.TypeLlmRequired, "inbound")
		c.emit(LlmRequiredEvent{Question: m.Question})

	case protocol.Interrupt:
		// Barge-in. Flush queued audio and unmute before the consumer
		// learns about it, so the event never races its own effects.
		c.ClearAudioQueue()
		c.guard.Unmute()
		c.stats.RecordMessage(protocol.TypeInterrupt, "inbound")
		c.emit(InterruptEvent{})

	case protocol.Ready:
		c.stats.RecordMessage(protocol.TypeReady, "inbound")
		c.emit(ReadyEvent{})

	case protocol.Diagnostic:
		c.logger.Debug("server diagnostic", "code", m.Code, "message", m.Message)
		c.stats.RecordMessage(protocol.TypeDiagnostic, "inbound")
		c.emit(DiagnosticEvent{Code: m.Code, Message: m.Message})

	case protocol.Unknown:
		c.stats.RecordMessage("unknown", "inbound")
		c.emit(MessageEvent{Text: m.Raw})

	default:
		// Outbound-only variants echoed back by a misbehaving server.
		// Forward verbatim like any unrecognized text.
		c.stats.RecordMessage("unknown", "inbound")
		c.emit(MessageEvent{Text: string(raw)})
	}
}

// handleCaptureFrame runs on the capture device goroutine for every wire
// frame the microphone produces. Frames that cannot be sent right now are
// dropped, never buffered; stale audio is worse than lost audio.
func (c *Client) handleCaptureFrame(frame []byte) {
	if c.guard.Muted() {
		c.stats.RecordFrameDropped("muted")
		return
	}
	if !c.session.Connected() {
		c.stats.RecordFrameDropped("not_connected")
		return
	}

	if err := c.session.SendBinary(frame); err != nil {
		// Connection lost between the gate check and the write.
		c.stats.RecordFrameDropped("send_failed")
		c.logger.Warn("dropping captured frame", "error", err)
		return
	}

	c.stats.RecordAudio("sent", len(frame))
	c.emit(AudioSentEvent{Bytes: len(frame)})
}

// emit delivers an event without ever blocking an internal goroutine. A
// consumer that stops draining loses events rather than wedging the session.
func (c *Client) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event buffer full, dropping event", "type", ev.EventType())
	}
}
