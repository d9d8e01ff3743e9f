// Package transport owns the persistent WebSocket connection to the voice
// server: the connect/reconnect state machine, the keep-alive pinger, and
// raw text/binary frame IO. Protocol semantics live above it; the transport
// moves opaque frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vocalis-ai/vocalis-go/pkg/core"
	"github.com/vocalis-ai/vocalis-go/pkg/core/backoff"
)

// State is the connection lifecycle state. Transitions happen only inside
// the session's state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultEventBuffer    = 256
)

// Config configures a transport session.
type Config struct {
	// URL is the WebSocket endpoint (ws:// or wss://).
	URL string

	// AuthToken, when set, is attached as an Authorization bearer header
	// at connection open.
	AuthToken string

	// HelloFrame, when set, is written as a text frame immediately after
	// every successful open, before the Opened event fires.
	HelloFrame []byte

	// ConnectTimeout bounds each dial. Default 10s.
	ConnectTimeout time.Duration

	// PingInterval is the keep-alive cadence while connected. Default 30s.
	PingInterval time.Duration

	// WriteTimeout bounds each frame write. Default 5s.
	WriteTimeout time.Duration

	// AutoReconnect enables reconnect scheduling after unexpected
	// disconnects.
	AutoReconnect bool

	// Backoff shapes reconnect delays and the attempt limit.
	Backoff backoff.Policy

	// EventBuffer is the event channel capacity. Default 256.
	EventBuffer int

	Logger *slog.Logger
}

// wsConn is the subset of *websocket.Conn the session uses. Tests drive a
// fake implementation.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// dialFunc opens a connection. Swappable in tests.
type dialFunc func(ctx context.Context, rawURL string, header http.Header) (wsConn, error)

// Session is the reconnecting WebSocket session. Create with New, start with
// Connect, consume Events until Close.
type Session struct {
	cfg    Config
	logger *slog.Logger
	dial   dialFunc
	events chan Event

	mu       sync.Mutex
	state    State
	conn     wsConn
	manual   bool
	attempts int
	// gen identifies the current connection epoch. Dial results, read
	// loops, and reconnect timers carry the epoch they were started in
	// and abort when it has moved on.
	gen            int
	reconnectTimer *time.Timer
	pingStop       chan struct{}
	closed         bool

	// writeMu serializes frame writes; gorilla connections allow one
	// concurrent writer.
	writeMu sync.Mutex
}

// New validates the configuration and creates a session. The URL must be a
// well-formed ws:// or wss:// endpoint; a malformed URL fails here rather
// than on Connect.
func New(cfg Config) (*Session, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", cfg.URL)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.EventBuffer),
	}
	s.dial = s.dialWebSocket
	return s, nil
}

// Events returns the session's event channel. It is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session is currently connected.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Connect starts a fresh connection cycle. It is a no-op with a logged
// warning unless the session is disconnected; the reconnect machinery owns
// progress in every other state.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("connect ignored: session closed")
		return
	}
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		s.logger.Warn("connect ignored", "state", state.String())
		return
	}
	s.manual = false
	s.attempts = 0
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.mu.Unlock()

	go s.dialAndRun(gen)
}

// dialAndRun performs one dial attempt for the given epoch and, on success,
// starts the connection's read loop and pinger.
func (s *Session) dialAndRun(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	if s.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	conn, err := s.dial(ctx, s.cfg.URL, header)

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.state = StateDisconnected
		var authErr *authRejectedError
		if errors.As(err, &authErr) {
			// Retrying with the same token cannot succeed, so no
			// reconnect is scheduled.
			s.emitLocked(Failure{Err: core.NewAuthenticationFailed(authErr.Error())})
		} else {
			s.emitLocked(Failure{Err: core.NewConnectionFailed("failed to connect to server", err)})
			s.scheduleReconnectLocked(gen)
		}
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.attempts = 0
	pingStop := make(chan struct{})
	s.pingStop = pingStop
	s.mu.Unlock()

	// The hello frame announces the session before anything else flows;
	// the Opened event must not fire until it is on the wire.
	if len(s.cfg.HelloFrame) > 0 {
		if err := s.writeFrame(conn, websocket.TextMessage, s.cfg.HelloFrame); err != nil {
			s.mu.Lock()
			if gen == s.gen && !s.closed {
				s.stopTimersLocked()
				s.closeConnLocked()
				s.state = StateDisconnected
				s.emitLocked(Failure{Err: core.NewConnectionFailed("failed to send session info", err)})
				s.scheduleReconnectLocked(gen)
			}
			s.mu.Unlock()
			return
		}
	}

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.emitLocked(Opened{})
	s.mu.Unlock()

	s.logger.Info("connected", "url", s.cfg.URL)

	go s.readLoop(conn, gen)
	go s.pinger(conn, pingStop)
}

// readLoop pumps inbound frames until the connection dies.
func (s *Session) readLoop(conn wsConn, gen int) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(gen, err)
			return
		}
		s.mu.Lock()
		if gen != s.gen || s.closed {
			s.mu.Unlock()
			return
		}
		switch messageType {
		case websocket.TextMessage:
			s.emitLocked(TextFrame{Data: data})
		case websocket.BinaryMessage:
			s.emitLocked(BinaryFrame{Data: data})
		}
		s.mu.Unlock()
	}
}

// handleReadError tears down a dead connection and decides whether to
// reconnect.
func (s *Session) handleReadError(gen int, err error) {
	reason := "connection error"
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reason = "server closed connection"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	s.gen++
	s.stopTimersLocked()
	s.closeConnLocked()
	s.state = StateDisconnected
	s.emitLocked(Closed{Reason: reason, Err: err})
	if !s.manual && s.cfg.AutoReconnect {
		s.scheduleReconnectLocked(s.gen)
	}
}

// scheduleReconnectLocked arms the next reconnect attempt, or gives up when
// the policy is exhausted. Caller holds mu.
func (s *Session) scheduleReconnectLocked(gen int) {
	if s.manual || !s.cfg.AutoReconnect {
		return
	}
	s.attempts++
	attempt := s.attempts
	if s.cfg.Backoff.Exhausted(attempt) {
		s.state = StateDisconnected
		s.logger.Error("reconnect attempts exhausted", "attempts", s.cfg.Backoff.MaxAttempts)
		s.emitLocked(Failure{Err: core.NewReconnectionFailed(s.cfg.Backoff.MaxAttempts, nil)})
		return
	}

	delay := s.cfg.Backoff.Delay(attempt)
	s.state = StateReconnecting
	s.emitLocked(Reconnecting{Attempt: attempt, Delay: delay})
	s.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)

	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if gen != s.gen || s.closed || s.manual {
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.mu.Unlock()
		s.dialAndRun(gen)
	})
}

// Disconnect manually closes the connection and suppresses auto-reconnect
// until the next Connect. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.manual = true
	s.gen++
	s.stopTimersLocked()
	wasConnected := s.state == StateConnected
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
	}
	s.closeConnLocked()
	s.state = StateDisconnected
	if wasConnected {
		s.emitLocked(Closed{Reason: "manual"})
	}
}

// Close disconnects and closes the event channel. The session cannot be
// reused afterwards.
func (s *Session) Close() error {
	s.Disconnect()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// SendText writes a text frame. Fails unless connected.
func (s *Session) SendText(data []byte) error {
	conn, err := s.connForWrite()
	if err != nil {
		return err
	}
	if err := s.writeFrame(conn, websocket.TextMessage, data); err != nil {
		return core.NewMessageSendFailed("failed to send message", err)
	}
	return nil
}

// SendBinary writes a binary frame. Fails unless connected.
func (s *Session) SendBinary(data []byte) error {
	conn, err := s.connForWrite()
	if err != nil {
		return err
	}
	if err := s.writeFrame(conn, websocket.BinaryMessage, data); err != nil {
		return core.NewMessageSendFailed("failed to send audio", err)
	}
	return nil
}

func (s *Session) connForWrite() (wsConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.conn == nil {
		return nil, core.NewMessageSendFailed("not connected to server", nil)
	}
	return s.conn, nil
}

func (s *Session) writeFrame(conn wsConn, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}

// pinger sends keep-alive pings until the connection's stop channel closes.
// Ping failures are logged only; the read loop notices a dead connection.
func (s *Session) pinger(conn wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				s.logger.Warn("keep-alive ping failed", "error", err)
			}
		}
	}
}

// stopTimersLocked cancels the reconnect timer and the pinger. Caller holds
// mu.
func (s *Session) stopTimersLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
}

func (s *Session) closeConnLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// emitLocked delivers an event without blocking; a full buffer drops the
// event with a warning. Caller holds mu.
func (s *Session) emitLocked(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event buffer full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

// authRejectedError marks a handshake the server refused for auth reasons.
type authRejectedError struct {
	status int
	detail string
}

func (e *authRejectedError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("server rejected credentials (status %d): %s", e.status, e.detail)
	}
	return fmt.Sprintf("server rejected credentials (status %d)", e.status)
}

// dialWebSocket is the production dial path.
func (s *Session) dialWebSocket(ctx context.Context, rawURL string, header http.Header) (wsConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, &authRejectedError{status: resp.StatusCode, detail: string(body)}
			}
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}
