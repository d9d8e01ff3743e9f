package vocalis

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vocalis-ai/vocalis-go/pkg/core"
	"github.com/vocalis-ai/vocalis-go/pkg/core/audio"
	"github.com/vocalis-ai/vocalis-go/pkg/core/transport"
)

// fakeSource stands in for the microphone. Tests push frames by hand.
type fakeSource struct {
	mu      sync.Mutex
	format  audio.Format
	openErr error
	fn      func(frame []byte)
	opens   int
	stops   int
}

func (s *fakeSource) Open(fn func(frame []byte)) (audio.Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return audio.Format{}, s.openErr
	}
	s.opens++
	s.fn = fn
	return s.format, nil
}

func (s *fakeSource) Start() error { return nil }

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.fn = nil
	return nil
}

func (s *fakeSource) push(frame []byte) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *fakeSource) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// fakeSink records queued playback frames; completions fire when the test
// calls completeAll.
type fakeSink struct {
	mu      sync.Mutex
	starts  int
	frames  [][]byte
	dones   []func()
	flushes int
	stops   int
}

func (s *fakeSink) Start(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return nil
}

func (s *fakeSink) Enqueue(frame []byte, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(frame))
	copy(buf, frame)
	s.frames = append(s.frames, buf)
	s.dones = append(s.dones, done)
	return nil
}

func (s *fakeSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dones = nil
	s.flushes++
	return nil
}

func (s *fakeSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.dones = nil
	return nil
}

func (s *fakeSink) completeAll() {
	s.mu.Lock()
	dones := s.dones
	s.dones = nil
	s.mu.Unlock()
	for _, done := range dones {
		done()
	}
}

func (s *fakeSink) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *fakeSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

type wireFrame struct {
	messageType int
	data        []byte
}

// wsServer is a real WebSocket endpoint the client dials. Frames received
// from the client land on frames; tests write back through send.
type wsServer struct {
	srv    *httptest.Server
	frames chan wireFrame

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{frames: make(chan wireFrame, 64)}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.frames <- wireFrame{messageType: mt, data: data}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// send writes to the most recently accepted connection.
func (s *wsServer) send(t *testing.T, messageType int, data []byte) {
	t.Helper()
	s.mu.Lock()
	if len(s.conns) == 0 {
		s.mu.Unlock()
		t.Fatalf("no client connection to write to")
	}
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	if err := conn.WriteMessage(messageType, data); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func (s *wsServer) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *wsServer) nextFrame(t *testing.T) wireFrame {
	t.Helper()
	select {
	case fr := <-s.frames:
		return fr
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a client frame")
	}
	return wireFrame{}
}

func (s *wsServer) expectNoFrame(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case fr := <-s.frames:
		t.Fatalf("unexpected client frame: type=%d data=%q", fr.messageType, fr.data)
	case <-time.After(wait):
	}
}

func newTestClient(t *testing.T, serverURL string, mutate func(*Config)) (*Client, *fakeSource, *fakeSink) {
	t.Helper()
	src := &fakeSource{format: audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}}
	sink := &fakeSink{}

	cfg := DefaultConfig()
	cfg.ServerURL = serverURL
	cfg.TenantID = "tenant-1"
	cfg.TenantName = "Acme Support"
	cfg.BufferSize = 320
	cfg.UnmuteTailDelayMS = 20
	cfg.ReconnectDelayMS = 10
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Source = src
	cfg.Sink = sink
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, src, sink
}

func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatalf("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for an event")
	}
	return nil
}

// awaitType discards events until one of the wanted type arrives.
func awaitType(t *testing.T, c *Client, want string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %q", want)
			}
			if ev.EventType() == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", want)
		}
	}
}

func expectNoEvent(t *testing.T, c *Client, wait time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if ok {
			t.Fatalf("unexpected event %q", ev.EventType())
		}
	case <-time.After(wait):
	}
}

// connectClient connects and consumes the tenant hello on the server side.
func connectClient(t *testing.T, c *Client, s *wsServer) {
	t.Helper()
	c.Connect()
	awaitType(t, c, "connected")
	fr := s.nextFrame(t)
	if fr.messageType != websocket.TextMessage {
		t.Fatalf("hello frame type = %d, want text", fr.messageType)
	}
}

func TestClientConnectEmitsStateThenConnected(t *testing.T) {
	s := newWSServer(t)
	c, _, _ := newTestClient(t, s.url(), nil)

	c.Connect()

	st, ok := nextEvent(t, c).(StateChangedEvent)
	if !ok || st.State != transport.StateConnected {
		t.Fatalf("first event = %#v, want StateChangedEvent{connected}", st)
	}
	if _, ok := nextEvent(t, c).(ConnectedEvent); !ok {
		t.Fatalf("second event is not ConnectedEvent")
	}
	if !c.IsConnected() {
		t.Fatalf("IsConnected() = false after ConnectedEvent")
	}
	if c.State() != transport.StateConnected {
		t.Fatalf("State() = %v, want connected", c.State())
	}
}

func TestClientSendsTenantInfoOnConnect(t *testing.T) {
	s := newWSServer(t)
	c, _, _ := newTestClient(t, s.url(), nil)

	c.Connect()
	awaitType(t, c, "connected")

	fr := s.nextFrame(t)
	var hello struct {
		Type       string `json:"type"`
		TenantID   string `json:"tenant_id"`
		TenantName string `json:"tenant_name"`
	}
	if err := json.Unmarshal(fr.data, &hello); err != nil {
		t.Fatalf("hello frame is not JSON: %v", err)
	}
	if hello.Type != "tenant_info" || hello.TenantID != "tenant-1" || hello.TenantName != "Acme Support" {
		t.Fatalf("hello = %+v, want tenant_info for tenant-1", hello)
	}
}

func TestClientStartStreamingRequiresConnection(t *testing.T) {
	s := newWSServer(t)
	c, src, _ := newTestClient(t, s.url(), nil)

	err := c.StartAudioStreaming()
	serr, ok := core.AsError(err)
	if !ok {
		t.Fatalf("StartAudioStreaming error = %v, want *core.Error", err)
	}
	if serr.Kind != core.KindAudioCaptureFailed {
		t.Fatalf("kind = %v, want %v", serr.Kind, core.KindAudioCaptureFailed)
	}
	if serr.Message != "Not connected to server" {
		t.Fatalf("message = %q, want %q", serr.Message, "Not connected to server")
	}
	if src.openCount() != 0 {
		t.Fatalf("microphone opened %d times while disconnected, want 0", src.openCount())
	}

	ev := awaitType(t, c, "error").(ErrorEvent)
	if ev.Err.Kind != core.KindAudioCaptureFailed {
		t.Fatalf("error event kind = %v, want %v", ev.Err.Kind, core.KindAudioCaptureFailed)
	}
}

func TestClientStartStreamingPermissionDenied(t *testing.T) {
	s := newWSServer(t)
	c, src, _ := newTestClient(t, s.url(), nil)
	src.openErr = audio.ErrPermissionDenied

	connectClient(t, c, s)

	err := c.StartAudioStreaming()
	serr, ok := core.AsError(err)
	if !ok || serr.Kind != core.KindAudioPermissionDenied {
		t.Fatalf("error = %v, want kind %v", err, core.KindAudioPermissionDenied)
	}
	if c.IsStreaming() {
		t.Fatalf("IsStreaming() = true after a denied start")
	}
}

func TestClientMutesOnInboundAudio(t *testing.T) {
	s := newWSServer(t)
	c, src, sink := newTestClient(t, s.url(), nil)

	connectClient(t, c, s)
	if err := c.StartAudioStreaming(); err != nil {
		t.Fatalf("StartAudioStreaming: %v", err)
	}
	if src.openCount() != 1 {
		t.Fatalf("microphone opened %d times, want 1", src.openCount())
	}

	frame := make([]byte, 320)
	s.send(t, websocket.BinaryMessage, frame)
	ev := awaitType(t, c, "audio_received").(AudioReceivedEvent)
	if ev.Bytes != 320 {
		t.Fatalf("AudioReceivedEvent.Bytes = %d, want 320", ev.Bytes)
	}

	// Captured audio must be dropped, not buffered, while the guard is muted.
	src.push(frame)
	s.expectNoFrame(t, 100*time.Millisecond)
	expectNoEvent(t, c, 50*time.Millisecond)

	// Drain playback; the tail timer unmutes shortly after.
	sink.completeAll()

	deadline := time.Now().Add(2 * time.Second)
	sent := false
	for !sent {
		if time.Now().After(deadline) {
			t.Fatalf("no frame went out after playback drained")
		}
		src.push(frame)
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("event channel closed")
			}
			if ev.EventType() == "audio_sent" {
				sent = true
			}
		case <-time.After(25 * time.Millisecond):
		}
	}

	fr := s.nextFrame(t)
	if fr.messageType != websocket.BinaryMessage || len(fr.data) != 320 {
		t.Fatalf("server got frame type=%d len=%d, want binary of 320 bytes", fr.messageType, len(fr.data))
	}
}

func TestClientInterruptFlushesAndUnmutes(t *testing.T) {
	s := newWSServer(t)
	c, src, sink := newTestClient(t, s.url(), nil)

	connectClient(t, c, s)
	if err := c.StartAudioStreaming(); err != nil {
		t.Fatalf("StartAudioStreaming: %v", err)
	}

	frame := make([]byte, 320)
	s.send(t, websocket.BinaryMessage, frame)
	awaitType(t, c, "audio_received")

	s.send(t, websocket.TextMessage, []byte(`{"type":"interrupt"}`))
	awaitType(t, c, "interrupt")

	if sink.flushCount() != 1 {
		t.Fatalf("sink flushed %d times, want 1", sink.flushCount())
	}
	if got := c.playback.Pending(); got != 0 {
		t.Fatalf("pending = %d after interrupt, want 0", got)
	}

	// Barge-in unmutes immediately; captured audio flows without waiting for
	// the tail timer.
	src.push(frame)
	awaitType(t, c, "audio_sent")
	fr := s.nextFrame(t)
	if fr.messageType != websocket.BinaryMessage {
		t.Fatalf("server got frame type=%d, want binary", fr.messageType)
	}
}

func TestClientOutboundMessageFraming(t *testing.T) {
	s := newWSServer(t)
	c, _, _ := newTestClient(t, s.url(), nil)
	connectClient(t, c, s)

	if err := c.SendChatMessage("hello there"); err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	fr := s.nextFrame(t)
	var chat struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(fr.data, &chat); err != nil {
		t.Fatalf("chat frame is not JSON: %v", err)
	}
	if chat.Type != "chat_message" || chat.Text != "hello there" {
		t.Fatalf("chat frame = %+v", chat)
	}

	if err := c.SendLlmResponse("the answer is 42"); err != nil {
		t.Fatalf("SendLlmResponse: %v", err)
	}
	fr = s.nextFrame(t)
	if err := json.Unmarshal(fr.data, &chat); err != nil {
		t.Fatalf("llm frame is not JSON: %v", err)
	}
	if chat.Type != "llm_response" || chat.Text != "the answer is 42" {
		t.Fatalf("llm frame = %+v", chat)
	}

	if err := c.SendMessage("PING"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	fr = s.nextFrame(t)
	if string(fr.data) != "PING" {
		t.Fatalf("raw frame = %q, want PING", fr.data)
	}
}

func TestClientSendRequiresConnection(t *testing.T) {
	s := newWSServer(t)
	c, _, _ := newTestClient(t, s.url(), nil)

	err := c.SendChatMessage("anyone there")
	serr, ok := core.AsError(err)
	if !ok || serr.Kind != core.KindMessageSendFailed {
		t.Fatalf("error = %v, want kind %v", err, core.KindMessageSendFailed)
	}
}

func TestClientControlMessageEvents(t *testing.T) {
	s := newWSServer(t)
	c, _, _ := newTestClient(t, s.url(), nil)
	connectClient(t, c, s)

	s.send(t, websocket.TextMessage, []byte(`{"type":"transcript","text":"guten tag","is_final":false,"language":"de","requires_response":false}`))
	tr := awaitType(t, c, "transcript").(TranscriptEvent)
	if tr.Text != "guten tag" || tr.IsFinal || tr.Language != "de" || tr.RequiresResponse {
		t.Fatalf("transcript = %+v", tr)
	}

	s.send(t, websocket.TextMessage, []byte(`{"type":"assistant_message","text":"hello!"}`))
	am := awaitType(t, c, "assistant_message").(AssistantMessageEvent)
	if am.Text != "hello!" {
		t.Fatalf("assistant text = %q", am.Text)
	}

	s.send(t, websocket.TextMessage, []byte(`{"type":"llm_required","question":"weather in berlin?"}`))
	lr := awaitType(t, c, "llm_required").(LlmRequiredEvent)
	if lr.Question != "weather in berlin?" {
		t.Fatalf("question = %q", lr.Question)
	}

	s.send(t, websocket.TextMessage, []byte(`{"type":"filler_started"}`))
	awaitType(t, c, "filler_started")

	s.send(t, websocket.TextMessage, []byte(`{"type":"ready"}`))
	awaitType(t, c, "ready")

	s.send(t, websocket.TextMessage, []byte(`{"type":"diagnostic","code":"stt_slow","message":"high latency"}`))
	dg := awaitType(t, c, "diagnostic").(DiagnosticEvent)
	if dg.Code != "stt_slow" || dg.Message != "high latency" {
		t.Fatalf("diagnostic = %+v", dg)
	}

	s.send(t, websocket.TextMessage, []byte("plain text ack"))
	msg := awaitType(t, c, "message").(MessageEvent)
	if msg.Text != "plain text ack" {
		t.Fatalf("message passthrough = %q", msg.Text)
	}
}

func TestClientManualDisconnect(t *testing.T) {
	s := newWSServer(t)
	c, _, _ := newTestClient(t, s.url(), nil)
	connectClient(t, c, s)

	c.Disconnect()

	ev := awaitType(t, c, "disconnected").(DisconnectedEvent)
	if ev.Reason != "manual" {
		t.Fatalf("reason = %q, want manual", ev.Reason)
	}
	expectNoEvent(t, c, 100*time.Millisecond)
	if c.State() != transport.StateDisconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}
}

func TestClientReconnectEventSequence(t *testing.T) {
	s := newWSServer(t)
	c, _, _ := newTestClient(t, s.url(), nil)
	connectClient(t, c, s)

	s.closeClients()

	ev := awaitType(t, c, "disconnected").(DisconnectedEvent)
	if ev.Reason != "connection error" {
		t.Fatalf("reason = %q, want connection error", ev.Reason)
	}
	rc := awaitType(t, c, "reconnecting").(ReconnectingEvent)
	if rc.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", rc.Attempt)
	}
	awaitType(t, c, "connected")

	// The replacement connection announces the tenant again.
	fr := s.nextFrame(t)
	if !strings.Contains(string(fr.data), "tenant_info") {
		t.Fatalf("frame after reconnect = %q, want tenant_info", fr.data)
	}
}

func TestClientEnsurePlayback(t *testing.T) {
	s := newWSServer(t)
	c, src, sink := newTestClient(t, s.url(), nil)

	if err := c.EnsurePlayback(); err != nil {
		t.Fatalf("EnsurePlayback: %v", err)
	}
	if sink.startCount() != 1 {
		t.Fatalf("sink started %d times, want 1", sink.startCount())
	}
	if src.openCount() != 0 {
		t.Fatalf("EnsurePlayback opened the microphone")
	}
	if c.IsStreaming() {
		t.Fatalf("IsStreaming() = true without capture")
	}
}

func TestClientCloseClosesEventChannel(t *testing.T) {
	s := newWSServer(t)
	c, src, _ := newTestClient(t, s.url(), nil)
	connectClient(t, c, s)
	if err := c.StartAudioStreaming(); err != nil {
		t.Fatalf("StartAudioStreaming: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	deadline := time.After(2 * time.Second)
drain:
	for {
		select {
		case _, ok := <-c.Events():
			if !ok {
				break drain
			}
		case <-deadline:
			t.Fatalf("event channel still open after Close")
		}
	}

	if src.stopCount() == 0 {
		t.Fatalf("microphone not released on Close")
	}
}

func TestClientHandleDispatchesCallbacks(t *testing.T) {
	s := newWSServer(t)
	c, _, _ := newTestClient(t, s.url(), nil)

	got := make(chan string, 16)
	done := c.Handle(Callbacks{
		OnConnected: func() { got <- "connected" },
		OnTranscript: func(text string, isFinal bool, language string, requiresResponse bool) {
			got <- "transcript:" + text
		},
	})

	c.Connect()
	select {
	case v := <-got:
		if v != "connected" {
			t.Fatalf("first callback = %q, want connected", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnConnected never fired")
	}

	s.nextFrame(t) // tenant hello
	s.send(t, websocket.TextMessage, []byte(`{"type":"transcript","text":"hi"}`))
	select {
	case v := <-got:
		if v != "transcript:hi" {
			t.Fatalf("callback = %q, want transcript:hi", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnTranscript never fired")
	}

	c.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Handle goroutine did not finish after Close")
	}
}

func TestClientSessionID(t *testing.T) {
	s := newWSServer(t)
	c1, _, _ := newTestClient(t, s.url(), nil)
	c2, _, _ := newTestClient(t, s.url(), nil)

	if c1.SessionID() == "" {
		t.Fatalf("empty session ID")
	}
	if c1.SessionID() == c2.SessionID() {
		t.Fatalf("two clients share session ID %q", c1.SessionID())
	}
}
