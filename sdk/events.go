package vocalis

import (
	"time"

	"github.com/vocalis-ai/vocalis-go/pkg/core"
	"github.com/vocalis-ai/vocalis-go/pkg/core/transport"
)

// Event is emitted by Client.Events(). Events arrive on a single channel in
// the order the session generated them.
type Event interface {
	EventType() string
}

// ConnectedEvent fires once the connection is established and the tenant
// info has been sent.
type ConnectedEvent struct{}

func (e ConnectedEvent) EventType() string { return "connected" }

// DisconnectedEvent fires when an established connection ends. Reason is
// "manual" for caller-initiated disconnects.
type DisconnectedEvent struct {
	Reason string
}

func (e DisconnectedEvent) EventType() string { return "disconnected" }

// ReconnectingEvent fires when a reconnect attempt has been scheduled.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

func (e ReconnectingEvent) EventType() string { return "reconnecting" }

// StateChangedEvent reports connection state transitions.
type StateChangedEvent struct {
	State transport.State
}

func (e StateChangedEvent) EventType() string { return "state_changed" }

// ErrorEvent carries any session error alongside its kind and a
// human-readable message.
type ErrorEvent struct {
	Err *core.Error
}

func (e ErrorEvent) EventType() string { return "error" }

// MessageEvent carries unrecognized inbound text verbatim.
type MessageEvent struct {
	Text string
}

func (e MessageEvent) EventType() string { return "message" }

// AudioReceivedEvent fires for each inbound audio frame, after the frame has
// been queued for playback.
type AudioReceivedEvent struct {
	Bytes int
}

func (e AudioReceivedEvent) EventType() string { return "audio_received" }

// AudioSentEvent fires for each captured frame actually written to the
// transport; frames dropped by the echo guard never produce one.
type AudioSentEvent struct {
	Bytes int
}

func (e AudioSentEvent) EventType() string { return "audio_sent" }

// TranscriptEvent carries a user speech transcript.
type TranscriptEvent struct {
	Text             string
	IsFinal          bool
	Language         string
	RequiresResponse bool
}

func (e TranscriptEvent) EventType() string { return "transcript" }

// AssistantMessageEvent carries the text of assistant speech.
type AssistantMessageEvent struct {
	Text string
}

func (e AssistantMessageEvent) EventType() string { return "assistant_message" }

// FillerStartedEvent signals the server began playing a filler phrase while
// a delegated answer is pending.
type FillerStartedEvent struct{}

func (e FillerStartedEvent) EventType() string { return "filler_started" }

// LlmRequiredEvent asks the client to answer a question with its own LLM
// integration and reply via SendLlmResponse.
type LlmRequiredEvent struct {
	Question string
}

func (e LlmRequiredEvent) EventType() string { return "llm_required" }

// ReadyEvent signals the server finished session setup.
type ReadyEvent struct{}

func (e ReadyEvent) EventType() string { return "ready" }

// InterruptEvent signals a barge-in; the facade has already flushed playback
// by the time this is delivered.
type InterruptEvent struct{}

func (e InterruptEvent) EventType() string { return "interrupt" }

// DiagnosticEvent carries a server-side diagnostic. Informational only.
type DiagnosticEvent struct {
	Code    string
	Message string
}

func (e DiagnosticEvent) EventType() string { return "diagnostic" }
