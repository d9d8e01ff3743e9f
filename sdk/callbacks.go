package vocalis

import (
	"time"

	"github.com/vocalis-ai/vocalis-go/pkg/core"
	"github.com/vocalis-ai/vocalis-go/pkg/core/transport"
)

// Callbacks receives session events as method calls instead of channel reads.
// Nil fields are skipped. All callbacks run on a single goroutine in the
// order the events were generated, so they must not block for long.
type Callbacks struct {
	OnConnected        func()
	OnDisconnected     func(reason string)
	OnReconnecting     func(attempt int, delay time.Duration)
	OnStateChanged     func(state transport.State)
	OnError            func(err *core.Error)
	OnMessage          func(text string)
	OnAudioReceived    func(bytes int)
	OnAudioSent        func(bytes int)
	OnTranscript       func(text string, isFinal bool, language string, requiresResponse bool)
	OnAssistantMessage func(text string)
	OnFillerStarted    func()
	OnLlmRequired      func(question string)
	OnReady            func()
	OnInterrupt        func()
	OnDiagnostic       func(code, message string)
}

// Handle consumes the client's event channel on a new goroutine and
// dispatches each event to the matching callback. The returned channel
// closes when the event stream ends, i.e. after Close.
//
// Handle and direct Events() consumption are alternatives; an event read by
// one never reaches the other.
func (c *Client) Handle(cb Callbacks) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range c.events {
			cb.dispatch(ev)
		}
	}()
	return done
}

func (cb Callbacks) dispatch(ev Event) {
	switch ev := ev.(type) {
	case ConnectedEvent:
		if cb.OnConnected != nil {
			cb.OnConnected()
		}
	case DisconnectedEvent:
		if cb.OnDisconnected != nil {
			cb.OnDisconnected(ev.Reason)
		}
	case ReconnectingEvent:
		if cb.OnReconnecting != nil {
			cb.OnReconnecting(ev.Attempt, ev.Delay)
		}
	case StateChangedEvent:
		if cb.OnStateChanged != nil {
			cb.OnStateChanged(ev.State)
		}
	case ErrorEvent:
		if cb.OnError != nil {
			cb.OnError(ev.Err)
		}
	case MessageEvent:
		if cb.OnMessage != nil {
			cb.OnMessage(ev.Text)
		}
	case AudioReceivedEvent:
		if cb.OnAudioReceived != nil {
			cb.OnAudioReceived(ev.Bytes)
		}
	case AudioSentEvent:
		if cb.OnAudioSent != nil {
			cb.OnAudioSent(ev.Bytes)
		}
	case TranscriptEvent:
		if cb.OnTranscript != nil {
			cb.OnTranscript(ev.Text, ev.IsFinal, ev.Language, ev.RequiresResponse)
		}
	case AssistantMessageEvent:
		if cb.OnAssistantMessage != nil {
			cb.OnAssistantMessage(ev.Text)
		}
	case FillerStartedEvent:
		if cb.OnFillerStarted != nil {
			cb.OnFillerStarted()
		}
	case LlmRequiredEvent:
		if cb.OnLlmRequired != nil {
			cb.OnLlmRequired(ev.Question)
		}
	case ReadyEvent:
		if cb.OnReady != nil {
			cb.OnReady()
		}
	case InterruptEvent:
		if cb.OnInterrupt != nil {
			cb.OnInterrupt()
		}
	case DiagnosticEvent:
		if cb.OnDiagnostic != nil {
			cb.OnDiagnostic(ev.Code, ev.Message)
		}
	}
}
