package transport

import (
	"time"

	"github.com/vocalis-ai/vocalis-go/pkg/core"
)

// Event is the closed union of transport notifications. All events are
// delivered on the session's single buffered channel in the order they were
// generated.
type Event interface {
	transportEvent()
}

// Opened fires after the connection is established and the hello frame has
// been written.
type Opened struct{}

// Closed fires when an established connection ends, whether by the server,
// a transport error, or a manual disconnect.
type Closed struct {
	Reason string
	Err    error
}

// Reconnecting fires when a reconnect attempt has been scheduled.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// TextFrame carries one inbound text frame.
type TextFrame struct {
	Data []byte
}

// BinaryFrame carries one inbound binary frame.
type BinaryFrame struct {
	Data []byte
}

// Failure carries a terminal or noteworthy transport error.
type Failure struct {
	Err *core.Error
}

func (Opened) transportEvent()       {}
func (Closed) transportEvent()       {}
func (Reconnecting) transportEvent() {}
func (TextFrame) transportEvent()    {}
func (BinaryFrame) transportEvent()  {}
func (Failure) transportEvent()      {}
