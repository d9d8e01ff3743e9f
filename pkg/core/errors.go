package core

import (
	"errors"
	"fmt"
)

// Error represents a session error surfaced through the event stream.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ErrorKind categorizes errors.
type ErrorKind string

const (
	KindConnectionFailed      ErrorKind = "connection_failed"
	KindAuthenticationFailed  ErrorKind = "authentication_failed"
	KindDisconnected          ErrorKind = "disconnected"
	KindReconnectionFailed    ErrorKind = "reconnection_failed"
	KindAudioCaptureFailed    ErrorKind = "audio_capture_failed"
	KindAudioPlaybackFailed   ErrorKind = "audio_playback_failed"
	KindAudioPermissionDenied ErrorKind = "audio_permission_denied"
	KindInvalidMessage        ErrorKind = "invalid_message"
	KindMessageSendFailed     ErrorKind = "message_send_failed"
	KindUnknown               ErrorKind = "unknown"
)

// NewConnectionFailed creates a connection failure error.
func NewConnectionFailed(message string, err error) *Error {
	return &Error{
		Kind:    KindConnectionFailed,
		Message: message,
		Err:     err,
	}
}

// NewAuthenticationFailed creates an authentication failure error.
func NewAuthenticationFailed(message string) *Error {
	return &Error{
		Kind:    KindAuthenticationFailed,
		Message: message,
	}
}

// NewDisconnected creates an unexpected-disconnect error.
func NewDisconnected(reason string) *Error {
	return &Error{
		Kind:    KindDisconnected,
		Message: reason,
	}
}

// NewReconnectionFailed creates an error reporting exhausted reconnect attempts.
func NewReconnectionFailed(attempts int, err error) *Error {
	return &Error{
		Kind:    KindReconnectionFailed,
		Message: fmt.Sprintf("gave up after %d reconnect attempts", attempts),
		Err:     err,
	}
}

// NewAudioCaptureFailed creates an audio capture error.
func NewAudioCaptureFailed(message string, err error) *Error {
	return &Error{
		Kind:    KindAudioCaptureFailed,
		Message: message,
		Err:     err,
	}
}

// NewAudioPlaybackFailed creates an audio playback error.
func NewAudioPlaybackFailed(message string, err error) *Error {
	return &Error{
		Kind:    KindAudioPlaybackFailed,
		Message: message,
		Err:     err,
	}
}

// NewAudioPermissionDenied creates a microphone permission error.
func NewAudioPermissionDenied(message string) *Error {
	return &Error{
		Kind:    KindAudioPermissionDenied,
		Message: message,
	}
}

// NewInvalidMessage creates an error for a control message that cannot be handled.
func NewInvalidMessage(message string) *Error {
	return &Error{
		Kind:    KindInvalidMessage,
		Message: message,
	}
}

// NewMessageSendFailed creates an outbound send failure error.
func NewMessageSendFailed(message string, err error) *Error {
	return &Error{
		Kind:    KindMessageSendFailed,
		Message: message,
		Err:     err,
	}
}

// NewUnknownError creates an uncategorized error.
func NewUnknownError(message string, err error) *Error {
	return &Error{
		Kind:    KindUnknown,
		Message: message,
		Err:     err,
	}
}

// IsRetryable returns true if the failure can clear on its own through the
// reconnect path; callers should not retry the others without changing inputs.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindConnectionFailed, KindDisconnected:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
