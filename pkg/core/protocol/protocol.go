// Package protocol parses and serializes the JSON control envelopes carried
// over text frames. Binary frames (raw PCM audio) never pass through here.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire values of the "type" discriminator.
const (
	TypeTenantInfo       = "tenant_info"
	TypeTranscript       = "transcript"
	TypeAssistantMessage = "assistant_message"
	TypeFillerStarted    = "filler_started"
	TypeLlmRequired      = "llm_required"
	TypeLlmResponse      = "llm_response"
	TypeChatMessage      = "chat_message"
	TypeInterrupt        = "interrupt"
	TypeReady            = "ready"
	TypeDiagnostic       = "diagnostic"
)

// Message is a decoded control message.
type Message interface {
	messageType() string
}

// TenantInfo identifies the tenant. Sent once immediately after every
// successful connect.
type TenantInfo struct {
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
}

func (TenantInfo) messageType() string { return TypeTenantInfo }

// Transcript is a speech-to-text result for the user's audio.
type Transcript struct {
	Text             string `json:"text"`
	IsFinal          bool   `json:"is_final"`
	Language         string `json:"language"`
	RequiresResponse bool   `json:"requires_response"`
}

func (Transcript) messageType() string { return TypeTranscript }

// AssistantMessage carries the text the server is speaking.
type AssistantMessage struct {
	Text string `json:"text"`
}

func (AssistantMessage) messageType() string { return TypeAssistantMessage }

// FillerStarted signals that the server began playing a filler phrase while
// it waits for a delegated answer.
type FillerStarted struct{}

func (FillerStarted) messageType() string { return TypeFillerStarted }

// LlmRequired asks the client to answer a question with its own LLM
// integration and send the result back as an LlmResponse.
type LlmRequired struct {
	Question string `json:"question"`
}

func (LlmRequired) messageType() string { return TypeLlmRequired }

// LlmResponse is the client's answer to an LlmRequired request.
type LlmResponse struct {
	Text string `json:"text"`
}

func (LlmResponse) messageType() string { return TypeLlmResponse }

// ChatMessage is a user text message typed rather than spoken.
type ChatMessage struct {
	Text string `json:"text"`
}

func (ChatMessage) messageType() string { return TypeChatMessage }

// Interrupt signals a barge-in: playback must be flushed immediately.
type Interrupt struct{}

func (Interrupt) messageType() string { return TypeInterrupt }

// Ready signals the server finished speaking and is listening again.
type Ready struct{}

func (Ready) messageType() string { return TypeReady }

// Diagnostic carries a server-side notice. Informational only; it never
// changes connection state.
type Diagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Diagnostic) messageType() string { return TypeDiagnostic }

// Unknown wraps any text frame that is not JSON or carries an unrecognized
// or missing type. The raw text is forwarded unmodified.
type Unknown struct {
	Raw string
}

func (Unknown) messageType() string { return "unknown" }

// Decode parses an inbound text frame into a control message. Frames that
// fail to parse fall back to Unknown; Decode never returns an error.
func Decode(data []byte) Message {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Unknown{Raw: string(data)}
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return Unknown{Raw: string(data)}
	}

	switch typ {
	case TypeTenantInfo:
		var info TenantInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return Unknown{Raw: string(data)}
		}
		return info
	case TypeTranscript:
		var wire struct {
			Text             string `json:"text"`
			IsFinal          *bool  `json:"is_final"`
			Language         string `json:"language"`
			RequiresResponse *bool  `json:"requires_response"`
		}
		if err := json.Unmarshal(data, &wire); err != nil {
			return Unknown{Raw: string(data)}
		}
		t := Transcript{
			Text:             wire.Text,
			IsFinal:          true,
			Language:         "en",
			RequiresResponse: true,
		}
		if wire.IsFinal != nil {
			t.IsFinal = *wire.IsFinal
		}
		if wire.Language != "" {
			t.Language = wire.Language
		}
		if wire.RequiresResponse != nil {
			t.RequiresResponse = *wire.RequiresResponse
		}
		return t
	case TypeAssistantMessage:
		var message AssistantMessage
		if err := json.Unmarshal(data, &message); err != nil {
			return Unknown{Raw: string(data)}
		}
		return message
	case TypeFillerStarted:
		return FillerStarted{}
	case TypeLlmRequired:
		var req LlmRequired
		if err := json.Unmarshal(data, &req); err != nil {
			return Unknown{Raw: string(data)}
		}
		return req
	case TypeLlmResponse:
		var resp LlmResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return Unknown{Raw: string(data)}
		}
		return resp
	case TypeChatMessage:
		var chat ChatMessage
		if err := json.Unmarshal(data, &chat); err != nil {
			return Unknown{Raw: string(data)}
		}
		return chat
	case TypeInterrupt:
		return Interrupt{}
	case TypeReady:
		return Ready{}
	case TypeDiagnostic:
		var diag Diagnostic
		if err := json.Unmarshal(data, &diag); err != nil {
			return Unknown{Raw: string(data)}
		}
		return diag
	default:
		return Unknown{Raw: string(data)}
	}
}

// Encode serializes an outbound control message. Clients send only
// TenantInfo, LlmResponse, and ChatMessage; encoding any other variant
// is an error.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case TenantInfo:
		return json.Marshal(struct {
			Type       string `json:"type"`
			TenantID   string `json:"tenant_id"`
			TenantName string `json:"tenant_name"`
		}{TypeTenantInfo, m.TenantID, m.TenantName})
	case LlmResponse:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{TypeLlmResponse, m.Text})
	case ChatMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{TypeChatMessage, m.Text})
	default:
		return nil, fmt.Errorf("control message %q is not sendable", msg.messageType())
	}
}
