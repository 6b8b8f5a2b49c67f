// Package protocol defines the JSON envelope spoken with the backend and the
// payloads carried inside it.
//
// Every frame is a UTF-8 text JSON object:
//
//	{"event": "...", "payload": {...}, "request_id": "...", "command": "..."}
//
// request_id correlates a request with its response. The backend puts it
// inside the payload; the envelope-level field is accepted too. Responses
// echo it verbatim in both places.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Envelope is a decoded inbound frame. Payload is left raw so each handler
// decodes exactly the shape it expects.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Command   string          `json:"command,omitempty"`
}

// HasRequestID reports whether the frame expects a correlated response.
func (e Envelope) HasRequestID() bool {
	return e.RequestID != ""
}

// Decode parses a raw frame. It returns false for anything that is not a JSON
// object with a non-empty event; such frames are dropped by callers.
func Decode(frame []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, false
	}
	if env.Event == "" {
		return Envelope{}, false
	}

	if env.RequestID == "" && isObject(env.Payload) {
		var inner struct {
			RequestID string `json:"request_id"`
		}
		if json.Unmarshal(env.Payload, &inner) == nil {
			env.RequestID = inner.RequestID
		}
	}
	return env, true
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// DecodePayload unmarshals the payload into v. An absent payload leaves v
// untouched.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || bytes.Equal(bytes.TrimSpace(e.Payload), []byte("null")) {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Message is an outbound frame.
type Message struct {
	Event     string `json:"event"`
	Payload   any    `json:"payload"`
	RequestID string `json:"request_id,omitempty"`
}

// NewMessage creates a message with no correlation id.
func NewMessage(event string, payload any) Message {
	return Message{Event: event, Payload: payload}
}

// NewResponse creates a message answering requestID.
func NewResponse(event, requestID string, payload any) Message {
	return Message{Event: event, Payload: payload, RequestID: requestID}
}

// Encode renders the message as a text frame.
func (m Message) Encode() ([]byte, error) {
	if m.Payload == nil {
		m.Payload = struct{}{}
	}
	return json.Marshal(m)
}
