// Package wire defines the JSON message envelope shared by the Relay,
// the Agent, and Client adapters. Every transport message (one per
// WebSocket frame) carries exactly one Envelope.
package wire

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of message carried by an Envelope.
type Type string

const (
	TypeAuth    Type = "auth"
	TypeCommand Type = "command"
	TypeOutput  Type = "output"
	TypeStatus  Type = "status"
	TypeError   Type = "error"
)

// Envelope is the JSON frame carried by every protocol message.
// SessionID is omitted when not applicable to the message type.
type Envelope struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Now stamps an Envelope's Timestamp field with the current time in
// milliseconds since the epoch, as the sender ("server-assigned on
// send", per the wire contract) is required to do.
func Now() int64 {
	return time.Now().UnixMilli()
}

// New builds an Envelope with payload marshaled to JSON and the
// timestamp stamped at call time.
func New(typ Type, sessionID string, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		raw = data
	}
	return Envelope{
		Type:      typ,
		SessionID: sessionID,
		Payload:   raw,
		Timestamp: Now(),
	}, nil
}

// Decode unmarshals the Envelope's Payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}
