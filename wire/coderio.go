package wire

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// MalformedEnvelopeError marks a frame that was read off the wire
// successfully but did not decode as a valid Envelope — bad JSON, or
// a non-text frame. Callers use this to distinguish "the connection
// is dead" from "this peer sent one bad frame," per the routing
// rules' "bad wire frame → reply error, drop frame, keep connection"
// requirement.
type MalformedEnvelopeError struct {
	Err error
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("malformed envelope: %v", e.Err)
}

func (e *MalformedEnvelopeError) Unwrap() error {
	return e.Err
}

// ReadEnvelope reads one WebSocket text frame from conn and decodes it
// as an Envelope. Each transport message carries exactly one envelope,
// per the wire contract. A transport-level read failure (closed
// connection, context cancellation) is returned as-is; a frame that
// was read but failed to decode is wrapped in *MalformedEnvelopeError
// so the caller can reply and keep the connection open instead of
// tearing it down.
func ReadEnvelope(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	if msgType != websocket.MessageText {
		return Envelope{}, &MalformedEnvelopeError{Err: fmt.Errorf("unexpected WebSocket message type %v", msgType)}
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &MalformedEnvelopeError{Err: err}
	}
	return env, nil
}

// WriteEnvelope stamps env.Timestamp with Now() and writes it as a
// WebSocket text frame on conn.
func WriteEnvelope(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	env.Timestamp = Now()
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
