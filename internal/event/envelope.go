package event

import (
	"encoding/json"
	"fmt"
)

// Envelope is one relay message as it arrives off the wire.
//
// The relay forwards provider webhooks verbatim, so Data is an untyped bag whose
// key names vary by provider code path. Nothing outside this package should read
// Data directly; Normalize resolves it into an Event once, at the boundary.
type Envelope struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Data      map[string]any `json:"data"`
}

// ParseLine decodes a single relay line into an Envelope.
func ParseLine(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("event: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("event: envelope missing type")
	}
	return env, nil
}

// Relay event types observed from the provider. Several of these are
// structurally near-identical on the wire; classification order matters and is
// owned by the reconciler.
const (
	TypeIncomingCall     = "incoming_call"
	TypeCallEnd          = "call_end"
	TypeCallEnded        = "call_ended"
	TypeHangup           = "hangup"
	TypeCallDisconnected = "call_disconnected"
	TypeCallTerminated   = "call_terminated"
	TypeDisconnect       = "disconnect"
	TypeMissedCall       = "missed_call"
	TypeIVRMissedCall    = "ivr_missed_call"
	TypeAnsweredCall     = "answered_call"
	TypeCallStatusUpdate = "call_status_update"
	TypeOutgoingEvent    = "outgoing_event"
)
