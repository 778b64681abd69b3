package reconciler

import (
	"context"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
)

// Outcome classifies how a call left the tracked state.
type Outcome string

const (
	OutcomeEnded    Outcome = "ended"
	OutcomeMissed   Outcome = "missed"
	OutcomeRejected Outcome = "rejected"
)

// trackedCall is one of the two live call slots.
//
// Invariants:
// - At most one inbound and one outbound call are tracked at a time.
// - Only the reconciler mutates a trackedCall; everything else reads Snapshots.
// - CallID may be empty when the provider omitted it; implicit matching then
//   applies (see matchesTracked).
// - Counterparty persists across partial updates that omit it.
type trackedCall struct {
	CallID       string
	Counterparty string
	Direction    Direction
	Status       Status
	StartedAt    time.Time

	// raw is the last seen original payload, kept for diagnostics and
	// disambiguation re-reads only.
	raw map[string]any

	// epoch guards timers against firing for a replaced call.
	epoch uint64
}

// Snapshot is the read-only view handed to observers and HTTP handlers.
type Snapshot struct {
	CallID       string    `json:"call_id"`
	Counterparty string    `json:"counterparty"`
	Direction    Direction `json:"direction"`
	Status       Status    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
}

func (c *trackedCall) snapshot() Snapshot {
	return Snapshot{
		CallID:       c.CallID,
		Counterparty: c.Counterparty,
		Direction:    c.Direction,
		Status:       c.Status,
		StartedAt:    c.StartedAt,
	}
}

type NotificationKind string

const (
	KindInboundRinging    NotificationKind = "inbound_ringing"
	KindInboundConnected  NotificationKind = "inbound_connected"
	KindCallUpdated       NotificationKind = "call_updated"
	KindCallEnded         NotificationKind = "call_ended"
	KindCallMissed        NotificationKind = "call_missed"
	KindOutboundRinging   NotificationKind = "outbound_ringing"
	KindOutboundConnected NotificationKind = "outbound_connected"
	KindOutboundEnded     NotificationKind = "outbound_ended"
	KindOutboundCleared   NotificationKind = "outbound_cleared"
)

// Notification is the reconciler's only output channel besides audit entries.
type Notification struct {
	Kind      NotificationKind
	Direction Direction
	Call      Snapshot
	Outcome   Outcome
	// Reason is internal, for logs and dashboards (e.g. "timeout", "reassigned").
	Reason string
}

// Observer consumes reconciler notifications. Implementations must not block;
// Notify is called from the reconciler's event path.
type Observer interface {
	Notify(n Notification)
}

// Observers fans a notification out to several observers in order.
type Observers []Observer

func (o Observers) Notify(n Notification) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(n)
		}
	}
}

// TransitionEntry mirrors the audit log wire shape for one state transition.
type TransitionEntry struct {
	ReferenceID string
	CLI         string
	AParty      string
	BParty      string
	Status      string
}

// TransitionLogger records state transitions. Logging is best-effort and must
// never block or fail the call flow.
type TransitionLogger interface {
	LogTransition(ctx context.Context, e TransitionEntry) error
}

// Operator identifies the console's operator session for the inbound
// ownership filter.
type Operator struct {
	UserID        string
	WorkspaceID   string
	AgentNumber   string
	AgentID       string
	VirtualNumber string
	Administrator bool
}

// Action names a call-control command issued through the dispatcher.
type Action string

const (
	ActionInitiate   Action = "initiate"
	ActionAccept     Action = "accept"
	ActionReject     Action = "reject"
	ActionHold       Action = "hold"
	ActionResume     Action = "resume"
	ActionConference Action = "conference"
	ActionDisconnect Action = "disconnect"
)

// ActionResult reports a gateway response back into the state machine.
// GatewayStatus follows the gateway convention: 1 success, 2 call already
// ended by the remote party, anything else failure (no state change).
type ActionResult struct {
	Action        Action
	Direction     Direction
	CallID        string
	GatewayStatus int
}
