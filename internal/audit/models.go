package audit

import "time"

// Entry is an immutable, append-only record of one call state transition.
//
// Invariants:
// - Entries are never updated or deleted.
// - workspace_id is required for tenancy isolation.
// - Logging is best-effort; call handling must never block on audit failures.
//
// Storage recommendation (Postgres):
// - Table call_transitions with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.

type Entry struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// ReferenceID is the provider call id the transition belongs to. It may be
	// empty when the triggering event omitted the id.
	ReferenceID string `json:"reference_id" db:"reference_id"`

	// CLI is the virtual number presented as caller line identity.
	CLI    string `json:"cli" db:"cli"`
	AParty string `json:"a_party" db:"a_party"`
	BParty string `json:"b_party" db:"b_party"`

	Status Status `json:"status" db:"status"`

	// ActorUserID is set for operator-initiated transitions, empty for
	// transitions driven by the event stream.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Status string

const (
	StatusInitiate      Status = "initiate"
	StatusAccept        Status = "accept"
	StatusReject        Status = "reject"
	StatusHold          Status = "hold"
	StatusResume        Status = "resume"
	StatusConference    Status = "conference"
	StatusDisconnect    Status = "disconnect"
	StatusEnded         Status = "ended"
	StatusMissed        Status = "missed"
	StatusMissedTimeout Status = "missed_timeout"
)
