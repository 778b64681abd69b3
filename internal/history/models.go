package history

import "time"

// CallRecord is one finished call as persisted for the history view.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// NOTE: Records are written once, when the call leaves the live state; the
// history table is never used to drive live call handling.

type CallRecord struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// CallID is the provider call id; may be empty when the provider never
	// surfaced one for this call.
	CallID string `json:"call_id" db:"call_id"`

	Direction    string `json:"direction" db:"direction"`
	Counterparty string `json:"counterparty" db:"counterparty"`
	Outcome      string `json:"outcome" db:"outcome"`

	StartedAt time.Time `json:"started_at" db:"started_at"`
	EndedAt   time.Time `json:"ended_at" db:"ended_at"`

	// DurationSeconds is derived from StartedAt/EndedAt at write time.
	DurationSeconds int `json:"duration" db:"duration"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DailySummary is the per-day rollup kept alongside raw records so the
// dashboard can render counters without scanning history.
type DailySummary struct {
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	Day         time.Time `json:"day" db:"day"`

	TotalCalls           int `json:"total_calls" db:"total_calls"`
	InboundCalls         int `json:"inbound_calls" db:"inbound_calls"`
	OutboundCalls        int `json:"outbound_calls" db:"outbound_calls"`
	MissedCalls          int `json:"missed_calls" db:"missed_calls"`
	TotalDurationSeconds int `json:"total_duration_seconds" db:"total_duration_seconds"`
}
