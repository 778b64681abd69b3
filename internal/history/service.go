package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"call-console/pkg/utils"
)

var ErrInvalidRecord = errors.New("history: invalid record")

// Service persists finished calls and maintains the per-day rollup.
//
// Invariants:
// - A record and its rollup increment commit atomically.
// - All reads enforce workspace filtering.
type Service struct {
	db    *sql.DB
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

// Record writes one finished call and bumps the matching daily summary row in
// a single transaction.
func (s *Service) Record(ctx context.Context, rec CallRecord) error {
	if s.db == nil {
		return errors.New("history: database not configured")
	}
	if rec.WorkspaceID == "" || rec.Direction == "" || rec.Outcome == "" {
		return ErrInvalidRecord
	}

	now := s.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = now
	}
	if rec.DurationSeconds == 0 && !rec.StartedAt.IsZero() && rec.EndedAt.After(rec.StartedAt) {
		rec.DurationSeconds = int(rec.EndedAt.Sub(rec.StartedAt) / time.Second)
	}

	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		return bumpDailySummary(ctx, tx, rec)
	})
}

// ListRecent returns the newest records for a workspace, newest first.
func (s *Service) ListRecent(ctx context.Context, workspaceID string, limit int) ([]CallRecord, error) {
	if s.db == nil {
		return nil, errors.New("history: database not configured")
	}
	if workspaceID == "" {
		return nil, ErrInvalidRecord
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	const q = `
SELECT id, workspace_id, call_id, direction, counterparty, outcome,
       started_at, ended_at, duration, created_at
FROM call_records
WHERE workspace_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var r CallRecord
		if err := rows.Scan(
			&r.ID,
			&r.WorkspaceID,
			&r.CallID,
			&r.Direction,
			&r.Counterparty,
			&r.Outcome,
			&r.StartedAt,
			&r.EndedAt,
			&r.DurationSeconds,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary returns the rollup for one day; a day with no calls yields zeroes.
func (s *Service) Summary(ctx context.Context, workspaceID string, day time.Time) (DailySummary, error) {
	if s.db == nil {
		return DailySummary{}, errors.New("history: database not configured")
	}
	if workspaceID == "" {
		return DailySummary{}, ErrInvalidRecord
	}

	day = day.UTC().Truncate(24 * time.Hour)

	const q = `
SELECT workspace_id, day, total_calls, inbound_calls, outbound_calls, missed_calls, total_duration_seconds
FROM call_daily_summaries
WHERE workspace_id = $1 AND day = $2
`
	var sum DailySummary
	err := s.db.QueryRowContext(ctx, q, workspaceID, day).Scan(
		&sum.WorkspaceID,
		&sum.Day,
		&sum.TotalCalls,
		&sum.InboundCalls,
		&sum.OutboundCalls,
		&sum.MissedCalls,
		&sum.TotalDurationSeconds,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return DailySummary{WorkspaceID: workspaceID, Day: day}, nil
	}
	if err != nil {
		return DailySummary{}, err
	}
	return sum, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec CallRecord) error {
	const q = `
INSERT INTO call_records (
  id, workspace_id, call_id, direction, counterparty, outcome,
  started_at, ended_at, duration, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := tx.ExecContext(ctx, q,
		rec.ID,
		rec.WorkspaceID,
		rec.CallID,
		rec.Direction,
		rec.Counterparty,
		rec.Outcome,
		rec.StartedAt,
		rec.EndedAt,
		rec.DurationSeconds,
		rec.CreatedAt,
	)
	return err
}

func bumpDailySummary(ctx context.Context, tx *sql.Tx, rec CallRecord) error {
	day := rec.EndedAt.UTC().Truncate(24 * time.Hour)

	inbound := 0
	outbound := 0
	if rec.Direction == "inbound" {
		inbound = 1
	} else {
		outbound = 1
	}
	missed := 0
	if rec.Outcome == "missed" {
		missed = 1
	}

	const q = `
INSERT INTO call_daily_summaries (
  workspace_id, day, total_calls, inbound_calls, outbound_calls, missed_calls, total_duration_seconds
) VALUES (
  $1,$2,1,$3,$4,$5,$6
)
ON CONFLICT (workspace_id, day)
DO UPDATE SET total_calls            = call_daily_summaries.total_calls + 1,
              inbound_calls          = call_daily_summaries.inbound_calls + EXCLUDED.inbound_calls,
              outbound_calls         = call_daily_summaries.outbound_calls + EXCLUDED.outbound_calls,
              missed_calls           = call_daily_summaries.missed_calls + EXCLUDED.missed_calls,
              total_duration_seconds = call_daily_summaries.total_duration_seconds + EXCLUDED.total_duration_seconds
`
	_, err := tx.ExecContext(ctx, q, rec.WorkspaceID, day, inbound, outbound, missed, rec.DurationSeconds)
	return err
}
