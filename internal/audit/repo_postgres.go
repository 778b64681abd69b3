package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// PostgresRepo persists transitions to the call_transitions table.
//
// The reconciler appends transitions while holding its state lock, so the
// insert runs on a detached goroutine with its own deadline; failures are
// logged and dropped, matching HTTPRepo's best-effort delivery.
//
// NOTE: This repository assumes the following table exists:
// - call_transitions (immutable append-only)
//
// Optional: trigger to prevent UPDATE/DELETE; partition by created_at for
// retention.

type PostgresRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewPostgresRepo(db *sql.DB, log *slog.Logger) *PostgresRepo {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresRepo{db: db, log: log}
}

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO call_transitions (
  id, workspace_id, reference_id, cli, a_party, b_party, status,
  actor_user_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := r.db.ExecContext(ctx, q,
			e.ID,
			e.WorkspaceID,
			e.ReferenceID,
			e.CLI,
			e.AParty,
			e.BParty,
			e.Status,
			e.ActorUserID,
			e.Message,
			e.Metadata,
			e.CreatedAt,
		)
		if err != nil {
			r.log.Warn("audit transition insert failed", "reference_id", e.ReferenceID, "status", e.Status, "err", err)
		}
	}()
	return nil
}

var _ Repository = (*PostgresRepo)(nil)
