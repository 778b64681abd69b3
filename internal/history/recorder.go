package history

import (
	"context"
	"log/slog"
	"time"

	"call-console/internal/reconciler"
)

// Recorder turns terminal reconciler notifications into history rows.
//
// Notify must not block the event path, so persistence runs on a detached
// goroutine with its own deadline; failures are logged and dropped.
type Recorder struct {
	svc         *Service
	workspaceID string
	log         *slog.Logger
	clock       func() time.Time
}

func NewRecorder(svc *Service, workspaceID string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{svc: svc, workspaceID: workspaceID, log: log, clock: time.Now}
}

func (r *Recorder) Notify(n reconciler.Notification) {
	switch n.Kind {
	case reconciler.KindCallEnded, reconciler.KindCallMissed, reconciler.KindOutboundEnded:
	default:
		return
	}

	rec := CallRecord{
		WorkspaceID:  r.workspaceID,
		CallID:       n.Call.CallID,
		Direction:    string(n.Direction),
		Counterparty: n.Call.Counterparty,
		Outcome:      string(n.Outcome),
		StartedAt:    n.Call.StartedAt,
		EndedAt:      r.clock().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.svc.Record(ctx, rec); err != nil {
			r.log.Warn("call history write failed", "call_id", rec.CallID, "outcome", rec.Outcome, "err", err)
		}
	}()
}

var _ reconciler.Observer = (*Recorder)(nil)
