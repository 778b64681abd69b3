package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for transition entries.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Entry) error
}

// Service records call state transitions.
//
// IMPORTANT:
// - Callers should treat transition logging as best-effort; a failed append
//   must never abort the call flow that produced it.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEntry = errors.New("audit: invalid entry")

func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" {
		return ErrInvalidEntry
	}
	if e.Status == "" {
		return ErrInvalidEntry
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records one state transition for a call.
func (s *Service) LogTransition(ctx context.Context, workspaceID, referenceID, cli, aParty, bParty string, status Status) error {
	return s.Append(ctx, Entry{
		WorkspaceID: workspaceID,
		ReferenceID: referenceID,
		CLI:         cli,
		AParty:      aParty,
		BParty:      bParty,
		Status:      status,
	})
}

// LogAction records an operator-initiated transition with the acting user.
func (s *Service) LogAction(ctx context.Context, workspaceID, actorUserID, referenceID, cli, aParty, bParty string, status Status) error {
	return s.Append(ctx, Entry{
		WorkspaceID: workspaceID,
		ReferenceID: referenceID,
		CLI:         cli,
		AParty:      aParty,
		BParty:      bParty,
		Status:      status,
		ActorUserID: actorUserID,
	})
}
