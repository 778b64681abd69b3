package audit

import (
	"context"
	"errors"
)

// FanoutRepo appends to every configured repository. An entry is considered
// appended when at least the first (primary) repository accepted it; errors
// from secondaries are joined but do not mask the primary result.
type FanoutRepo struct {
	repos []Repository
}

func NewFanoutRepo(repos ...Repository) *FanoutRepo {
	return &FanoutRepo{repos: repos}
}

func (r *FanoutRepo) Append(ctx context.Context, e Entry) error {
	if len(r.repos) == 0 {
		return errors.New("audit: no repositories configured")
	}
	var errs []error
	for _, repo := range r.repos {
		if err := repo.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Repository = (*FanoutRepo)(nil)
