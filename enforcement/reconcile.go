package enforcement

import (
	"context"
	"errors"

	"github.com/bluesky-social/warden/models"
)

// Checker answers "is this action currently enforced?" against the backend's live state, independent of the record store.
//
// It does not repair mismatches between the two; callers decide what a mismatch means.
type Checker struct {
	Registry *Registry
}

func (c *Checker) IsEffectivelyApplied(ctx context.Context, kind models.ActionKind, targetID string) (bool, error) {
	e, err := c.Registry.Get(kind)
	if err != nil {
		return false, err
	}
	applied, err := e.IsApplied(ctx, targetID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return applied, nil
}
