package enforcement

import (
	"context"
	"slices"

	"github.com/bluesky-social/warden/flagstore"
	"github.com/bluesky-social/warden/models"
)

// FlagEnforcer represents enforcement as the presence of the kind's flag on the target account, in a shared FlagStore.
//
// Platforms which read account flags from the same store (eg, redis) observe the action immediately.
type FlagEnforcer struct {
	kind  models.ActionKind
	Flags flagstore.FlagStore
}

var _ Enforcer = (*FlagEnforcer)(nil)

func NewFlagEnforcer(kind models.ActionKind, flags flagstore.FlagStore) *FlagEnforcer {
	return &FlagEnforcer{kind: kind, Flags: flags}
}

func (e *FlagEnforcer) Kind() models.ActionKind {
	return e.kind
}

func (e *FlagEnforcer) Apply(ctx context.Context, targetID, reason string) error {
	return e.Flags.Add(ctx, targetID, []string{string(e.kind)})
}

func (e *FlagEnforcer) Remove(ctx context.Context, targetID, reason string) error {
	return e.Flags.Remove(ctx, targetID, []string{string(e.kind)})
}

func (e *FlagEnforcer) IsApplied(ctx context.Context, targetID string) (bool, error) {
	flags, err := e.Flags.Get(ctx, targetID)
	if err != nil {
		return false, err
	}
	return slices.Contains(flags, string(e.kind)), nil
}
