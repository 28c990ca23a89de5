// Adapters for the external systems which actually enforce moderation actions.
//
// There is one Enforcer per action kind. The record store says whether an action *should* be in effect; an Enforcer says whether it currently *is*.
package enforcement

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bluesky-social/warden/models"
)

var (
	// Returned by backends when they hold no enforcement state for a target. IsApplied treats this as "not applied", not as a failure.
	ErrNotFound    = errors.New("enforcement state not found")
	ErrUnknownKind = errors.New("unknown action kind")
)

type Enforcer interface {
	Kind() models.ActionKind
	Apply(ctx context.Context, targetID, reason string) error
	Remove(ctx context.Context, targetID, reason string) error
	IsApplied(ctx context.Context, targetID string) (bool, error)
}

// Registry maps action kinds to their Enforcer. New kinds are added by registering another Enforcer.
type Registry struct {
	enforcers map[models.ActionKind]Enforcer
}

func NewRegistry(enforcers ...Enforcer) *Registry {
	r := &Registry{
		enforcers: make(map[models.ActionKind]Enforcer, len(enforcers)),
	}
	for _, e := range enforcers {
		r.Register(e)
	}
	return r
}

// Not safe to call concurrently with lookups; register everything at startup.
func (r *Registry) Register(e Enforcer) {
	r.enforcers[e.Kind()] = e
}

func (r *Registry) Get(kind models.ActionKind) (Enforcer, error) {
	e, ok := r.enforcers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return e, nil
}

func (r *Registry) Kinds() []models.ActionKind {
	out := make([]models.ActionKind, 0, len(r.enforcers))
	for k := range r.enforcers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
