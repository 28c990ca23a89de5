package lifecycle

import (
	"context"

	"github.com/bluesky-social/warden/setstore"
)

// Exempter reports targets which moderation actions may not be issued against (for example, staff accounts).
type Exempter interface {
	IsExempt(ctx context.Context, targetID string) (bool, error)
}

// SetExempter treats membership in a named set as exemption.
type SetExempter struct {
	Sets    setstore.SetStore
	SetName string
}

func (e *SetExempter) IsExempt(ctx context.Context, targetID string) (bool, error) {
	return e.Sets.InSet(ctx, e.SetName, targetID)
}
