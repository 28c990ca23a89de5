package casestore

import (
	"context"
	"errors"
	"time"

	"github.com/bluesky-social/warden/models"
)

var (
	ErrNotFound        = errors.New("moderation action not found")
	ErrAlreadyInactive = errors.New("moderation action already inactive")
)

// CaseStore is the durable record of moderation actions, and the source of
// truth for whether an action should currently be in effect.
//
// The UpdateOn* methods are compare-and-set operations on the Active flag:
// exactly one of any racing callers wins, the rest get ErrAlreadyInactive.
type CaseStore interface {
	CreateAction(ctx context.Context, act *models.ModAction) (int64, error)
	GetAction(ctx context.Context, id uint) (*models.ModAction, error)
	GetCase(ctx context.Context, caseID int64) (*models.ModAction, error)
	// returns nil (and no error) when no active record exists
	FindActiveByTargetAndKind(ctx context.Context, targetID string, kind models.ActionKind) (*models.ModAction, error)
	UpdateOnRevoke(ctx context.Context, id uint, removed models.Disposition) (*models.ModAction, error)
	UpdateOnExpire(ctx context.Context, id uint, at time.Time) (*models.ModAction, error)
	UpdateOnExpunge(ctx context.Context, id uint, expunged models.Disposition) (*models.ModAction, error)
	ListActiveWithExpiry(ctx context.Context) ([]models.ModAction, error)
	ListByTarget(ctx context.Context, targetID string) ([]models.ModAction, error)
}
