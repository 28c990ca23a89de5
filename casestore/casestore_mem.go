package casestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bluesky-social/warden/models"
)

type MemCaseStore struct {
	mu       sync.Mutex
	actions  map[uint]*models.ModAction
	lastID   uint
	lastCase int64
}

var _ CaseStore = (*MemCaseStore)(nil)

func NewMemCaseStore() *MemCaseStore {
	return &MemCaseStore{
		actions: make(map[uint]*models.ModAction),
	}
}

// returns a copy, so callers never share mutable state with the store
func cloneAction(a *models.ModAction) *models.ModAction {
	out := *a
	if a.Duration != nil {
		d := *a.Duration
		out.Duration = &d
	}
	if a.Removed != nil {
		r := *a.Removed
		out.Removed = &r
	}
	if a.Expunged != nil {
		e := *a.Expunged
		out.Expunged = &e
	}
	if a.ExpiredAt != nil {
		t := *a.ExpiredAt
		out.ExpiredAt = &t
	}
	return &out
}

func (s *MemCaseStore) CreateAction(ctx context.Context, act *models.ModAction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	s.lastCase++
	now := time.Now()
	act.ID = s.lastID
	act.CaseID = s.lastCase
	act.CreatedAt = now
	act.UpdatedAt = now
	s.actions[act.ID] = cloneAction(act)
	return act.CaseID, nil
}

func (s *MemCaseStore) GetAction(ctx context.Context, id uint) (*models.ModAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAction(a), nil
}

func (s *MemCaseStore) GetCase(ctx context.Context, caseID int64) (*models.ModAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.actions {
		if a.CaseID == caseID {
			return cloneAction(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemCaseStore) FindActiveByTargetAndKind(ctx context.Context, targetID string, kind models.ActionKind) (*models.ModAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.actions {
		if a.Active && a.TargetID == targetID && a.Kind == kind {
			return cloneAction(a), nil
		}
	}
	return nil, nil
}

// applies fn to the record if (and only if) it is still active
func (s *MemCaseStore) deactivate(id uint, fn func(a *models.ModAction)) (*models.ModAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.Active {
		return nil, ErrAlreadyInactive
	}
	a.Active = false
	a.UpdatedAt = time.Now()
	fn(a)
	return cloneAction(a), nil
}

func (s *MemCaseStore) UpdateOnRevoke(ctx context.Context, id uint, removed models.Disposition) (*models.ModAction, error) {
	return s.deactivate(id, func(a *models.ModAction) {
		a.Removed = &removed
	})
}

func (s *MemCaseStore) UpdateOnExpire(ctx context.Context, id uint, at time.Time) (*models.ModAction, error) {
	return s.deactivate(id, func(a *models.ModAction) {
		a.ExpiredAt = &at
	})
}

func (s *MemCaseStore) UpdateOnExpunge(ctx context.Context, id uint, expunged models.Disposition) (*models.ModAction, error) {
	return s.deactivate(id, func(a *models.ModAction) {
		a.Expunged = &expunged
	})
}

func (s *MemCaseStore) ListActiveWithExpiry(ctx context.Context) ([]models.ModAction, error) {
	return s.list(func(a *models.ModAction) bool {
		return a.Active && a.Duration != nil
	}), nil
}

func (s *MemCaseStore) ListByTarget(ctx context.Context, targetID string) ([]models.ModAction, error) {
	return s.list(func(a *models.ModAction) bool {
		return a.TargetID == targetID
	}), nil
}

func (s *MemCaseStore) list(match func(a *models.ModAction) bool) []models.ModAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.ModAction{}
	for _, a := range s.actions {
		if match(a) {
			out = append(out, *cloneAction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CaseID < out[j].CaseID
	})
	return out
}
