package casestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/warden/models"

	"gorm.io/gorm"
)

// number of times CreateAction retries when two writers race for the same case id
var maxCaseIDAttempts = 5

// SQL-backed CaseStore. Works with both sqlite and postgres.
type GormCaseStore struct {
	db *gorm.DB
}

var _ CaseStore = (*GormCaseStore)(nil)

// Wraps the database handle, running schema migrations.
func NewGormCaseStore(db *gorm.DB) (*GormCaseStore, error) {
	if err := db.AutoMigrate(&models.ModAction{}); err != nil {
		return nil, fmt.Errorf("migrating mod_actions table: %w", err)
	}
	return &GormCaseStore{db: db}, nil
}

func (s *GormCaseStore) CreateAction(ctx context.Context, act *models.ModAction) (int64, error) {
	for attempt := 0; attempt < maxCaseIDAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var last int64
			if err := tx.Model(&models.ModAction{}).Select("COALESCE(MAX(case_id), 0)").Scan(&last).Error; err != nil {
				return err
			}
			act.ID = 0
			act.CaseID = last + 1
			return tx.Create(act).Error
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("creating moderation action: %w", err)
		}
		return act.CaseID, nil
	}
	return 0, fmt.Errorf("creating moderation action: case id contention after %d attempts", maxCaseIDAttempts)
}

func (s *GormCaseStore) GetAction(ctx context.Context, id uint) (*models.ModAction, error) {
	var act models.ModAction
	if err := s.db.WithContext(ctx).First(&act, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &act, nil
}

func (s *GormCaseStore) GetCase(ctx context.Context, caseID int64) (*models.ModAction, error) {
	var act models.ModAction
	if err := s.db.WithContext(ctx).Where("case_id = ?", caseID).First(&act).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &act, nil
}

func (s *GormCaseStore) FindActiveByTargetAndKind(ctx context.Context, targetID string, kind models.ActionKind) (*models.ModAction, error) {
	var found []models.ModAction
	res := s.db.WithContext(ctx).
		Where("kind = ? AND target_id = ? AND active = ?", kind, targetID, true).
		Order("case_id DESC").
		Limit(1).
		Find(&found)
	if res.Error != nil {
		return nil, res.Error
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// flips active to false, along with the given disposition columns, only if
// the row is still active. RowsAffected tells us whether this caller won.
func (s *GormCaseStore) deactivate(ctx context.Context, id uint, upd models.ModAction, columns ...string) (*models.ModAction, error) {
	upd.Active = false
	columns = append(columns, "active")
	res := s.db.WithContext(ctx).
		Model(&models.ModAction{}).
		Where("id = ? AND active = ?", id, true).
		Select(columns).
		Updates(&upd)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetAction(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyInactive
	}
	return s.GetAction(ctx, id)
}

func (s *GormCaseStore) UpdateOnRevoke(ctx context.Context, id uint, removed models.Disposition) (*models.ModAction, error) {
	return s.deactivate(ctx, id, models.ModAction{Removed: &removed}, "removed")
}

func (s *GormCaseStore) UpdateOnExpire(ctx context.Context, id uint, at time.Time) (*models.ModAction, error) {
	return s.deactivate(ctx, id, models.ModAction{ExpiredAt: &at}, "expired_at")
}

func (s *GormCaseStore) UpdateOnExpunge(ctx context.Context, id uint, expunged models.Disposition) (*models.ModAction, error) {
	return s.deactivate(ctx, id, models.ModAction{Expunged: &expunged}, "expunged")
}

func (s *GormCaseStore) ListActiveWithExpiry(ctx context.Context) ([]models.ModAction, error) {
	var out []models.ModAction
	err := s.db.WithContext(ctx).
		Where("active = ? AND duration IS NOT NULL", true).
		Order("case_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormCaseStore) ListByTarget(ctx context.Context, targetID string) ([]models.ModAction, error) {
	var out []models.ModAction
	err := s.db.WithContext(ctx).
		Where("target_id = ?", targetID).
		Order("case_id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
