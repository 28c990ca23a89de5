package casestore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluesky-social/warden/models"
	"github.com/bluesky-social/warden/util/cliutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGormStore(t *testing.T) *GormCaseStore {
	db, err := cliutil.SetupDatabase("sqlite://:memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqldb, err := db.DB(); err == nil {
			sqldb.Close()
		}
	})
	s, err := NewGormCaseStore(db)
	require.NoError(t, err)
	return s
}

func eachStore(t *testing.T, fn func(t *testing.T, s CaseStore)) {
	t.Run("mem", func(t *testing.T) {
		fn(t, NewMemCaseStore())
	})
	t.Run("gorm", func(t *testing.T) {
		fn(t, testGormStore(t))
	})
}

func newAction(target string, kind models.ActionKind, d *time.Duration) *models.ModAction {
	return &models.ModAction{
		Kind:          kind,
		TargetID:      target,
		TargetLabel:   target + ".example.com",
		OperatorID:    "op1",
		OperatorLabel: "operator one",
		Reason:        "spam",
		IssuedAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:      d,
		Active:        true,
		OriginRef:     "msg:123",
	}
}

func TestCaseStoreCreateAndLookup(t *testing.T) {
	eachStore(t, func(t *testing.T, s CaseStore) {
		assert := assert.New(t)
		ctx := context.Background()
		hour := time.Hour

		c1, err := s.CreateAction(ctx, newAction("u1", models.KindSuspend, &hour))
		require.NoError(t, err)
		c2, err := s.CreateAction(ctx, newAction("u2", models.KindMute, nil))
		require.NoError(t, err)
		assert.Equal(int64(1), c1)
		assert.Equal(int64(2), c2)

		got, err := s.GetCase(ctx, 1)
		require.NoError(t, err)
		assert.Equal("u1", got.TargetID)
		assert.Equal(models.KindSuspend, got.Kind)
		assert.True(got.Active)
		assert.Equal("msg:123", got.OriginRef)
		if assert.NotNil(got.Duration) {
			assert.Equal(time.Hour, *got.Duration)
		}
		assert.Nil(got.Removed)
		assert.Nil(got.Expunged)

		byID, err := s.GetAction(ctx, got.ID)
		require.NoError(t, err)
		assert.Equal(int64(1), byID.CaseID)

		_, err = s.GetCase(ctx, 99)
		assert.ErrorIs(err, ErrNotFound)
		_, err = s.GetAction(ctx, 999)
		assert.ErrorIs(err, ErrNotFound)

		active, err := s.FindActiveByTargetAndKind(ctx, "u2", models.KindMute)
		require.NoError(t, err)
		if assert.NotNil(active) {
			assert.Equal(int64(2), active.CaseID)
			assert.Nil(active.Duration)
		}

		none, err := s.FindActiveByTargetAndKind(ctx, "u2", models.KindSuspend)
		assert.NoError(err)
		assert.Nil(none)
	})
}

func TestCaseStoreConditionalUpdates(t *testing.T) {
	eachStore(t, func(t *testing.T, s CaseStore) {
		assert := assert.New(t)
		ctx := context.Background()
		hour := time.Hour

		_, err := s.CreateAction(ctx, newAction("u1", models.KindSuspend, &hour))
		require.NoError(t, err)
		act, err := s.FindActiveByTargetAndKind(ctx, "u1", models.KindSuspend)
		require.NoError(t, err)
		require.NotNil(t, act)

		now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
		revoked, err := s.UpdateOnRevoke(ctx, act.ID, models.Disposition{
			OperatorID: "op2",
			Reason:     "appeal",
			At:         now,
		})
		require.NoError(t, err)
		assert.False(revoked.Active)
		if assert.NotNil(revoked.Removed) {
			assert.Equal("appeal", revoked.Removed.Reason)
			assert.Equal("op2", revoked.Removed.OperatorID)
		}
		assert.Equal(models.StatusRevoked, revoked.Status())

		// the loser of the race observes the flag already flipped
		_, err = s.UpdateOnExpire(ctx, act.ID, now)
		assert.ErrorIs(err, ErrAlreadyInactive)
		_, err = s.UpdateOnExpunge(ctx, act.ID, models.Disposition{Reason: "x"})
		assert.ErrorIs(err, ErrAlreadyInactive)
		_, err = s.UpdateOnRevoke(ctx, 999, models.Disposition{})
		assert.ErrorIs(err, ErrNotFound)

		after, err := s.GetAction(ctx, act.ID)
		require.NoError(t, err)
		assert.Nil(after.ExpiredAt)
		assert.Nil(after.Expunged)

		none, err := s.FindActiveByTargetAndKind(ctx, "u1", models.KindSuspend)
		assert.NoError(err)
		assert.Nil(none)
	})
}

func TestCaseStoreExpireAndExpunge(t *testing.T) {
	eachStore(t, func(t *testing.T, s CaseStore) {
		assert := assert.New(t)
		ctx := context.Background()
		hour := time.Hour

		_, err := s.CreateAction(ctx, newAction("u1", models.KindMute, &hour))
		require.NoError(t, err)
		_, err = s.CreateAction(ctx, newAction("u1", models.KindRestrict, nil))
		require.NoError(t, err)

		a1, err := s.GetCase(ctx, 1)
		require.NoError(t, err)
		at := a1.IssuedAt.Add(time.Hour)
		expired, err := s.UpdateOnExpire(ctx, a1.ID, at)
		require.NoError(t, err)
		assert.False(expired.Active)
		assert.Nil(expired.Removed)
		assert.Nil(expired.Expunged)
		if assert.NotNil(expired.ExpiredAt) {
			assert.True(at.Equal(*expired.ExpiredAt))
		}
		assert.Equal(models.StatusExpired, expired.Status())

		a2, err := s.GetCase(ctx, 2)
		require.NoError(t, err)
		expunged, err := s.UpdateOnExpunge(ctx, a2.ID, models.Disposition{OperatorID: "admin", Reason: "issued in error"})
		require.NoError(t, err)
		assert.Equal(models.StatusExpunged, expunged.Status())

		hist, err := s.ListByTarget(ctx, "u1")
		require.NoError(t, err)
		if assert.Len(hist, 2) {
			assert.Equal(int64(1), hist[0].CaseID)
			assert.Equal(int64(2), hist[1].CaseID)
		}
	})
}

func TestCaseStoreListActiveWithExpiry(t *testing.T) {
	eachStore(t, func(t *testing.T, s CaseStore) {
		assert := assert.New(t)
		ctx := context.Background()
		hour := time.Hour
		day := 24 * time.Hour

		for _, a := range []*models.ModAction{
			newAction("u1", models.KindSuspend, &hour),
			newAction("u2", models.KindSuspend, nil),
			newAction("u3", models.KindMute, &day),
			newAction("u4", models.KindMute, &day),
		} {
			_, err := s.CreateAction(ctx, a)
			require.NoError(t, err)
		}
		a4, err := s.GetCase(ctx, 4)
		require.NoError(t, err)
		_, err = s.UpdateOnRevoke(ctx, a4.ID, models.Disposition{Reason: "appeal"})
		require.NoError(t, err)

		pending, err := s.ListActiveWithExpiry(ctx)
		require.NoError(t, err)
		if assert.Len(pending, 2) {
			assert.Equal("u1", pending[0].TargetID)
			assert.Equal("u3", pending[1].TargetID)
		}
	})
}

func TestCaseStoreRacingUpdates(t *testing.T) {
	eachStore(t, func(t *testing.T, s CaseStore) {
		ctx := context.Background()
		hour := time.Hour

		_, err := s.CreateAction(ctx, newAction("u1", models.KindSuspend, &hour))
		require.NoError(t, err)
		act, err := s.GetCase(ctx, 1)
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				if i%2 == 0 {
					_, err = s.UpdateOnRevoke(ctx, act.ID, models.Disposition{Reason: "appeal"})
				} else {
					_, err = s.UpdateOnExpire(ctx, act.ID, time.Now())
				}
				if err == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, err, ErrAlreadyInactive)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
