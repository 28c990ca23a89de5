package sleeplist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// records expire callback invocations
type recorder struct {
	mu    sync.Mutex
	calls map[uint]int
	err   error
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[uint]int)}
}

func (r *recorder) expire(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[id]++
	return r.err
}

func (r *recorder) count(id uint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func TestScheduleAndFire(t *testing.T) {
	assert := assert.New(t)

	clock := NewManualClock(t0)
	rec := newRecorder()
	sl := New(clock, rec.expire, nil)
	defer sl.Close()

	sl.Schedule(1, t0.Add(time.Hour))
	sl.Schedule(2, t0.Add(2*time.Hour))
	assert.Equal(2, sl.Len())
	at, ok := sl.FireAt(1)
	assert.True(ok)
	assert.Equal(t0.Add(time.Hour), at)

	clock.Advance(59 * time.Minute)
	assert.Equal(0, rec.count(1))

	clock.Advance(time.Minute)
	assert.Equal(1, rec.count(1))
	assert.Equal(0, rec.count(2))
	assert.Equal(1, sl.Len())

	clock.Advance(24 * time.Hour)
	assert.Equal(1, rec.count(1))
	assert.Equal(1, rec.count(2))
	assert.Equal(0, sl.Len())
	assert.Equal(0, clock.Waiting())
}

func TestCancel(t *testing.T) {
	assert := assert.New(t)

	clock := NewManualClock(t0)
	rec := newRecorder()
	sl := New(clock, rec.expire, nil)
	defer sl.Close()

	assert.False(sl.Cancel(1))

	sl.Schedule(1, t0.Add(time.Hour))
	assert.True(sl.Cancel(1))
	assert.False(sl.Cancel(1))
	assert.Equal(0, sl.Len())

	clock.Advance(2 * time.Hour)
	assert.Equal(0, rec.count(1))

	// cancelling after the entry fired is tolerated, and reports false
	sl.Schedule(2, t0.Add(3*time.Hour))
	clock.Advance(time.Hour)
	assert.Equal(1, rec.count(2))
	assert.False(sl.Cancel(2))
}

func TestRescheduleReplaces(t *testing.T) {
	assert := assert.New(t)

	clock := NewManualClock(t0)
	rec := newRecorder()
	sl := New(clock, rec.expire, nil)
	defer sl.Close()

	sl.Schedule(7, t0.Add(time.Hour))
	sl.Schedule(7, t0.Add(2*time.Hour))
	assert.Equal(1, sl.Len())

	clock.Advance(time.Hour)
	assert.Equal(0, rec.count(7))
	clock.Advance(time.Hour)
	assert.Equal(1, rec.count(7))
}

func TestRehydrateOverdue(t *testing.T) {
	assert := assert.New(t)

	clock := NewManualClock(t0)
	rec := newRecorder()
	sl := New(clock, rec.expire, nil)
	defer sl.Close()

	n := sl.Rehydrate([]Pending{
		{ID: 1, FireAt: t0.Add(-48 * time.Hour)},
		{ID: 2, FireAt: t0},
		{ID: 3, FireAt: t0.Add(time.Hour)},
	})
	assert.Equal(3, n)

	// past-due entries fire immediately, without the clock moving
	assert.Equal(1, rec.count(1))
	assert.Equal(1, rec.count(2))
	assert.Equal(0, rec.count(3))
	assert.Equal(1, sl.Len())

	clock.Advance(time.Hour)
	assert.Equal(1, rec.count(3))
}

func TestCallbackErrorNoRetry(t *testing.T) {
	assert := assert.New(t)

	clock := NewManualClock(t0)
	rec := newRecorder()
	rec.err = errors.New("backend down")
	sl := New(clock, rec.expire, nil)
	defer sl.Close()

	sl.Schedule(1, t0.Add(time.Minute))
	clock.Advance(time.Minute)
	clock.Advance(time.Hour)
	assert.Equal(1, rec.count(1))
	assert.Equal(0, sl.Len())
	assert.False(sl.Cancel(1))
}

func TestCallbackPanicContained(t *testing.T) {
	assert := assert.New(t)

	clock := NewManualClock(t0)
	calls := 0
	sl := New(clock, func(ctx context.Context, id uint) error {
		calls++
		panic("oops")
	}, nil)
	defer sl.Close()

	sl.Schedule(1, t0.Add(time.Minute))
	assert.NotPanics(func() { clock.Advance(time.Minute) })
	assert.Equal(1, calls)
}

func TestCloseDropsPending(t *testing.T) {
	assert := assert.New(t)

	clock := NewManualClock(t0)
	rec := newRecorder()
	sl := New(clock, rec.expire, nil)

	assert.True(sl.Schedule(1, t0.Add(time.Minute)))
	sl.Close()
	assert.Equal(0, sl.Len())

	clock.Advance(time.Hour)
	assert.Equal(0, rec.count(1))

	// scheduling after close is ignored
	assert.False(sl.Schedule(2, t0))
	assert.Equal(0, rec.count(2))
	sl.Close()
}

func TestRealClockFireOrCancelExactlyOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	assert := assert.New(t)

	rec := newRecorder()
	sl := New(RealClock{}, rec.expire, nil)

	const n = 200
	now := time.Now()
	for i := uint(1); i <= n; i++ {
		sl.Schedule(i, now.Add(time.Duration(i%5)*time.Millisecond))
	}

	cancelled := make([]bool, n+1)
	var wg sync.WaitGroup
	for i := uint(1); i <= n; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			cancelled[id] = sl.Cancel(id)
		}(i)
	}
	wg.Wait()

	assert.Eventually(func() bool {
		return sl.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
	// let any callback which won its race finish
	time.Sleep(20 * time.Millisecond)
	sl.Close()

	for i := uint(1); i <= n; i++ {
		fired := rec.count(i)
		if cancelled[i] {
			assert.Equal(0, fired, "id %d cancelled but fired", i)
		} else {
			assert.Equal(1, fired, "id %d neither fired once nor cancelled", i)
		}
	}
}
