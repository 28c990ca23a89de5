// In-memory schedule of pending moderation action expirations (the "sleep list").
//
// Holds one timer per active, time-limited action, keyed by the action's store identifier. Entries go from scheduled to either fired or cancelled, and never come back. The schedule itself is not persisted: at startup it is rebuilt from the record store (issued-at plus duration of every active action) with Rehydrate.
package sleeplist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ExpireFunc is invoked exactly once per fired entry. Errors are logged; there is no retry.
type ExpireFunc func(ctx context.Context, id uint) error

const (
	stateScheduled int32 = iota
	stateFired
	stateCancelled
)

type entry struct {
	id     uint
	fireAt time.Time
	state  atomic.Int32

	mu    sync.Mutex
	timer Timer
}

// the timer may be attached after the entry has already been cancelled or fired
func (e *entry) setTimer(t Timer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer = t
	if e.state.Load() == stateCancelled {
		t.Stop()
	}
}

// transitions scheduled -> cancelled; false if the entry already fired or was cancelled
func (e *entry) cancel() bool {
	if !e.state.CompareAndSwap(stateScheduled, stateCancelled) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

// Pending is one entry to (re)schedule.
type Pending struct {
	ID     uint
	FireAt time.Time
}

type SleepList struct {
	logger  *slog.Logger
	clock   Clock
	expire  ExpireFunc
	entries *xsync.MapOf[uint, *entry]

	ctx    context.Context
	cancel context.CancelFunc

	// guards wg.Add against Close
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(clock Clock, expire ExpireFunc, logger *slog.Logger) *SleepList {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SleepList{
		logger:  logger.With("component", "sleeplist"),
		clock:   clock,
		expire:  expire,
		entries: xsync.NewMapOf[uint, *entry](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule arranges for the expire callback to run for id at fireAt. A fireAt in the past fires as soon as possible. Scheduling an id which is already pending replaces the earlier entry.
//
// Returns false, scheduling nothing, once the list has been closed.
func (s *SleepList) Schedule(id uint, fireAt time.Time) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.logger.Warn("ignoring schedule on closed sleep list", "id", id)
		return false
	}

	e := &entry{id: id, fireAt: fireAt}
	if old, loaded := s.entries.LoadAndStore(id, e); loaded {
		if old.cancel() {
			expirationsCancelled.Inc()
		}
	}
	expirationsScheduled.Inc()
	pendingExpirations.Set(float64(s.entries.Size()))

	delay := fireAt.Sub(s.clock.Now())
	s.logger.Debug("scheduled expiration", "id", id, "fireAt", fireAt, "delay", delay)
	e.setTimer(s.clock.AfterFunc(delay, func() { s.fire(e) }))
	return true
}

// Cancel removes the pending entry for id. Returns false (and does nothing) if there is no such entry, or if it has already fired.
func (s *SleepList) Cancel(id uint) bool {
	e, ok := s.entries.LoadAndDelete(id)
	if !ok {
		return false
	}
	pendingExpirations.Set(float64(s.entries.Size()))
	if !e.cancel() {
		return false
	}
	expirationsCancelled.Inc()
	s.logger.Debug("cancelled expiration", "id", id)
	return true
}

// Rehydrate schedules every given entry. Entries whose fire time has passed fire immediately: an outage delays expirations, it does not lose them.
func (s *SleepList) Rehydrate(pending []Pending) int {
	now := s.clock.Now()
	overdue := 0
	for _, p := range pending {
		if !p.FireAt.After(now) {
			overdue++
		}
		s.Schedule(p.ID, p.FireAt)
	}
	s.logger.Info("rehydrated sleep list", "count", len(pending), "overdue", overdue)
	return len(pending)
}

// Returns the scheduled fire time for a pending entry.
func (s *SleepList) FireAt(id uint) (time.Time, bool) {
	e, ok := s.entries.Load(id)
	if !ok {
		return time.Time{}, false
	}
	return e.fireAt, true
}

// Number of entries which have not yet fired or been cancelled.
func (s *SleepList) Len() int {
	return s.entries.Size()
}

func (s *SleepList) fire(e *entry) {
	if !e.state.CompareAndSwap(stateScheduled, stateFired) {
		return
	}
	// only remove the table slot if it still refers to this entry (it may have been re-scheduled)
	s.entries.Compute(e.id, func(cur *entry, loaded bool) (*entry, bool) {
		if !loaded || cur == e {
			return nil, true
		}
		return cur, false
	})
	pendingExpirations.Set(float64(s.entries.Size()))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	expirationsFired.Inc()
	if err := s.runExpire(e.id); err != nil {
		expireCallbackErrors.Inc()
		s.logger.Error("expiration callback failed", "id", e.id, "fireAt", e.fireAt, "err", err)
	}
}

func (s *SleepList) runExpire(id uint) (err error) {
	// similar to an HTTP server, recover any panic from the callback
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("expiration callback panic: %v", r)
		}
	}()
	return s.expire(s.ctx, id)
}

// Close stops all pending timers and waits for in-flight callbacks to return. Pending entries are dropped, not fired; they will be rehydrated from the store on next startup.
func (s *SleepList) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.entries.Range(func(id uint, e *entry) bool {
		e.cancel()
		s.entries.Delete(id)
		return true
	})
	pendingExpirations.Set(float64(s.entries.Size()))
	s.wg.Wait()
	s.cancel()
}
