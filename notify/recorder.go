package notify

import (
	"context"
	"sync"
)

// Recorder keeps every event in memory. Used by tests, and by callers that want to inspect recent activity.
type Recorder struct {
	mu        sync.Mutex
	notices   []TargetNotice
	audits    []AuditEntry
	criticals []CriticalReport

	// if set, returned from every call (after recording)
	Err error
}

var (
	_ Notifier  = (*Recorder)(nil)
	_ Auditor   = (*Recorder)(nil)
	_ ErrorSink = (*Recorder)(nil)
)

func (r *Recorder) NotifyTarget(ctx context.Context, n TargetNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.Err
}

func (r *Recorder) Audit(ctx context.Context, e AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, e)
	return r.Err
}

func (r *Recorder) Critical(ctx context.Context, c CriticalReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.criticals = append(r.criticals, c)
	return r.Err
}

func (r *Recorder) Notices() []TargetNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TargetNotice(nil), r.notices...)
}

func (r *Recorder) Audits() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEntry(nil), r.audits...)
}

// Audit entries of a single kind.
func (r *Recorder) AuditsOf(kind AuditKind) []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AuditEntry
	for _, e := range r.audits {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Criticals() []CriticalReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CriticalReport(nil), r.criticals...)
}
