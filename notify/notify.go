// Outbound side effects of the moderation action lifecycle: notices to the affected account, audit log posts, and critical error reports for operators.
//
// Delivery is fire-and-forget from the caller's point of view. Implementations return errors so callers can log them, but a failed delivery never changes the outcome of a moderation action.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/warden/duration"
	"github.com/bluesky-social/warden/models"
)

type AuditKind string

const (
	AuditIssued   AuditKind = "issued"
	AuditRevoked  AuditKind = "revoked"
	AuditExpired  AuditKind = "expired"
	AuditExpunged AuditKind = "expunged"
	// enforcement removal failed after the record was already marked inactive
	AuditRemoveFailed AuditKind = "remove_failed"
)

// TargetNotice is sent to the affected account before an action is enforced. There is no case ID yet at that point.
type TargetNotice struct {
	Kind          models.ActionKind `json:"kind"`
	TargetID      string            `json:"targetId"`
	TargetLabel   string            `json:"targetLabel,omitempty"`
	OperatorLabel string            `json:"operatorLabel,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Duration      *time.Duration    `json:"duration,omitempty"`
}

type AuditEntry struct {
	Kind   AuditKind        `json:"kind"`
	Action models.ModAction `json:"action"`
	// operator responsible for this step; empty for natural expiry
	Actor string `json:"actor,omitempty"`
	Note  string `json:"note,omitempty"`
}

// CriticalReport flags a condition which needs operator attention, such as a record and its enforcement state disagreeing.
type CriticalReport struct {
	Op       string            `json:"op"`
	CaseID   int64             `json:"caseId,omitempty"`
	Kind     models.ActionKind `json:"kind,omitempty"`
	TargetID string            `json:"targetId,omitempty"`
	Error    string            `json:"error"`
}

type Notifier interface {
	NotifyTarget(ctx context.Context, n TargetNotice) error
}

type Auditor interface {
	Audit(ctx context.Context, e AuditEntry) error
}

type ErrorSink interface {
	Critical(ctx context.Context, r CriticalReport) error
}

// Multi fans out to every configured sink, attempting all of them even when some fail.
type Multi struct {
	Notifiers  []Notifier
	Auditors   []Auditor
	ErrorSinks []ErrorSink
}

var (
	_ Notifier  = (*Multi)(nil)
	_ Auditor   = (*Multi)(nil)
	_ ErrorSink = (*Multi)(nil)
)

func (m *Multi) NotifyTarget(ctx context.Context, n TargetNotice) error {
	var errs []error
	for _, s := range m.Notifiers {
		errs = append(errs, s.NotifyTarget(ctx, n))
	}
	return errors.Join(errs...)
}

func (m *Multi) Audit(ctx context.Context, e AuditEntry) error {
	var errs []error
	for _, s := range m.Auditors {
		errs = append(errs, s.Audit(ctx, e))
	}
	return errors.Join(errs...)
}

func (m *Multi) Critical(ctx context.Context, r CriticalReport) error {
	var errs []error
	for _, s := range m.ErrorSinks {
		errs = append(errs, s.Critical(ctx, r))
	}
	return errors.Join(errs...)
}

// Plain-text renderings, shared by the chat and log sinks.

func noticeText(n TargetNotice) string {
	msg := fmt.Sprintf("You have received a %s (%s)", n.Kind, duration.Format(n.Duration))
	if n.Reason != "" {
		msg += fmt.Sprintf(" for: %s", n.Reason)
	}
	return msg
}

func auditText(e AuditEntry) string {
	a := e.Action
	var sb strings.Builder
	fmt.Fprintf(&sb, "Case %d `%s` %s: `%s`", a.CaseID, a.Kind, e.Kind, a.TargetID)
	if a.TargetLabel != "" {
		fmt.Fprintf(&sb, " (%s)", a.TargetLabel)
	}
	sb.WriteString("\n")
	switch e.Kind {
	case AuditIssued:
		fmt.Fprintf(&sb, "Duration: %s\n", duration.Format(a.Duration))
		if a.Reason != "" {
			fmt.Fprintf(&sb, "Reason: %s\n", a.Reason)
		}
	case AuditRevoked:
		if a.Removed != nil && a.Removed.Reason != "" {
			fmt.Fprintf(&sb, "Reason: %s\n", a.Removed.Reason)
		}
	case AuditExpunged:
		if a.Expunged != nil && a.Expunged.Reason != "" {
			fmt.Fprintf(&sb, "Reason: %s\n", a.Expunged.Reason)
		}
	}
	if e.Actor != "" {
		fmt.Fprintf(&sb, "By: %s\n", e.Actor)
	}
	if e.Note != "" {
		sb.WriteString(e.Note + "\n")
	}
	return sb.String()
}

func criticalText(r CriticalReport) string {
	msg := fmt.Sprintf("🚨 %s failed", r.Op)
	if r.CaseID != 0 {
		msg += fmt.Sprintf(" (case %d)", r.CaseID)
	}
	if r.TargetID != "" {
		msg += fmt.Sprintf(" `%s` / `%s`", r.Kind, r.TargetID)
	}
	return msg + ": " + r.Error
}
