package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes every event to a structured logger. Useful as a default sink, and alongside the remote ones.
type LogNotifier struct {
	Logger *slog.Logger
}

var (
	_ Notifier  = (*LogNotifier)(nil)
	_ Auditor   = (*LogNotifier)(nil)
	_ ErrorSink = (*LogNotifier)(nil)
)

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger.With("component", "notify")}
}

func (n *LogNotifier) NotifyTarget(ctx context.Context, t TargetNotice) error {
	n.Logger.InfoContext(ctx, "target notice", "kind", t.Kind, "target", t.TargetID, "text", noticeText(t))
	return nil
}

func (n *LogNotifier) Audit(ctx context.Context, e AuditEntry) error {
	n.Logger.InfoContext(ctx, "audit", "event", e.Kind, "case", e.Action.CaseID, "kind", e.Action.Kind, "target", e.Action.TargetID, "actor", e.Actor)
	return nil
}

func (n *LogNotifier) Critical(ctx context.Context, r CriticalReport) error {
	n.Logger.ErrorContext(ctx, "critical", "op", r.Op, "case", r.CaseID, "kind", r.Kind, "target", r.TargetID, "err", r.Error)
	return nil
}
