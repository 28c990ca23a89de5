package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/bluesky-social/warden/notify"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func finishOp(span trace.Span, op string, start time.Time, errp *error) {
	result := "ok"
	if err := *errp; err != nil {
		result = Classify(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	operationCount.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	span.End()
}

// similar to an HTTP server, we want to recover any panics from backends and sinks, and surface them as internal errors
func (eng *Engine) recoverOp(op string, errp *error) {
	if r := recover(); r != nil {
		eng.Logger.Error("moderation operation exception", "op", op, "err", r)
		*errp = fmt.Errorf("%s: unexpected failure: %v", op, r)
	}
}

// callers only ever see a generic message for internal errors, so every one of them goes to the critical sink, once, here
func (eng *Engine) reportInternal(ctx context.Context, r notify.CriticalReport, errp *error) {
	if *errp == nil || Classify(*errp) != ClassInternal {
		return
	}
	r.Error = (*errp).Error()
	eng.critical(ctx, r)
}

// The side effects below are best-effort: failures (and panics) are logged and counted, never returned.

func (eng *Engine) notifyTarget(ctx context.Context, n notify.TargetNotice) {
	defer eng.containSideEffect("notify")
	if err := eng.Notifier.NotifyTarget(ctx, n); err != nil {
		sideEffectFailures.WithLabelValues("notify").Inc()
		eng.Logger.Warn("failed to notify target", "kind", n.Kind, "target", n.TargetID, "err", err)
	}
}

func (eng *Engine) audit(ctx context.Context, e notify.AuditEntry) {
	defer eng.containSideEffect("audit")
	if err := eng.Audit.Audit(ctx, e); err != nil {
		sideEffectFailures.WithLabelValues("audit").Inc()
		eng.Logger.Warn("failed to post audit entry", "event", e.Kind, "case", e.Action.CaseID, "err", err)
	}
}

func (eng *Engine) critical(ctx context.Context, r notify.CriticalReport) {
	defer eng.containSideEffect("critical")
	criticalReports.WithLabelValues(r.Op).Inc()
	eng.Logger.Error("critical moderation failure", "op", r.Op, "case", r.CaseID, "kind", r.Kind, "target", r.TargetID, "err", r.Error)
	if err := eng.Errors.Critical(ctx, r); err != nil {
		sideEffectFailures.WithLabelValues("critical").Inc()
		eng.Logger.Warn("failed to deliver critical report", "op", r.Op, "err", err)
	}
}

func (eng *Engine) containSideEffect(sink string) {
	if r := recover(); r != nil {
		sideEffectFailures.WithLabelValues(sink).Inc()
		eng.Logger.Error("side effect exception", "sink", sink, "err", r)
	}
}
