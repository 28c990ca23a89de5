// Orchestrates the lifecycle of moderation actions: issuing, manual revocation, natural expiry, and administrative expunging.
//
// Three things are kept consistent: the record store (what should be in effect), the enforcement backends (what is in effect), and the expiry schedule. The record store's conditional update on the active flag is the single point of serialization between racing Revoke, ExpireOne and Expunge calls for the same record; there is no lock in the engine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/warden/casestore"
	"github.com/bluesky-social/warden/duration"
	"github.com/bluesky-social/warden/enforcement"
	"github.com/bluesky-social/warden/models"
	"github.com/bluesky-social/warden/notify"
	"github.com/bluesky-social/warden/sleeplist"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lifecycle")

// Engine is configured by setting fields, then calling Start. Store and Enforcers are required; the notification sinks default to logging, and Exempt is optional.
type Engine struct {
	Logger    *slog.Logger
	Store     casestore.CaseStore
	Enforcers *enforcement.Registry
	Notifier  notify.Notifier
	Audit     notify.Auditor
	Errors    notify.ErrorSink
	Exempt    Exempter
	// defaults to the wall clock; tests use a sleeplist.ManualClock
	Clock sleeplist.Clock

	setupOnce sync.Once
	checker   *enforcement.Checker
	scheduler *sleeplist.SleepList
}

type IssueRequest struct {
	Kind          models.ActionKind
	TargetID      string
	TargetLabel   string
	OperatorID    string
	OperatorLabel string
	// human duration string; empty or a sentinel like "perm" means indefinite
	Duration  string
	Reason    string
	OriginRef string
}

type RevokeRequest struct {
	Kind          models.ActionKind
	TargetID      string
	OperatorID    string
	OperatorLabel string
	Reason        string
}

type ExpungeRequest struct {
	CaseID        int64
	OperatorID    string
	OperatorLabel string
	Reason        string
}

func (eng *Engine) setup() {
	eng.setupOnce.Do(func() {
		if eng.Logger == nil {
			eng.Logger = slog.Default()
		}
		eng.Logger = eng.Logger.With("component", "lifecycle")
		if eng.Clock == nil {
			eng.Clock = sleeplist.RealClock{}
		}
		if eng.Notifier == nil || eng.Audit == nil || eng.Errors == nil {
			ln := notify.NewLogNotifier(eng.Logger)
			if eng.Notifier == nil {
				eng.Notifier = ln
			}
			if eng.Audit == nil {
				eng.Audit = ln
			}
			if eng.Errors == nil {
				eng.Errors = ln
			}
		}
		eng.checker = &enforcement.Checker{Registry: eng.Enforcers}
		eng.scheduler = sleeplist.New(eng.Clock, eng.ExpireOne, eng.Logger)
	})
}

// Scheduler exposes the expiry schedule, mostly for introspection.
func (eng *Engine) Scheduler() *sleeplist.SleepList {
	eng.setup()
	return eng.scheduler
}

// Start rebuilds the expiry schedule from the record store. Must be called before accepting new actions; actions whose expiry passed while the process was down are expired immediately.
func (eng *Engine) Start(ctx context.Context) error {
	eng.setup()
	ctx, span := tracer.Start(ctx, "Start")
	defer span.End()

	acts, err := eng.Store.ListActiveWithExpiry(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("listing actions to rehydrate: %w", err)
	}
	pending := make([]sleeplist.Pending, 0, len(acts))
	for _, a := range acts {
		at, ok := a.ExpiresAt()
		if !ok {
			continue
		}
		pending = append(pending, sleeplist.Pending{ID: a.ID, FireAt: at})
	}
	n := eng.scheduler.Rehydrate(pending)
	span.SetAttributes(attribute.Int("rehydrated", n))
	return nil
}

// Close stops the expiry schedule. Pending expirations are picked up again by the next Start.
//
// Issuing after Close still enforces and records the action, but its expiry is only scheduled by the next Start.
func (eng *Engine) Close() {
	eng.setup()
	eng.scheduler.Close()
}

// Issue applies a new moderation action and records it as a case.
//
// Enforcement happens before the record is created, so a record never claims an action which was not enforced. The target is notified before enforcement, since some actions (a suspension) would block delivery.
func (eng *Engine) Issue(ctx context.Context, req IssueRequest) (act *models.ModAction, err error) {
	eng.setup()
	ctx, span := tracer.Start(ctx, "Issue", trace.WithAttributes(
		attribute.String("kind", string(req.Kind)),
		attribute.String("target", req.TargetID),
	))
	defer finishOp(span, "issue", time.Now(), &err)
	defer eng.reportInternal(ctx, notify.CriticalReport{Op: "issue", Kind: req.Kind, TargetID: req.TargetID}, &err)
	defer eng.recoverOp("issue", &err)

	switch {
	case req.Kind == "":
		return nil, missingField("kind")
	case req.TargetID == "":
		return nil, missingField("target")
	case req.OperatorID == "":
		return nil, missingField("operator")
	}
	enforcer, err := eng.enforcer(req.Kind)
	if err != nil {
		return nil, err
	}
	if eng.Exempt != nil {
		exempt, err := eng.Exempt.IsExempt(ctx, req.TargetID)
		if err != nil {
			return nil, fmt.Errorf("checking exemption: %w", err)
		}
		if exempt {
			return nil, fmt.Errorf("%w: %s", ErrTargetExempt, req.TargetID)
		}
	}
	dur, err := duration.Parse(req.Duration)
	if err != nil {
		return nil, err
	}

	logger := eng.Logger.With("kind", req.Kind, "target", req.TargetID)

	applied, err := eng.checker.IsEffectivelyApplied(ctx, req.Kind, req.TargetID)
	if err != nil {
		enforcementFailures.WithLabelValues(string(req.Kind), "query").Inc()
		return nil, fmt.Errorf("%w: checking current state: %w", ErrEnforcementFailed, err)
	}
	if applied {
		return nil, fmt.Errorf("%w: %s %s", ErrAlreadyApplied, req.Kind, req.TargetID)
	}
	existing, err := eng.Store.FindActiveByTargetAndKind(ctx, req.TargetID, req.Kind)
	if err != nil {
		return nil, fmt.Errorf("looking up active record: %w", err)
	}
	if existing != nil {
		mismatch := fmt.Errorf("%w: case %d", ErrRecordMismatch, existing.CaseID)
		eng.critical(ctx, notify.CriticalReport{
			Op:       "issue",
			CaseID:   existing.CaseID,
			Kind:     req.Kind,
			TargetID: req.TargetID,
			Error:    mismatch.Error(),
		})
		return nil, mismatch
	}

	eng.notifyTarget(ctx, notify.TargetNotice{
		Kind:          req.Kind,
		TargetID:      req.TargetID,
		TargetLabel:   req.TargetLabel,
		OperatorLabel: req.OperatorLabel,
		Reason:        req.Reason,
		Duration:      dur,
	})

	if err := enforcer.Apply(ctx, req.TargetID, req.Reason); err != nil {
		enforcementFailures.WithLabelValues(string(req.Kind), "apply").Inc()
		return nil, fmt.Errorf("%w: applying %s: %w", ErrEnforcementFailed, req.Kind, err)
	}

	act = &models.ModAction{
		Kind:          req.Kind,
		TargetID:      req.TargetID,
		TargetLabel:   req.TargetLabel,
		OperatorID:    req.OperatorID,
		OperatorLabel: req.OperatorLabel,
		Reason:        req.Reason,
		IssuedAt:      eng.Clock.Now(),
		Duration:      dur,
		Active:        true,
		OriginRef:     req.OriginRef,
	}
	if _, err := eng.Store.CreateAction(ctx, act); err != nil {
		// the action is enforced but unrecorded; try to take it back off
		if rmErr := enforcer.Remove(ctx, req.TargetID, "record creation failed"); rmErr != nil {
			enforcementFailures.WithLabelValues(string(req.Kind), "remove").Inc()
			// %v keeps this classed as internal
			return nil, fmt.Errorf("creating record: %w (compensating remove also failed: %v)", err, rmErr)
		}
		return nil, fmt.Errorf("creating record: %w", err)
	}
	span.SetAttributes(attribute.Int64("case", act.CaseID))

	eng.audit(ctx, notify.AuditEntry{
		Kind:   notify.AuditIssued,
		Action: *act,
		Actor:  operatorName(req.OperatorID, req.OperatorLabel),
	})
	logger.Info("issued moderation action", "case", act.CaseID, "duration", duration.Format(dur))

	// a zero duration may expire inline, so this comes after the issued audit entry
	if at, ok := act.ExpiresAt(); ok {
		if !eng.scheduler.Schedule(act.ID, at) {
			logger.Error("expiry not scheduled, engine is closed; the action expires after the next Start", "case", act.CaseID, "expiresAt", at)
		}
	}
	return act, nil
}

// Revoke ends the active action of a kind against a target before its natural expiry.
func (eng *Engine) Revoke(ctx context.Context, req RevokeRequest) (act *models.ModAction, err error) {
	eng.setup()
	ctx, span := tracer.Start(ctx, "Revoke", trace.WithAttributes(
		attribute.String("kind", string(req.Kind)),
		attribute.String("target", req.TargetID),
	))
	defer finishOp(span, "revoke", time.Now(), &err)
	defer eng.reportInternal(ctx, notify.CriticalReport{Op: "revoke", Kind: req.Kind, TargetID: req.TargetID}, &err)
	defer eng.recoverOp("revoke", &err)

	switch {
	case req.Kind == "":
		return nil, missingField("kind")
	case req.TargetID == "":
		return nil, missingField("target")
	case req.OperatorID == "":
		return nil, missingField("operator")
	}
	enforcer, err := eng.enforcer(req.Kind)
	if err != nil {
		return nil, err
	}

	current, err := eng.Store.FindActiveByTargetAndKind(ctx, req.TargetID, req.Kind)
	if err != nil {
		return nil, fmt.Errorf("looking up active record: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotCurrentlyActive, req.Kind, req.TargetID)
	}

	act, err = eng.Store.UpdateOnRevoke(ctx, current.ID, models.Disposition{
		OperatorID:    req.OperatorID,
		OperatorLabel: req.OperatorLabel,
		Reason:        req.Reason,
		At:            eng.Clock.Now(),
	})
	if errors.Is(err, casestore.ErrAlreadyInactive) || errors.Is(err, casestore.ErrNotFound) {
		// lost the race against expiry (or another revoke)
		return nil, fmt.Errorf("%w: %s %s", ErrNotCurrentlyActive, req.Kind, req.TargetID)
	}
	if err != nil {
		return nil, fmt.Errorf("updating record: %w", err)
	}
	span.SetAttributes(attribute.Int64("case", act.CaseID))
	// the record is inactive from here on; a timer firing now would be a no-op anyway
	eng.scheduler.Cancel(act.ID)

	actor := operatorName(req.OperatorID, req.OperatorLabel)
	if err := eng.removeEnforcement(ctx, "revoke", enforcer, act, req.Reason, actor, true); err != nil {
		return act, err
	}

	eng.audit(ctx, notify.AuditEntry{
		Kind:   notify.AuditRevoked,
		Action: *act,
		Actor:  actor,
	})
	eng.Logger.Info("revoked moderation action", "case", act.CaseID, "kind", act.Kind, "target", act.TargetID)
	return act, nil
}

// ExpireOne is the expiry schedule's callback. If the record is no longer active (revoked, expunged, or already expired) it does nothing.
func (eng *Engine) ExpireOne(ctx context.Context, id uint) (err error) {
	eng.setup()
	ctx, span := tracer.Start(ctx, "ExpireOne", trace.WithAttributes(attribute.Int64("id", int64(id))))
	defer finishOp(span, "expire", time.Now(), &err)
	defer eng.reportInternal(ctx, notify.CriticalReport{Op: "expire"}, &err)
	defer eng.recoverOp("expire", &err)

	act, err := eng.Store.UpdateOnExpire(ctx, id, eng.Clock.Now())
	if errors.Is(err, casestore.ErrAlreadyInactive) {
		eng.Logger.Debug("expiry for inactive action skipped", "id", id)
		return nil
	}
	if errors.Is(err, casestore.ErrNotFound) {
		eng.Logger.Warn("expiry for unknown action skipped", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("updating record %d: %w", id, err)
	}
	span.SetAttributes(attribute.Int64("case", act.CaseID))

	enforcer, err := eng.enforcer(act.Kind)
	if err != nil {
		eng.critical(ctx, notify.CriticalReport{
			Op:       "expire",
			CaseID:   act.CaseID,
			Kind:     act.Kind,
			TargetID: act.TargetID,
			Error:    err.Error(),
		})
		return err
	}
	if err := eng.removeEnforcement(ctx, "expire", enforcer, act, act.Reason, "", false); err != nil {
		return err
	}

	eng.audit(ctx, notify.AuditEntry{Kind: notify.AuditExpired, Action: *act})
	eng.Logger.Info("moderation action expired", "case", act.CaseID, "kind", act.Kind, "target", act.TargetID)
	return nil
}

// Expunge is an administrative override which ends an active case outright, for example when it was issued in error.
func (eng *Engine) Expunge(ctx context.Context, req ExpungeRequest) (act *models.ModAction, err error) {
	eng.setup()
	ctx, span := tracer.Start(ctx, "Expunge", trace.WithAttributes(attribute.Int64("case", req.CaseID)))
	defer finishOp(span, "expunge", time.Now(), &err)
	defer eng.reportInternal(ctx, notify.CriticalReport{Op: "expunge", CaseID: req.CaseID}, &err)
	defer eng.recoverOp("expunge", &err)

	if req.CaseID <= 0 {
		return nil, missingField("case")
	}
	if req.OperatorID == "" {
		return nil, missingField("operator")
	}

	current, err := eng.lookupCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}
	if !current.Active {
		return nil, fmt.Errorf("%w: case %d is %s", ErrNotCurrentlyActive, req.CaseID, current.Status())
	}
	enforcer, err := eng.enforcer(current.Kind)
	if err != nil {
		return nil, err
	}

	act, err = eng.Store.UpdateOnExpunge(ctx, current.ID, models.Disposition{
		OperatorID:    req.OperatorID,
		OperatorLabel: req.OperatorLabel,
		Reason:        req.Reason,
		At:            eng.Clock.Now(),
	})
	if errors.Is(err, casestore.ErrAlreadyInactive) {
		return nil, fmt.Errorf("%w: case %d", ErrNotCurrentlyActive, req.CaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("updating record: %w", err)
	}
	eng.scheduler.Cancel(act.ID)

	actor := operatorName(req.OperatorID, req.OperatorLabel)
	// expunging does not require the action to still be in effect
	applied, err := eng.checker.IsEffectivelyApplied(ctx, act.Kind, act.TargetID)
	if err != nil {
		enforcementFailures.WithLabelValues(string(act.Kind), "query").Inc()
		eng.reportRemoveFailure(ctx, "expunge", act, actor, err)
		return act, fmt.Errorf("%w: checking current state: %w", ErrEnforcementFailed, err)
	}
	if applied {
		if err := enforcer.Remove(ctx, act.TargetID, req.Reason); err != nil {
			enforcementFailures.WithLabelValues(string(act.Kind), "remove").Inc()
			eng.reportRemoveFailure(ctx, "expunge", act, actor, err)
			return act, fmt.Errorf("%w: removing %s: %w", ErrEnforcementFailed, act.Kind, err)
		}
	}

	eng.audit(ctx, notify.AuditEntry{
		Kind:   notify.AuditExpunged,
		Action: *act,
		Actor:  actor,
	})
	eng.Logger.Info("expunged moderation action", "case", act.CaseID, "kind", act.Kind, "target", act.TargetID)
	return act, nil
}

func (eng *Engine) Case(ctx context.Context, caseID int64) (act *models.ModAction, err error) {
	eng.setup()
	ctx, span := tracer.Start(ctx, "Case", trace.WithAttributes(attribute.Int64("case", caseID)))
	defer finishOp(span, "case", time.Now(), &err)
	defer eng.reportInternal(ctx, notify.CriticalReport{Op: "case", CaseID: caseID}, &err)

	return eng.lookupCase(ctx, caseID)
}

func (eng *Engine) lookupCase(ctx context.Context, caseID int64) (*models.ModAction, error) {
	act, err := eng.Store.GetCase(ctx, caseID)
	if errors.Is(err, casestore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrCaseNotFound, caseID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching case %d: %w", caseID, err)
	}
	return act, nil
}

// History returns every case against a target, oldest first.
func (eng *Engine) History(ctx context.Context, targetID string) (acts []models.ModAction, err error) {
	eng.setup()
	ctx, span := tracer.Start(ctx, "History", trace.WithAttributes(attribute.String("target", targetID)))
	defer finishOp(span, "history", time.Now(), &err)
	defer eng.reportInternal(ctx, notify.CriticalReport{Op: "history", TargetID: targetID}, &err)

	if targetID == "" {
		return nil, missingField("target")
	}
	acts, err = eng.Store.ListByTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}
	return acts, nil
}

func (eng *Engine) enforcer(kind models.ActionKind) (enforcement.Enforcer, error) {
	e, err := eng.Enforcers.Get(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return e, nil
}

// removeEnforcement takes an action off the backend after its record was flipped inactive. If verify is set, the backend must currently report the action as applied; a mismatch is reported but not repaired.
func (eng *Engine) removeEnforcement(ctx context.Context, op string, enforcer enforcement.Enforcer, act *models.ModAction, reason, actor string, verify bool) error {
	if verify {
		applied, err := eng.checker.IsEffectivelyApplied(ctx, act.Kind, act.TargetID)
		if err != nil {
			enforcementFailures.WithLabelValues(string(act.Kind), "query").Inc()
			eng.reportRemoveFailure(ctx, op, act, actor, err)
			return fmt.Errorf("%w: checking current state: %w", ErrEnforcementFailed, err)
		}
		if !applied {
			mismatch := fmt.Errorf("%w: case %d", ErrNotActuallyApplied, act.CaseID)
			eng.critical(ctx, notify.CriticalReport{
				Op:       op,
				CaseID:   act.CaseID,
				Kind:     act.Kind,
				TargetID: act.TargetID,
				Error:    mismatch.Error(),
			})
			eng.audit(ctx, notify.AuditEntry{
				Kind:   notify.AuditRevoked,
				Action: *act,
				Actor:  actor,
				Note:   "Enforcement was not in effect; nothing removed",
			})
			return mismatch
		}
	}

	if err := enforcer.Remove(ctx, act.TargetID, reason); err != nil {
		enforcementFailures.WithLabelValues(string(act.Kind), "remove").Inc()
		eng.reportRemoveFailure(ctx, op, act, actor, err)
		return fmt.Errorf("%w: removing %s: %w", ErrEnforcementFailed, act.Kind, err)
	}
	return nil
}

// the record says inactive but the backend may still enforce; this needs a human
func (eng *Engine) reportRemoveFailure(ctx context.Context, op string, act *models.ModAction, actor string, cause error) {
	eng.audit(ctx, notify.AuditEntry{
		Kind:   notify.AuditRemoveFailed,
		Action: *act,
		Actor:  actor,
		Note:   fmt.Sprintf("Record is inactive but enforcement removal failed: %s", cause),
	})
	eng.critical(ctx, notify.CriticalReport{
		Op:       op,
		CaseID:   act.CaseID,
		Kind:     act.Kind,
		TargetID: act.TargetID,
		Error:    cause.Error(),
	})
}

func operatorName(id, label string) string {
	if label != "" {
		return label
	}
	return id
}
