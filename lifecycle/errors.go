package lifecycle

import (
	"errors"
	"fmt"

	"github.com/bluesky-social/warden/duration"
	"github.com/bluesky-social/warden/enforcement"
)

var (
	// invalid input: rejected before any side effect
	ErrInvalidDuration = duration.ErrInvalidDuration
	ErrMissingField    = errors.New("missing required field")
	ErrUnknownKind     = errors.New("unknown action kind")
	ErrTargetExempt    = errors.New("target is exempt from moderation actions")

	// precondition failures: rejected after read-only checks
	ErrAlreadyApplied     = errors.New("action is already in effect for this target")
	ErrNotCurrentlyActive = errors.New("no active action of this kind for this target")
	ErrNotActuallyApplied = errors.New("action was recorded as active but was not in effect")
	ErrRecordMismatch     = errors.New("an active record exists but the action is not in effect")
	ErrCaseNotFound       = errors.New("case not found")

	// enforcement backend call failed
	ErrEnforcementFailed = errors.New("enforcement backend failure")
)

type Class int

const (
	ClassInternal Class = iota
	ClassInvalidInput
	ClassPrecondition
	ClassEnforcement
)

func (c Class) String() string {
	switch c {
	case ClassInvalidInput:
		return "invalid_input"
	case ClassPrecondition:
		return "precondition_failed"
	case ClassEnforcement:
		return "enforcement_failed"
	default:
		return "internal"
	}
}

// Classify maps an error returned by the Engine to its failure class. Anything unrecognized is internal.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, ErrInvalidDuration),
		errors.Is(err, ErrMissingField),
		errors.Is(err, ErrUnknownKind),
		errors.Is(err, enforcement.ErrUnknownKind),
		errors.Is(err, ErrTargetExempt):
		return ClassInvalidInput
	case errors.Is(err, ErrAlreadyApplied),
		errors.Is(err, ErrNotCurrentlyActive),
		errors.Is(err, ErrNotActuallyApplied),
		errors.Is(err, ErrRecordMismatch),
		errors.Is(err, ErrCaseNotFound):
		return ClassPrecondition
	case errors.Is(err, ErrEnforcementFailed):
		return ClassEnforcement
	default:
		return ClassInternal
	}
}

// UserMessage renders an error for the issuing operator. Internal and backend errors get a generic message; details go to logs and the critical error sink.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case ClassInvalidInput, ClassPrecondition:
		return err.Error()
	case ClassEnforcement:
		return "the enforcement backend could not complete the request; operators have been alerted"
	default:
		return "an unexpected error occurred; operators have been alerted"
	}
}

func missingField(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, name)
}
