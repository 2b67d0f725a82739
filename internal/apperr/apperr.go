package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies the error category surfaced at the service boundary.
type Kind string

const (
	KindInsufficientCredits      Kind = "insufficient_credits"
	KindInsufficientXP           Kind = "insufficient_xp"
	KindRuleUnavailable          Kind = "rule_unavailable"
	KindBookingFull              Kind = "booking_full"
	KindDuplicateBooking         Kind = "duplicate_booking"
	KindSubscriptionBlocked      Kind = "subscription_blocked"
	KindSubscriptionCancelled    Kind = "subscription_cancelled"
	KindHealthScreeningRequired  Kind = "health_screening_required"
	KindHealthScreeningBlocked   Kind = "health_screening_blocked"
	KindGenderMismatch           Kind = "gender_mismatch"
	KindCancellationWindowPassed Kind = "cancellation_window_passed"
	KindNotFound                 Kind = "not_found"
	KindForbidden                Kind = "forbidden"
	KindConflict                 Kind = "conflict"
	KindExternalTimeout          Kind = "external_timeout"
	KindExternalRejected         Kind = "external_rejected"
	KindInternal                 Kind = "internal"
)

// Sub-reasons for rule_unavailable.
const (
	ReasonCooldown = "cooldown"
	ReasonMaxUses  = "max_uses"
	ReasonInactive = "inactive"
)

// Error is a typed service error. Validation failures carry no wrapped
// cause; internal failures wrap the underlying error.
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two errors by Kind so callers can compare against sentinels
// built with New.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, v ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, v...)}
}

func WithReason(kind Kind, reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: msg}
}

// Internal wraps an unexpected failure. The wrapped error stays reachable
// through errors.Unwrap for logging; callers only see the kind.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err, or internal if err is untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
