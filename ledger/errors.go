/*
errors.go - Centralized error kinds for the compliance engine

PURPOSE:
  All error kinds in one place. Every error that crosses a package boundary
  can be classified into exactly one Kind, which the API layer maps to an
  HTTP status and callers test with errors.Is.

ERROR KINDS:
  Validation  - malformed input (400)
  BadRequest  - structurally valid but unusable input, e.g. unknown action (400)
  NotFound    - referenced entity absent, or compliance request already resolved (404)
  Forbidden   - actor lacks permission (403)
  Business    - domain-rule violation (409)
  Settlement  - external settlement call failed or returned non-success (400)

USAGE:
  return ledger.Errorf(ledger.KindBusiness, "intake.buy", ledger.ErrInsufficientVolume,
      "available %d, reserved %d, requested %d", av, reserved, qty)

  if errors.Is(err, ledger.ErrBusiness) { ... }
  if errors.Is(err, ledger.ErrInsufficientVolume) { ... }

SEE ALSO:
  - api/errors.go: Kind -> HTTP status mapping
  - settlement/client.go: settlement errors unwrap to ErrSettlement
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// KINDS - Use with errors.Is()
// =============================================================================

type Kind string

const (
	KindValidation Kind = "validation"
	KindBadRequest Kind = "bad_request"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindBusiness   Kind = "business"
	KindSettlement Kind = "settlement"
	KindInternal   Kind = "internal"
)

var (
	ErrValidation = errors.New("validation error")
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrBusiness   = errors.New("business rule violation")
	ErrSettlement = errors.New("settlement failed")

	// ErrConcurrentModification is returned when a conditional update finds
	// a newer version of the document than the one it read.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// DOMAIN SENTINELS - Wrapped inside an *Error carrying their kind
// =============================================================================

var (
	ErrSelfReview          = errors.New("creator cannot review own compliance request")
	ErrAlreadyResolved     = errors.New("compliance request already resolved")
	ErrInvalidAction       = errors.New("invalid compliance action")
	ErrInsufficientVolume  = errors.New("insufficient available volume")
	ErrNonCallPeriod       = errors.New("holding is within its non-call period")
	ErrInterestAlreadyPaid = errors.New("isInterestTransactionQuarter")
	ErrRepaymentPending    = errors.New("repayment already pending")
	ErrNegativeRepayment   = errors.New("repayment amount is negative")
	ErrNoPosition          = errors.New("investor holds no position")
	ErrNothingSold         = errors.New("product has no sold tickets")
	ErrDeactivatePending   = errors.New("deactivation already requested")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInactive            = errors.New("entity is not active")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindBadRequest:
		return ErrBadRequest
	case KindNotFound:
		return ErrNotFound
	case KindForbidden:
		return ErrForbidden
	case KindBusiness:
		return ErrBusiness
	case KindSettlement:
		return ErrSettlement
	default:
		return nil
	}
}

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is a classified failure. Op names the operation that failed
// ("dispatcher.resolve", "intake.buy"), Err is the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := sentinelFor(e.Kind); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// E builds a classified error.
func E(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: cause}
}

// NotFound is shorthand for a missing entity.
func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf returns the kind of the outermost classified error, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrSettlement):
		return KindSettlement
	case errors.Is(err, ErrConcurrentModification):
		return KindBusiness
	}
	return KindInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindBadRequest, KindBusiness:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
