package voucher

import "fmt"

// Reason is a machine-readable voucher rejection cause.
type Reason string

const (
	ReasonNotFound       Reason = "not_found"
	ReasonInactive       Reason = "inactive"
	ReasonExpired        Reason = "expired"
	ReasonUsageExhausted Reason = "usage_exhausted"
	ReasonNotApplicable  Reason = "not_applicable"
	ReasonBelowMinimum   Reason = "below_minimum"
)

// Error reports why a voucher cannot be applied.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid voucher: %s", e.Reason)
}

// Is matches any *Error carrying the same reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

var (
	ErrNotFound       = &Error{Reason: ReasonNotFound}
	ErrInactive       = &Error{Reason: ReasonInactive}
	ErrExpired        = &Error{Reason: ReasonExpired}
	ErrUsageExhausted = &Error{Reason: ReasonUsageExhausted}
	ErrNotApplicable  = &Error{Reason: ReasonNotApplicable}
	ErrBelowMinimum   = &Error{Reason: ReasonBelowMinimum}
)
