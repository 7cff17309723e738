package order

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Role identifies the kind of caller driving a transition.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is the explicit identity behind every state change.
type Actor struct {
	Role   Role
	UserID int64
}

// SystemActor drives payment confirmation and scheduled sweeps.
var SystemActor = Actor{Role: RoleSystem}

var (
	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrActorNotAllowed is returned when the actor may not perform a transition.
	ErrActorNotAllowed = errors.New("actor not allowed")
	// ErrReasonRequired is returned when a transition needs a non-empty reason.
	ErrReasonRequired = errors.New("reason required")
	// ErrAwaitingPayment is returned when a gateway order is confirmed by hand
	// before the gateway has settled it.
	ErrAwaitingPayment = errors.New("gateway order awaiting payment")
)

// TransitionError reports a (from, to) pair the lifecycle does not allow.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %q to %q", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type edge struct {
	actors []Role
	// ownOnly restricts customers to their own orders.
	ownOnly        bool
	reasonRequired bool
}

func allow(roles ...Role) edge { return edge{actors: roles, ownOnly: true} }

func (e edge) withReason() edge {
	e.reasonRequired = true
	return e
}

var transitions = map[Status]map[Status]edge{
	StatusPending: {
		StatusProcessing: allow(RoleAdmin, RoleSystem),
		StatusCancelled:  allow(RoleAdmin, RoleCustomer),
	},
	StatusProcessing: {
		StatusShipping:    allow(RoleAdmin, RoleStaff),
		StatusRescheduled: allow(RoleAdmin, RoleStaff),
	},
	StatusRescheduled: {
		StatusShipping:  allow(RoleAdmin, RoleStaff),
		StatusCancelled: allow(RoleAdmin).withReason(),
	},
	StatusShipping: {
		StatusDelivered:        allow(RoleStaff, RoleAdmin),
		StatusFailed:           allow(RoleStaff, RoleAdmin).withReason(),
		StatusCancelled:        allow(RoleStaff, RoleAdmin).withReason(),
		StatusReturnedRefunded: allow(RoleAdmin),
	},
	StatusFailed: {
		StatusRescheduled: allow(RoleAdmin, RoleStaff),
		StatusCancelled:   allow(RoleAdmin),
	},
	StatusDelivered: {
		StatusReceived:         allow(RoleCustomer, RoleStaff, RoleAdmin),
		StatusReturnedRefunded: allow(RoleAdmin),
		StatusCompleted:        allow(RoleSystem),
	},
	StatusReceived: {
		StatusCompleted: allow(RoleCustomer, RoleAdmin, RoleSystem),
	},
}

// CanTransition reports whether the lifecycle has an edge from -> to.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// AllowedNext lists the states reachable from s in one step.
func AllowedNext(s Status) []Status {
	out := make([]Status, 0, len(transitions[s]))
	for _, st := range AllStatuses {
		if _, ok := transitions[s][st]; ok {
			out = append(out, st)
		}
	}
	return out
}

// ReleasesStock reports whether entering to gives inventory back for a
// stock-committed order.
func ReleasesStock(to Status) bool {
	return to == StatusCancelled || to == StatusReturnedRefunded
}

// TransitionRequest describes a requested status change.
type TransitionRequest struct {
	To     Status
	Actor  Actor
	Reason string
	At     time.Time
}

// Transition validates req against the lifecycle and returns the updated
// order. The receiver is never modified.
func (o Order) Transition(req TransitionRequest) (Order, error) {
	e, ok := transitions[o.Status][req.To]
	if !ok {
		return o, &TransitionError{From: o.Status, To: req.To}
	}
	if !slices.Contains(e.actors, req.Actor.Role) {
		return o, errors.Wrapf(ErrActorNotAllowed, "%s cannot move order from %s to %s", req.Actor.Role, o.Status, req.To)
	}
	if req.Actor.Role == RoleCustomer && e.ownOnly && !o.OwnedBy(req.Actor.UserID) {
		return o, errors.Wrap(ErrActorNotAllowed, "order belongs to another customer")
	}
	if o.Status == StatusPending && req.To == StatusProcessing && req.Actor.Role != RoleSystem &&
		o.PaymentMethod == PaymentGateway && o.PaymentStatus != PaymentPaid {
		return o, ErrAwaitingPayment
	}
	reason := strings.TrimSpace(req.Reason)
	if e.reasonRequired && reason == "" {
		return o, ErrReasonRequired
	}

	next := o
	next.Lines = slices.Clone(o.Lines)
	next.Status = req.To
	next.UpdatedAt = req.At
	if reason != "" {
		next.StatusReason = reason
	}

	switch {
	case o.Status == StatusPending && req.To == StatusProcessing && req.Actor.Role == RoleSystem:
		next.PaymentStatus = PaymentPaid
	case req.To == StatusDelivered:
		at := req.At
		next.DeliveredAt = &at
		if next.PaymentMethod == PaymentCash {
			next.PaymentStatus = PaymentPaid
		}
	}
	return next, nil
}
