package perms

import (
	"time"

	"github.com/rs/zerolog"
)

// Checker decides whether identity may act at the given instant.
type Checker interface {
	Authorize(identity string, at time.Time) Decision
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(identity string, at time.Time) Decision

// Authorize implements Checker.
func (f CheckerFunc) Authorize(identity string, at time.Time) Decision {
	return f(identity, at)
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithNow sets the time source. Defaults to time.Now.
func WithNow(now func() time.Time) Option {
	return func(a *Authorizer) {
		a.now = now
	}
}

// WithObserver sets the decision observer.
func WithObserver(o Observer) Option {
	return func(a *Authorizer) {
		a.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Authorizer) {
		a.log = log.With().Str("component", "builder-perms").Logger()
	}
}

// Authorizer applies the round-robin roster and the slot window to requests.
// It holds no mutable state after construction.
type Authorizer struct {
	builders *Builders
	now      func() time.Time
	observer Observer
	log      zerolog.Logger
}

var _ Checker = (*Authorizer)(nil)

// NewAuthorizer creates an Authorizer for the roster.
func NewAuthorizer(builders *Builders, opts ...Option) *Authorizer {
	a := &Authorizer{
		builders: builders,
		now:      time.Now,
		observer: NopObserver{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Builders returns the roster.
func (a *Authorizer) Builders() *Builders { return a.builders }

// Now returns the current time of the authorizer's clock.
func (a *Authorizer) Now() time.Time { return a.now() }

// Check authorizes identity at the current time.
func (a *Authorizer) Check(identity string) Decision {
	return a.Authorize(identity, a.now())
}

// Authorize decides whether identity may act at instant at. Checks run in a
// fixed order: too early, too late, then the roster assignment.
func (a *Authorizer) Authorize(identity string, at time.Time) Decision {
	d := a.Snapshot(at)
	d.Identity = identity

	switch {
	case !d.SlotKnown || d.Point < a.builders.config.BlockQueryStart():
		d.Outcome = TooEarly
	case d.Point > a.builders.config.BlockQueryCutoff():
		d.Outcome = TooLate
	case identity != d.Assigned:
		a.log.Debug().
			Str("builder", identity).
			Str("permissioned_builder", d.Assigned).
			Uint64("current_slot", d.Slot).
			Msg("Builder not permissioned for this slot")
		d.Outcome = NotTheAssignedIdentity
	default:
		d.Outcome = Permitted
	}

	a.observer.ObserveDecision(d)
	return d
}

// Reject records a decision that was rejected before reaching the roster
// checks, e.g. because the request carried no identity. The decision carries
// the slot context of instant at.
func (a *Authorizer) Reject(outcome Outcome, identity string, at time.Time) Decision {
	d := a.Snapshot(at)
	d.Identity = identity
	d.Outcome = outcome
	a.observer.ObserveDecision(d)
	return d
}

// Snapshot returns the slot context at instant at, without an outcome or
// identity. The Outcome is Undecided, so a snapshot never permits.
func (a *Authorizer) Snapshot(at time.Time) Decision {
	var d Decision
	calc := a.builders.Calc()

	s, ok := calc.SlotAt(at)
	if !ok {
		return d
	}
	d.Slot = s
	d.SlotKnown = true
	d.Point, _ = calc.PointAt(at)
	d.Assigned = a.builders.BuilderForSlot(s).Sub
	return d
}
