package perms

import "errors"

// Sentinel errors. Decision.Err maps rejections to these so callers can use
// errors.Is.
var (
	ErrEmptyRoster       = errors.New("builder roster is empty")
	ErrEmptyBuilder      = errors.New("builder roster contains an empty identity")
	ErrIndexOutOfRange   = errors.New("builder index out of range")
	ErrMissingIdentity   = errors.New("missing builder identity")
	ErrMalformedIdentity = errors.New("malformed builder identity")
	ErrEmptyIdentity     = errors.New("empty builder identity")
	ErrTooEarly          = errors.New("action attempt too early")
	ErrTooLate           = errors.New("action attempt too late")
	ErrNotPermissioned   = errors.New("builder not permissioned for this slot")
	ErrUndecided         = errors.New("authorization not decided")
)

// Outcome is the result class of an authorization decision.
type Outcome int

// The zero Outcome is Undecided, which never permits.
const (
	Undecided Outcome = iota
	Permitted
	MissingIdentity
	MalformedIdentity
	EmptyIdentity
	TooEarly
	TooLate
	NotTheAssignedIdentity
)

// Outcomes lists every outcome a check can produce, in declaration order.
var Outcomes = []Outcome{
	Permitted,
	MissingIdentity,
	MalformedIdentity,
	EmptyIdentity,
	TooEarly,
	TooLate,
	NotTheAssignedIdentity,
}

// String returns the label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Undecided:
		return "undecided"
	case Permitted:
		return "permitted"
	case MissingIdentity:
		return "missing_identity"
	case MalformedIdentity:
		return "malformed_identity"
	case EmptyIdentity:
		return "empty_identity"
	case TooEarly:
		return "too_early"
	case TooLate:
		return "too_late"
	case NotTheAssignedIdentity:
		return "not_assigned_identity"
	default:
		return "unknown"
	}
}

// Err maps an outcome to its sentinel error. Permitted maps to nil.
func (o Outcome) Err() error {
	switch o {
	case Permitted:
		return nil
	case Undecided:
		return ErrUndecided
	case MissingIdentity:
		return ErrMissingIdentity
	case MalformedIdentity:
		return ErrMalformedIdentity
	case EmptyIdentity:
		return ErrEmptyIdentity
	case TooEarly:
		return ErrTooEarly
	case TooLate:
		return ErrTooLate
	case NotTheAssignedIdentity:
		return ErrNotPermissioned
	default:
		return errors.New("unknown authorization outcome")
	}
}

// Decision is the outcome of a single authorization check together with the
// context it was made in. Decisions are computed per request and never cached.
type Decision struct {
	Outcome Outcome
	// Identity is the identity claimed by the caller, if any.
	Identity string
	// Assigned is the identity holding the current slot. Empty before chain start.
	Assigned string
	// Slot is the slot the decision was made in; SlotKnown is false before chain start.
	Slot      uint64
	SlotKnown bool
	// Point is the number of seconds into Slot.
	Point uint64
}

// Permitted reports whether the request may proceed.
func (d Decision) Permitted() bool { return d.Outcome == Permitted }

// Err returns the sentinel error for a rejected decision, or nil.
func (d Decision) Err() error { return d.Outcome.Err() }
