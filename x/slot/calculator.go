package slot

import (
	"errors"
	"fmt"
	"math/bits"
	"time"
)

// ErrZeroSlotDuration is returned when a calculator is built with a zero slot duration.
var ErrZeroSlotDuration = errors.New("slot duration must be positive")

// Calculator converts between unix timestamps and host chain slot numbers.
//
// Headers carry the timestamp at the END of their slot, and not every slot
// holds a header. The chain starts with a first header whose timestamp is
// StartTimestamp and which occupies slot SlotOffset. StartTimestamp is
// therefore the end of slot SlotOffset and the beginning of slot SlotOffset+1.
//
// SlotOffset is non-zero for chains with a merge (Ethereum mainnet) or with
// missed slots at genesis (Holesky).
//
// Calculator is an immutable value; copy it freely.
type Calculator struct {
	startTimestamp uint64
	slotOffset     uint64
	slotDuration   uint64
}

// Window is a half-open [Start, End) range of unix seconds.
type Window struct {
	Start uint64 `json:"start" yaml:"start"`
	End   uint64 `json:"end"   yaml:"end"`
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts uint64) bool {
	return ts >= w.Start && ts < w.End
}

// NewCalculator creates a calculator. slotDuration is in seconds.
func NewCalculator(startTimestamp, slotOffset, slotDuration uint64) (Calculator, error) {
	if slotDuration == 0 {
		return Calculator{}, ErrZeroSlotDuration
	}
	return Calculator{
		startTimestamp: startTimestamp,
		slotOffset:     slotOffset,
		slotDuration:   slotDuration,
	}, nil
}

// MustCalculator is NewCalculator for compile-time constants. It panics on a zero duration.
func MustCalculator(startTimestamp, slotOffset, slotDuration uint64) Calculator {
	c, err := NewCalculator(startTimestamp, slotOffset, slotDuration)
	if err != nil {
		panic(fmt.Sprintf("slot: %v", err))
	}
	return c
}

// StartTimestamp is the timestamp of the first recorded header.
func (c Calculator) StartTimestamp() uint64 { return c.startTimestamp }

// SlotOffset is the slot occupied by the first recorded header.
func (c Calculator) SlotOffset() uint64 { return c.slotOffset }

// SlotDuration is the slot width in seconds.
func (c Calculator) SlotDuration() uint64 { return c.slotDuration }

// Duration is the slot width as a time.Duration.
func (c Calculator) Duration() time.Duration {
	return time.Duration(c.slotDuration) * time.Second
}

// SlotContaining returns the slot containing ts. ok is false when ts precedes
// the chain start; that is an expected outcome, not an error. ok is also false
// when the slot number does not fit in a uint64.
func (c Calculator) SlotContaining(ts uint64) (slot uint64, ok bool) {
	if ts < c.startTimestamp {
		return 0, false
	}
	elapsed := ts - c.startTimestamp
	slot, carry := bits.Add64(c.slotOffset, elapsed/c.slotDuration, 1)
	if carry != 0 {
		return 0, false
	}
	return slot, true
}

// PointWithinSlot returns how many seconds ts is into its containing slot.
func (c Calculator) PointWithinSlot(ts uint64) (point uint64, ok bool) {
	origin := c.slotUTCOffset()
	if ts < origin {
		return 0, false
	}
	return (ts - origin) % c.slotDuration, true
}

// CheckedPointWithinSlot is PointWithinSlot restricted to timestamps inside slot.
func (c Calculator) CheckedPointWithinSlot(slot, ts uint64) (point uint64, ok bool) {
	got, ok := c.SlotContaining(ts)
	if !ok || got != slot {
		return 0, false
	}
	return c.PointWithinSlot(ts)
}

// SlotWindow returns the [start, end) timestamps of slot. The first header's
// slot (SlotOffset) ends at StartTimestamp. ok is false for slots below the
// offset, windows that would begin before the unix epoch, and windows that
// would end past the largest uint64 timestamp.
func (c Calculator) SlotWindow(slot uint64) (w Window, ok bool) {
	if slot < c.slotOffset {
		return Window{}, false
	}
	hi, span := bits.Mul64(slot-c.slotOffset, c.slotDuration)
	if hi != 0 {
		return Window{}, false
	}
	end, carry := bits.Add64(span, c.startTimestamp, 0)
	if carry != 0 || end < c.slotDuration {
		return Window{}, false
	}
	return Window{Start: end - c.slotDuration, End: end}, true
}

// SlotWindowForTimestamp returns the window of the slot containing ts.
func (c Calculator) SlotWindowForTimestamp(ts uint64) (Window, bool) {
	slot, ok := c.SlotContaining(ts)
	if !ok {
		return Window{}, false
	}
	return c.SlotWindow(slot)
}

// SlotStartingAt returns the slot that begins exactly at ts.
func (c Calculator) SlotStartingAt(ts uint64) (uint64, bool) {
	if !c.onBoundary(ts) {
		return 0, false
	}
	return c.SlotContaining(ts)
}

// SlotEndingAt returns the slot that ends exactly at ts. A header's timestamp
// belongs to the slot it ends, so this maps a header time to its slot.
func (c Calculator) SlotEndingAt(ts uint64) (uint64, bool) {
	if !c.onBoundary(ts) {
		return 0, false
	}
	slot, ok := c.SlotContaining(ts)
	if !ok {
		return 0, false
	}
	return slot - 1, true
}

// SlotAt is SlotContaining for a time.Time.
func (c Calculator) SlotAt(t time.Time) (uint64, bool) {
	ts, ok := unixSeconds(t)
	if !ok {
		return 0, false
	}
	return c.SlotContaining(ts)
}

// PointAt is PointWithinSlot for a time.Time.
func (c Calculator) PointAt(t time.Time) (uint64, bool) {
	ts, ok := unixSeconds(t)
	if !ok {
		return 0, false
	}
	return c.PointWithinSlot(ts)
}

// CurrentSlot returns the slot containing the current wall-clock time.
func (c Calculator) CurrentSlot() (uint64, bool) {
	return c.SlotAt(time.Now())
}

// CurrentPointWithinSlot returns the number of seconds into the current slot.
func (c Calculator) CurrentPointWithinSlot() (uint64, bool) {
	return c.PointAt(time.Now())
}

// String implements fmt.Stringer.
func (c Calculator) String() string {
	return fmt.Sprintf("start=%d offset=%d duration=%ds", c.startTimestamp, c.slotOffset, c.slotDuration)
}

// slotUTCOffset is the offset in seconds between UTC-aligned multiples of the
// slot duration and the chain's slot boundaries.
func (c Calculator) slotUTCOffset() uint64 {
	return c.startTimestamp % c.slotDuration
}

func (c Calculator) onBoundary(ts uint64) bool {
	return ts >= c.startTimestamp && (ts-c.startTimestamp)%c.slotDuration == 0
}

func unixSeconds(t time.Time) (uint64, bool) {
	s := t.Unix()
	if s < 0 {
		return 0, false
	}
	return uint64(s), true
}
