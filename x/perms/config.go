package perms

import (
	"github.com/compose-network/builder-gate/x/slot"
)

// WindowConfig bounds when, within a slot, builder requests are serviced.
//
// BlockQueryStart is the slot second before which requests are rejected; a
// value of 1 means the first second of every slot is not serviced.
// BlockQueryCutoff is the slot second after which requests are rejected; with
// 12 second slots a value of 10 means the last second is not serviced.
// Both bounds are inclusive.
type WindowConfig struct {
	calc             slot.Calculator
	blockQueryStart  uint64
	blockQueryCutoff uint64
}

// NewWindowConfig creates a WindowConfig. The bounds are clamped to
// [0, slot duration], never rejected.
func NewWindowConfig(calc slot.Calculator, blockQueryStart, blockQueryCutoff int64) WindowConfig {
	return WindowConfig{
		calc:             calc,
		blockQueryStart:  clamp(blockQueryStart, calc.SlotDuration()),
		blockQueryCutoff: clamp(blockQueryCutoff, calc.SlotDuration()),
	}
}

// Calc returns the slot calculator.
func (c WindowConfig) Calc() slot.Calculator { return c.calc }

// BlockQueryStart returns the first serviced second of a slot.
func (c WindowConfig) BlockQueryStart() uint64 { return c.blockQueryStart }

// BlockQueryCutoff returns the last serviced second of a slot.
func (c WindowConfig) BlockQueryCutoff() uint64 { return c.blockQueryCutoff }

// Allows reports whether point (seconds into a slot) is inside the window.
func (c WindowConfig) Allows(point uint64) bool {
	return point >= c.blockQueryStart && point <= c.blockQueryCutoff
}

func clamp(v int64, hi uint64) uint64 {
	if v < 0 {
		return 0
	}
	if uint64(v) > hi {
		return hi
	}
	return uint64(v)
}
