package slot

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slotOf(t *testing.T, c Calculator, ts uint64) uint64 {
	t.Helper()
	s, ok := c.SlotContaining(ts)
	require.True(t, ok, "timestamp %d should have a slot", ts)
	return s
}

func TestNewCalculator_ZeroDuration(t *testing.T) {
	_, err := NewCalculator(12, 0, 0)
	require.ErrorIs(t, err, ErrZeroSlotDuration)

	require.Panics(t, func() { MustCalculator(12, 0, 0) })
}

func TestSlotContaining_Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		calc   Calculator
		ts     uint64
		want   uint64
		before bool
	}{
		{name: "zero start, t=0", calc: MustCalculator(0, 0, 2), ts: 0, want: 1},
		{name: "zero start, t=1", calc: MustCalculator(0, 0, 2), ts: 1, want: 1},
		{name: "zero start, t=2", calc: MustCalculator(0, 0, 2), ts: 2, want: 2},
		{name: "zero start, t=5", calc: MustCalculator(0, 0, 2), ts: 5, want: 3},
		{name: "zero start, t=6", calc: MustCalculator(0, 0, 2), ts: 6, want: 4},

		{name: "before start", calc: MustCalculator(12, 0, 12), ts: 0, before: true},
		{name: "one before start", calc: MustCalculator(12, 0, 12), ts: 11, before: true},
		{name: "at start", calc: MustCalculator(12, 0, 12), ts: 12, want: 1},
		{name: "inside first", calc: MustCalculator(12, 0, 12), ts: 23, want: 1},
		{name: "second slot begins", calc: MustCalculator(12, 0, 12), ts: 24, want: 2},
		{name: "inside second", calc: MustCalculator(12, 0, 12), ts: 35, want: 2},

		{name: "offset, before start", calc: MustCalculator(12, 1, 12), ts: 11, before: true},
		{name: "offset, at start", calc: MustCalculator(12, 1, 12), ts: 12, want: 2},
		{name: "offset, inside", calc: MustCalculator(12, 1, 12), ts: 23, want: 2},
		{name: "offset, next", calc: MustCalculator(12, 1, 12), ts: 24, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.calc.SlotContaining(tt.ts)
			if tt.before {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlotContaining_BeforeStartForAnyParameters(t *testing.T) {
	for _, d := range []uint64{1, 2, 5, 12} {
		for _, off := range []uint64{0, 1, 7, 4700013} {
			for _, start := range []uint64{0, 1, 12, 1663224179} {
				c := MustCalculator(start, off, d)
				if start > 0 {
					_, ok := c.SlotContaining(start - 1)
					assert.False(t, ok)
				}
				assert.Equal(t, off+1, slotOf(t, c, start))
			}
		}
	}
}

func TestHolesky_SlotContaining(t *testing.T) {
	c := Holesky()

	_, ok := c.SlotContaining(c.StartTimestamp() - 1)
	assert.False(t, ok)
	_, ok = c.SlotContaining(17)
	assert.False(t, ok)

	// block 1 is in slot 2 at timestamp 1695902424; the chain start is the end
	// of that slot, so the timestamp itself starts slot 3.
	assert.Equal(t, uint64(3), slotOf(t, c, 1695902424))
	assert.Equal(t, uint64(3), slotOf(t, c, 1695902435))
	assert.Equal(t, uint64(4), slotOf(t, c, 1695902436))

	end, ok := c.SlotEndingAt(1695902424)
	require.True(t, ok)
	assert.Equal(t, uint64(2), end)

	// block 3557085 is in slot 3919127 at timestamp 1742931924.
	end, ok = c.SlotEndingAt(1742931924)
	require.True(t, ok)
	assert.Equal(t, uint64(3919127), end)
}

func TestHolesky_PointWithinSlot(t *testing.T) {
	c := Holesky()
	for ts, want := range map[uint64]uint64{
		1695902424: 0,
		1695902425: 1,
		1695902435: 11,
		1695902436: 0,
	} {
		got, ok := c.PointWithinSlot(ts)
		require.True(t, ok)
		assert.Equal(t, want, got, "ts=%d", ts)
	}
}

func TestHolesky_SlotWindow(t *testing.T) {
	c := Holesky()

	w, ok := c.SlotWindow(2)
	require.True(t, ok)
	assert.Equal(t, Window{Start: 1695902412, End: 1695902424}, w)

	w, ok = c.SlotWindow(3)
	require.True(t, ok)
	assert.Equal(t, Window{Start: 1695902424, End: 1695902436}, w)

	_, ok = c.SlotWindow(1)
	assert.False(t, ok)
}

func TestMainnet_Slots(t *testing.T) {
	c := Mainnet()

	_, ok := c.SlotContaining(c.StartTimestamp() - 1)
	assert.False(t, ok)

	assert.Equal(t, uint64(4700014), slotOf(t, c, 1663224179))
	assert.Equal(t, uint64(4700014), slotOf(t, c, 1663224190))
	assert.Equal(t, uint64(4700015), slotOf(t, c, 1663224191))

	w, ok := c.SlotWindow(4700013)
	require.True(t, ok)
	assert.Equal(t, Window{Start: 1663224167, End: 1663224179}, w)

	w, ok = c.SlotWindow(4700014)
	require.True(t, ok)
	assert.Equal(t, Window{Start: 1663224179, End: 1663224191}, w)

	for ts, want := range map[uint64]uint64{
		1663224179: 0,
		1663224180: 1,
		1663224190: 11,
		1663224191: 0,
	} {
		got, ok := c.PointWithinSlot(ts)
		require.True(t, ok)
		assert.Equal(t, want, got, "ts=%d", ts)
	}
}

func TestPointWithinSlot_BeforeOrigin(t *testing.T) {
	c := MustCalculator(17, 0, 12)
	_, ok := c.PointWithinSlot(4)
	assert.False(t, ok)

	p, ok := c.PointWithinSlot(5)
	require.True(t, ok)
	assert.Equal(t, uint64(0), p)
}

func TestSlotWindow_Properties(t *testing.T) {
	calcs := []Calculator{
		MustCalculator(12, 0, 12),
		MustCalculator(0, 0, 2),
		MustCalculator(1000, 7, 5),
		Mainnet(),
		Holesky(),
	}

	for _, c := range calcs {
		for n := uint64(1); n <= 50; n++ {
			s := c.SlotOffset() + n
			w, ok := c.SlotWindow(s)
			require.True(t, ok)
			require.Equal(t, c.SlotDuration(), w.End-w.Start)

			next, ok := c.SlotWindow(s + 1)
			require.True(t, ok)
			require.Equal(t, w.End, next.Start, "adjacent windows must touch")

			p, ok := c.PointWithinSlot(w.Start)
			require.True(t, ok)
			require.Equal(t, uint64(0), p)

			p, ok = c.PointWithinSlot(w.End - 1)
			require.True(t, ok)
			require.Equal(t, c.SlotDuration()-1, p)

			require.Equal(t, s, slotOf(t, c, w.Start))
			require.Equal(t, s, slotOf(t, c, w.End-1))
			require.Equal(t, s+1, slotOf(t, c, w.End), "window end belongs to the next slot")
			require.False(t, w.Contains(w.End))
			require.True(t, w.Contains(w.Start))
		}
	}
}

func TestCalculator_Overflow(t *testing.T) {
	lastWhole := uint64(math.MaxUint64-12) / 12

	windows := []struct {
		name string
		calc Calculator
		slot uint64
		ok   bool
	}{
		{name: "mainnet far future", calc: Mainnet(), slot: math.MaxUint64/12 + 10},
		{name: "product overflows", calc: MustCalculator(0, 0, 12), slot: math.MaxUint64},
		{name: "sum overflows", calc: MustCalculator(12, 0, 12), slot: lastWhole + 1},
		{name: "last representable window", calc: MustCalculator(12, 0, 12), slot: lastWhole, ok: true},
	}
	for _, tt := range windows {
		t.Run("window/"+tt.name, func(t *testing.T) {
			w, ok := tt.calc.SlotWindow(tt.slot)
			require.Equal(t, tt.ok, ok)
			if !ok {
				assert.Equal(t, Window{}, w)
				return
			}
			require.Equal(t, tt.calc.SlotDuration(), w.End-w.Start)
			assert.Equal(t, tt.slot, slotOf(t, tt.calc, w.Start))
		})
	}

	slots := []struct {
		name string
		calc Calculator
		ts   uint64
		want uint64
		ok   bool
	}{
		{name: "offset at max", calc: MustCalculator(0, math.MaxUint64, 12), ts: 0},
		{name: "unit slots at max timestamp", calc: MustCalculator(0, 0, 1), ts: math.MaxUint64},
		{name: "largest slot", calc: MustCalculator(0, 0, 1), ts: math.MaxUint64 - 1, want: math.MaxUint64, ok: true},
		{name: "offset one below max", calc: MustCalculator(0, math.MaxUint64-1, 12), ts: 11, want: math.MaxUint64, ok: true},
	}
	for _, tt := range slots {
		t.Run("slot/"+tt.name, func(t *testing.T) {
			got, ok := tt.calc.SlotContaining(tt.ts)
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlotStartingAndEndingAt(t *testing.T) {
	c := MustCalculator(12, 0, 12)

	s, ok := c.SlotStartingAt(12)
	require.True(t, ok)
	assert.Equal(t, uint64(1), s)

	s, ok = c.SlotEndingAt(12)
	require.True(t, ok)
	assert.Equal(t, uint64(0), s)

	s, ok = c.SlotStartingAt(36)
	require.True(t, ok)
	assert.Equal(t, uint64(3), s)

	s, ok = c.SlotEndingAt(36)
	require.True(t, ok)
	assert.Equal(t, uint64(2), s)

	_, ok = c.SlotStartingAt(13)
	assert.False(t, ok)
	_, ok = c.SlotEndingAt(35)
	assert.False(t, ok)
	_, ok = c.SlotStartingAt(0)
	assert.False(t, ok)
}

func TestCheckedPointWithinSlot(t *testing.T) {
	c := MustCalculator(12, 0, 12)

	p, ok := c.CheckedPointWithinSlot(1, 15)
	require.True(t, ok)
	assert.Equal(t, uint64(3), p)

	_, ok = c.CheckedPointWithinSlot(2, 15)
	assert.False(t, ok)
	_, ok = c.CheckedPointWithinSlot(1, 5)
	assert.False(t, ok)
}

func TestSlotWindowForTimestamp(t *testing.T) {
	c := MustCalculator(12, 0, 12)

	w, ok := c.SlotWindowForTimestamp(30)
	require.True(t, ok)
	assert.Equal(t, Window{Start: 24, End: 36}, w)

	_, ok = c.SlotWindowForTimestamp(3)
	assert.False(t, ok)
}

func TestSlotAt_TimeValues(t *testing.T) {
	c := MustCalculator(12, 0, 12)

	s, ok := c.SlotAt(time.Unix(24, 500))
	require.True(t, ok)
	assert.Equal(t, uint64(2), s)

	p, ok := c.PointAt(time.Unix(29, 0))
	require.True(t, ok)
	assert.Equal(t, uint64(5), p)

	_, ok = c.SlotAt(time.Unix(-5, 0))
	assert.False(t, ok)

	assert.Equal(t, 12*time.Second, c.Duration())
}

func TestCurrentSlot_MatchesWallClock(t *testing.T) {
	c := MustCalculator(0, 0, 12)

	before := uint64(time.Now().Unix())
	s, ok := c.CurrentSlot()
	after := uint64(time.Now().Unix())
	require.True(t, ok)
	assert.GreaterOrEqual(t, s, before/12+1)
	assert.LessOrEqual(t, s, after/12+1)

	p, ok := c.CurrentPointWithinSlot()
	require.True(t, ok)
	assert.Less(t, p, uint64(12))
}
