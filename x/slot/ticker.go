package slot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// maxCatchUp bounds how many missed slots are replayed after the clock jumps.
const maxCatchUp = 32

// Tick describes a slot that has just started.
type Tick struct {
	Slot      uint64
	Window    Window
	StartedAt time.Time
}

// TickCallback is invoked by Ticker for each new slot.
type TickCallback func(context.Context, Tick) error

// TickerConfig configures a Ticker.
type TickerConfig struct {
	Calculator Calculator
	Handler    TickCallback
	// Now returns the current time. Defaults to time.Now if nil.
	Now    func() time.Time
	Logger zerolog.Logger
}

// Ticker invokes its handler at every slot boundary of a Calculator.
// Missed slots are emitted in order when the clock jumps forward.
type Ticker struct {
	mu      sync.Mutex
	log     zerolog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	calc    Calculator
	handler TickCallback
	now     func() time.Time
}

// NewTicker constructs a Ticker.
func NewTicker(cfg TickerConfig) *Ticker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ticker{
		log:     cfg.Logger.With().Str("component", "slot-ticker").Logger(),
		calc:    cfg.Calculator,
		handler: cfg.Handler,
		now:     cfg.Now,
	}
}

// Start begins emitting ticks until the context is canceled or Stop is called.
func (t *Ticker) Start(ctx context.Context) error {
	if t.handler == nil {
		return errors.New("slot ticker requires a handler")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.started = true

	go t.run(runCtx, t.done)
	return nil
}

// Stop halts the ticker and waits for the loop to exit.
func (t *Ticker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	t.cancel()
	done := t.done
	t.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Ticker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var (
		lastEmitted uint64
		hasEmitted  bool
	)

	emitUpTo := func(current uint64) error {
		from := current
		if hasEmitted {
			from = lastEmitted + 1
		}
		if current >= maxCatchUp && from < current-maxCatchUp+1 {
			t.log.Warn().
				Uint64("from_slot", from).
				Uint64("current_slot", current).
				Msg("clock jumped, skipping missed slots")
			from = current - maxCatchUp + 1
		}
		for s := from; s <= current; s++ {
			if err := t.emit(ctx, s); err != nil {
				return err
			}
			lastEmitted = s
			hasEmitted = true
		}
		return nil
	}

	if current, ok := t.calc.SlotAt(t.now()); ok {
		if err := emitUpTo(current); err != nil {
			return
		}
	}

	timer := time.NewTimer(t.untilNext(lastEmitted, hasEmitted))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if current, ok := t.calc.SlotAt(t.now()); ok && (!hasEmitted || current > lastEmitted) {
				if err := emitUpTo(current); err != nil {
					return
				}
			}
			timer.Reset(t.untilNext(lastEmitted, hasEmitted))
		}
	}
}

// untilNext returns the delay until the slot after the last emitted one starts.
func (t *Ticker) untilNext(lastEmitted uint64, hasEmitted bool) time.Duration {
	next := time.Unix(int64(t.calc.StartTimestamp()), 0)
	if hasEmitted {
		if w, ok := t.calc.SlotWindow(lastEmitted + 1); ok {
			next = time.Unix(int64(w.Start), 0)
		}
	}
	delay := next.Sub(t.now())
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (t *Ticker) emit(ctx context.Context, slot uint64) error {
	w, _ := t.calc.SlotWindow(slot)
	tick := Tick{
		Slot:      slot,
		Window:    w,
		StartedAt: time.Unix(int64(w.Start), 0),
	}
	if err := t.handler(ctx, tick); err != nil {
		t.log.Error().Err(err).Uint64("slot", slot).Msg("slot handler returned error")
		return err
	}
	return nil
}
