// Package hostchain follows the head of the host chain and checks that block
// timestamps land on the slot boundaries the authorizer assumes.
package hostchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/compose-network/builder-gate/x/slot"
)

// HeaderSource returns block headers. *ethclient.Client satisfies it; a nil
// number requests the latest header.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Head is the latest header seen by the Watcher.
type Head struct {
	Number uint64
	Hash   common.Hash
	Time   uint64
	// Slot is the slot ending at Time, valid only when Aligned.
	Slot    uint64
	Aligned bool
}

// Watcher polls the host chain head and validates header timestamps against a
// slot calculator.
type Watcher struct {
	src      HeaderSource
	calc     slot.Calculator
	interval time.Duration
	metrics  *Metrics
	log      zerolog.Logger

	closeFn   func()
	closeOnce sync.Once

	headMu sync.RWMutex
	head   *Head

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewWatcher creates a watcher over src. A zero interval polls once per slot
// and a nil metrics disables instrumentation.
func NewWatcher(src HeaderSource, calc slot.Calculator, interval time.Duration, m *Metrics, log zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = calc.Duration()
	}
	return &Watcher{
		src:      src,
		calc:     calc,
		interval: interval,
		metrics:  m,
		log:      log.With().Str("component", "hostchain-watcher").Logger(),
	}
}

// Dial connects to the configured RPC endpoint and returns a watcher that
// closes the client on Stop.
func Dial(ctx context.Context, cfg Config, calc slot.Calculator, m *Metrics, log zerolog.Logger) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to host chain: %w", err)
	}
	w := NewWatcher(client, calc, cfg.PollInterval, m, log)
	w.closeFn = client.Close

	w.log.Info().
		Str("rpc_endpoint", cfg.RPCEndpoint).
		Dur("poll_interval", w.interval).
		Msg("Host chain watcher initialized")
	return w, nil
}

// Start polls once and then keeps polling in the background until ctx is
// canceled or Stop is called. A failing first poll is logged, not returned,
// so an unreachable node does not keep the service down.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.started = true

	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop halts polling, waits for the loop to exit and closes the RPC client.
// It also releases the client of a watcher that was never started.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		w.close()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.started = false
	w.mu.Unlock()

	cancel()
	defer w.close()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) close() {
	w.closeOnce.Do(func() {
		if w.closeFn != nil {
			w.closeFn()
		}
	})
}

// Latest returns the most recent head, if any poll has succeeded.
func (w *Watcher) Latest() (Head, bool) {
	w.headMu.RLock()
	defer w.headMu.RUnlock()
	if w.head == nil {
		return Head{}, false
	}
	return *w.head, true
}

// LatestNumber returns the latest block number, or 0 before the first poll.
func (w *Watcher) LatestNumber() uint64 {
	h, _ := w.Latest()
	return h.Number
}

func (w *Watcher) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn().Err(err).Msg("Host chain head poll failed")
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Host chain poll loop stopping")
			return
		case <-ticker.C:
		}
	}
}

// poll fetches the latest header and records it when it advances the head.
// It reports whether a new head was recorded.
func (w *Watcher) poll(ctx context.Context) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	header, err := w.src.HeaderByNumber(reqCtx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PollErrorsTotal.Inc()
		}
		return false, fmt.Errorf("fetch latest header: %w", err)
	}
	if header == nil || header.Number == nil {
		return false, errors.New("host chain returned an empty header")
	}

	number := header.Number.Uint64()
	if prev, ok := w.Latest(); ok && number <= prev.Number {
		return false, nil
	}

	head := Head{
		Number: number,
		Hash:   header.Hash(),
		Time:   header.Time,
	}
	head.Slot, head.Aligned = w.calc.SlotEndingAt(header.Time)

	w.headMu.Lock()
	w.head = &head
	w.headMu.Unlock()

	if w.metrics != nil {
		w.metrics.HeadNumber.Set(float64(number))
		if head.Aligned {
			w.metrics.HeadSlot.Set(float64(head.Slot))
		} else {
			w.metrics.MisalignedTotal.Inc()
		}
	}

	if !head.Aligned {
		w.log.Warn().
			Uint64("block_number", number).
			Uint64("block_time", header.Time).
			Uint64("slot_duration", w.calc.SlotDuration()).
			Msg("Host chain header timestamp is not a slot boundary")
		return true, nil
	}

	w.log.Debug().
		Uint64("block_number", number).
		Uint64("slot", head.Slot).
		Msg("Host chain head advanced")
	return true, nil
}
