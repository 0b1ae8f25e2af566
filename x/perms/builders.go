// Package perms implements the builder permissioning system.
//
// A fixed, ordered roster of builders takes turns holding write access, one
// builder per host chain slot, in round-robin order. Builders are identified
// by the sub claim of a token validated upstream. Within its slot, a builder
// is only serviced between the configured block query start and cutoff.
package perms

import (
	"fmt"
	"strings"
	"time"

	"github.com/compose-network/builder-gate/x/slot"
)

// Builder is a single roster entry.
type Builder struct {
	Sub string `json:"sub" yaml:"sub"`
}

// Builders is the immutable roster plus its window configuration. It is safe
// for concurrent use.
type Builders struct {
	builders []Builder
	config   WindowConfig
}

// NewBuilders creates a roster from builder subs. An empty roster is a fatal
// misconfiguration because the round-robin selection is undefined for it.
func NewBuilders(subs []string, config WindowConfig) (*Builders, error) {
	if len(subs) == 0 {
		return nil, ErrEmptyRoster
	}
	builders := make([]Builder, 0, len(subs))
	for i, sub := range subs {
		if sub == "" {
			return nil, fmt.Errorf("%w: position %d", ErrEmptyBuilder, i)
		}
		builders = append(builders, Builder{Sub: sub})
	}
	return &Builders{builders: builders, config: config}, nil
}

// ParseBuilders splits a comma-separated list of builder subs, trimming
// whitespace around each entry.
func ParseBuilders(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// Len returns the roster size.
func (b *Builders) Len() int { return len(b.builders) }

// List returns a copy of the roster.
func (b *Builders) List() []Builder {
	out := make([]Builder, len(b.builders))
	copy(out, b.builders)
	return out
}

// Config returns the window configuration.
func (b *Builders) Config() WindowConfig { return b.config }

// Calc returns the slot calculator.
func (b *Builders) Calc() slot.Calculator { return b.config.Calc() }

// BuilderAt returns the builder at roster position index.
func (b *Builders) BuilderAt(index uint64) (Builder, error) {
	if index >= uint64(len(b.builders)) {
		return Builder{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(b.builders))
	}
	return b.builders[index], nil
}

// IndexForSlot returns the roster position assigned to slot.
func (b *Builders) IndexForSlot(s uint64) uint64 {
	return s % uint64(len(b.builders))
}

// BuilderForSlot returns the builder assigned to slot.
func (b *Builders) BuilderForSlot(s uint64) Builder {
	return b.builders[b.IndexForSlot(s)]
}

// Index returns the roster position permissioned at timestamp ts. ok is false
// before the chain start.
func (b *Builders) Index(ts uint64) (index uint64, ok bool) {
	s, ok := b.Calc().SlotContaining(ts)
	if !ok {
		return 0, false
	}
	return b.IndexForSlot(s), true
}

// BuilderAtTimestamp returns the builder permissioned at timestamp ts.
func (b *Builders) BuilderAtTimestamp(ts uint64) (Builder, bool) {
	i, ok := b.Index(ts)
	if !ok {
		return Builder{}, false
	}
	return b.builders[i], true
}

// IndexNow returns the roster position permissioned at the current time.
func (b *Builders) IndexNow() (uint64, bool) {
	s, ok := b.Calc().CurrentSlot()
	if !ok {
		return 0, false
	}
	return b.IndexForSlot(s), true
}

// CurrentBuilder returns the builder permissioned at the current time.
func (b *Builders) CurrentBuilder() (Builder, bool) {
	return b.BuilderAtTime(time.Now())
}

// BuilderAtTime returns the builder permissioned at t.
func (b *Builders) BuilderAtTime(t time.Time) (Builder, bool) {
	s, ok := b.Calc().SlotAt(t)
	if !ok {
		return Builder{}, false
	}
	return b.BuilderForSlot(s), true
}
