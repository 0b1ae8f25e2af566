package perms

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/builder-gate/metrics"
)

// Observer receives every authorization decision.
type Observer interface {
	ObserveDecision(Decision)
}

// NopObserver discards decisions.
type NopObserver struct{}

// ObserveDecision implements Observer.
func (NopObserver) ObserveDecision(Decision) {}

// Observers fans a decision out to several observers.
type Observers []Observer

// ObserveDecision implements Observer.
func (o Observers) ObserveDecision(d Decision) {
	for _, obs := range o {
		obs.ObserveDecision(d)
	}
}

// maxPointBuckets bounds the point_in_slot_seconds bucket count for long slots.
const maxPointBuckets = 24

// Metrics holds the builder permissioning metrics.
type Metrics struct {
	registry *metrics.ComponentRegistry
	builders *Builders

	DecisionsTotal  *prometheus.CounterVec
	CurrentSlot     prometheus.Gauge
	PointInSlot     prometheus.Histogram
	AssignedBuilder *prometheus.GaugeVec
}

// NewMetrics creates permissioning metrics for the roster in the given
// registry. Point buckets span one slot of the roster's calculator.
func NewMetrics(reg *metrics.ComponentRegistry, builders *Builders) *Metrics {
	m := &Metrics{
		registry: reg,
		builders: builders,

		DecisionsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "Total number of builder authorization decisions",
		}, []string{"outcome"}),

		CurrentSlot: reg.NewGauge(prometheus.GaugeOpts{
			Name: "current_slot",
			Help: "Slot number seen by the most recent authorization decision or slot tick",
		}),

		PointInSlot: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "point_in_slot_seconds",
			Help:    "Seconds into the slot at which builder requests arrive",
			Buckets: pointBuckets(builders.Calc().SlotDuration()),
		}),

		AssignedBuilder: reg.NewGaugeVec(prometheus.GaugeOpts{
			Name: "assigned_builder",
			Help: "1 for the builder holding the current slot, 0 for the rest of the roster",
		}, []string{"builder"}),
	}

	for _, o := range Outcomes {
		m.DecisionsTotal.WithLabelValues(o.String())
	}
	for _, b := range builders.List() {
		m.AssignedBuilder.WithLabelValues(b.Sub)
	}
	return m
}

// pointBuckets splits [0, duration) into at most maxPointBuckets equal buckets.
func pointBuckets(duration uint64) []float64 {
	n := maxPointBuckets
	if duration < uint64(n) {
		n = int(duration)
	}
	if n < 1 {
		n = 1
	}
	return prometheus.LinearBuckets(0, float64(duration)/float64(n), n)
}

// ObserveDecision implements Observer.
func (m *Metrics) ObserveDecision(d Decision) {
	m.DecisionsTotal.WithLabelValues(d.Outcome.String()).Inc()
	if d.SlotKnown {
		m.CurrentSlot.Set(float64(d.Slot))
		m.PointInSlot.Observe(float64(d.Point))
	}
}

// ObserveSlot records the start of slot s and marks its assigned builder.
func (m *Metrics) ObserveSlot(s uint64) {
	m.CurrentSlot.Set(float64(s))
	for _, b := range m.builders.List() {
		m.AssignedBuilder.WithLabelValues(b.Sub).Set(0)
	}
	m.AssignedBuilder.WithLabelValues(m.builders.BuilderForSlot(s).Sub).Set(1)
}
