package hostchain

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/builder-gate/metrics"
)

// Metrics holds the head watcher metrics.
type Metrics struct {
	HeadNumber      prometheus.Gauge
	HeadSlot        prometheus.Gauge
	MisalignedTotal prometheus.Counter
	PollErrorsTotal prometheus.Counter
}

// NewMetrics creates watcher metrics in the given registry.
func NewMetrics(reg *metrics.ComponentRegistry) *Metrics {
	return &Metrics{
		HeadNumber: reg.NewGauge(prometheus.GaugeOpts{
			Name: "head_number",
			Help: "Latest host chain block number observed",
		}),
		HeadSlot: reg.NewGauge(prometheus.GaugeOpts{
			Name: "head_slot",
			Help: "Slot ended by the latest aligned host chain header",
		}),
		MisalignedTotal: reg.NewCounter(prometheus.CounterOpts{
			Name: "misaligned_headers_total",
			Help: "Host chain headers whose timestamp is not a slot boundary",
		}),
		PollErrorsTotal: reg.NewCounter(prometheus.CounterOpts{
			Name: "poll_errors_total",
			Help: "Failed host chain head requests",
		}),
	}
}
