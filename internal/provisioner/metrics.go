package provisioner

import "github.com/prometheus/client_golang/prometheus"

// metrics are the Provisioner's Prometheus instrumentation, grounded on
// the Gauge/Counter registration style used for chain-health reporting
// elsewhere in the pack (system_health_logging.go).
type metrics struct {
	processed      prometheus.Counter
	activated      prometheus.Counter
	topUps         prometheus.Counter
	errorsByCode   *prometheus.CounterVec
	batchLatency   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrowsvc",
			Subsystem: "provisioner",
			Name:      "escrows_processed_total",
			Help:      "Total number of escrow rows claimed and processed.",
		}),
		activated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrowsvc",
			Subsystem: "provisioner",
			Name:      "escrows_activated_total",
			Help:      "Total number of escrows that reached status=active.",
		}),
		topUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrowsvc",
			Subsystem: "provisioner",
			Name:      "trx_topups_total",
			Help:      "Total number of successful arbiter-funded TRX top-up transfers.",
		}),
		errorsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrowsvc",
			Subsystem: "provisioner",
			Name:      "errors_total",
			Help:      "Total number of processing errors, labeled by error_code.",
		}, []string{"error_code"}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "escrowsvc",
			Subsystem: "provisioner",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of one claim-and-process batch.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.processed, m.activated, m.topUps, m.errorsByCode, m.batchLatency)
	}
	return m
}
