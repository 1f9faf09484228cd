package dispatcher

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the dispatcher and sweeper
// update. A fresh Metrics (and its own registry) is created per
// Dispatcher instance rather than relying on the global default
// registry and promauto's package-level convenience vars, the way the
// teacher's syncer package does — one coordinator process only ever
// builds one Dispatcher in production, but tests build several, and
// the default registry panics on duplicate registration.
type Metrics struct {
	Registry *prometheus.Registry

	PendingSize  prometheus.Gauge
	InFlightSize prometheus.Gauge
	FailedSize   prometheus.Gauge

	ProcessedTotal   prometheus.Counter
	BlocksDispatched prometheus.Counter
	BlocksConfirmed  prometheus.Counter
	BlocksExpired    prometheus.Counter
	RetryRounds      prometheus.Counter
	ProtocolErrors   prometheus.Counter
}

// NewMetrics builds and registers the dispatcher's collectors on a
// fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		PendingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "butler_pending_size",
			Help: "Number of blocks awaiting dispatch.",
		}),
		InFlightSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "butler_in_flight_size",
			Help: "Number of blocks currently dispatched and unconfirmed.",
		}),
		FailedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "butler_failed_size",
			Help: "Number of blocks that exceeded the time limit in the current retry round.",
		}),
		ProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "butler_processed_total",
			Help: "Total number of blocks confirmed complete.",
		}),
		BlocksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "butler_blocks_dispatched_total",
			Help: "Total number of blocks handed out to workers.",
		}),
		BlocksConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "butler_blocks_confirmed_total",
			Help: "Total number of accepted confirm-block calls.",
		}),
		BlocksExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "butler_blocks_expired_total",
			Help: "Total number of in-flight blocks the sweeper demoted to failed.",
		}),
		RetryRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "butler_retry_rounds_total",
			Help: "Total number of retry-round refills performed.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "butler_protocol_errors_total",
			Help: "Total number of malformed requests rejected.",
		}),
	}

	reg.MustRegister(
		m.PendingSize, m.InFlightSize, m.FailedSize, m.ProcessedTotal,
		m.BlocksDispatched, m.BlocksConfirmed, m.BlocksExpired,
		m.RetryRounds, m.ProtocolErrors,
	)
	return m
}
