package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	OutcomeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reconciler_outcomes_total", Help: "Outcomes recorded, by status"},
		[]string{"status"},
	)
	RetryCounter      = prometheus.NewCounter(prometheus.CounterOpts{Name: "reconciler_remote_retries_total", Help: "Transient remote-call retries"})
	RefreshCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "reconciler_credential_refreshes_total", Help: "Credential grant refreshes"})
	BatchCounter      = prometheus.NewCounter(prometheus.CounterOpts{Name: "reconciler_batches_persisted_total", Help: "Batches durably persisted"})
	ChunkCounter      = prometheus.NewCounter(prometheus.CounterOpts{Name: "reconciler_chunks_fetched_total", Help: "Chunks fetched from the source table"})
	WatermarkGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reconciler_watermark", Help: "Highest persisted record ordinal of the current run"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reconciler_inflight_checks", Help: "Remote calls currently in flight"})
	PersistRetryCount = prometheus.NewCounter(prometheus.CounterOpts{Name: "reconciler_persist_retries_total", Help: "Wholesale batch persistence retries"})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			OutcomeCounter,
			RetryCounter,
			RefreshCounter,
			BatchCounter,
			ChunkCounter,
			WatermarkGauge,
			InFlightGauge,
			PersistRetryCount,
		)
	})
	return promhttp.Handler()
}
