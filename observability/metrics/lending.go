package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics tracks pool controller activity as seen from the RPC layer.
type LendingMetrics struct {
	operations       *prometheus.CounterVec
	operationSeconds *prometheus.HistogramVec
	reserves         prometheus.Gauge
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide lending metrics collectors, registering
// them on first use.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_total",
				Help: "Count of pool operations by method and result.",
			}, []string{"method", "result"}),
			operationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "lending_operation_duration_seconds",
				Help:    "Latency of pool operations by method.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method"}),
			reserves: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lending_reserves",
				Help: "Number of initialized reserves.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.operationSeconds,
			lendingRegistry.reserves,
		)
	})
	return lendingRegistry
}

// ObserveOperation records one completed operation.
func (m *LendingMetrics) ObserveOperation(method string, err error, started time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(method, result).Inc()
	m.operationSeconds.WithLabelValues(method).Observe(time.Since(started).Seconds())
}

// SetReserveCount updates the initialized-reserve gauge.
func (m *LendingMetrics) SetReserveCount(n int) {
	if m == nil {
		return
	}
	m.reserves.Set(float64(n))
}
