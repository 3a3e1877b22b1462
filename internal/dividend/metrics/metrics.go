package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the dividend module.
type Metrics struct {
	DividendsCreated prometheus.Counter
	Payments         *prometheus.CounterVec
	PaymentDuration  prometheus.Histogram
	PushBatchSize    prometheus.Histogram
	Reclaims         prometheus.Counter
}

// New creates a new Metrics instance with all dividend metrics registered.
func New() *Metrics {
	return &Metrics{
		DividendsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meridian_dividends_created_total",
			Help: "Total number of dividends created",
		}),
		Payments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_dividend_payments_total",
			Help: "Individual dividend payments by settlement mode",
		}, []string{"mode"}),
		PaymentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meridian_dividend_payment_duration_seconds",
			Help:    "Duration of a single compute-and-transfer payment",
			Buckets: prometheus.DefBuckets,
		}),
		PushBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meridian_dividend_push_batch_size",
			Help:    "Holders processed per push batch",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
		}),
		Reclaims: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meridian_dividend_reclaims_total",
			Help: "Total expired dividends reclaimed to the treasury",
		}),
	}
}
