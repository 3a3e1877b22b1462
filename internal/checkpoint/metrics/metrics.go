package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the checkpoint module.
type Metrics struct {
	CheckpointsCreated prometheus.Counter
	QueryDuration      prometheus.Histogram
	HistoryEntries     prometheus.Counter
}

// New creates a new Metrics instance with all checkpoint metrics registered.
func New() *Metrics {
	return &Metrics{
		CheckpointsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meridian_checkpoints_created_total",
			Help: "Total number of checkpoints created",
		}),
		QueryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meridian_checkpoint_query_duration_seconds",
			Help:    "Duration of balanceOfAt/totalSupplyAt queries",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		HistoryEntries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meridian_checkpoint_history_entries_total",
			Help: "Total sparse history entries appended across accounts and supply",
		}),
	}
}
