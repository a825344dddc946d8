package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sampler application reasons.
const (
	ApplicationForced   = "forced"
	ApplicationSnapshot = "snapshot"
	ApplicationOverflow = "overflow"
)

type Metrics struct {
	Batches             prometheus.Counter
	Generations         prometheus.Counter
	SamplerApplications *prometheus.CounterVec
	RowsFlushed         *prometheus.CounterVec
	OverflowFiles       prometheus.Counter
	BatchDuration       prometheus.Histogram
}

// NewMetrics registers the run metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tennessen",
			Name:      "batches_completed_total",
			Help:      "Batches of replicates simulated to the present.",
		}),
		Generations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tennessen",
			Name:      "generations_total",
			Help:      "Generations advanced, counted once per batch.",
		}),
		SamplerApplications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tennessen",
			Name:      "sampler_applications_total",
			Help:      "Out-of-cadence sampler passes over a batch.",
		}, []string{"reason"}),
		RowsFlushed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tennessen",
			Name:      "rows_flushed_total",
			Help:      "Result rows appended to the output store.",
		}, []string{"table"}),
		OverflowFiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tennessen",
			Name:      "overflow_files_total",
			Help:      "Genotype matrix files written to the overflow sink.",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tennessen",
			Name:      "batch_duration_seconds",
			Help:      "Wall time per batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
}
