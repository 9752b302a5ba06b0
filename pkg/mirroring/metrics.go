package mirroring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the mirroring engine, grounded on
// bb-storage's mirroredBlobAccessFindMissingSynchronizations: a
// package-level sync.Once registers the collectors exactly once, no
// matter how many mirroring tables a process constructs.
var (
	mirroringMetricsOnce sync.Once

	secondarySubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirrorkv",
			Subsystem: "mirroring",
			Name:      "secondary_submissions_total",
			Help:      "Number of operations submitted to the secondary backend.",
		},
		[]string{"kind"})

	admissionDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirrorkv",
			Subsystem: "mirroring",
			Name:      "admission_denials_total",
			Help:      "Number of secondary submissions denied by the Flow Controller.",
		},
		[]string{"kind"})

	mismatchDetectorMismatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirrorkv",
			Subsystem: "mirroring",
			Name:      "mismatches_total",
			Help:      "Number of primary/secondary divergences observed during verification.",
		},
		[]string{"kind"})

	writeErrorSinkOperationsLost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirrorkv",
			Subsystem: "mirroring",
			Name:      "secondary_operations_lost_total",
			Help:      "Number of operations that failed or were denied on the secondary.",
		},
		[]string{"kind"})

	batchSplitSizes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirrorkv",
			Subsystem: "mirroring",
			Name:      "batch_split_size",
			Help:      "Number of operations carried over to the secondary batch, by split outcome.",
			Buckets:   append([]float64{0}, prometheus.ExponentialBuckets(1.0, 2.0, 12)...),
		},
		[]string{"outcome"})
)

func registerMetrics() {
	mirroringMetricsOnce.Do(func() {
		prometheus.MustRegister(
			secondarySubmissions,
			admissionDenials,
			mismatchDetectorMismatches,
			writeErrorSinkOperationsLost,
			batchSplitSizes,
		)
	})
}
