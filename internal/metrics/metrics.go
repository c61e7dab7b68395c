package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wkv_kernel_duration_seconds",
		Help:    "Histogram of kernel execution times per engine",
		Buckets: prometheus.DefBuckets,
	}, []string{"engine"})

	KernelInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wkv_kernel_invocations_total",
		Help: "Total kernel invocations per engine",
	}, []string{"engine"})

	DecayClamps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wkv_decay_clamps_total",
		Help: "Total decay values clamped to the precision floor",
	})

	ChunkFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wkv_chunk_fallbacks_total",
		Help: "Total calls that fell back to sequential evaluation because the sequence length was not a multiple of the chunk length",
	})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wkv_numerical_instability_total",
		Help: "Total number of NaN/Inf values detected",
	}, []string{"tensor", "type"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wkv_validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})

	SequenceLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wkv_sequence_length",
		Help:    "Distribution of sequence lengths processed",
		Buckets: []float64{1, 8, 32, 128, 512, 2048, 8192, 32768},
	})

	FlightRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wkv_flight_requests_total",
		Help: "Total Flight segment-evaluation requests by status",
	}, []string{"status"})

	FlightSegmentDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "wkv_flight_segment_duration_seconds",
		Help: "Duration of Flight segment evaluations",
	})
)

// RecordKernel records one kernel run for the named engine.
func RecordKernel(engine string, start time.Time) {
	KernelInvocations.WithLabelValues(engine).Inc()
	KernelDuration.WithLabelValues(engine).Observe(time.Since(start).Seconds())
}

// RecordDecayClamps adds n clamp events (counted once per call, not per element).
func RecordDecayClamps(n int) {
	if n > 0 {
		DecayClamps.Add(float64(n))
	}
}

// RecordChunkFallback marks a sequential-fallback evaluation.
func RecordChunkFallback() {
	ChunkFallbacks.Inc()
}

// RecordNumericalInstability records NaN/Inf detections for a named tensor.
func RecordNumericalInstability(tensor string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(tensor, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(tensor, "inf").Add(float64(infCount))
	}
}

// RecordValidationError records a rejected call.
func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordSequenceLength records the length of a processed sequence.
func RecordSequenceLength(l int) {
	SequenceLength.Observe(float64(l))
}

// RecordFlightSegment records one Flight segment evaluation.
func RecordFlightSegment(status string, start time.Time) {
	FlightRequests.WithLabelValues(status).Inc()
	FlightSegmentDuration.Observe(time.Since(start).Seconds())
}
