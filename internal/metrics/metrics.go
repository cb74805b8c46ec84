// Package metrics exposes repair loop counters in Prometheus format. A
// Recorder implements repair.Observer and owns its registry, so several
// recorders can coexist in one process (and in tests).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harrison/mender/internal/models"
)

const namespace = "mender"

// Attempt results used as label values
const (
	ResultPassed           = "passed"
	ResultDiagnosisFailed  = "diagnosis_failed"
	ResultApplyFailed      = "apply_failed"
	ResultValidationFailed = "validation_failed"
	ResultCancelled        = "cancelled"
)

// Recorder turns repair events into Prometheus metrics.
type Recorder struct {
	registry *prometheus.Registry

	// RunsTotal counts finished runs.
	// Labels: status (succeeded, exhausted, cancelled)
	RunsTotal *prometheus.CounterVec

	// AttemptsTotal counts finished attempts.
	// Labels: result (passed, diagnosis_failed, apply_failed, validation_failed, cancelled)
	AttemptsTotal *prometheus.CounterVec

	// RepeatedApproachesTotal counts attempts that repeated a failed approach.
	RepeatedApproachesTotal prometheus.Counter

	// IterationsPerRun observes how many attempts each run used.
	IterationsPerRun prometheus.Histogram

	// AttemptDurationSeconds observes attempt wall time.
	// Labels: result
	AttemptDurationSeconds *prometheus.HistogramVec

	// PersistenceFailuresTotal counts runs whose crystal could not be saved.
	PersistenceFailuresTotal prometheus.Counter

	// ActiveRuns is 1 while a run is in progress.
	ActiveRuns prometheus.Gauge
}

// NewRecorder creates a Recorder with a fresh registry that also carries
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Repair runs by terminal status",
		}, []string{"status"}),
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Repair attempts by result",
		}, []string{"result"}),
		RepeatedApproachesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repeated_approaches_total",
			Help:      "Attempts whose approach repeated an earlier failed one",
		}),
		IterationsPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iterations_per_run",
			Help:      "Attempts used per repair run",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}),
		AttemptDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of one repair attempt",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		PersistenceFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Runs whose knowledge crystal could not be saved",
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Repair runs in progress",
		}),
	}
}

// Registry returns the registry holding the recorder's metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// AttemptResult maps an attempt to its result label.
func AttemptResult(a models.RepairAttempt) string {
	if a.ErrorKind == models.ErrorCancelled {
		return ResultCancelled
	}
	switch a.FailedStage() {
	case "diagnosis":
		return ResultDiagnosisFailed
	case "apply":
		return ResultApplyFailed
	case "validation":
		return ResultValidationFailed
	default:
		return ResultPassed
	}
}

// RunStarted implements repair.Observer.
func (r *Recorder) RunStarted(*models.CrashContext, int) {
	r.ActiveRuns.Inc()
}

// AttemptStarted implements repair.Observer.
func (r *Recorder) AttemptStarted(int, int) {}

// AttemptFinished implements repair.Observer.
func (r *Recorder) AttemptFinished(a models.RepairAttempt) {
	result := AttemptResult(a)
	r.AttemptsTotal.WithLabelValues(result).Inc()
	r.AttemptDurationSeconds.WithLabelValues(result).Observe(a.Duration.Seconds())
	if a.Repeated {
		r.RepeatedApproachesTotal.Inc()
	}
}

// RunFinished implements repair.Observer.
func (r *Recorder) RunFinished(o *models.RepairOutcome) {
	r.ActiveRuns.Dec()
	r.RunsTotal.WithLabelValues(string(o.Status)).Inc()
	r.IterationsPerRun.Observe(float64(o.Iterations))
	if o.PersistenceFailed() {
		r.PersistenceFailuresTotal.Inc()
	}
}
