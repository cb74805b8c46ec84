package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/mender/internal/models"
	"github.com/harrison/mender/internal/repair"
)

var _ repair.Observer = (*Recorder)(nil)

func attempt(index int, stage string, kind models.ErrorKind) models.RepairAttempt {
	a := models.RepairAttempt{
		Index:      index,
		Diagnosis:  models.DiagnosisOK,
		Apply:      models.ApplyApplied,
		Validation: models.ValidationPassed,
		ErrorKind:  kind,
		Duration:   2 * time.Second,
	}
	switch stage {
	case "diagnosis":
		a.Diagnosis, a.Apply, a.Validation = models.DiagnosisFailed, models.ApplySkipped, models.ValidationNotRun
	case "apply":
		a.Apply, a.Validation = models.ApplyFailed, models.ValidationNotRun
	case "validation":
		a.Validation = models.ValidationFailed
	}
	return a
}

func TestAttemptResult(t *testing.T) {
	tests := []struct {
		name string
		a    models.RepairAttempt
		want string
	}{
		{"passed", attempt(1, "", models.ErrorNone), ResultPassed},
		{"diagnosis", attempt(1, "diagnosis", models.ErrorDiagnosis), ResultDiagnosisFailed},
		{"apply", attempt(1, "apply", models.ErrorApply), ResultApplyFailed},
		{"validation", attempt(1, "validation", models.ErrorValidation), ResultValidationFailed},
		{"cancelled", attempt(1, "validation", models.ErrorCancelled), ResultCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AttemptResult(tt.a))
		})
	}
}

func TestRecorder_Run(t *testing.T) {
	r := NewRecorder()

	r.RunStarted(&models.CrashContext{ID: "c1"}, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActiveRuns))

	first := attempt(1, "validation", models.ErrorValidation)
	r.AttemptStarted(1, 3)
	r.AttemptFinished(first)

	second := attempt(2, "", models.ErrorNone)
	second.Repeated = true
	r.AttemptStarted(2, 3)
	r.AttemptFinished(second)

	r.RunFinished(&models.RepairOutcome{
		Success:          true,
		Status:           models.OutcomeSucceeded,
		Iterations:       2,
		PersistenceError: "disk full",
	})

	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AttemptsTotal.WithLabelValues(ResultValidationFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AttemptsTotal.WithLabelValues(ResultPassed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RepeatedApproachesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PersistenceFailuresTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(r.IterationsPerRun))
}

func TestRecorder_IndependentRegistries(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.RunFinished(&models.RepairOutcome{Status: models.OutcomeExhausted, Iterations: 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(a.RunsTotal.WithLabelValues("exhausted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RunsTotal.WithLabelValues("exhausted")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.RunStarted(&models.CrashContext{ID: "c1"}, 1)
	r.AttemptFinished(attempt(1, "apply", models.ErrorApply))
	r.RunFinished(&models.RepairOutcome{Status: models.OutcomeExhausted, Iterations: 1})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out := string(body)
	assert.Contains(t, out, `mender_runs_total{status="exhausted"} 1`)
	assert.Contains(t, out, `mender_attempts_total{result="apply_failed"} 1`)
	assert.Contains(t, out, "mender_iterations_per_run_bucket")
	assert.Contains(t, out, "go_goroutines")
}
