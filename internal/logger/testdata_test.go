package logger

import (
	"time"

	"github.com/harrison/mender/internal/models"
	"github.com/harrison/mender/internal/repair"
)

var (
	_ repair.Observer = (*ConsoleLogger)(nil)
	_ repair.Observer = (*FileLogger)(nil)
)

func testCrash() *models.CrashContext {
	return &models.CrashContext{
		ID:          "crash_20260217_052359",
		Error:       "ZeroDivisionError: division by zero",
		Traceback:   "Traceback (most recent call last):\nZeroDivisionError: division by zero",
		Command:     "python app.py",
		ProjectRoot: "/tmp/project",
		Signature:   "abc123def4567890",
	}
}

func failedAttempt() models.RepairAttempt {
	return models.RepairAttempt{
		Index:    1,
		Approach: "wrap in try/except",
		Patch: &models.ProposedPatch{
			Approach:  "wrap in try/except",
			Rationale: "swallow the error",
			Edits:     []models.Edit{{Kind: models.EditReplace, Path: "app.py", Search: "a / b", Replace: "safe(a, b)"}},
		},
		Diagnosis:  models.DiagnosisOK,
		Apply:      models.ApplyApplied,
		Validation: models.ValidationFailed,
		Diagnostic: "collected 3 items\n\nFAILED test_app.py::test_divide\n1 failed, 2 passed\n",
		ErrorKind:  models.ErrorValidation,
		Duration:   1500 * time.Millisecond,
	}
}

func passedAttempt() models.RepairAttempt {
	return models.RepairAttempt{
		Index:      2,
		Approach:   "guard zero divisor",
		Diagnosis:  models.DiagnosisOK,
		Apply:      models.ApplyApplied,
		Validation: models.ValidationPassed,
		Duration:   2 * time.Second,
	}
}

func succeededOutcome() *models.RepairOutcome {
	return &models.RepairOutcome{
		Success:       true,
		Status:        models.OutcomeSucceeded,
		Iterations:    2,
		CrashID:       "crash_20260217_052359",
		Signature:     "abc123def4567890",
		FinalApproach: "guard zero divisor",
		KnowledgeID:   "3f2a9c1e",
		Attempts:      []models.RepairAttempt{failedAttempt(), passedAttempt()},
		Duration:      3500 * time.Millisecond,
	}
}
