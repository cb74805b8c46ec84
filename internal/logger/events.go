package logger

import (
	"fmt"

	"github.com/harrison/mender/internal/models"
)

// diagnosticLines is how much of a failing diagnostic reaches the console.
const diagnosticLines = 8

func runStartedMessage(crash *models.CrashContext, maxIterations int) string {
	return fmt.Sprintf("Repairing %s (signature %s): up to %d attempt(s)", crash.ID, crash.Signature, maxIterations)
}

// attemptStatus is the one-word verdict for an attempt.
func attemptStatus(a models.RepairAttempt) string {
	switch {
	case a.Passed():
		return "PASS"
	case a.ErrorKind == models.ErrorCancelled:
		return "CANCELLED"
	default:
		return "FAIL"
	}
}

// attemptDetail is everything after the status word.
func attemptDetail(a models.RepairAttempt) string {
	detail := fmt.Sprintf("attempt %d", a.Index)
	if stage := a.FailedStage(); stage != "" {
		detail += " at " + stage
	}
	detail += fmt.Sprintf(" (%s)", formatDuration(a.Duration))
	if a.Approach != "" {
		detail += ": " + a.Approach
	}
	if a.Repeated {
		detail += " [repeated]"
	}
	return detail
}

func runFinishedMessage(o *models.RepairOutcome) string {
	switch o.Status {
	case models.OutcomeSucceeded:
		return fmt.Sprintf("Repaired %s in %d attempt(s) (%s): %s", o.CrashID, o.Iterations, formatDuration(o.Duration), o.FinalApproach)
	case models.OutcomeCancelled:
		return fmt.Sprintf("Repair of %s cancelled after %d attempt(s)", o.CrashID, o.Iterations)
	default:
		return fmt.Sprintf("Repair of %s failed after %d attempt(s): %s", o.CrashID, o.Iterations, o.Error)
	}
}

func knowledgeMessage(o *models.RepairOutcome) string {
	if o.PersistenceFailed() {
		return "Knowledge crystal not saved: " + o.PersistenceError
	}
	return "Knowledge crystal saved: " + o.KnowledgeID
}

func statsMessage(label string, s models.Stats) string {
	return fmt.Sprintf("%s: %d crystal(s), %d succeeded, %d failed, %d passing attempt(s)",
		label, s.TotalCrystals, s.Successful, s.Failed, s.TestsPassed)
}
