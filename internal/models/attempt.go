package models

import "time"

// DiagnosisStatus records whether the oracle produced a usable proposal
type DiagnosisStatus string

// Diagnosis statuses
const (
	DiagnosisOK     DiagnosisStatus = "ok"
	DiagnosisFailed DiagnosisStatus = "failed"
)

// ApplyStatus records the patch application outcome of an attempt
type ApplyStatus string

// Apply statuses
const (
	ApplyApplied ApplyStatus = "applied"
	ApplyFailed  ApplyStatus = "apply_failed"
	ApplySkipped ApplyStatus = "skipped" // Apply never ran (diagnosis failed or run cancelled)
)

// ValidationStatus records the validation outcome of an attempt
type ValidationStatus string

// Validation statuses
const (
	ValidationPassed ValidationStatus = "passed"
	ValidationFailed ValidationStatus = "failed"
	ValidationNotRun ValidationStatus = "not_run"
)

// ErrorKind classifies failures in the repair loop
type ErrorKind string

// Error taxonomy of the repair loop. Only ErrorConfiguration prevents the
// loop from starting; every other kind is absorbed into attempts and outcomes.
const (
	ErrorNone          ErrorKind = ""
	ErrorConfiguration ErrorKind = "ConfigurationError"
	ErrorDiagnosis     ErrorKind = "DiagnosisError"
	ErrorApply         ErrorKind = "ApplyError"
	ErrorValidation    ErrorKind = "ValidationFailure"
	ErrorExhaustion    ErrorKind = "ExhaustionError"
	ErrorPersistence   ErrorKind = "PersistenceError"
	ErrorCancelled     ErrorKind = "Cancelled"
)

// RepairAttempt is the record of one loop iteration
type RepairAttempt struct {
	Index      int              `json:"index"`                // 1-based, contiguous within a run
	Approach   string           `json:"approach,omitempty"`   // Approach returned by the oracle
	Patch      *ProposedPatch   `json:"patch,omitempty"`      // Proposed patch (nil when diagnosis failed)
	Diagnosis  DiagnosisStatus  `json:"diagnosis"`            // Oracle outcome
	Apply      ApplyStatus      `json:"apply"`                // Applier outcome
	Validation ValidationStatus `json:"validation"`           // Validator outcome
	Diagnostic string           `json:"diagnostic,omitempty"` // Diagnostic text from the failing step
	ErrorKind  ErrorKind        `json:"error_kind,omitempty"` // Failure classification
	Repeated   bool             `json:"repeated,omitempty"`   // Approach repeats an earlier failed one
	Duration   time.Duration    `json:"duration"`             // Wall time of the iteration
}

// Passed returns true if the attempt's validation passed
func (a *RepairAttempt) Passed() bool {
	return a.Validation == ValidationPassed
}

// FailedStage names the step at which the attempt stopped, or "" if it passed
func (a *RepairAttempt) FailedStage() string {
	switch {
	case a.Diagnosis != DiagnosisOK:
		return "diagnosis"
	case a.Apply != ApplyApplied:
		return "apply"
	case a.Validation != ValidationPassed:
		return "validation"
	default:
		return ""
	}
}

// OutcomeStatus is the terminal state of a repair run
type OutcomeStatus string

// Outcome statuses
const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeExhausted OutcomeStatus = "exhausted"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// RepairOutcome is the single terminal result of a repair run
type RepairOutcome struct {
	Success          bool            `json:"success"`
	Status           OutcomeStatus   `json:"status"`
	Iterations       int             `json:"iterations"`
	CrashID          string          `json:"crash_id"`
	Signature        string          `json:"signature"`
	FinalApproach    string          `json:"final_approach,omitempty"`    // Present only on success
	KnowledgeID      string          `json:"knowledge_id,omitempty"`      // Present once crystallization completes
	Error            string          `json:"error,omitempty"`             // Present only on failure
	ErrorKind        ErrorKind       `json:"error_kind,omitempty"`        // Classification of Error
	PersistenceError string          `json:"persistence_error,omitempty"` // Set when the knowledge write failed
	Attempts         []RepairAttempt `json:"attempts"`
	Duration         time.Duration   `json:"duration"`
}

// PersistenceFailed reports whether crystallization of this outcome failed
func (o *RepairOutcome) PersistenceFailed() bool {
	return o.PersistenceError != ""
}
