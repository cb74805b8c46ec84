package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/mender/internal/models"
)

// Sentinel errors, one per error kind. Use errors.Is against these.
var (
	ErrConfiguration = errors.New("invalid repair configuration")
	ErrDiagnosis     = errors.New("diagnosis failed")
	ErrApply         = errors.New("patch could not be applied")
	ErrValidation    = errors.New("validation failed")
	ErrExhausted     = errors.New("maximum iterations reached without a passing validation")
	ErrPersistence   = errors.New("knowledge persistence failed")
	ErrCancelled     = errors.New("repair cancelled")
)

var kindSentinels = map[models.ErrorKind]error{
	models.ErrorConfiguration: ErrConfiguration,
	models.ErrorDiagnosis:     ErrDiagnosis,
	models.ErrorApply:         ErrApply,
	models.ErrorValidation:    ErrValidation,
	models.ErrorExhaustion:    ErrExhausted,
	models.ErrorPersistence:   ErrPersistence,
	models.ErrorCancelled:     ErrCancelled,
}

// StepError is a failure of one loop step, classified by kind.
type StepError struct {
	Kind    models.ErrorKind // Error classification
	Attempt int              // Attempt index (0 when not tied to an attempt)
	Message string           // Human-readable message
	Err     error            // Underlying error (optional)
}

// NewStepError creates a StepError
func NewStepError(kind models.ErrorKind, attempt int, msg string, err error) *StepError {
	return &StepError{
		Kind:    kind,
		Attempt: attempt,
		Message: msg,
		Err:     err,
	}
}

// NewConfigurationError creates a StepError of kind ConfigurationError
func NewConfigurationError(msg string) *StepError {
	return NewStepError(models.ErrorConfiguration, 0, msg, nil)
}

// Error implements the error interface for StepError.
func (e *StepError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Attempt > 0 {
		sb.WriteString(fmt.Sprintf(" (attempt %d)", e.Attempt))
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *StepError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// TimeoutError is returned when a single step exceeds its timeout.
type TimeoutError struct {
	Step    string        // diagnose, apply or validate
	Timeout time.Duration // Configured timeout
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Step, e.Timeout)
}

// Unwrap lets errors.Is(err, context.DeadlineExceeded) match.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// OutcomeError converts a failed outcome into an error that matches the
// sentinel for its kind. It returns nil for successful outcomes.
func OutcomeError(outcome *models.RepairOutcome) error {
	if outcome == nil || outcome.Success {
		return nil
	}
	return NewStepError(outcome.ErrorKind, 0, outcome.Error, nil)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
