package repair

import (
	"fmt"
	"time"
)

// Default loop settings
const (
	DefaultMaxIterations   = 3
	DefaultDiagnoseTimeout = 2 * time.Minute
	DefaultApplyTimeout    = 30 * time.Second
	DefaultValidateTimeout = 10 * time.Minute
	DefaultPersistTimeout  = 10 * time.Second
	DefaultPriorLimit      = 5
)

// Options bound a single repair run. A zero timeout disables that step's
// timeout; the run context still applies.
type Options struct {
	MaxIterations   int           // Maximum loop iterations (must be > 0)
	DiagnoseTimeout time.Duration // Per-call oracle timeout
	ApplyTimeout    time.Duration // Per-call applier timeout
	ValidateTimeout time.Duration // Per-call validator timeout
	PersistTimeout  time.Duration // Crystallization write timeout

	// RevertOnFailure reverts an attempt's edits after a failed validation,
	// when the applier implements Reverter. Without it edits accumulate
	// across iterations: the loop is not transactional.
	RevertOnFailure bool

	// PriorLimit caps how many approach statistics from earlier runs are
	// fed to the oracle (0 disables prior knowledge lookup).
	PriorLimit int
}

// DefaultOptions returns Options with the default bounds
func DefaultOptions() Options {
	return Options{
		MaxIterations:   DefaultMaxIterations,
		DiagnoseTimeout: DefaultDiagnoseTimeout,
		ApplyTimeout:    DefaultApplyTimeout,
		ValidateTimeout: DefaultValidateTimeout,
		PersistTimeout:  DefaultPersistTimeout,
		PriorLimit:      DefaultPriorLimit,
	}
}

// Validate returns a ConfigurationError for invalid options
func (o Options) Validate() error {
	if o.MaxIterations <= 0 {
		return NewConfigurationError(fmt.Sprintf("max iterations must be > 0, got %d", o.MaxIterations))
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"diagnose", o.DiagnoseTimeout},
		{"apply", o.ApplyTimeout},
		{"validate", o.ValidateTimeout},
		{"persist", o.PersistTimeout},
	}
	for _, t := range timeouts {
		if t.d < 0 {
			return NewConfigurationError(fmt.Sprintf("%s timeout must be >= 0, got %v", t.name, t.d))
		}
	}
	if o.PriorLimit < 0 {
		return NewConfigurationError(fmt.Sprintf("prior limit must be >= 0, got %d", o.PriorLimit))
	}
	return nil
}
