package models

import (
	"errors"
	"time"
)

// CrashContext is an immutable snapshot of a single process failure.
// It is created once per repair invocation by the crash source and is never
// mutated afterwards.
type CrashContext struct {
	ID          string    `json:"id"`                // Crash record identifier (e.g. crash_20260217_052359)
	Timestamp   time.Time `json:"timestamp"`         // When the crash was captured
	Error       string    `json:"error"`             // One-line error summary
	Traceback   string    `json:"traceback"`         // Full captured traceback / error output
	Command     string    `json:"command,omitempty"` // Command that crashed (optional)
	ProjectRoot string    `json:"project_root"`      // Root of the project that crashed
	Signature   string    `json:"signature"`         // Stable crash signature used to key knowledge
}

// Validate checks that the crash context references an actual crash
func (c *CrashContext) Validate() error {
	if c == nil {
		return errors.New("crash context is required")
	}
	if c.ID == "" {
		return errors.New("crash id is required")
	}
	if c.Signature == "" {
		return errors.New("crash signature is required")
	}
	if c.ProjectRoot == "" {
		return errors.New("crash project root is required")
	}
	return nil
}
