package repair

import (
	"context"
	"fmt"

	"github.com/harrison/mender/internal/models"
)

// RunOptions configure Service.RunRepair.
type RunOptions struct {
	Options
	CrashID string // Specific crash to repair; empty means the latest one
}

// Service is the entry point used by callers: it locates the crash for a
// project root and runs the orchestrator on it.
type Service struct {
	crashes      CrashSource
	orchestrator *Orchestrator
}

// NewService creates a Service.
func NewService(crashes CrashSource, orchestrator *Orchestrator) *Service {
	return &Service{
		crashes:      crashes,
		orchestrator: orchestrator,
	}
}

// RunRepair repairs the latest (or the selected) crash of projectRoot.
// Errors are returned only when the run cannot start: invalid options or no
// crash to repair. The caller must hold the project lock.
func (s *Service) RunRepair(ctx context.Context, projectRoot string, opts RunOptions) (*models.RepairOutcome, error) {
	if err := opts.Options.Validate(); err != nil {
		return nil, err
	}

	crash, err := s.locate(ctx, projectRoot, opts.CrashID)
	if err != nil {
		return nil, err
	}

	return s.orchestrator.Run(ctx, crash, opts.Options)
}

func (s *Service) locate(ctx context.Context, projectRoot, crashID string) (*models.CrashContext, error) {
	if crashID != "" {
		crash, err := s.crashes.Get(ctx, projectRoot, crashID)
		if err != nil {
			return nil, fmt.Errorf("load crash %s: %w", crashID, err)
		}
		return crash, nil
	}

	crash, err := s.crashes.Latest(ctx, projectRoot)
	if err != nil {
		return nil, fmt.Errorf("locate latest crash: %w", err)
	}
	return crash, nil
}
