// Package repair implements the autonomous repair loop: it drives a crash
// through diagnosis, patch application and validation, retries with
// refinement up to a bound, and crystallizes the run into the knowledge store.
//
// The loop is strictly sequential. Each iteration's validation result must be
// visible when the next diagnosis request is built, and overlapping applies
// would race on file edits. Callers are responsible for ensuring only one run
// is active per project root (see filelock.ProjectLock).
package repair

import (
	"context"

	"github.com/harrison/mender/internal/models"
)

// Oracle proposes a patch for a diagnosis request.
type Oracle interface {
	Diagnose(ctx context.Context, req models.DiagnosisRequest) (*models.ProposedPatch, error)
}

// Applier mutates project source according to a proposed patch.
// A result with Applied=false and a nil error is treated as an apply failure.
type Applier interface {
	Apply(ctx context.Context, patch models.ProposedPatch, projectRoot string) (models.ApplyResult, error)
}

// Reverter is implemented by appliers that can undo the edits of the most
// recent Apply call.
type Reverter interface {
	Revert(ctx context.Context, projectRoot string) error
}

// Validator runs the project's validation step (its test suite).
type Validator interface {
	Validate(ctx context.Context, projectRoot string) (models.ValidationResult, error)
}

// KnowledgeStore persists crystals. Put returns the identifier it assigned.
type KnowledgeStore interface {
	Put(ctx context.Context, crystal *models.KnowledgeCrystal) (string, error)
}

// KnowledgeLookup is optionally implemented by knowledge stores that can
// report how approaches fared against a signature in earlier runs.
type KnowledgeLookup interface {
	ApproachStats(ctx context.Context, signature string, limit int) ([]models.ApproachStat, error)
}

// CrashSource surfaces crash records for a project.
type CrashSource interface {
	Latest(ctx context.Context, projectRoot string) (*models.CrashContext, error)
	Get(ctx context.Context, projectRoot, crashID string) (*models.CrashContext, error)
}
