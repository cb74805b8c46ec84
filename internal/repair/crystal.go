package repair

import "github.com/harrison/mender/internal/models"

// BuildCrystal distills a finished run into a knowledge crystal. The full
// attempt sequence is copied, winning or not. The identifier and creation
// time are left for the store to assign.
func BuildCrystal(crash *models.CrashContext, attempts []models.RepairAttempt, outcome *models.RepairOutcome) *models.KnowledgeCrystal {
	crystal := &models.KnowledgeCrystal{
		Signature:    crash.Signature,
		CrashID:      crash.ID,
		ErrorSummary: crash.Error,
		Attempts:     make([]models.RepairAttempt, len(attempts)),
	}
	copy(crystal.Attempts, attempts)

	if outcome != nil {
		crystal.Status = outcome.Status
		crystal.Success = outcome.Success
		crystal.Iterations = outcome.Iterations
		crystal.FinalApproach = outcome.FinalApproach
	}

	return crystal
}
