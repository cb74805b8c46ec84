package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/mender/internal/models"
)

func TestBuildCrystal(t *testing.T) {
	attempts := []models.RepairAttempt{
		{Index: 1, Approach: "a", Validation: models.ValidationFailed},
		{Index: 2, Approach: "b", Validation: models.ValidationPassed},
	}
	outcome := &models.RepairOutcome{
		Success:       true,
		Status:        models.OutcomeSucceeded,
		Iterations:    2,
		FinalApproach: "b",
	}

	crystal := BuildCrystal(testCrash(), attempts, outcome)

	assert.Empty(t, crystal.ID)
	assert.Equal(t, "abc123def4567890", crystal.Signature)
	assert.Equal(t, "crash_20260217_052359", crystal.CrashID)
	assert.Equal(t, "KeyError: 'user_id'", crystal.ErrorSummary)
	assert.True(t, crystal.Success)
	assert.Equal(t, models.OutcomeSucceeded, crystal.Status)
	assert.Equal(t, 2, crystal.Iterations)
	assert.Equal(t, "b", crystal.FinalApproach)
	require.Len(t, crystal.Attempts, 2)

	// Attempts are copied
	attempts[0].Approach = "mutated"
	assert.Equal(t, "a", crystal.Attempts[0].Approach)
}

func TestBuildCrystal_FailedRun(t *testing.T) {
	outcome := &models.RepairOutcome{Status: models.OutcomeExhausted, Iterations: 0}

	crystal := BuildCrystal(testCrash(), nil, outcome)

	assert.False(t, crystal.Success)
	assert.Equal(t, models.OutcomeExhausted, crystal.Status)
	assert.Empty(t, crystal.FinalApproach)
	assert.NotNil(t, crystal.Attempts)
	assert.Empty(t, crystal.Attempts)
}
