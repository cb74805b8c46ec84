package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepairAttempt_FailedStage(t *testing.T) {
	tests := []struct {
		name    string
		attempt RepairAttempt
		stage   string
		passed  bool
	}{
		{
			name:    "diagnosis failed",
			attempt: RepairAttempt{Diagnosis: DiagnosisFailed, Apply: ApplySkipped, Validation: ValidationNotRun},
			stage:   "diagnosis",
		},
		{
			name:    "apply failed",
			attempt: RepairAttempt{Diagnosis: DiagnosisOK, Apply: ApplyFailed, Validation: ValidationNotRun},
			stage:   "apply",
		},
		{
			name:    "validation failed",
			attempt: RepairAttempt{Diagnosis: DiagnosisOK, Apply: ApplyApplied, Validation: ValidationFailed},
			stage:   "validation",
		},
		{
			name:    "passed",
			attempt: RepairAttempt{Diagnosis: DiagnosisOK, Apply: ApplyApplied, Validation: ValidationPassed},
			stage:   "",
			passed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.stage, tt.attempt.FailedStage())
			assert.Equal(t, tt.passed, tt.attempt.Passed())
		})
	}
}

func TestProposedPatch_Files(t *testing.T) {
	p := ProposedPatch{Edits: []Edit{
		{Kind: EditReplace, Path: "b.go"},
		{Kind: EditWrite, Path: "a.go"},
		{Kind: EditReplace, Path: "b.go"},
		{Kind: EditDiff, Diff: "--- a/c.go\n+++ b/c.go\n"},
	}}
	assert.Equal(t, []string{"b.go", "a.go"}, p.Files())
}

func TestNormalizeApproach(t *testing.T) {
	assert.Equal(t, "guard division by zero", NormalizeApproach("  Guard\tdivision BY\n zero "))
	assert.Equal(t, "", NormalizeApproach("   "))
}

func TestCrashContext_Validate(t *testing.T) {
	valid := CrashContext{ID: "crash_20260217_052359", Signature: "abc", ProjectRoot: "/p"}
	assert.NoError(t, valid.Validate())

	var nilCrash *CrashContext
	assert.EqualError(t, nilCrash.Validate(), "crash context is required")

	noID := valid
	noID.ID = ""
	assert.EqualError(t, noID.Validate(), "crash id is required")

	noSig := valid
	noSig.Signature = ""
	assert.EqualError(t, noSig.Validate(), "crash signature is required")

	noRoot := valid
	noRoot.ProjectRoot = ""
	assert.EqualError(t, noRoot.Validate(), "crash project root is required")
}

func TestRepairOutcome_PersistenceFailed(t *testing.T) {
	assert.False(t, (&RepairOutcome{}).PersistenceFailed())
	assert.True(t, (&RepairOutcome{PersistenceError: "disk full"}).PersistenceFailed())
}
