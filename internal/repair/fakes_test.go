package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/harrison/mender/internal/models"
)

// === Test fakes ===

type oracleResponse struct {
	patch *models.ProposedPatch
	err   error
	block bool // Wait for context cancellation instead of answering
}

type fakeOracle struct {
	responses []oracleResponse
	requests  []models.DiagnosisRequest
	onCall    func(call int)
}

func (f *fakeOracle) Diagnose(ctx context.Context, req models.DiagnosisRequest) (*models.ProposedPatch, error) {
	f.requests = append(f.requests, req)
	call := len(f.requests)
	if f.onCall != nil {
		f.onCall(call)
	}
	resp := f.responses[min(call, len(f.responses))-1]
	if resp.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return resp.patch, resp.err
}

type applyResponse struct {
	result models.ApplyResult
	err    error
}

type fakeApplier struct {
	responses []applyResponse
	patches   []models.ProposedPatch
	reverts   int
}

func (f *fakeApplier) Apply(ctx context.Context, patch models.ProposedPatch, projectRoot string) (models.ApplyResult, error) {
	f.patches = append(f.patches, patch)
	if len(f.responses) == 0 {
		return models.ApplyResult{Applied: true, Files: patch.Files()}, nil
	}
	resp := f.responses[min(len(f.patches), len(f.responses))-1]
	return resp.result, resp.err
}

type revertingApplier struct {
	fakeApplier
	revertErr error
}

func (f *revertingApplier) Revert(ctx context.Context, projectRoot string) error {
	f.reverts++
	return f.revertErr
}

type validateResponse struct {
	result models.ValidationResult
	err    error
	block  bool
}

type fakeValidator struct {
	responses []validateResponse
	calls     int
	onCall    func(call int)
}

func (f *fakeValidator) Validate(ctx context.Context, projectRoot string) (models.ValidationResult, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall(f.calls)
	}
	resp := f.responses[min(f.calls, len(f.responses))-1]
	if resp.block {
		<-ctx.Done()
		return models.ValidationResult{}, ctx.Err()
	}
	return resp.result, resp.err
}

type fakeStore struct {
	puts    []*models.KnowledgeCrystal
	putErr  error
	putErrs []error // ctx.Err() observed while Put ran
	prior   []models.ApproachStat
	lookups []string
}

func (f *fakeStore) Put(ctx context.Context, crystal *models.KnowledgeCrystal) (string, error) {
	f.puts = append(f.puts, crystal)
	f.putErrs = append(f.putErrs, ctx.Err())
	if f.putErr != nil {
		return "", f.putErr
	}
	return fmt.Sprintf("crystal-%d", len(f.puts)), nil
}

// lookupStore adds KnowledgeLookup to fakeStore.
type lookupStore struct {
	fakeStore
	lookupErr error
}

func (f *lookupStore) ApproachStats(ctx context.Context, signature string, limit int) ([]models.ApproachStat, error) {
	f.lookups = append(f.lookups, signature)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if len(f.prior) > limit {
		return f.prior[:limit], nil
	}
	return f.prior, nil
}

type recordingObserver struct {
	events []string
}

func (r *recordingObserver) RunStarted(crash *models.CrashContext, maxIterations int) {
	r.events = append(r.events, fmt.Sprintf("run-started:%s:%d", crash.ID, maxIterations))
}

func (r *recordingObserver) AttemptStarted(index, maxIterations int) {
	r.events = append(r.events, fmt.Sprintf("attempt-started:%d/%d", index, maxIterations))
}

func (r *recordingObserver) AttemptFinished(attempt models.RepairAttempt) {
	r.events = append(r.events, fmt.Sprintf("attempt-finished:%d:%s", attempt.Index, attempt.Validation))
}

func (r *recordingObserver) RunFinished(outcome *models.RepairOutcome) {
	r.events = append(r.events, fmt.Sprintf("run-finished:%s", outcome.Status))
}

// === Helpers ===

func testCrash() *models.CrashContext {
	return &models.CrashContext{
		ID:          "crash_20260217_052359",
		Timestamp:   time.Date(2026, 2, 17, 5, 23, 59, 0, time.UTC),
		Error:       "KeyError: 'user_id'",
		Traceback:   "Traceback (most recent call last):\n  File \"app.py\", line 10, in handler\nKeyError: 'user_id'",
		ProjectRoot: "/tmp/project",
		Signature:   "abc123def4567890",
	}
}

func patchFor(approach string) *models.ProposedPatch {
	return &models.ProposedPatch{
		Approach: approach,
		Edits: []models.Edit{
			{Path: "app.py", Kind: models.EditReplace, Search: "data['user_id']", Replace: "data.get('user_id')"},
		},
	}
}

func okPatch(approach string) oracleResponse {
	return oracleResponse{patch: patchFor(approach)}
}

func pass() validateResponse {
	return validateResponse{result: models.ValidationResult{Passed: true, DiagnosticText: "ok"}}
}

func failWith(diag string) validateResponse {
	return validateResponse{result: models.ValidationResult{Passed: false, DiagnosticText: diag}}
}

func testOptions(max int) Options {
	opts := DefaultOptions()
	opts.MaxIterations = max
	return opts
}
