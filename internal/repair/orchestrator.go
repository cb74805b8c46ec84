package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/mender/internal/models"
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Oracle    Oracle
	Applier   Applier
	Validator Validator
	Store     KnowledgeStore
	Observer  Observer // Optional
}

// Orchestrator runs the repair loop for one crash at a time.
//
// Every apply step mutates project source, including during iterations that
// end up failing. Edits are not rolled back unless Options.RevertOnFailure is
// set and the Applier implements Reverter.
type Orchestrator struct {
	oracle    Oracle
	applier   Applier
	validator Validator
	store     KnowledgeStore
	observer  Observer
	clock     func() time.Time
}

// NewOrchestrator constructs an Orchestrator. Oracle, Applier, Validator and
// Store are required.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if deps.Oracle == nil {
		return nil, fmt.Errorf("orchestrator requires an oracle")
	}
	if deps.Applier == nil {
		return nil, fmt.Errorf("orchestrator requires an applier")
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("orchestrator requires a validator")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a knowledge store")
	}

	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Orchestrator{
		oracle:    deps.Oracle,
		applier:   deps.Applier,
		validator: deps.Validator,
		store:     deps.Store,
		observer:  observer,
		clock:     time.Now,
	}, nil
}

// Run drives the crash through the repair loop and returns its single
// terminal outcome. The only error returned is a ConfigurationError, in which
// case no iteration runs and nothing is persisted. Every other failure is
// reported inside the outcome.
func (o *Orchestrator) Run(ctx context.Context, crash *models.CrashContext, opts Options) (*models.RepairOutcome, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := crash.Validate(); err != nil {
		return nil, NewConfigurationError(err.Error())
	}

	r := &run{
		o:       o,
		opts:    opts,
		crash:   crash,
		started: o.clock(),
	}

	o.observer.RunStarted(crash, opts.MaxIterations)
	r.loadPrior(ctx)

	state := r.refine(ctx)
	for !state.Terminal() {
		state = r.transition(ctx, state)
	}

	outcome := r.outcome(state)
	o.crystallize(ctx, r, outcome)
	o.observer.RunFinished(outcome)

	return outcome, nil
}

// crystallize persists the run. A store failure is recorded on the outcome
// and never changes its success flag.
func (o *Orchestrator) crystallize(ctx context.Context, r *run, outcome *models.RepairOutcome) {
	crystal := BuildCrystal(r.crash, r.attempts, outcome)

	// Detach from cancellation: cancelled runs are still crystallized.
	persistCtx, cancel := stepContext(context.WithoutCancel(ctx), r.opts.PersistTimeout)
	defer cancel()

	id, err := o.store.Put(persistCtx, crystal)
	if err == nil && id == "" {
		err = errors.New("store returned an empty identifier")
	}
	if err != nil {
		outcome.PersistenceError = NewStepError(models.ErrorPersistence, 0, "write knowledge crystal", err).Error()
		return
	}
	outcome.KnowledgeID = id
}

// run holds the mutable state of a single Orchestrator.Run call.
type run struct {
	o        *Orchestrator
	opts     Options
	crash    *models.CrashContext
	prior    []models.ApproachStat
	attempts []models.RepairAttempt

	current      *models.RepairAttempt
	attemptStart time.Time
	started      time.Time
	cancelErr    error
}

// transition executes the work of state and returns the next state.
func (r *run) transition(ctx context.Context, state State) State {
	switch state {
	case StateDiagnosing:
		return r.diagnose(ctx)
	case StateApplying:
		return r.apply(ctx)
	case StateValidating:
		return r.validate(ctx)
	case StateRefining:
		return r.refine(ctx)
	default:
		return state
	}
}

// refine runs at the top of every iteration: it enforces the iteration
// bound and checks for cancellation.
func (r *run) refine(ctx context.Context) State {
	if len(r.attempts) >= r.opts.MaxIterations {
		return StateExhausted
	}
	if err := ctx.Err(); err != nil {
		r.cancelErr = err
		return StateCancelled
	}
	return StateDiagnosing
}

func (r *run) diagnose(ctx context.Context) State {
	req := BuildContext(r.crash, r.attempts, r.prior)
	req.MaxIterations = r.opts.MaxIterations

	if err := ctx.Err(); err != nil {
		r.cancelErr = err
		return StateCancelled
	}

	r.begin(len(r.attempts) + 1)

	stepCtx, cancel := stepContext(ctx, r.opts.DiagnoseTimeout)
	patch, err := r.o.oracle.Diagnose(stepCtx, req)
	cancel()

	if err != nil {
		r.current.Diagnosis = models.DiagnosisFailed
		if ctx.Err() != nil {
			return r.interrupted(ctx, err)
		}
		r.fail(models.ErrorDiagnosis, stepFailure("diagnose", r.opts.DiagnoseTimeout, err))
		return StateRefining
	}
	if err := checkProposal(patch); err != nil {
		r.current.Diagnosis = models.DiagnosisFailed
		r.fail(models.ErrorDiagnosis, err)
		return StateRefining
	}

	r.current.Diagnosis = models.DiagnosisOK
	r.current.Approach = patch.Approach
	r.current.Patch = patch
	r.current.Repeated = isRepeated(patch.Approach, r.attempts)
	return StateApplying
}

func (r *run) apply(ctx context.Context) State {
	if err := ctx.Err(); err != nil {
		return r.interrupted(ctx, err)
	}

	stepCtx, cancel := stepContext(ctx, r.opts.ApplyTimeout)
	result, err := r.o.applier.Apply(stepCtx, *r.current.Patch, r.crash.ProjectRoot)
	cancel()

	if err != nil {
		r.current.Apply = models.ApplyFailed
		if ctx.Err() != nil {
			return r.interrupted(ctx, err)
		}
		r.fail(models.ErrorApply, stepFailure("apply", r.opts.ApplyTimeout, err))
		return StateRefining
	}
	if !result.Applied {
		r.current.Apply = models.ApplyFailed
		details := result.Details
		if details == "" {
			details = "applier reported the patch as not applied"
		}
		r.fail(models.ErrorApply, errors.New(details))
		return StateRefining
	}

	r.current.Apply = models.ApplyApplied
	return StateValidating
}

func (r *run) validate(ctx context.Context) State {
	if err := ctx.Err(); err != nil {
		return r.interrupted(ctx, err)
	}

	stepCtx, cancel := stepContext(ctx, r.opts.ValidateTimeout)
	result, err := r.o.validator.Validate(stepCtx, r.crash.ProjectRoot)
	cancel()

	if err == nil && result.Passed {
		r.current.Validation = models.ValidationPassed
		r.finish()
		return StateSucceeded
	}

	r.current.Validation = models.ValidationFailed
	diagnostic := result.DiagnosticText
	if err != nil {
		if ctx.Err() != nil {
			r.current.Diagnostic = diagnostic
			return r.interrupted(ctx, err)
		}
		diagnostic = joinDiagnostic(stepFailure("validate", r.opts.ValidateTimeout, err).Error(), diagnostic)
	}
	if diagnostic == "" {
		diagnostic = "validation failed without diagnostic output"
	}

	r.current.Diagnostic = diagnostic
	r.current.ErrorKind = models.ErrorValidation
	r.revert(ctx)
	r.finish()
	return StateRefining
}

// revert undoes the current attempt's edits when configured to.
func (r *run) revert(ctx context.Context) {
	if !r.opts.RevertOnFailure {
		return
	}
	reverter, ok := r.o.applier.(Reverter)
	if !ok {
		return
	}

	revertCtx, cancel := stepContext(context.WithoutCancel(ctx), r.opts.ApplyTimeout)
	defer cancel()
	if err := reverter.Revert(revertCtx, r.crash.ProjectRoot); err != nil {
		r.current.Diagnostic = joinDiagnostic(r.current.Diagnostic, "revert failed: "+err.Error())
	}
}

// loadPrior fetches approach statistics for the crash signature. Lookup is
// best effort: a failing lookup leaves the oracle without prior knowledge.
func (r *run) loadPrior(ctx context.Context) {
	if r.opts.PriorLimit <= 0 {
		return
	}
	lookup, ok := r.o.store.(KnowledgeLookup)
	if !ok {
		return
	}

	lookupCtx, cancel := stepContext(ctx, r.opts.PersistTimeout)
	defer cancel()
	prior, err := lookup.ApproachStats(lookupCtx, r.crash.Signature, r.opts.PriorLimit)
	if err != nil {
		return
	}
	r.prior = prior
}

// begin opens a new attempt with pessimistic defaults.
func (r *run) begin(index int) {
	r.current = &models.RepairAttempt{
		Index:      index,
		Apply:      models.ApplySkipped,
		Validation: models.ValidationNotRun,
	}
	r.attemptStart = r.o.clock()
	r.o.observer.AttemptStarted(index, r.opts.MaxIterations)
}

// fail closes the current attempt with a classified failure.
func (r *run) fail(kind models.ErrorKind, err error) {
	r.current.ErrorKind = kind
	r.current.Diagnostic = err.Error()
	r.finish()
}

// interrupted closes the current attempt because the run was cancelled
// while (or right before) one of its steps ran.
func (r *run) interrupted(ctx context.Context, err error) State {
	r.cancelErr = ctx.Err()
	r.current.ErrorKind = models.ErrorCancelled
	if err != nil && !errors.Is(err, r.cancelErr) {
		r.current.Diagnostic = joinDiagnostic(r.current.Diagnostic, err.Error())
	}
	r.finish()
	return StateCancelled
}

// finish appends the current attempt to the sequence.
func (r *run) finish() {
	r.current.Duration = r.o.clock().Sub(r.attemptStart)
	r.attempts = append(r.attempts, *r.current)
	r.o.observer.AttemptFinished(*r.current)
	r.current = nil
}

// outcome builds the terminal RepairOutcome for state.
func (r *run) outcome(state State) *models.RepairOutcome {
	out := &models.RepairOutcome{
		Iterations: len(r.attempts),
		CrashID:    r.crash.ID,
		Signature:  r.crash.Signature,
		Attempts:   make([]models.RepairAttempt, len(r.attempts)),
		Duration:   r.o.clock().Sub(r.started),
	}
	copy(out.Attempts, r.attempts)

	var last *models.RepairAttempt
	if n := len(r.attempts); n > 0 {
		last = &r.attempts[n-1]
	}

	switch {
	case state == StateSucceeded && last != nil && last.Passed():
		out.Success = true
		out.Status = models.OutcomeSucceeded
		out.FinalApproach = last.Approach
	case state == StateCancelled:
		out.Status = models.OutcomeCancelled
		out.ErrorKind = models.ErrorCancelled
		out.Error = fmt.Sprintf("%v after %d iteration(s)", ErrCancelled, len(r.attempts))
		if r.cancelErr != nil {
			out.Error += ": " + r.cancelErr.Error()
		}
	default:
		out.Status = models.OutcomeExhausted
		out.ErrorKind = models.ErrorExhaustion
		out.Error = fmt.Sprintf("%v (%d iteration(s))", ErrExhausted, len(r.attempts))
		if last != nil {
			out.Error += fmt.Sprintf("; last failure at %s: %s", last.FailedStage(), firstLine(last.Diagnostic))
		}
	}

	return out
}

// checkProposal rejects proposals the loop cannot act on.
func checkProposal(patch *models.ProposedPatch) error {
	switch {
	case patch == nil:
		return errors.New("oracle returned no proposal")
	case strings.TrimSpace(patch.Approach) == "":
		return errors.New("oracle proposal has no approach")
	case len(patch.Edits) == 0:
		return errors.New("oracle proposal has no edits")
	}
	return nil
}

// stepContext derives a context for one blocking call. A zero timeout only
// inherits the parent's deadline.
func stepContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// stepFailure turns a step's own deadline into a TimeoutError.
func stepFailure(step string, timeout time.Duration, err error) error {
	if timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Step: step, Timeout: timeout}
	}
	return err
}

func joinDiagnostic(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		cut := 200
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
