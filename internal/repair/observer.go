package repair

import "github.com/harrison/mender/internal/models"

// Observer receives progress events from a repair run. Events are purely
// informational; observers cannot influence the loop.
type Observer interface {
	RunStarted(crash *models.CrashContext, maxIterations int)
	AttemptStarted(index, maxIterations int)
	AttemptFinished(attempt models.RepairAttempt)
	RunFinished(outcome *models.RepairOutcome)
}

// Observers fans events out to every contained observer in order.
type Observers []Observer

// RunStarted implements Observer.
func (o Observers) RunStarted(crash *models.CrashContext, maxIterations int) {
	for _, obs := range o {
		if obs != nil {
			obs.RunStarted(crash, maxIterations)
		}
	}
}

// AttemptStarted implements Observer.
func (o Observers) AttemptStarted(index, maxIterations int) {
	for _, obs := range o {
		if obs != nil {
			obs.AttemptStarted(index, maxIterations)
		}
	}
}

// AttemptFinished implements Observer.
func (o Observers) AttemptFinished(attempt models.RepairAttempt) {
	for _, obs := range o {
		if obs != nil {
			obs.AttemptFinished(attempt)
		}
	}
}

// RunFinished implements Observer.
func (o Observers) RunFinished(outcome *models.RepairOutcome) {
	for _, obs := range o {
		if obs != nil {
			obs.RunFinished(outcome)
		}
	}
}

type nopObserver struct{}

func (nopObserver) RunStarted(*models.CrashContext, int) {}
func (nopObserver) AttemptStarted(int, int)              {}
func (nopObserver) AttemptFinished(models.RepairAttempt) {}
func (nopObserver) RunFinished(*models.RepairOutcome)    {}
