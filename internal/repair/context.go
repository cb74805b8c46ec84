package repair

import (
	"sort"

	"github.com/harrison/mender/internal/models"
)

// MaxDiagnosticLen caps each attempt's diagnostic in the refinement context.
// The tail is kept because test runners print the failure summary last.
const MaxDiagnosticLen = 2000

const truncatedMarker = "...[truncated]\n"

// BuildContext builds the diagnosis request for the next iteration from the
// crash, every prior attempt (oldest first) and prior knowledge for the
// crash signature. It is pure: identical inputs yield identical requests.
func BuildContext(crash *models.CrashContext, attempts []models.RepairAttempt, prior []models.ApproachStat) models.DiagnosisRequest {
	req := models.DiagnosisRequest{
		Signature:   crash.Signature,
		CrashID:     crash.ID,
		Error:       crash.Error,
		Traceback:   crash.Traceback,
		Command:     crash.Command,
		ProjectRoot: crash.ProjectRoot,
		Iteration:   len(attempts) + 1,
		History:     make([]models.AttemptSummary, 0, len(attempts)),
	}

	for i := range attempts {
		req.History = append(req.History, summarizeAttempt(&attempts[i], attempts[:i]))
	}

	if len(prior) > 0 {
		req.PriorKnowledge = sortedPrior(prior)
	}

	return req
}

// summarizeAttempt condenses one attempt. earlier holds the attempts that
// precede it and is used to mark repeated strategies as penalized.
func summarizeAttempt(a *models.RepairAttempt, earlier []models.RepairAttempt) models.AttemptSummary {
	stage := a.FailedStage()
	summary := models.AttemptSummary{
		Index:      a.Index,
		Approach:   a.Approach,
		Stage:      stage,
		Outcome:    attemptOutcome(a),
		Diagnostic: truncateTail(a.Diagnostic, MaxDiagnosticLen),
		Penalized:  isRepeated(a.Approach, earlier),
	}
	return summary
}

func attemptOutcome(a *models.RepairAttempt) string {
	if a.ErrorKind == models.ErrorCancelled {
		return "cancelled"
	}
	switch a.FailedStage() {
	case "diagnosis":
		return "diagnosis failed"
	case "apply":
		return "patch could not be applied"
	case "validation":
		return "validation failed"
	default:
		return "validation passed"
	}
}

// isRepeated reports whether approach matches an earlier attempt that did
// not pass validation.
func isRepeated(approach string, earlier []models.RepairAttempt) bool {
	key := models.NormalizeApproach(approach)
	if key == "" {
		return false
	}
	for i := range earlier {
		if earlier[i].Passed() {
			continue
		}
		if models.NormalizeApproach(earlier[i].Approach) == key {
			return true
		}
	}
	return false
}

// sortedPrior copies prior knowledge into a deterministic order:
// successes first, then most failures, then approach text.
func sortedPrior(prior []models.ApproachStat) []models.ApproachStat {
	out := make([]models.ApproachStat, len(prior))
	copy(out, prior)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SuccessCount != out[j].SuccessCount {
			return out[i].SuccessCount > out[j].SuccessCount
		}
		if out[i].FailureCount != out[j].FailureCount {
			return out[i].FailureCount > out[j].FailureCount
		}
		return out[i].Approach < out[j].Approach
	})
	return out
}

// truncateTail keeps the last max bytes of s, cut on a rune boundary.
func truncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return truncatedMarker + s[cut:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
