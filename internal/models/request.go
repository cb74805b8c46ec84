package models

// AttemptSummary is the compact, structured view of a prior attempt that is
// handed back to the oracle as refinement signal.
type AttemptSummary struct {
	Index      int    `json:"index"`
	Approach   string `json:"approach,omitempty"`
	Stage      string `json:"failed_stage"`         // diagnosis, apply or validation
	Outcome    string `json:"outcome"`              // e.g. "validation failed"
	Diagnostic string `json:"diagnostic,omitempty"` // Truncated diagnostic text
	Penalized  bool   `json:"penalized,omitempty"`  // Approach repeats an earlier failed attempt
}

// DiagnosisRequest is everything the oracle sees for one iteration
type DiagnosisRequest struct {
	Signature      string           `json:"signature"`
	CrashID        string           `json:"crash_id"`
	Error          string           `json:"error"`
	Traceback      string           `json:"traceback"`
	Command        string           `json:"command,omitempty"`
	ProjectRoot    string           `json:"project_root"`
	Iteration      int              `json:"iteration"`
	MaxIterations  int              `json:"max_iterations"`
	History        []AttemptSummary `json:"history"`                   // Oldest first
	PriorKnowledge []ApproachStat   `json:"prior_knowledge,omitempty"` // From earlier runs on the same signature
}
