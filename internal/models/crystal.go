package models

import "time"

// KnowledgeCrystal is the persisted summary of one repair run. It always
// carries the full attempt sequence: failed strategies are knowledge too.
type KnowledgeCrystal struct {
	ID            string          `json:"id"`        // Assigned by the knowledge store
	Signature     string          `json:"signature"` // Crash signature this crystal addresses
	CrashID       string          `json:"crash_id"`
	Status        OutcomeStatus   `json:"status"`
	Success       bool            `json:"success"`
	Iterations    int             `json:"iterations"`
	FinalApproach string          `json:"final_approach,omitempty"`
	ErrorSummary  string          `json:"error_summary,omitempty"` // Crash error line, for listing
	Attempts      []RepairAttempt `json:"attempts"`
	CreatedAt     time.Time       `json:"created_at"` // Set by the store when zero
}

// ApproachStat aggregates how an approach fared against a crash signature
// across all persisted runs.
type ApproachStat struct {
	Signature    string    `json:"signature"`
	Approach     string    `json:"approach"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastUsed     time.Time `json:"last_used"`
}

// Stats are aggregate knowledge store statistics
type Stats struct {
	TotalCrystals int `json:"total_crystals"`
	Successful    int `json:"successful"`
	Failed        int `json:"failed"`
	TestsPassed   int `json:"tests_passed"` // Attempts whose validation passed
}
