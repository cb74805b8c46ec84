package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/harrison/mender/internal/models"
)

// recordApproaches folds a run's attempts into approach_stats. Only
// attempts that produced an approach and reached a verdict count: a passed
// validation is a success, a failed apply or validation a failure.
// Cancelled attempts are ignored.
func recordApproaches(ctx context.Context, tx *sql.Tx, signature string, attempts []models.RepairAttempt, at time.Time) error {
	for i := range attempts {
		a := &attempts[i]
		key := models.NormalizeApproach(a.Approach)
		if key == "" || a.ErrorKind == models.ErrorCancelled {
			continue
		}

		var success, failure int
		switch {
		case a.Passed():
			success = 1
		case a.Apply == models.ApplyFailed || a.Validation == models.ValidationFailed:
			failure = 1
		default:
			continue
		}

		_, err := tx.ExecContext(ctx, `INSERT INTO approach_stats
			(signature, approach_key, approach, success_count, failure_count, last_used)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(signature, approach_key) DO UPDATE SET
				approach = excluded.approach,
				success_count = success_count + excluded.success_count,
				failure_count = failure_count + excluded.failure_count,
				last_used = excluded.last_used`,
			signature, key, a.Approach, success, failure, formatTime(at))
		if err != nil {
			return fmt.Errorf("update approach stats: %w", err)
		}
	}
	return nil
}

// ApproachStats returns up to limit approaches tried against signature,
// successes first, then the most failed, then by approach text.
func (s *Store) ApproachStats(ctx context.Context, signature string, limit int) ([]models.ApproachStat, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT signature, approach, success_count, failure_count, last_used
		FROM approach_stats WHERE signature = ?
		ORDER BY success_count DESC, failure_count DESC, approach_key ASC
		LIMIT ?`, signature, limit)
	if err != nil {
		return nil, fmt.Errorf("query approach stats: %w", err)
	}
	defer rows.Close()

	var stats []models.ApproachStat
	for rows.Next() {
		var (
			st       models.ApproachStat
			lastUsed string
		)
		if err := rows.Scan(&st.Signature, &st.Approach, &st.SuccessCount, &st.FailureCount, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan approach stat: %w", err)
		}
		t, err := parseTime(lastUsed)
		if err != nil {
			return nil, err
		}
		st.LastUsed = t
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approach stats: %w", err)
	}
	return stats, nil
}

// GetStats returns aggregate counts over every stored crystal.
func (s *Store) GetStats(ctx context.Context) (*models.Stats, error) {
	var st models.Stats
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
		FROM crystals`).Scan(&st.TotalCrystals, &st.Successful, &st.Failed)
	if err != nil {
		return nil, fmt.Errorf("query crystal counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crystal_attempts WHERE validation = ?`,
		string(models.ValidationPassed)).Scan(&st.TestsPassed)
	if err != nil {
		return nil, fmt.Errorf("query passed attempts: %w", err)
	}

	return &st, nil
}
