package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/mender/internal/models"
)

// ErrNotFound is returned by Get for an unknown crystal ID.
var ErrNotFound = errors.New("knowledge crystal not found")

// Put stores crystal with its attempts and folds the attempts into the
// approach statistics, all in one transaction. It assigns crystal.ID (a
// UUID) and, when zero, crystal.CreatedAt, and returns the ID.
func (s *Store) Put(ctx context.Context, crystal *models.KnowledgeCrystal) (string, error) {
	if crystal == nil {
		return "", fmt.Errorf("put crystal: nil crystal")
	}
	if crystal.Signature == "" {
		return "", fmt.Errorf("put crystal: signature is required")
	}

	id := uuid.NewString()
	createdAt := crystal.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO crystals
		(id, signature, crash_id, status, success, iterations, final_approach, error_summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		crystal.Signature,
		crystal.CrashID,
		string(crystal.Status),
		crystal.Success,
		crystal.Iterations,
		crystal.FinalApproach,
		crystal.ErrorSummary,
		formatTime(createdAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert crystal: %w", err)
	}

	for i := range crystal.Attempts {
		if err := insertAttempt(ctx, tx, id, &crystal.Attempts[i]); err != nil {
			return "", err
		}
	}

	if err := recordApproaches(ctx, tx, crystal.Signature, crystal.Attempts, createdAt); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit crystal: %w", err)
	}

	crystal.ID = id
	crystal.CreatedAt = createdAt
	return id, nil
}

func insertAttempt(ctx context.Context, tx *sql.Tx, crystalID string, a *models.RepairAttempt) error {
	var patchJSON sql.NullString
	if a.Patch != nil {
		data, err := json.Marshal(a.Patch)
		if err != nil {
			return fmt.Errorf("marshal patch of attempt %d: %w", a.Index, err)
		}
		patchJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `INSERT INTO crystal_attempts
		(crystal_id, attempt_index, approach, diagnosis, apply_status, validation, diagnostic, error_kind, repeated, duration_ms, patch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		crystalID,
		a.Index,
		a.Approach,
		string(a.Diagnosis),
		string(a.Apply),
		string(a.Validation),
		a.Diagnostic,
		string(a.ErrorKind),
		a.Repeated,
		a.Duration.Milliseconds(),
		patchJSON,
	)
	if err != nil {
		return fmt.Errorf("insert attempt %d: %w", a.Index, err)
	}
	return nil
}

// Get loads one crystal with its attempts.
func (s *Store) Get(ctx context.Context, id string) (*models.KnowledgeCrystal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, signature, crash_id, status, success, iterations,
		final_approach, error_summary, created_at FROM crystals WHERE id = ?`, id)

	crystal, err := scanCrystal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("crystal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query crystal: %w", err)
	}

	attempts, err := s.attempts(ctx, id)
	if err != nil {
		return nil, err
	}
	crystal.Attempts = attempts
	return crystal, nil
}

// List returns the newest crystals first, without their attempts. A
// non-positive limit returns every crystal.
func (s *Store) List(ctx context.Context, limit int) ([]*models.KnowledgeCrystal, error) {
	return s.listWhere(ctx, "", nil, limit)
}

// BySignature returns the newest crystals for signature, without their
// attempts.
func (s *Store) BySignature(ctx context.Context, signature string, limit int) ([]*models.KnowledgeCrystal, error) {
	return s.listWhere(ctx, "WHERE signature = ?", []any{signature}, limit)
}

func (s *Store) listWhere(ctx context.Context, where string, args []any, limit int) ([]*models.KnowledgeCrystal, error) {
	query := `SELECT id, signature, crash_id, status, success, iterations,
		final_approach, error_summary, created_at FROM crystals ` + where +
		` ORDER BY created_at DESC, id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query crystals: %w", err)
	}
	defer rows.Close()

	var crystals []*models.KnowledgeCrystal
	for rows.Next() {
		crystal, err := scanCrystal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crystal: %w", err)
		}
		crystals = append(crystals, crystal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crystals: %w", err)
	}
	return crystals, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCrystal(row scanner) (*models.KnowledgeCrystal, error) {
	var (
		c                            models.KnowledgeCrystal
		status                       string
		crashID, final, errorSummary sql.NullString
		createdAt                    string
	)
	if err := row.Scan(&c.ID, &c.Signature, &crashID, &status, &c.Success, &c.Iterations,
		&final, &errorSummary, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	c.Status = models.OutcomeStatus(status)
	c.CrashID = crashID.String
	c.FinalApproach = final.String
	c.ErrorSummary = errorSummary.String
	return &c, nil
}

func (s *Store) attempts(ctx context.Context, crystalID string) ([]models.RepairAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT attempt_index, approach, diagnosis, apply_status, validation,
		diagnostic, error_kind, repeated, duration_ms, patch
		FROM crystal_attempts WHERE crystal_id = ? ORDER BY attempt_index ASC`, crystalID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []models.RepairAttempt{}
	for rows.Next() {
		var (
			a                                  models.RepairAttempt
			approach, diagnostic, kind, patch  sql.NullString
			diagnosis, applyStatus, validation string
			durationMs                         int64
		)
		if err := rows.Scan(&a.Index, &approach, &diagnosis, &applyStatus, &validation,
			&diagnostic, &kind, &a.Repeated, &durationMs, &patch); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Approach = approach.String
		a.Diagnosis = models.DiagnosisStatus(diagnosis)
		a.Apply = models.ApplyStatus(applyStatus)
		a.Validation = models.ValidationStatus(validation)
		a.Diagnostic = diagnostic.String
		a.ErrorKind = models.ErrorKind(kind.String)
		a.Duration = time.Duration(durationMs) * time.Millisecond
		if patch.Valid && patch.String != "" {
			var p models.ProposedPatch
			if err := json.Unmarshal([]byte(patch.String), &p); err != nil {
				return nil, fmt.Errorf("decode patch of attempt %d: %w", a.Index, err)
			}
			a.Patch = &p
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}
