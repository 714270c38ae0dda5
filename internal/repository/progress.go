package repository

import (
	"context"
	"fmt"
	"time"

	"curtailscan/internal/models"
)

// AppendProgress writes one attempt outcome to the progress log. The log is
// append-only; rows are never updated.
func (r *Repository) AppendProgress(ctx context.Context, entry models.ProgressEntry) error {
	attemptedAt := entry.AttemptedAt
	if attemptedAt.IsZero() {
		attemptedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO reconciliation_progress
			(run_id, settlement_date, variant, attempted_at, outcome, records_written, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.RunID, entry.Key.Date, entry.Key.Variant, attemptedAt,
		string(entry.Outcome), entry.RecordsWritten, entry.Message,
	)
	if err != nil {
		return fmt.Errorf("append progress for %s: %w", entry.Key, err)
	}
	return nil
}

// LoadRun returns every progress entry for a run, oldest first.
func (r *Repository) LoadRun(ctx context.Context, runID string) ([]models.ProgressEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT run_id, settlement_date, variant, attempted_at, outcome, records_written, message
		FROM reconciliation_progress
		WHERE run_id = $1
		ORDER BY attempted_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []models.ProgressEntry
	for rows.Next() {
		var e models.ProgressEntry
		var outcome string
		if err := rows.Scan(&e.RunID, &e.Key.Date, &e.Key.Variant, &e.AttemptedAt,
			&outcome, &e.RecordsWritten, &e.Message); err != nil {
			return nil, err
		}
		e.Key.Date = models.Midnight(e.Key.Date)
		e.Outcome = models.Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SucceededKeys returns the partition keys already recorded Success for a
// run, keyed by PartitionKey.String(). This is what makes a killed run
// resumable: the scheduler skips these on restart.
func (r *Repository) SucceededKeys(ctx context.Context, runID string) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `
		SELECT settlement_date, variant
		FROM reconciliation_progress
		WHERE run_id = $1 AND outcome = 'success'`, runID)
	if err != nil {
		return nil, fmt.Errorf("load succeeded keys for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var key models.PartitionKey
		if err := rows.Scan(&key.Date, &key.Variant); err != nil {
			return nil, err
		}
		key.Date = models.Midnight(key.Date)
		out[key.String()] = true
	}
	return out, rows.Err()
}

// AlreadySucceeded reports whether a partition was recorded Success in the
// given run.
func (r *Repository) AlreadySucceeded(ctx context.Context, key models.PartitionKey, runID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reconciliation_progress
			WHERE run_id = $1 AND settlement_date = $2 AND variant = $3 AND outcome = 'success'
		)`, runID, key.Date, key.Variant).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check success for %s in run %s: %w", key, runID, err)
	}
	return exists, nil
}

// LastFailures returns, per partition within the scope, the message of the
// most recent failed attempt across all runs. Feeds the verifier's report
// so the operator sees why a partition is still not complete.
func (r *Repository) LastFailures(ctx context.Context, scope models.Scope) (map[string]string, error) {
	where, args := scopeClause("settlement_date", scope, 1)
	if where == "" {
		where = " WHERE outcome = 'failure'"
	} else {
		where += " AND outcome = 'failure'"
	}

	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (settlement_date, variant) settlement_date, variant, message
		FROM reconciliation_progress`+where+`
		ORDER BY settlement_date, variant, attempted_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("load last failures: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key models.PartitionKey
		var msg string
		if err := rows.Scan(&key.Date, &key.Variant, &msg); err != nil {
			return nil, err
		}
		key.Date = models.Midnight(key.Date)
		out[key.String()] = msg
	}
	return out, rows.Err()
}

// RunSummary aggregates one run's progress log for the ops API.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
}

// RecentRuns lists the most recent runs seen in the progress log.
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
		SELECT run_id,
		       MIN(attempted_at),
		       MAX(attempted_at),
		       COUNT(*) FILTER (WHERE outcome = 'success'),
		       COUNT(*) FILTER (WHERE outcome = 'failure')
		FROM reconciliation_progress
		GROUP BY run_id
		ORDER BY MAX(attempted_at) DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.RunID, &s.StartedAt, &s.EndedAt, &s.Succeeded, &s.Failed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
