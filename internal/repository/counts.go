package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"curtailscan/internal/models"
)

// scopeClause builds the WHERE fragment bounding a query to a scope.
// Returns the fragment (possibly empty) and its positional args.
func scopeClause(col string, scope models.Scope, startIdx int) (string, []any) {
	var conds []string
	var args []any
	idx := startIdx
	if !scope.From.IsZero() {
		conds = append(conds, fmt.Sprintf("%s >= $%d", col, idx))
		args = append(args, scope.From)
		idx++
	}
	if !scope.To.IsZero() {
		conds = append(conds, fmt.Sprintf("%s <= $%d", col, idx))
		args = append(args, scope.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// SourceCountsByDate counts source rows with nonzero volume per settlement
// date within the scope. Zero-volume acceptances derive nothing, so they do
// not count toward completeness.
func (r *Repository) SourceCountsByDate(ctx context.Context, scope models.Scope) (map[time.Time]int, error) {
	where, args := scopeClause("settlement_date", scope, 1)
	if where == "" {
		where = " WHERE volume_mwh <> 0"
	} else {
		where += " AND volume_mwh <> 0"
	}

	rows, err := r.db.Query(ctx, `
		SELECT settlement_date, COUNT(*)
		FROM curtailment_records`+where+`
		GROUP BY settlement_date`, args...)
	if err != nil {
		return nil, fmt.Errorf("count source records: %w", err)
	}
	defer rows.Close()

	counts := make(map[time.Time]int)
	for rows.Next() {
		var d time.Time
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		counts[models.Midnight(d)] = n
	}
	return counts, rows.Err()
}

// DerivedCountsByDate counts derived rows per (settlement date, variant)
// within the scope.
func (r *Repository) DerivedCountsByDate(ctx context.Context, scope models.Scope) (map[time.Time]map[string]int, error) {
	where, args := scopeClause("settlement_date", scope, 1)

	rows, err := r.db.Query(ctx, `
		SELECT settlement_date, variant, COUNT(*)
		FROM historical_bitcoin_calculations`+where+`
		GROUP BY settlement_date, variant`, args...)
	if err != nil {
		return nil, fmt.Errorf("count derived records: %w", err)
	}
	defer rows.Close()

	counts := make(map[time.Time]map[string]int)
	for rows.Next() {
		var d time.Time
		var variant string
		var n int
		if err := rows.Scan(&d, &variant, &n); err != nil {
			return nil, err
		}
		d = models.Midnight(d)
		if counts[d] == nil {
			counts[d] = make(map[string]int)
		}
		counts[d][variant] = n
	}
	return counts, rows.Err()
}

// SourceRecords loads the current source rows for one settlement date,
// oldest period first. Zero-volume rows are excluded.
func (r *Repository) SourceRecords(ctx context.Context, date time.Time) ([]models.SourceRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT settlement_date, settlement_period, bmu_id, farm_name, volume_mwh, payment_gbp, created_at
		FROM curtailment_records
		WHERE settlement_date = $1 AND volume_mwh <> 0
		ORDER BY settlement_period, bmu_id`, models.Midnight(date))
	if err != nil {
		return nil, fmt.Errorf("load source records for %s: %w", date.Format("2006-01-02"), err)
	}
	defer rows.Close()

	var out []models.SourceRecord
	for rows.Next() {
		var rec models.SourceRecord
		if err := rows.Scan(&rec.SettlementDate, &rec.SettlementPeriod, &rec.BMUID,
			&rec.FarmName, &rec.VolumeMWh, &rec.PaymentGBP, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.SettlementDate = models.Midnight(rec.SettlementDate)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FetchSourceRecords reads the date's source rows from the local table.
// It makes the repository usable as the reprocessing feed when the remote
// balancing mechanism service is not configured.
func (r *Repository) FetchSourceRecords(ctx context.Context, date time.Time) ([]models.SourceRecord, error) {
	return r.SourceRecords(ctx, date)
}

// TrackedBMUs returns every distinct BMU id and farm name seen in the
// source table. Used to build the BMU lookup at startup when config does
// not supply one.
func (r *Repository) TrackedBMUs(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT bmu_id, farm_name FROM curtailment_records`)
	if err != nil {
		return nil, fmt.Errorf("load tracked BMUs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}
