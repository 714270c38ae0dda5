package repository

import (
	"context"
	"fmt"

	"curtailscan/internal/models"
)

// ReplaceDerivedPartition atomically replaces all derived rows for one
// (date, variant) partition. Delete and insert run in a single transaction
// so readers never observe the partition half-empty, and the insert upserts
// on the natural key so a replayed partition stays idempotent.
func (r *Repository) ReplaceDerivedPartition(ctx context.Context, key models.PartitionKey, records []models.DerivedRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace for %s: %w", key, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM historical_bitcoin_calculations
		WHERE settlement_date = $1 AND variant = $2`,
		key.Date, key.Variant)
	if err != nil {
		return fmt.Errorf("delete stale derived rows for %s: %w", key, err)
	}

	for _, rec := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO historical_bitcoin_calculations
				(settlement_date, settlement_period, bmu_id, variant,
				 curtailed_mwh, bitcoin_mined, difficulty, difficulty_is_fallback, calculated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (settlement_date, settlement_period, bmu_id, variant) DO UPDATE SET
				curtailed_mwh = EXCLUDED.curtailed_mwh,
				bitcoin_mined = EXCLUDED.bitcoin_mined,
				difficulty = EXCLUDED.difficulty,
				difficulty_is_fallback = EXCLUDED.difficulty_is_fallback,
				calculated_at = EXCLUDED.calculated_at`,
			rec.SettlementDate, rec.SettlementPeriod, rec.BMUID, rec.Variant,
			rec.CurtailedMWh, rec.BitcoinMined, rec.Difficulty, rec.DifficultyIsFallback, rec.CalculatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert derived row %s p%d %s: %w", key, rec.SettlementPeriod, rec.BMUID, err)
		}
	}

	return tx.Commit(ctx)
}
