package reconciler

import (
	"context"
	"fmt"
	"log"
	"time"

	"curtailscan/internal/derive"
	"curtailscan/internal/models"
)

// Result is the outcome of reprocessing one partition.
type Result struct {
	Key            models.PartitionKey
	SourceCount    int
	RecordsWritten int
	Warnings       []string
}

// PartitionProcessor is what the batch runner drives. Implemented by
// Reprocessor; tests substitute fakes.
type PartitionProcessor interface {
	Reprocess(ctx context.Context, key models.PartitionKey) (Result, error)
}

// Reprocessor regenerates one partition of the derived dataset from the
// current source rows. The stale-row delete and the upsert happen inside one
// store transaction. Failures stay inside the partition; they never poison
// siblings.
type Reprocessor struct {
	store    Store
	feed     SourceFeed
	params   derive.ParamsProvider
	deriver  derive.Deriver
	variants map[string]derive.Variant
	now      func() time.Time
}

func NewReprocessor(store Store, feed SourceFeed, params derive.ParamsProvider, deriver derive.Deriver, variants map[string]derive.Variant) *Reprocessor {
	return &Reprocessor{
		store:    store,
		feed:     feed,
		params:   params,
		deriver:  deriver,
		variants: variants,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reprocess rebuilds the derived rows for one partition. A date with no
// source rows is a no-op success. A missing difficulty for the date is a
// warning (canonical fallback applies), not a failure.
func (r *Reprocessor) Reprocess(ctx context.Context, key models.PartitionKey) (Result, error) {
	res := Result{Key: key}

	variant, ok := r.variants[key.Variant]
	if !ok {
		return res, fmt.Errorf("reprocess %s: unknown variant", key)
	}

	sources, err := r.feed.FetchSourceRecords(ctx, key.Date)
	if err != nil {
		return res, fmt.Errorf("reprocess %s: fetch source records: %w", key, err)
	}
	res.SourceCount = len(sources)
	if len(sources) == 0 {
		log.Printf("[reprocessor] %s: no source records, nothing to derive", key)
		return res, nil
	}

	params, err := r.params.ParamsForDate(ctx, key.Date)
	if err != nil {
		return res, fmt.Errorf("reprocess %s: derivation params: %w", key, err)
	}
	if params.IsFallback {
		w := fmt.Sprintf("difficulty unavailable for %s, using epoch fallback %g",
			key.Date.Format("2006-01-02"), params.Difficulty)
		res.Warnings = append(res.Warnings, w)
		log.Printf("[reprocessor] %s: %s", key, w)
	}

	calculatedAt := r.now()
	records := make([]models.DerivedRecord, 0, len(sources))
	for _, src := range sources {
		energy := src.CurtailedMWh()
		if energy.IsZero() {
			continue
		}
		records = append(records, models.DerivedRecord{
			SettlementDate:       key.Date,
			SettlementPeriod:     src.SettlementPeriod,
			BMUID:                src.BMUID,
			Variant:              key.Variant,
			CurtailedMWh:         energy,
			BitcoinMined:         r.deriver.Derive(energy, variant, params),
			Difficulty:           params.Difficulty,
			DifficultyIsFallback: params.IsFallback,
			CalculatedAt:         calculatedAt,
		})
	}

	if err := r.store.ReplaceDerivedPartition(ctx, key, records); err != nil {
		return res, fmt.Errorf("reprocess %s: replace partition: %w", key, err)
	}
	res.RecordsWritten = len(records)
	return res, nil
}
