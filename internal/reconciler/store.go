// Package reconciler keeps the derived bitcoin-calculation dataset
// consistent with the curtailment source dataset, one (date, variant)
// partition at a time: scan for missing or incomplete partitions, schedule
// the worst first, reprocess with bounded concurrency, checkpoint every
// outcome, verify afterward.
package reconciler

import (
	"context"
	"time"

	"curtailscan/internal/models"
)

// Store is the persistent-store collaborator: partition counts, source
// reads, and the atomic delete+upsert on the derived table.
// *repository.Repository implements it.
type Store interface {
	SourceCountsByDate(ctx context.Context, scope models.Scope) (map[time.Time]int, error)
	DerivedCountsByDate(ctx context.Context, scope models.Scope) (map[time.Time]map[string]int, error)
	SourceRecords(ctx context.Context, date time.Time) ([]models.SourceRecord, error)
	ReplaceDerivedPartition(ctx context.Context, key models.PartitionKey, records []models.DerivedRecord) error
}

// ProgressStore is the durable, append-only attempt log.
// *repository.Repository implements it.
type ProgressStore interface {
	AppendProgress(ctx context.Context, entry models.ProgressEntry) error
	LoadRun(ctx context.Context, runID string) ([]models.ProgressEntry, error)
	SucceededKeys(ctx context.Context, runID string) (map[string]bool, error)
	AlreadySucceeded(ctx context.Context, key models.PartitionKey, runID string) (bool, error)
	LastFailures(ctx context.Context, scope models.Scope) (map[string]string, error)
}

// SourceFeed supplies the current source rows for a date. Either the remote
// balancing-mechanism client or the repository itself (recompute from
// already-ingested rows) stands behind this.
type SourceFeed interface {
	FetchSourceRecords(ctx context.Context, date time.Time) ([]models.SourceRecord, error)
}
