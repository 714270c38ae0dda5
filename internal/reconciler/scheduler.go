package reconciler

import (
	"sort"

	"curtailscan/internal/models"
)

// DefaultBatchSize keeps the blast radius of any single failure small and
// matches the upstream feed's tolerance for bursts.
const DefaultBatchSize = 5

// Schedule orders the partitions needing work and slices them into batches.
// Missing partitions run before Incomplete ones; ties break by date
// ascending, then variant, so identical input always yields identical batch
// order (required for resumable runs). Complete and Unknown partitions are
// filtered out, as are keys in skip (partitions already recorded Success
// for the current run).
func Schedule(statuses []models.PartitionStatus, batchSize int, skip map[string]bool) [][]models.PartitionKey {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	work := make([]models.PartitionStatus, 0, len(statuses))
	for _, ps := range statuses {
		if ps.Status != models.StatusMissing && ps.Status != models.StatusIncomplete {
			continue
		}
		if skip[ps.Key.String()] {
			continue
		}
		work = append(work, ps)
	}

	sort.SliceStable(work, func(i, j int) bool {
		a, b := work[i], work[j]
		if a.Status.Rank() != b.Status.Rank() {
			return a.Status.Rank() < b.Status.Rank()
		}
		if !a.Key.Date.Equal(b.Key.Date) {
			return a.Key.Date.Before(b.Key.Date)
		}
		return a.Key.Variant < b.Key.Variant
	})

	var batches [][]models.PartitionKey
	for start := 0; start < len(work); start += batchSize {
		end := start + batchSize
		if end > len(work) {
			end = len(work)
		}
		batch := make([]models.PartitionKey, 0, end-start)
		for _, ps := range work[start:end] {
			batch = append(batch, ps.Key)
		}
		batches = append(batches, batch)
	}
	return batches
}
