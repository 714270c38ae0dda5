package reconciler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"curtailscan/internal/models"
)

// Scanner classifies every partition in a scope as Missing, Incomplete or
// Complete by comparing source and derived counts. Read-only; statuses are
// recomputed on demand, never cached.
type Scanner struct {
	store    Store
	variants []string
}

func NewScanner(store Store, variants []string) *Scanner {
	return &Scanner{store: store, variants: variants}
}

// Scan returns one PartitionStatus per (date, variant) in the scope,
// ordered by date then variant. Partitions that cannot be evaluated (a
// requested date with no source rows, or derived rows orphaned from their
// source) come back as Unknown rather than failing the scan.
func (s *Scanner) Scan(ctx context.Context, scope models.Scope) ([]models.PartitionStatus, error) {
	if len(s.variants) == 0 {
		return nil, fmt.Errorf("scan: no derivation variants configured")
	}

	sourceCounts, err := s.store.SourceCountsByDate(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("scan source counts: %w", err)
	}
	derivedCounts, err := s.store.DerivedCountsByDate(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("scan derived counts: %w", err)
	}

	// Evaluate the union of dates seen on either side, plus explicitly
	// requested single dates, so an empty partition the operator asked
	// about still shows up (as Unknown).
	dateSet := make(map[time.Time]bool, len(sourceCounts))
	for d := range sourceCounts {
		dateSet[d] = true
	}
	for d := range derivedCounts {
		dateSet[d] = true
	}
	if !scope.Unbounded() && scope.From.Equal(scope.To) {
		dateSet[scope.From] = true
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	statuses := make([]models.PartitionStatus, 0, len(dates)*len(s.variants))
	for _, d := range dates {
		src := sourceCounts[d]
		for _, variant := range s.variants {
			key := models.PartitionKey{Date: d, Variant: variant}
			ps := models.Classify(key, src, derivedCounts[d][variant])
			if ps.Status == models.StatusUnknown && ps.DerivedCount > 0 {
				ps.Detail = "derived rows without source records"
			}
			statuses = append(statuses, ps)
		}
	}
	return statuses, nil
}
