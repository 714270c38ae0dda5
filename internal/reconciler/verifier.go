package reconciler

import (
	"context"
	"fmt"
	"strings"

	"curtailscan/internal/models"
)

// Summary is the verifier's verdict over a scope: the counts per status,
// the overall completion percentage, and every partition still not
// Complete (with its last recorded failure, if any) so the operator has a
// precise re-run target.
type Summary struct {
	Scope         string                   `json:"scope"`
	Total         int                      `json:"total"`
	Complete      int                      `json:"complete"`
	Incomplete    int                      `json:"incomplete"`
	Missing       int                      `json:"missing"`
	Unknown       int                      `json:"unknown"`
	CompletionPct float64                  `json:"completion_pct"`
	Remaining     []models.PartitionStatus `json:"remaining,omitempty"`
}

// Passed reports whether the summary clears the completion bar.
func (s Summary) Passed(tolerancePct float64) bool {
	if tolerancePct < 0 {
		tolerancePct = 0
	}
	return s.CompletionPct >= 100-tolerancePct
}

// Render formats the summary for the operator.
func (s Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scope=%s total=%d complete=%d incomplete=%d missing=%d unknown=%d completion=%.2f%%",
		s.Scope, s.Total, s.Complete, s.Incomplete, s.Missing, s.Unknown, s.CompletionPct)
	for _, ps := range s.Remaining {
		fmt.Fprintf(&b, "\n  %s %s (%d/%d)", ps.Key, ps.Status, ps.DerivedCount, ps.SourceCount)
		if ps.LastFailure != "" {
			fmt.Fprintf(&b, " last failure: %s", ps.LastFailure)
		}
		if ps.Detail != "" {
			fmt.Fprintf(&b, " (%s)", ps.Detail)
		}
	}
	return b.String()
}

// Verifier re-runs the scanner after a run and folds in the progress log's
// last failure messages.
type Verifier struct {
	scanner  *Scanner
	progress ProgressStore
}

func NewVerifier(scanner *Scanner, progress ProgressStore) *Verifier {
	return &Verifier{scanner: scanner, progress: progress}
}

// Verify scans the scope and aggregates. The completion percentage is
// computed over evaluable partitions only; Unknown partitions are counted
// and reported but cannot be sensibly scored.
func (v *Verifier) Verify(ctx context.Context, scope models.Scope) (Summary, error) {
	statuses, err := v.scanner.Scan(ctx, scope)
	if err != nil {
		return Summary{}, fmt.Errorf("verify: %w", err)
	}

	failures := map[string]string{}
	if v.progress != nil {
		if lf, err := v.progress.LastFailures(ctx, scope); err == nil {
			failures = lf
		}
		// A progress-log read failure only costs the report its failure
		// messages, never the verification itself.
	}

	s := Summary{Scope: scope.String(), Total: len(statuses)}
	for _, ps := range statuses {
		switch ps.Status {
		case models.StatusComplete:
			s.Complete++
			continue
		case models.StatusIncomplete:
			s.Incomplete++
		case models.StatusMissing:
			s.Missing++
		default:
			s.Unknown++
		}
		ps.LastFailure = failures[ps.Key.String()]
		s.Remaining = append(s.Remaining, ps)
	}

	evaluable := s.Complete + s.Incomplete + s.Missing
	if evaluable > 0 {
		s.CompletionPct = float64(s.Complete) / float64(evaluable) * 100
	} else {
		s.CompletionPct = 100
	}
	return s, nil
}
