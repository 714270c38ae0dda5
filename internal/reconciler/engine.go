package reconciler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"curtailscan/internal/eventbus"
	"curtailscan/internal/models"
)

// RunConfig is everything a reconciliation run needs, passed in explicitly.
type RunConfig struct {
	Scope           models.Scope
	Variants        []string
	BatchSize       int
	Concurrency     int
	InterBatchDelay time.Duration
	RunID           string  // set to resume an interrupted run; empty = new run
	TolerancePct    float64 // completion tolerance for Passed()
}

// RunResult is what a run hands back to the operator surface.
type RunResult struct {
	Report  RunReport `json:"report"`
	Summary Summary   `json:"summary"`
}

// Passed reports whether the run left the scope complete within tolerance.
func (r RunResult) Passed(tolerancePct float64) bool {
	return r.Summary.Passed(tolerancePct)
}

// Engine wires scanner, scheduler, runner and verifier into the single
// reusable reconciliation entry point.
type Engine struct {
	store     Store
	progress  ProgressStore
	processor PartitionProcessor
	bus       *eventbus.Bus
}

func NewEngine(store Store, progress ProgressStore, processor PartitionProcessor, bus *eventbus.Bus) *Engine {
	return &Engine{store: store, progress: progress, processor: processor, bus: bus}
}

// Status scans the scope without touching anything.
func (e *Engine) Status(ctx context.Context, scope models.Scope, variants []string) ([]models.PartitionStatus, error) {
	return NewScanner(e.store, variants).Scan(ctx, scope)
}

// Verify produces a completion summary for the scope.
func (e *Engine) Verify(ctx context.Context, scope models.Scope, variants []string) (Summary, error) {
	return NewVerifier(NewScanner(e.store, variants), e.progress).Verify(ctx, scope)
}

// Reconcile runs the full cycle: scan, schedule, reprocess in batches,
// verify. Partitions already recorded Success for cfg.RunID are skipped,
// which is what makes an interrupted run resumable.
func (e *Engine) Reconcile(ctx context.Context, cfg RunConfig) (RunResult, error) {
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	scanner := NewScanner(e.store, cfg.Variants)
	statuses, err := scanner.Scan(ctx, cfg.Scope)
	if err != nil {
		return RunResult{}, fmt.Errorf("reconcile: %w", err)
	}

	skip, err := e.progress.SucceededKeys(ctx, runID)
	if err != nil {
		return RunResult{}, fmt.Errorf("reconcile: load prior progress for run %s: %w", runID, err)
	}
	if len(skip) > 0 {
		log.Printf("[engine] run %s resuming, %d partition(s) already succeeded", runID, len(skip))
	}

	batches := Schedule(statuses, cfg.BatchSize, skip)
	log.Printf("[engine] run %s scope=%s partitions=%d batches=%d",
		runID, cfg.Scope, len(statuses), len(batches))

	runner := &BatchRunner{
		Processor:   e.processor,
		Progress:    e.progress,
		Bus:         e.bus,
		Concurrency: cfg.Concurrency,
		Delay:       cfg.InterBatchDelay,
	}
	report := runner.Run(ctx, runID, batches)

	summary, err := NewVerifier(scanner, e.progress).Verify(ctx, cfg.Scope)
	if err != nil {
		return RunResult{Report: report}, fmt.Errorf("reconcile: %w", err)
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeRunCompleted, RunID: runID,
			Message: fmt.Sprintf("completion %.2f%%", summary.CompletionPct)})
	}
	log.Printf("[engine] run %s done: attempted=%d succeeded=%d failed=%d completion=%.2f%%",
		runID, report.Attempted, report.Succeeded, report.Failed, summary.CompletionPct)

	return RunResult{Report: report, Summary: summary}, nil
}
