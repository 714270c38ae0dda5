package reconciler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"curtailscan/internal/eventbus"
	"curtailscan/internal/models"
)

// RunReport summarizes one engine run. Returned, not printed.
type RunReport struct {
	RunID          string                 `json:"run_id"`
	Batches        int                    `json:"batches"`
	Attempted      int                    `json:"attempted"`
	Succeeded      int                    `json:"succeeded"`
	Failed         int                    `json:"failed"`
	RecordsWritten int                    `json:"records_written"`
	Warnings       []string               `json:"warnings,omitempty"`
	Failures       []models.ProgressEntry `json:"failures,omitempty"`
	Canceled       bool                   `json:"canceled"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        time.Time              `json:"ended_at"`
}

// BatchRunner drives a PartitionProcessor over scheduled batches: at most
// Concurrency partitions in flight inside a batch, the whole batch drained
// before the next one starts, and an inter-batch delay so a rate-limited
// upstream is not hammered. Every outcome is appended to the progress store
// the moment it lands, so a crash mid-batch loses only the in-flight
// partitions.
type BatchRunner struct {
	Processor   PartitionProcessor
	Progress    ProgressStore
	Bus         *eventbus.Bus // optional
	Concurrency int
	Delay       time.Duration
}

// Run executes the batches in order. Cancellation is honored between
// batches; partitions already in flight run to completion. No processor
// failure (error or panic) terminates the run.
func (r *BatchRunner) Run(ctx context.Context, runID string, batches [][]models.PartitionKey) RunReport {
	report := RunReport{RunID: runID, Batches: len(batches), StartedAt: time.Now().UTC()}
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex

	for i, batch := range batches {
		if ctx.Err() != nil {
			log.Printf("[runner] run %s canceled before batch %d/%d", runID, i+1, len(batches))
			report.Canceled = true
			break
		}
		if i > 0 && r.Delay > 0 {
			select {
			case <-ctx.Done():
				report.Canceled = true
			case <-time.After(r.Delay):
			}
			if report.Canceled {
				break
			}
		}

		log.Printf("[runner] run %s batch %d/%d (%d partitions, concurrency %d)",
			runID, i+1, len(batches), len(batch), concurrency)

		// Plain errgroup as a semaphore: workers always return nil so one
		// failed partition cannot cancel its siblings.
		eg := &errgroup.Group{}
		eg.SetLimit(concurrency)
		for _, key := range batch {
			key := key
			eg.Go(func() error {
				res, err := r.process(ctx, key)

				entry := models.ProgressEntry{
					RunID:          runID,
					Key:            key,
					AttemptedAt:    time.Now().UTC(),
					RecordsWritten: res.RecordsWritten,
				}
				if err != nil {
					entry.Outcome = models.OutcomeFailure
					entry.Message = err.Error()
					log.Printf("[runner] %s failed: %v", key, err)
				} else {
					entry.Outcome = models.OutcomeSuccess
					if len(res.Warnings) > 0 {
						entry.Message = res.Warnings[0]
					}
					log.Printf("[runner] %s ok (%d records)", key, res.RecordsWritten)
				}

				// Record immediately, not at batch end: this is the
				// crash-resume checkpoint.
				if perr := r.Progress.AppendProgress(ctx, entry); perr != nil {
					log.Printf("[runner] progress write for %s failed: %v", key, perr)
				}

				mu.Lock()
				report.Attempted++
				report.RecordsWritten += res.RecordsWritten
				report.Warnings = append(report.Warnings, res.Warnings...)
				if err != nil {
					report.Failed++
					report.Failures = append(report.Failures, entry)
				} else {
					report.Succeeded++
				}
				mu.Unlock()

				r.publish(entry, i+1)
				return nil
			})
		}
		_ = eg.Wait()

		if r.Bus != nil {
			r.Bus.Publish(eventbus.Event{Type: eventbus.TypeBatchCompleted, RunID: runID, Batch: i + 1})
		}
	}

	report.EndedAt = time.Now().UTC()
	return report
}

// process wraps the processor call so a panic in one partition is contained
// as that partition's failure.
func (r *BatchRunner) process(ctx context.Context, key models.PartitionKey) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reprocess %s panicked: %v", key, p)
		}
	}()
	if r.Bus != nil {
		r.Bus.Publish(eventbus.Event{Type: eventbus.TypePartitionStarted, Key: key})
	}
	return r.Processor.Reprocess(ctx, key)
}

func (r *BatchRunner) publish(entry models.ProgressEntry, batch int) {
	if r.Bus == nil {
		return
	}
	evtType := eventbus.TypePartitionSucceeded
	if entry.Outcome == models.OutcomeFailure {
		evtType = eventbus.TypePartitionFailed
	}
	r.Bus.Publish(eventbus.Event{
		Type:           evtType,
		RunID:          entry.RunID,
		Key:            entry.Key,
		Batch:          batch,
		RecordsWritten: entry.RecordsWritten,
		Message:        entry.Message,
	})
}
