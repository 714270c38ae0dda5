package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"curtailscan/internal/models"
)

// memStore is an in-memory Store + ProgressStore + SourceFeed used across
// the package tests. Failure injection is per partition key.
type memStore struct {
	mu       sync.Mutex
	source   map[time.Time][]models.SourceRecord
	derived  map[string][]models.DerivedRecord
	progress []models.ProgressEntry

	replaceErr map[string]error // key.String() -> injected write failure
}

func newMemStore() *memStore {
	return &memStore{
		source:     make(map[time.Time][]models.SourceRecord),
		derived:    make(map[string][]models.DerivedRecord),
		replaceErr: make(map[string]error),
	}
}

// addSource populates n settlement periods of curtailment for a date.
func (m *memStore) addSource(date time.Time, bmuID string, periods int, volumeMWh float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	date = models.Midnight(date)
	for p := 1; p <= periods; p++ {
		m.source[date] = append(m.source[date], models.SourceRecord{
			SettlementDate:   date,
			SettlementPeriod: p,
			BMUID:            bmuID,
			FarmName:         "Test Farm",
			VolumeMWh:        decimal.NewFromFloat(volumeMWh),
			PaymentGBP:       decimal.NewFromFloat(volumeMWh * 60),
		})
	}
}

func (m *memStore) failReplace(key models.PartitionKey, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceErr[key.String()] = err
}

func (m *memStore) derivedFor(key models.PartitionKey) []models.DerivedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DerivedRecord(nil), m.derived[key.String()]...)
}

func (m *memStore) SourceCountsByDate(_ context.Context, scope models.Scope) (map[time.Time]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[time.Time]int)
	for d, recs := range m.source {
		if !scope.Contains(d) {
			continue
		}
		n := 0
		for _, r := range recs {
			if !r.VolumeMWh.IsZero() {
				n++
			}
		}
		if n > 0 {
			out[d] = n
		}
	}
	return out, nil
}

func (m *memStore) DerivedCountsByDate(_ context.Context, scope models.Scope) (map[time.Time]map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[time.Time]map[string]int)
	for _, recs := range m.derived {
		for _, r := range recs {
			if !scope.Contains(r.SettlementDate) {
				continue
			}
			if out[r.SettlementDate] == nil {
				out[r.SettlementDate] = make(map[string]int)
			}
			out[r.SettlementDate][r.Variant]++
		}
	}
	return out, nil
}

func (m *memStore) SourceRecords(_ context.Context, date time.Time) ([]models.SourceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SourceRecord
	for _, r := range m.source[models.Midnight(date)] {
		if !r.VolumeMWh.IsZero() {
			out = append(out, r)
		}
	}
	return out, nil
}

// FetchSourceRecords makes memStore double as the SourceFeed, mirroring the
// repository-backed feed used in store-only runs.
func (m *memStore) FetchSourceRecords(ctx context.Context, date time.Time) ([]models.SourceRecord, error) {
	return m.SourceRecords(ctx, date)
}

func (m *memStore) ReplaceDerivedPartition(_ context.Context, key models.PartitionKey, records []models.DerivedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.replaceErr[key.String()]; err != nil {
		return err
	}
	m.derived[key.String()] = append([]models.DerivedRecord(nil), records...)
	return nil
}

func (m *memStore) AppendProgress(_ context.Context, entry models.ProgressEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, entry)
	return nil
}

func (m *memStore) LoadRun(_ context.Context, runID string) ([]models.ProgressEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProgressEntry
	for _, e := range m.progress {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) SucceededKeys(_ context.Context, runID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, e := range m.progress {
		if e.RunID == runID && e.Outcome == models.OutcomeSuccess {
			out[e.Key.String()] = true
		}
	}
	return out, nil
}

func (m *memStore) AlreadySucceeded(ctx context.Context, key models.PartitionKey, runID string) (bool, error) {
	keys, err := m.SucceededKeys(ctx, runID)
	if err != nil {
		return false, err
	}
	return keys[key.String()], nil
}

func (m *memStore) LastFailures(_ context.Context, scope models.Scope) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, e := range m.progress {
		if e.Outcome == models.OutcomeFailure && scope.Contains(e.Key.Date) {
			out[e.Key.String()] = e.Message
		}
	}
	return out, nil
}

// fakeProcessor lets runner tests script per-partition behavior.
type fakeProcessor struct {
	mu       sync.Mutex
	calls    []models.PartitionKey
	inflight int
	maxSeen  int

	fail  map[string]error
	panic map[string]bool
	hook  func(key models.PartitionKey) // runs inside Reprocess
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{fail: make(map[string]error), panic: make(map[string]bool)}
}

func (f *fakeProcessor) Reprocess(_ context.Context, key models.PartitionKey) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.inflight++
	if f.inflight > f.maxSeen {
		f.maxSeen = f.inflight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.hook != nil {
		f.hook(key)
	}
	time.Sleep(time.Millisecond)

	if f.panic[key.String()] {
		panic(fmt.Sprintf("scripted panic for %s", key))
	}
	if err := f.fail[key.String()]; err != nil {
		return Result{Key: key}, err
	}
	return Result{Key: key, SourceCount: 1, RecordsWritten: 1}, nil
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func mustDate(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func pkey(date, variant string) models.PartitionKey {
	return models.PartitionKey{Date: mustDate(date), Variant: variant}
}
