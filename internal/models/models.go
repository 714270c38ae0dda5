package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SourceRecord represents one row of the 'curtailment_records' table: the
// accepted curtailment volume for a wind farm BMU in a single half-hour
// settlement period. Rows are owned by the ingestion side; the engine only
// reads them.
type SourceRecord struct {
	SettlementDate   time.Time       `json:"settlement_date"`
	SettlementPeriod int             `json:"settlement_period"` // 1..50 (46/50 on clock-change days)
	BMUID            string          `json:"bmu_id"`
	FarmName         string          `json:"farm_name,omitempty"`
	VolumeMWh        decimal.Decimal `json:"volume_mwh"`  // signed; curtailment is negative
	PaymentGBP       decimal.Decimal `json:"payment_gbp"` // constraint payment for the acceptance
	CreatedAt        time.Time       `json:"created_at,omitempty"`
}

// CurtailedMWh returns the magnitude of curtailed energy for the record.
func (r SourceRecord) CurtailedMWh() decimal.Decimal {
	return r.VolumeMWh.Abs()
}

// DerivedRecord represents one row of the 'historical_bitcoin_calculations'
// table: the bitcoin that the curtailed energy of one source record could
// have mined with a given hardware variant. Written exclusively by the
// reprocessor, never hand-edited.
type DerivedRecord struct {
	SettlementDate       time.Time       `json:"settlement_date"`
	SettlementPeriod     int             `json:"settlement_period"`
	BMUID                string          `json:"bmu_id"`
	Variant              string          `json:"variant"`
	CurtailedMWh         decimal.Decimal `json:"curtailed_mwh"`
	BitcoinMined         decimal.Decimal `json:"bitcoin_mined"`
	Difficulty           float64         `json:"difficulty"`
	DifficultyIsFallback bool            `json:"difficulty_is_fallback"`
	CalculatedAt         time.Time       `json:"calculated_at"`
}

// PartitionKey identifies the unit of reconciliation work: one settlement
// date crossed with one derivation variant. Both the upstream feed and the
// reprocessing cost are per-date, so the date is the natural grain.
type PartitionKey struct {
	Date    time.Time `json:"date"`
	Variant string    `json:"variant"`
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%s", k.Date.Format("2006-01-02"), k.Variant)
}

// Status classifies a partition relative to its source rows.
type Status string

const (
	StatusMissing    Status = "missing"
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
	StatusUnknown    Status = "unknown" // scan could not evaluate the partition
)

// Rank orders statuses for scheduling: the emptier the partition, the
// sooner it runs.
func (s Status) Rank() int {
	switch s {
	case StatusMissing:
		return 0
	case StatusIncomplete:
		return 1
	case StatusComplete:
		return 2
	default:
		return 3
	}
}

// PartitionStatus is the scanner's verdict for one partition. It is always
// recomputed from counts, never treated as stored ground truth.
type PartitionStatus struct {
	Key           PartitionKey `json:"key"`
	Status        Status       `json:"status"`
	SourceCount   int          `json:"source_count"`
	DerivedCount  int          `json:"derived_count"`
	CompletionPct float64      `json:"completion_pct"`
	LastFailure   string       `json:"last_failure,omitempty"`
	Detail        string       `json:"detail,omitempty"` // why the partition is Unknown
}

// Classify derives the status and completion percentage from raw counts.
func Classify(key PartitionKey, sourceCount, derivedCount int) PartitionStatus {
	ps := PartitionStatus{Key: key, SourceCount: sourceCount, DerivedCount: derivedCount}
	switch {
	case sourceCount == 0:
		ps.Status = StatusUnknown
		ps.Detail = "no source records for date"
	case derivedCount == 0:
		ps.Status = StatusMissing
	case derivedCount < sourceCount:
		ps.Status = StatusIncomplete
		ps.CompletionPct = float64(derivedCount) / float64(sourceCount) * 100
	default:
		ps.Status = StatusComplete
		ps.CompletionPct = 100
	}
	return ps
}

// Outcome is the terminal state of a single partition attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ProgressEntry is one append-only row of the reconciliation progress log.
// Write-once per attempt; the log is the audit trail and is never rewritten.
type ProgressEntry struct {
	RunID          string       `json:"run_id"`
	Key            PartitionKey `json:"key"`
	AttemptedAt    time.Time    `json:"attempted_at"`
	Outcome        Outcome      `json:"outcome"`
	RecordsWritten int          `json:"records_written"`
	Message        string       `json:"message,omitempty"`
}

// Scope bounds a scan or reconcile to a date window. A zero From/To means
// unbounded on that side; the zero Scope means "all historical dates".
type Scope struct {
	From time.Time
	To   time.Time // inclusive
}

// ScopeDate returns a scope covering exactly one settlement date.
func ScopeDate(d time.Time) Scope {
	d = Midnight(d)
	return Scope{From: d, To: d}
}

// ScopeRange returns an inclusive date-range scope.
func ScopeRange(from, to time.Time) Scope {
	return Scope{From: Midnight(from), To: Midnight(to)}
}

// ScopeAll returns the unbounded scope.
func ScopeAll() Scope { return Scope{} }

// Unbounded reports whether the scope covers all history.
func (s Scope) Unbounded() bool { return s.From.IsZero() && s.To.IsZero() }

// Contains reports whether the date falls inside the scope.
func (s Scope) Contains(d time.Time) bool {
	d = Midnight(d)
	if !s.From.IsZero() && d.Before(s.From) {
		return false
	}
	if !s.To.IsZero() && d.After(s.To) {
		return false
	}
	return true
}

func (s Scope) String() string {
	switch {
	case s.Unbounded():
		return "all"
	case s.From.Equal(s.To):
		return s.From.Format("2006-01-02")
	default:
		return fmt.Sprintf("%s..%s", s.From.Format("2006-01-02"), s.To.Format("2006-01-02"))
	}
}

// Midnight normalizes a timestamp to its UTC settlement date.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
