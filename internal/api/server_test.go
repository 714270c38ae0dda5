package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"curtailscan/internal/models"
	"curtailscan/internal/reconciler"
	"curtailscan/internal/repository"
)

type fakeReader struct {
	statuses  []models.PartitionStatus
	summary   reconciler.Summary
	lastScope models.Scope
	lastVars  []string
}

func (f *fakeReader) Status(_ context.Context, scope models.Scope, variants []string) ([]models.PartitionStatus, error) {
	f.lastScope = scope
	f.lastVars = variants
	return f.statuses, nil
}

func (f *fakeReader) Verify(_ context.Context, scope models.Scope, variants []string) (reconciler.Summary, error) {
	f.lastScope = scope
	f.lastVars = variants
	return f.summary, nil
}

type fakeRunLog struct {
	runs      []repository.RunSummary
	entries   map[string][]models.ProgressEntry
	lastLimit int
}

func (f *fakeRunLog) RecentRuns(_ context.Context, limit int) ([]repository.RunSummary, error) {
	f.lastLimit = limit
	return f.runs, nil
}

func (f *fakeRunLog) LoadRun(_ context.Context, runID string) ([]models.ProgressEntry, error) {
	return f.entries[runID], nil
}

func newTestServer(reader *fakeReader, runs *fakeRunLog) *Server {
	return NewServer(reader, runs, []string{"S19J_PRO"}, 0)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&fakeReader{}, &fakeRunLog{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body=%v want status ok", body)
	}
}

func TestHandleStatusScopeAndVariants(t *testing.T) {
	reader := &fakeReader{statuses: []models.PartitionStatus{{
		Key:    models.PartitionKey{Date: time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), Variant: "S9"},
		Status: models.StatusMissing,
	}}}
	srv := newTestServer(reader, &fakeRunLog{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/reconciliation/status?from=2025-03-01&to=2025-03-31&variant=S9", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if reader.lastScope.From.Format("2006-01-02") != "2025-03-01" ||
		reader.lastScope.To.Format("2006-01-02") != "2025-03-31" {
		t.Fatalf("scope=%+v want March 2025", reader.lastScope)
	}
	if len(reader.lastVars) != 1 || reader.lastVars[0] != "S9" {
		t.Fatalf("variants=%v want [S9]", reader.lastVars)
	}

	var env struct {
		Meta map[string]interface{}   `json:"_meta"`
		Data []models.PartitionStatus `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Data) != 1 || env.Data[0].Status != models.StatusMissing {
		t.Fatalf("data=%+v want one missing partition", env.Data)
	}
}

func TestHandleStatusDefaultsVariants(t *testing.T) {
	reader := &fakeReader{}
	srv := newTestServer(reader, &fakeRunLog{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reconciliation/status", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d", rec.Code)
	}
	if len(reader.lastVars) != 1 || reader.lastVars[0] != "S19J_PRO" {
		t.Fatalf("variants=%v want configured default", reader.lastVars)
	}
	if !reader.lastScope.Unbounded() {
		t.Fatalf("scope=%+v want unbounded", reader.lastScope)
	}
}

func TestHandleStatusBadDate(t *testing.T) {
	srv := newTestServer(&fakeReader{}, &fakeRunLog{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reconciliation/status?date=21-03-2025", nil))

	if rec.Code != 400 {
		t.Fatalf("status=%d want 400", rec.Code)
	}
}

func TestHandleStatusInvertedRange(t *testing.T) {
	srv := newTestServer(&fakeReader{}, &fakeRunLog{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET",
		"/api/v1/reconciliation/status?from=2025-03-31&to=2025-03-01", nil))

	if rec.Code != 400 {
		t.Fatalf("status=%d want 400", rec.Code)
	}
}

func TestHandleSummary(t *testing.T) {
	reader := &fakeReader{summary: reconciler.Summary{
		Total: 4, Complete: 3, Missing: 1, CompletionPct: 75,
	}}
	srv := newTestServer(reader, &fakeRunLog{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reconciliation/summary?date=2025-03-21", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d", rec.Code)
	}
	var env struct {
		Data reconciler.Summary `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Data.CompletionPct != 75 {
		t.Fatalf("summary=%+v want 75%%", env.Data)
	}
}

func TestHandleRunsLimit(t *testing.T) {
	runs := &fakeRunLog{runs: []repository.RunSummary{{RunID: "run-1"}}}
	srv := newTestServer(&fakeReader{}, runs)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reconciliation/runs?limit=5", nil))

	if rec.Code != 200 {
		t.Fatalf("status=%d", rec.Code)
	}
	if runs.lastLimit != 5 {
		t.Fatalf("limit=%d want 5", runs.lastLimit)
	}
}

func TestHandleRunByID(t *testing.T) {
	runs := &fakeRunLog{entries: map[string][]models.ProgressEntry{
		"run-7": {{RunID: "run-7", Outcome: models.OutcomeSuccess}},
	}}
	srv := newTestServer(&fakeReader{}, runs)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reconciliation/runs/run-7", nil))
	if rec.Code != 200 {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data []models.ProgressEntry `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Data) != 1 || env.Data[0].RunID != "run-7" {
		t.Fatalf("data=%+v want run-7 entries", env.Data)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/reconciliation/runs/run-8", nil))
	if rec.Code != 404 {
		t.Fatalf("status=%d want 404 for unknown run", rec.Code)
	}
}
