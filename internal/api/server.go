package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"curtailscan/internal/models"
	"curtailscan/internal/reconciler"
	"curtailscan/internal/repository"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// StatusReader answers the read-only reconciliation queries the API serves.
type StatusReader interface {
	Status(ctx context.Context, scope models.Scope, variants []string) ([]models.PartitionStatus, error)
	Verify(ctx context.Context, scope models.Scope, variants []string) (reconciler.Summary, error)
}

// RunLog reads past reconciliation runs from the progress log.
type RunLog interface {
	RecentRuns(ctx context.Context, limit int) ([]repository.RunSummary, error)
	LoadRun(ctx context.Context, runID string) ([]models.ProgressEntry, error)
}

type Server struct {
	reader   StatusReader
	runs     RunLog
	variants []string

	httpServer *http.Server
}

func NewServer(reader StatusReader, runs RunLog, variants []string, port int) *Server {
	s := &Server{
		reader:   reader,
		runs:     runs,
		variants: variants,
	}

	r := mux.NewRouter()
	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/reconciliation/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/reconciliation/summary", s.handleSummary).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/reconciliation/runs", s.handleRuns).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/reconciliation/runs/{id}", s.handleRun).Methods("GET", "OPTIONS")

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("[api] listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type apiEnvelope struct {
	Meta  map[string]interface{} `json:"_meta,omitempty"`
	Data  interface{}            `json:"data,omitempty"`
	Error interface{}            `json:"error,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, data interface{}, meta map[string]interface{}) {
	json.NewEncoder(w).Encode(apiEnvelope{Meta: meta, Data: data})
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiEnvelope{
		Error: map[string]string{"message": message},
	})
}

// scopeFromQuery parses ?date=, or ?from= / ?to=, as an inclusive scope.
// No parameters means all history.
func scopeFromQuery(r *http.Request) (models.Scope, error) {
	q := r.URL.Query()
	if v := q.Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return models.Scope{}, fmt.Errorf("bad date %q, want YYYY-MM-DD", v)
		}
		return models.ScopeDate(d), nil
	}

	var scope models.Scope
	if v := q.Get("from"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return models.Scope{}, fmt.Errorf("bad from %q, want YYYY-MM-DD", v)
		}
		scope.From = models.Midnight(d)
	}
	if v := q.Get("to"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			return models.Scope{}, fmt.Errorf("bad to %q, want YYYY-MM-DD", v)
		}
		scope.To = models.Midnight(d)
	}
	if !scope.From.IsZero() && !scope.To.IsZero() && scope.To.Before(scope.From) {
		return models.Scope{}, fmt.Errorf("to precedes from")
	}
	return scope, nil
}

func (s *Server) variantsFromQuery(r *http.Request) []string {
	if v := r.URL.Query()["variant"]; len(v) > 0 {
		return v
	}
	return s.variants
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "commit": BuildCommit})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	statuses, err := s.reader.Status(r.Context(), scope, s.variantsFromQuery(r))
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, statuses, map[string]interface{}{"count": len(statuses)})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.reader.Verify(r.Context(), scope, s.variantsFromQuery(r))
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, summary, nil)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, runs, map[string]interface{}{"count": len(runs)})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	entries, err := s.runs.LoadRun(r.Context(), runID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(entries) == 0 {
		writeAPIError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", runID))
		return
	}
	writeAPIResponse(w, entries, map[string]interface{}{"count": len(entries)})
}
