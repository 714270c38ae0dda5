package derive

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"curtailscan/internal/retry"
)

func chartServer(t *testing.T, points map[string]float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"values":[`)
		first := true
		for dateStr, diff := range points {
			d, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				t.Fatal(err)
			}
			if !first {
				fmt.Fprint(w, ",")
			}
			first = false
			fmt.Fprintf(w, `{"x":%d,"y":%g}`, d.Unix(), diff)
		}
		fmt.Fprint(w, `]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPParamsCarriesDifficultyForward(t *testing.T) {
	t.Parallel()

	srv := chartServer(t, map[string]float64{
		"2025-03-10": 1.1e14,
		"2025-03-24": 1.2e14,
	})

	p := NewHTTPParams(srv.URL, retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond})
	got, err := p.ParamsForDate(context.Background(), time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if got.IsFallback {
		t.Fatal("chart had a covering point, fallback should not be used")
	}
	if got.Difficulty != 1.1e14 {
		t.Fatalf("difficulty=%g want 1.1e14 (latest retarget at or before date)", got.Difficulty)
	}
}

func TestHTTPParamsFallsBackBeforeFirstPoint(t *testing.T) {
	t.Parallel()

	srv := chartServer(t, map[string]float64{"2025-03-10": 1.1e14})

	p := NewHTTPParams(srv.URL, retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond})
	got, err := p.ParamsForDate(context.Background(), time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsFallback {
		t.Fatal("date precedes chart coverage, fallback expected")
	}
	if got.Difficulty != FallbackDifficulty(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("difficulty=%g want canonical fallback", got.Difficulty)
	}
}

func TestHTTPParamsFallsBackWhenEndpointDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPParams(srv.URL, retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	got, err := p.ParamsForDate(context.Background(), time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsFallback {
		t.Fatal("endpoint down, fallback expected")
	}
}
