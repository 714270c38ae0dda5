package derive

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"curtailscan/internal/models"
	"curtailscan/internal/retry"
)

// NetworkParams are the derivation inputs for one settlement date.
type NetworkParams struct {
	Difficulty float64
	IsFallback bool // true when the canonical fallback supplied the difficulty
	SubsidyBTC decimal.Decimal
}

// ParamsProvider resolves derivation inputs per date. Implementations never
// hard-fail on a missing difficulty: they fall back to the canonical
// per-epoch value and flag it, so a partition is not lost to a flaky chart
// endpoint.
type ParamsProvider interface {
	ParamsForDate(ctx context.Context, date time.Time) (NetworkParams, error)
}

// halving marks the start of a subsidy epoch.
type halving struct {
	from               time.Time
	subsidyBTC         decimal.Decimal
	fallbackDifficulty float64
}

// halvings is ordered oldest-first. The fallback difficulty is a fixed
// mid-epoch value: one canonical number per epoch, everywhere, replacing the
// per-script constants the old backfill scripts disagreed on.
var halvings = []halving{
	{date(2009, 1, 3), decimal.NewFromInt(50), 1.38e6},
	{date(2012, 11, 28), decimal.NewFromInt(25), 3.44e10},
	{date(2016, 7, 9), decimal.NewFromFloat(12.5), 2.87e12},
	{date(2020, 5, 11), decimal.NewFromFloat(6.25), 2.18e13},
	{date(2024, 4, 20), decimal.NewFromFloat(3.125), 8.35e13},
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func epochFor(d time.Time) halving {
	d = models.Midnight(d)
	cur := halvings[0]
	for _, h := range halvings {
		if d.Before(h.from) {
			break
		}
		cur = h
	}
	return cur
}

// SubsidyForDate returns the block subsidy in effect on a date. Halving-day
// boundaries are date-granular: the new subsidy applies from the halving
// date onward.
func SubsidyForDate(d time.Time) decimal.Decimal {
	return epochFor(d).subsidyBTC
}

// FallbackDifficulty returns the canonical fallback difficulty for a date.
func FallbackDifficulty(d time.Time) float64 {
	return epochFor(d).fallbackDifficulty
}

// StaticParams serves only the fallback table. Used offline and in tests.
type StaticParams struct{}

func (StaticParams) ParamsForDate(_ context.Context, d time.Time) (NetworkParams, error) {
	return NetworkParams{
		Difficulty: FallbackDifficulty(d),
		IsFallback: true,
		SubsidyBTC: SubsidyForDate(d),
	}, nil
}

// HTTPParams fetches the full historical difficulty chart once and caches
// it per date. Dates absent from the chart (or the whole chart, if the
// endpoint is down) resolve to the fallback table.
type HTTPParams struct {
	BaseURL string
	Client  *http.Client
	Retry   retry.Policy

	mu     sync.Mutex
	loaded bool
	points []chartPoint // ascending by date
}

// chartPoint is one difficulty retarget sample from the chart endpoint.
type chartPoint struct {
	date       time.Time
	difficulty float64
}

func NewHTTPParams(baseURL string, policy retry.Policy) *HTTPParams {
	return &HTTPParams{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Retry:   policy,
	}
}

func (p *HTTPParams) ParamsForDate(ctx context.Context, d time.Time) (NetworkParams, error) {
	d = models.Midnight(d)
	diff, ok, err := p.lookup(ctx, d)
	if err != nil {
		return NetworkParams{}, err
	}
	if !ok {
		return NetworkParams{
			Difficulty: FallbackDifficulty(d),
			IsFallback: true,
			SubsidyBTC: SubsidyForDate(d),
		}, nil
	}
	return NetworkParams{Difficulty: diff, SubsidyBTC: SubsidyForDate(d)}, nil
}

func (p *HTTPParams) lookup(ctx context.Context, d time.Time) (float64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		points, err := p.fetchChart(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0, false, ctx.Err()
			}
			// One warning, then the whole run uses fallbacks.
			log.Printf("[params] difficulty chart unavailable, using fallback table: %v", err)
			points = nil
		}
		p.points = points
		p.loaded = true
	}

	// The chart only has points at retarget boundaries (~2 weeks apart);
	// the difficulty in effect on d is the latest point at or before it.
	idx := sort.Search(len(p.points), func(i int) bool {
		return p.points[i].date.After(d)
	})
	if idx == 0 {
		return 0, false, nil
	}
	return p.points[idx-1].difficulty, true, nil
}

func (p *HTTPParams) fetchChart(ctx context.Context) ([]chartPoint, error) {
	url := fmt.Sprintf("%s/charts/difficulty?timespan=all&format=json&sampled=false", p.BaseURL)

	return retry.Do(ctx, p.Retry, func() ([]chartPoint, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("User-Agent", "curtailscan/1.0")

		resp, err := p.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("difficulty chart status: %s", resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}

		var chart struct {
			Values []struct {
				X int64   `json:"x"`
				Y float64 `json:"y"`
			} `json:"values"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
			return nil, fmt.Errorf("decode difficulty chart: %w", err)
		}

		points := make([]chartPoint, 0, len(chart.Values))
		for _, v := range chart.Values {
			if v.Y <= 0 {
				continue
			}
			points = append(points, chartPoint{
				date:       models.Midnight(time.Unix(v.X, 0)),
				difficulty: v.Y,
			})
		}
		if len(points) == 0 {
			return nil, fmt.Errorf("difficulty chart empty")
		}
		sort.Slice(points, func(i, j int) bool {
			return points[i].date.Before(points[j].date)
		})
		return points, nil
	})
}
