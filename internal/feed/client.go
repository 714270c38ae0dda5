// Package feed fetches accepted curtailment volumes from the balancing
// mechanism reporting service. The endpoint is rate-limited and flaky, so
// every call goes through a shared token bucket and the injected retry
// policy.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"curtailscan/internal/models"
	"curtailscan/internal/retry"
)

// BMULookup answers whether a BMU belongs to a tracked wind farm and what
// that farm is called. Built once at startup and passed in; there is no
// package-level registry.
type BMULookup interface {
	Farm(bmuID string) (name string, ok bool)
}

// Client fetches per-date bid acceptance volumes.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   retry.Policy
	lookup  BMULookup
}

// Config for the feed client. RequestsPerSecond<=0 disables local
// throttling (the retry policy still handles remote 429s).
type Config struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             retry.Policy
}

func NewClient(cfg Config, lookup BMULookup) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(limit, burst),
		retry:   cfg.Retry,
		lookup:  lookup,
	}
}

// acceptanceVolume mirrors the feed's JSON rows.
type acceptanceVolume struct {
	SettlementDate   string  `json:"settlementDate"`
	SettlementPeriod int     `json:"settlementPeriod"`
	BMUnit           string  `json:"bmUnit"`
	TotalVolume      float64 `json:"totalVolumeAccepted"`
	TotalPayment     float64 `json:"totalPayment"`
}

// FetchSourceRecords returns the curtailment rows for one settlement date,
// filtered to tracked wind-farm BMUs. Returns an empty slice (not an error)
// when the date has no acceptances.
func (c *Client) FetchSourceRecords(ctx context.Context, date time.Time) ([]models.SourceRecord, error) {
	date = models.Midnight(date)
	url := fmt.Sprintf("%s/balancing/settlement/acceptance-volumes/all/bid/%s?format=json",
		c.baseURL, date.Format("2006-01-02"))

	rows, err := retry.Do(ctx, c.retry, func() ([]acceptanceVolume, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}
		return c.fetch(ctx, url)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch acceptance volumes for %s: %w", date.Format("2006-01-02"), err)
	}

	records := make([]models.SourceRecord, 0, len(rows))
	for _, row := range rows {
		farm, tracked := c.lookup.Farm(row.BMUnit)
		if !tracked {
			continue
		}
		records = append(records, models.SourceRecord{
			SettlementDate:   date,
			SettlementPeriod: row.SettlementPeriod,
			BMUID:            row.BMUnit,
			FarmName:         farm,
			VolumeMWh:        decimal.NewFromFloat(row.TotalVolume),
			PaymentGBP:       decimal.NewFromFloat(row.TotalPayment),
		})
	}
	return records, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]acceptanceVolume, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", "curtailscan/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("feed status: %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var payload struct {
		Data []acceptanceVolume `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode feed payload: %w", err)
	}
	return payload.Data, nil
}

// StaticLookup is a map-backed BMULookup.
type StaticLookup map[string]string

func (l StaticLookup) Farm(bmuID string) (string, bool) {
	name, ok := l[bmuID]
	return name, ok
}
