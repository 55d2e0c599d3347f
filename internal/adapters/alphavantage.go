package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
	"github.com/Rajchodisetti/commodity-dashboard/internal/observ"
)

const defaultAlphaVantageURL = "https://www.alphavantage.co/query"

// AlphaVantageAdapter implements QuoteSource for the Alpha Vantage time-series API
type AlphaVantageAdapter struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter // nil when client-side limiting is off
	config      AlphaVantageConfig

	// Budget tracking
	mu              sync.Mutex
	requestsToday   int
	budgetResetTime time.Time
}

// AlphaVantageConfig holds configuration for Alpha Vantage adapter
type AlphaVantageConfig struct {
	APIKey             string
	BaseURL            string
	LatestInterval     string // intraday bar used for latest quotes
	RateLimitPerMinute int    // 0 leaves pacing to the caller
	DailyCap           int    // 0 means no daily budget
	TimeoutSeconds     int
	MaxRetries         int // transport failures only
	BackoffBaseMs      int
}

// NewAlphaVantageAdapter creates a new Alpha Vantage adapter
func NewAlphaVantageAdapter(config AlphaVantageConfig) (*AlphaVantageAdapter, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Alpha Vantage API key is required")
	}

	// Set defaults
	if config.BaseURL == "" {
		config.BaseURL = defaultAlphaVantageURL
	}
	if config.LatestInterval == "" {
		config.LatestInterval = "5min"
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.BackoffBaseMs <= 0 {
		config.BackoffBaseMs = 500
	}

	av := &AlphaVantageAdapter{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		config:          config,
		budgetResetTime: time.Now().Add(24 * time.Hour),
	}
	if config.RateLimitPerMinute > 0 {
		av.rateLimiter = rate.NewLimiter(rate.Limit(float64(config.RateLimitPerMinute)/60), 1)
	}
	return av, nil
}

func (av *AlphaVantageAdapter) Name() string { return market.SourceAlphaVantage }

// Close performs cleanup
func (av *AlphaVantageAdapter) Close() error {
	av.httpClient.CloseIdleConnections()
	return nil
}

// FetchLatest returns the newest intraday close for the instrument's proxy symbol
func (av *AlphaVantageAdapter) FetchLatest(ctx context.Context, inst market.Instrument) (market.QuoteRecord, error) {
	spec := market.WindowSpec{
		Function:    market.FunctionIntraday,
		APIInterval: av.config.LatestInterval,
		OutputSize:  market.OutputCompact,
		MaxPoints:   1,
	}

	points, err := av.fetchSeries(ctx, inst.ProxySymbol, spec)
	if err != nil {
		return market.QuoteRecord{}, err
	}

	latest := points[len(points)-1]
	return market.QuoteRecord{
		InstrumentKey: inst.Key,
		Price:         latest.Price,
		ObservedAt:    latest.Time,
		Volume:        int64(latest.Volume),
		Source:        market.SourceAlphaVantage,
	}, nil
}

// FetchHistory returns up to spec.MaxPoints entries in chronological order
func (av *AlphaVantageAdapter) FetchHistory(ctx context.Context, inst market.Instrument, spec market.WindowSpec) ([]market.Point, error) {
	return av.fetchSeries(ctx, inst.ProxySymbol, spec)
}

func (av *AlphaVantageAdapter) fetchSeries(ctx context.Context, symbol string, spec market.WindowSpec) ([]market.Point, error) {
	params := url.Values{
		"function": {string(spec.Function)},
		"symbol":   {symbol},
		"apikey":   {av.apiKey},
	}
	if spec.OutputSize != "" {
		params.Set("outputsize", spec.OutputSize)
	}
	if spec.Function == market.FunctionIntraday {
		params.Set("interval", spec.APIInterval)
	}

	body, err := av.do(ctx, symbol, params)
	if err != nil {
		return nil, err
	}
	return parseTimeSeries(body, symbol, spec)
}

// do performs the request, retrying transport failures only
func (av *AlphaVantageAdapter) do(ctx context.Context, symbol string, params url.Values) ([]byte, error) {
	if !av.consumeBudget() {
		return nil, NewRateLimitError(symbol, "daily request budget exhausted")
	}
	if av.rateLimiter != nil {
		if err := av.rateLimiter.Wait(ctx); err != nil {
			return nil, NewTransportError(symbol, "rate limit wait cancelled", err)
		}
	}

	requestURL := av.baseURL + "?" + params.Encode()
	function := params.Get("function")

	var lastErr error
	for attempt := 0; attempt < av.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(av.config.BackoffBaseMs*(1<<attempt)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, NewTransportError(symbol, "retry cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		body, err := av.get(ctx, symbol, requestURL)
		observ.Observe("quote_fetch_latency_ms", float64(time.Since(start).Milliseconds()), map[string]string{
			"function": function,
		})
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (av *AlphaVantageAdapter) get(ctx context.Context, symbol, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, NewTransportError(symbol, "failed to create request", err)
	}

	resp, err := av.httpClient.Do(req)
	if err != nil {
		return nil, NewTransportError(symbol, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransportError(symbol, "failed to read body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewTransportError(symbol, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	}
	return body, nil
}

// seriesLabel is the top-level JSON key holding the entries for a function
func seriesLabel(spec market.WindowSpec) string {
	switch spec.Function {
	case market.FunctionIntraday:
		return fmt.Sprintf("Time Series (%s)", spec.APIInterval)
	case market.FunctionWeekly:
		return "Weekly Time Series"
	case market.FunctionMonthly:
		return "Monthly Time Series"
	default:
		return "Time Series (Daily)"
	}
}

// parseTimeSeries checks the sentinel fields, then decodes the entries newest-first,
// keeps spec.MaxPoints of them and returns them oldest-first.
func parseTimeSeries(body []byte, symbol string, spec market.WindowSpec) ([]market.Point, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, NewMalformedError(symbol, "failed to parse response", err)
	}

	// Error and throttle conditions arrive with HTTP 200
	if msg := sentinel(raw, "Error Message"); msg != "" {
		return nil, NewProviderError(symbol, msg)
	}
	if msg := sentinel(raw, "Note"); msg != "" {
		return nil, NewRateLimitError(symbol, msg)
	}
	if msg := sentinel(raw, "Information"); msg != "" {
		return nil, NewRateLimitError(symbol, msg)
	}

	label := seriesLabel(spec)
	seriesRaw, ok := raw[label]
	if !ok {
		return nil, NewMalformedError(symbol, fmt.Sprintf("missing %q", label), nil)
	}

	var series map[string]map[string]string
	if err := json.Unmarshal(seriesRaw, &series); err != nil {
		return nil, NewMalformedError(symbol, fmt.Sprintf("bad %q", label), err)
	}
	if len(series) == 0 {
		return nil, NewMalformedError(symbol, "no time series entries", nil)
	}

	loc := metaLocation(raw)
	stamps := make([]string, 0, len(series))
	for ts := range series {
		stamps = append(stamps, ts)
	}
	// ISO dates sort lexically in time order
	sort.Sort(sort.Reverse(sort.StringSlice(stamps)))

	limit := spec.MaxPoints
	if limit <= 0 || limit > market.MaxWindowPoints {
		limit = market.MaxWindowPoints
	}
	if len(stamps) > limit {
		stamps = stamps[:limit]
	}

	points := make([]market.Point, len(stamps))
	for i, ts := range stamps {
		entry := series[ts]
		t, err := parseStamp(ts, loc)
		if err != nil {
			return nil, NewMalformedError(symbol, fmt.Sprintf("bad timestamp %q", ts), err)
		}
		closeStr, ok := entry["4. close"]
		if !ok {
			return nil, NewMalformedError(symbol, fmt.Sprintf("missing close at %s", ts), nil)
		}
		price, err := strconv.ParseFloat(closeStr, 64)
		if err != nil || price <= 0 {
			return nil, NewMalformedError(symbol, fmt.Sprintf("bad close %q at %s", closeStr, ts), err)
		}
		volume, _ := strconv.ParseFloat(entry["5. volume"], 64)

		// newest-first in stamps, oldest-first in points
		points[len(stamps)-1-i] = market.Point{Time: t, Price: price, Volume: volume}
	}
	return points, nil
}

func sentinel(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return strings.TrimSpace(string(v))
	}
	return s
}

// metaLocation reads the "N. Time Zone" entry from "Meta Data", defaulting to UTC
func metaLocation(raw map[string]json.RawMessage) *time.Location {
	var meta map[string]string
	if err := json.Unmarshal(raw["Meta Data"], &meta); err != nil {
		return time.UTC
	}
	for k, v := range meta {
		if strings.HasSuffix(k, "Time Zone") {
			if loc, err := time.LoadLocation(v); err == nil {
				return loc
			}
		}
	}
	return time.UTC
}

func parseStamp(ts string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", ts, loc); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", ts, loc)
}

// consumeBudget counts one request against the daily cap
func (av *AlphaVantageAdapter) consumeBudget() bool {
	av.mu.Lock()
	defer av.mu.Unlock()

	if time.Now().After(av.budgetResetTime) {
		av.requestsToday = 0
		av.budgetResetTime = time.Now().Add(24 * time.Hour)
	}
	if av.config.DailyCap > 0 && av.requestsToday >= av.config.DailyCap {
		return false
	}
	av.requestsToday++
	observ.SetGauge("provider_budget_used", float64(av.requestsToday), map[string]string{
		"provider": market.SourceAlphaVantage,
	})
	return true
}

// GetBudgetStatus returns current budget usage
func (av *AlphaVantageAdapter) GetBudgetStatus() (used, total int, resetTime time.Time) {
	av.mu.Lock()
	defer av.mu.Unlock()
	return av.requestsToday, av.config.DailyCap, av.budgetResetTime
}
