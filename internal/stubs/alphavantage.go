package stubs

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/Rajchodisetti/commodity-dashboard/internal/adapters"
	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
)

// Sentinel fields the upstream puts in a 200 response instead of data
const (
	SentinelError       = "Error Message"
	SentinelNote        = "Note"
	SentinelInformation = "Information"
)

const (
	compactPoints = 100
	fullPoints    = 300
	stubZone      = "US/Eastern"
	rateLimitNote = "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute and 500 calls per day."
)

// Options configure the stub upstream
type Options struct {
	APIKey    string        // required key; empty accepts any non-empty key
	NoteEvery int           // every Nth request gets a rate-limit Note; 0 disables
	Latency   time.Duration // added to every response
	Logger    *zap.Logger
}

// AlphaVantage serves TIME_SERIES_* requests in the upstream's JSON shape,
// priced around each proxy's base with the synthetic generator.
type AlphaVantage struct {
	opts   Options
	gen    *adapters.Generator
	logger *zap.Logger
	zone   *time.Location

	mu       sync.Mutex
	prices   map[string]float64
	failing  map[string]string
	status   int
	requests int
}

// NewAlphaVantage builds a stub priced from the instrument table: each proxy
// trades at base price over scale.
func NewAlphaVantage(instruments []market.Instrument, opts Options) *AlphaVantage {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	zone, err := time.LoadLocation(stubZone)
	if err != nil {
		zone = time.UTC
	}

	s := &AlphaVantage{
		opts:    opts,
		gen:     adapters.NewGenerator(),
		logger:  opts.Logger,
		zone:    zone,
		prices:  make(map[string]float64, len(instruments)),
		failing: map[string]string{},
	}
	for _, inst := range instruments {
		if inst.ProxySymbol == "" || inst.Scale <= 0 {
			continue
		}
		s.prices[inst.ProxySymbol] = inst.BasePrice / inst.Scale
	}
	return s
}

// SetPrice sets the level a proxy trades around
func (s *AlphaVantage) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// Fail makes every request for symbol answer with the given sentinel field
func (s *AlphaVantage) Fail(symbol, sentinel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[symbol] = sentinel
}

// Recover clears a forced sentinel
func (s *AlphaVantage) Recover(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failing, symbol)
}

// SetStatus forces a non-2xx status for every request; 0 restores normal replies
func (s *AlphaVantage) SetStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

// Requests returns how many requests have been served
func (s *AlphaVantage) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *AlphaVantage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Latency > 0 {
		select {
		case <-time.After(s.opts.Latency):
		case <-r.Context().Done():
			return
		}
	}

	q := r.URL.Query()
	function := market.Function(q.Get("function"))
	symbol := q.Get("symbol")

	s.mu.Lock()
	s.requests++
	n := s.requests
	status := s.status
	sentinel := s.failing[symbol]
	base, known := s.prices[symbol]
	s.mu.Unlock()

	s.logger.Debug("stub request",
		zap.String("function", string(function)),
		zap.String("symbol", symbol),
		zap.String("interval", q.Get("interval")),
		zap.Int("n", n))

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	key := q.Get("apikey")
	switch {
	case key == "" || (s.opts.APIKey != "" && key != s.opts.APIKey):
		writeSentinel(w, SentinelError, "the parameter apikey is invalid or missing.")
		return
	case s.opts.NoteEvery > 0 && n%s.opts.NoteEvery == 0:
		writeSentinel(w, SentinelNote, rateLimitNote)
		return
	case sentinel == SentinelNote || sentinel == SentinelInformation:
		writeSentinel(w, sentinel, rateLimitNote)
		return
	case sentinel != "":
		writeSentinel(w, sentinel, "Invalid API call. Please retry or visit the documentation.")
		return
	case !known:
		writeSentinel(w, SentinelError, fmt.Sprintf("Invalid API call. Unknown symbol %q.", symbol))
		return
	}

	label, step, layout, ok := seriesShape(function, q.Get("interval"))
	if !ok {
		writeSentinel(w, SentinelError, fmt.Sprintf("Invalid API call. Unsupported function %q.", function))
		return
	}

	points := compactPoints
	if q.Get("outputsize") == market.OutputFull {
		points = fullPoints
	}

	entries := s.entries(symbol, base, points, step, layout)
	meta := map[string]string{
		"1. Information":    fmt.Sprintf("%s stub prices", label),
		"2. Symbol":         symbol,
		"3. Last Refreshed": time.Now().In(s.zone).Format(layout),
		"4. Output Size":    outputLabel(q.Get("outputsize")),
		"5. Time Zone":      stubZone,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"Meta Data": meta,
		label:       entries,
	})
}

type entry struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

func (s *AlphaVantage) entries(symbol string, base float64, n int, step time.Duration, layout string) map[string]entry {
	proxy := market.Instrument{Key: symbol, BasePrice: base, Volatility: 0.01}
	now := time.Now().In(s.zone).Truncate(step)
	if step >= 24*time.Hour {
		now = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.zone)
	}

	out := make(map[string]entry, n)
	for i := 0; i < n; i++ {
		ts := now.Add(-time.Duration(i) * step)
		closing := s.gen.NextPrice(proxy, base)
		open := s.gen.NextPrice(proxy, base)
		high, low := closing, open
		if open > high {
			high, low = open, closing
		}
		out[ts.Format(layout)] = entry{
			Open:   price(open),
			High:   price(high),
			Low:    price(low),
			Close:  price(closing),
			Volume: strconv.Itoa(1000 + rand.Intn(1_000_000)),
		}
	}
	return out
}

func price(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// seriesShape returns the series label, bar spacing and timestamp layout for a function
func seriesShape(function market.Function, interval string) (string, time.Duration, string, bool) {
	const day = 24 * time.Hour
	switch function {
	case market.FunctionIntraday:
		step, ok := map[string]time.Duration{
			"1min":  time.Minute,
			"5min":  5 * time.Minute,
			"15min": 15 * time.Minute,
			"30min": 30 * time.Minute,
			"60min": time.Hour,
		}[interval]
		if !ok {
			return "", 0, "", false
		}
		return fmt.Sprintf("Time Series (%s)", interval), step, "2006-01-02 15:04:05", true
	case market.FunctionDaily:
		return "Time Series (Daily)", day, "2006-01-02", true
	case market.FunctionWeekly:
		return "Weekly Time Series", 7 * day, "2006-01-02", true
	case market.FunctionMonthly:
		return "Monthly Time Series", 30 * day, "2006-01-02", true
	}
	return "", 0, "", false
}

func outputLabel(size string) string {
	if size == market.OutputFull {
		return "Full size"
	}
	return "Compact"
}

func writeSentinel(w http.ResponseWriter, field, msg string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{field: msg})
}
