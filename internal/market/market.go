package market

import (
	"fmt"
	"time"
)

// Instrument is a tracked commodity series and the proxy fund used to price it
type Instrument struct {
	Key         string  `yaml:"key" json:"key"`                   // Dashboard key, e.g. "CL=F"
	Name        string  `yaml:"name" json:"name"`                 // Display name
	BasePrice   float64 `yaml:"base_price" json:"base_price"`     // Seed for synthetic prices
	Volatility  float64 `yaml:"volatility" json:"volatility"`     // e.g. 0.02 for 2%
	ProxySymbol string  `yaml:"proxy_symbol" json:"proxy_symbol"` // Upstream ticker, e.g. "USO"
	Unit        string  `yaml:"unit" json:"unit"`                 // Display unit prefix
	Scale       float64 `yaml:"scale" json:"scale"`               // Proxy -> commodity multiplier
}

// Point is one entry of a chart window or historical window
type Point struct {
	Time   time.Time `json:"time"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume,omitempty"`
}

// Quote sources
const (
	SourceAlphaVantage = "alphavantage"
	SourceSynthetic    = "synthetic"
	SourceMock         = "mock"
)

// QuoteRecord is a normalized latest quote for one instrument
type QuoteRecord struct {
	InstrumentKey string    `json:"instrument"`
	Price         float64   `json:"price"`
	ObservedAt    time.Time `json:"observed_at"`
	Volume        int64     `json:"volume,omitempty"` // 0 when the provider sent none
	Source        string    `json:"source"`
}

// Function is the upstream time-series function a window is queried with
type Function string

const (
	FunctionIntraday Function = "TIME_SERIES_INTRADAY"
	FunctionDaily    Function = "TIME_SERIES_DAILY"
	FunctionWeekly   Function = "TIME_SERIES_WEEKLY"
	FunctionMonthly  Function = "TIME_SERIES_MONTHLY"
)

// Output sizes accepted by the upstream
const (
	OutputCompact = "compact"
	OutputFull    = "full"
)

// MaxWindowPoints caps every historical or chart window.
const MaxWindowPoints = 100

// WindowKind separates overview periods from main-chart intervals
type WindowKind string

const (
	KindPeriod   WindowKind = "period"
	KindInterval WindowKind = "interval"
)

// WindowKey names a window within one instrument
type WindowKey struct {
	Kind WindowKind `json:"kind"`
	Name string     `json:"name"`
}

func (k WindowKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.Name)
}

// PeriodKey returns the window key for an overview period
func PeriodKey(name string) WindowKey { return WindowKey{Kind: KindPeriod, Name: name} }

// IntervalKey returns the window key for a main-chart interval
func IntervalKey(name string) WindowKey { return WindowKey{Kind: KindInterval, Name: name} }

// WindowSpec describes how to query and synthesize one window
type WindowSpec struct {
	Key         WindowKey
	Label       string
	Function    Function
	APIInterval string // intraday only: 1min, 5min, 15min, 30min, 60min
	OutputSize  string
	MaxPoints   int
	Span        time.Duration // period span; zero for intervals
	Step        time.Duration // spacing between synthetic points
}

// Granularity reports how fine the upstream query is
func (w WindowSpec) Granularity() string {
	switch w.Function {
	case FunctionIntraday:
		return "fine"
	case FunctionDaily:
		return "medium"
	default:
		return "coarse"
	}
}
