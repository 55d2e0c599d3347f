package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownPeriod     = errors.New("unknown period")
	ErrUnknownInterval   = errors.New("unknown interval")
)

const day = 24 * time.Hour

// Period is an overview-chart range
type Period struct {
	Key      string `yaml:"key" json:"key"`
	Label    string `yaml:"label" json:"label"`
	Days     int    `yaml:"days" json:"days"`
	Interval string `yaml:"interval" json:"interval"` // daily | weekly | monthly
}

// Interval is a main-chart bar size
type Interval struct {
	Key         string        `yaml:"key" json:"key"`
	Label       string        `yaml:"label" json:"label"`
	APIInterval string        `yaml:"api_interval" json:"api_interval"` // 1min..60min | daily | weekly | monthly
	MaxPoints   int           `yaml:"max_points" json:"max_points"`
	Step        time.Duration `yaml:"step" json:"step"`
}

// DefaultInstruments returns the stock commodity table
func DefaultInstruments() []Instrument {
	return []Instrument{
		{Key: "CL=F", Name: "Crude Oil WTI", BasePrice: 75.50, Volatility: 0.02, ProxySymbol: "USO", Unit: "$", Scale: 2.1},
		{Key: "BZ=F", Name: "Brent Oil", BasePrice: 79.20, Volatility: 0.02, ProxySymbol: "BNO", Unit: "$", Scale: 2.3},
		{Key: "NG=F", Name: "Natural Gas", BasePrice: 2.85, Volatility: 0.03, ProxySymbol: "UNG", Unit: "$", Scale: 0.15},
		{Key: "GC=F", Name: "Gold", BasePrice: 2040.00, Volatility: 0.005, ProxySymbol: "GLD", Unit: "$", Scale: 10.2},
		{Key: "SI=F", Name: "Silver", BasePrice: 24.50, Volatility: 0.015, ProxySymbol: "SLV", Unit: "$", Scale: 1.1},
		{Key: "HG=F", Name: "Copper", BasePrice: 3.85, Volatility: 0.02, ProxySymbol: "CPER", Unit: "$", Scale: 0.25},
		{Key: "ZS=F", Name: "US Soybeans", BasePrice: 1450.00, Volatility: 0.02, ProxySymbol: "SOYB", Unit: "$", Scale: 55},
	}
}

// DefaultPeriods returns the overview ranges
func DefaultPeriods() []Period {
	return []Period{
		{Key: "1D", Label: "1 Day", Days: 1, Interval: "daily"},
		{Key: "1W", Label: "1 Week", Days: 7, Interval: "daily"},
		{Key: "1M", Label: "1 Month", Days: 30, Interval: "daily"},
		{Key: "6M", Label: "6 Months", Days: 180, Interval: "weekly"},
		{Key: "1Y", Label: "1 Year", Days: 365, Interval: "weekly"},
		{Key: "5Y", Label: "5 Years", Days: 1825, Interval: "monthly"},
		{Key: "MAX", Label: "Max", Days: 3650, Interval: "monthly"},
	}
}

// DefaultIntervals returns the main-chart bar sizes
func DefaultIntervals() []Interval {
	return []Interval{
		{Key: "1min", Label: "1 Minute", APIInterval: "1min", MaxPoints: 100, Step: time.Minute},
		{Key: "5min", Label: "5 Minutes", APIInterval: "5min", MaxPoints: 100, Step: 5 * time.Minute},
		{Key: "15min", Label: "15 Minutes", APIInterval: "15min", MaxPoints: 100, Step: 15 * time.Minute},
		{Key: "30min", Label: "30 Minutes", APIInterval: "30min", MaxPoints: 100, Step: 30 * time.Minute},
		{Key: "1hr", Label: "1 Hour", APIInterval: "60min", MaxPoints: 100, Step: time.Hour},
		{Key: "4hr", Label: "4 Hours", APIInterval: "daily", MaxPoints: 100, Step: 4 * time.Hour},
		{Key: "1d", Label: "1 Day", APIInterval: "daily", MaxPoints: 100, Step: day},
		{Key: "1w", Label: "1 Week", APIInterval: "weekly", MaxPoints: 52, Step: 7 * day},
		{Key: "1m", Label: "1 Month", APIInterval: "monthly", MaxPoints: 12, Step: 30 * day},
	}
}

// Spec derives the upstream query and synthetic layout for a period
func (p Period) Spec() WindowSpec {
	fn := FunctionDaily
	switch p.Interval {
	case "weekly":
		fn = FunctionWeekly
	case "monthly":
		fn = FunctionMonthly
	}

	size := OutputCompact // last 100 entries
	if p.Days > 100 {
		size = OutputFull
	}

	span := time.Duration(p.Days) * day
	return WindowSpec{
		Key:        PeriodKey(p.Key),
		Label:      p.Label,
		Function:   fn,
		OutputSize: size,
		MaxPoints:  MaxWindowPoints,
		Span:       span,
		Step:       span / MaxWindowPoints,
	}
}

// Spec derives the upstream query and synthetic layout for an interval
func (i Interval) Spec() WindowSpec {
	spec := WindowSpec{
		Key:        IntervalKey(i.Key),
		Label:      i.Label,
		OutputSize: OutputCompact,
		MaxPoints:  i.MaxPoints,
		Step:       i.Step,
	}
	if spec.MaxPoints <= 0 || spec.MaxPoints > MaxWindowPoints {
		spec.MaxPoints = MaxWindowPoints
	}
	if spec.Step <= 0 {
		spec.Step = time.Minute
	}

	switch i.APIInterval {
	case "daily":
		spec.Function = FunctionDaily
	case "weekly":
		spec.Function = FunctionWeekly
	case "monthly":
		spec.Function = FunctionMonthly
	default:
		spec.Function = FunctionIntraday
		spec.APIInterval = i.APIInterval
	}
	return spec
}

// Catalog is the static instrument, period and interval tables in display order
type Catalog struct {
	instruments []Instrument
	periods     []Period
	intervals   []Interval

	instrumentIdx map[string]int
	periodIdx     map[string]int
	intervalIdx   map[string]int
}

// NewCatalog indexes the tables and rejects empty or duplicate keys
func NewCatalog(instruments []Instrument, periods []Period, intervals []Interval) (*Catalog, error) {
	c := &Catalog{
		instruments:   append([]Instrument(nil), instruments...),
		periods:       append([]Period(nil), periods...),
		intervals:     append([]Interval(nil), intervals...),
		instrumentIdx: make(map[string]int, len(instruments)),
		periodIdx:     make(map[string]int, len(periods)),
		intervalIdx:   make(map[string]int, len(intervals)),
	}

	if len(instruments) == 0 {
		return nil, fmt.Errorf("catalog: no instruments configured")
	}
	for i, inst := range c.instruments {
		if inst.Key == "" {
			return nil, fmt.Errorf("catalog: instrument %d has empty key", i)
		}
		if _, dup := c.instrumentIdx[inst.Key]; dup {
			return nil, fmt.Errorf("catalog: duplicate instrument %q", inst.Key)
		}
		c.instrumentIdx[inst.Key] = i
	}
	for i, p := range c.periods {
		if _, dup := c.periodIdx[p.Key]; dup || p.Key == "" {
			return nil, fmt.Errorf("catalog: bad or duplicate period %q", p.Key)
		}
		c.periodIdx[p.Key] = i
	}
	for i, iv := range c.intervals {
		if _, dup := c.intervalIdx[iv.Key]; dup || iv.Key == "" {
			return nil, fmt.Errorf("catalog: bad or duplicate interval %q", iv.Key)
		}
		c.intervalIdx[iv.Key] = i
	}
	return c, nil
}

// Instruments returns the instrument table in configured order
func (c *Catalog) Instruments() []Instrument {
	return append([]Instrument(nil), c.instruments...)
}

func (c *Catalog) Periods() []Period {
	return append([]Period(nil), c.periods...)
}

func (c *Catalog) Intervals() []Interval {
	return append([]Interval(nil), c.intervals...)
}

// Instrument looks up an instrument by key
func (c *Catalog) Instrument(key string) (Instrument, error) {
	i, ok := c.instrumentIdx[key]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, key)
	}
	return c.instruments[i], nil
}

func (c *Catalog) Period(key string) (Period, error) {
	i, ok := c.periodIdx[key]
	if !ok {
		return Period{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, key)
	}
	return c.periods[i], nil
}

func (c *Catalog) Interval(key string) (Interval, error) {
	i, ok := c.intervalIdx[key]
	if !ok {
		return Interval{}, fmt.Errorf("%w: %q", ErrUnknownInterval, key)
	}
	return c.intervals[i], nil
}

// Keys returns instrument keys in configured order
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.instruments))
	for i, inst := range c.instruments {
		keys[i] = inst.Key
	}
	return keys
}
