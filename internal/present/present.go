// Package present turns store snapshots into what the dashboard renders:
// formatted cards, labelled chart series and period performance.
package present

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
	"github.com/Rajchodisetti/commodity-dashboard/internal/series"
)

// Directions used as CSS classes by the front end
const (
	Positive = "positive"
	Negative = "negative"
	Neutral  = "neutral"
)

// CardView is one instrument summary card
type CardView struct {
	Key               string    `json:"key"`
	Name              string    `json:"name"`
	Unit              string    `json:"unit"`
	CurrentPrice      float64   `json:"current_price"`
	Change            float64   `json:"change"`
	ChangePercent     float64   `json:"change_percent"`
	PriceText         string    `json:"price_text"`
	ChangeText        string    `json:"change_text"`
	ChangePercentText string    `json:"change_percent_text"`
	Direction         string    `json:"direction"`
	Source            string    `json:"source"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Chart is an ordered chart series with display labels
type Chart struct {
	Instrument string      `json:"instrument"`
	Name       string      `json:"name"`
	Window     string      `json:"window"`
	Unit       string      `json:"unit"`
	Prices     []float64   `json:"prices"`
	Timestamps []time.Time `json:"timestamps"`
	Labels     []string    `json:"labels"`
}

// Performance is the first-to-last change of an overview window
type Performance struct {
	Period        string  `json:"period"`
	Label         string  `json:"label"`
	ChangePercent float64 `json:"change_percent"`
	Text          string  `json:"text"`
	Direction     string  `json:"direction"`
	Estimated     bool    `json:"estimated"` // too few points; value is random
}

// Presenter formats in a fixed display location
type Presenter struct {
	loc *time.Location

	mu     sync.Mutex
	random *rand.Rand
}

// New creates a presenter. A nil location means UTC.
func New(loc *time.Location) *Presenter {
	return NewWithRand(loc, rand.NewSource(time.Now().UnixNano()))
}

// NewWithRand injects the random source used for estimated performance
func NewWithRand(loc *time.Location, src rand.Source) *Presenter {
	if loc == nil {
		loc = time.UTC
	}
	return &Presenter{loc: loc, random: rand.New(src)}
}

// Card formats one store card
func (p *Presenter) Card(inst market.Instrument, c series.Card) CardView {
	dir := direction(c.Change)
	sign := ""
	if c.Change > 0 {
		sign = "+"
	}

	change := decimal.NewFromFloat(c.Change)
	changeText := sign + inst.Unit + change.StringFixed(2)
	if change.IsNegative() {
		changeText = "-" + inst.Unit + change.Abs().StringFixed(2)
	}

	return CardView{
		Key:               inst.Key,
		Name:              inst.Name,
		Unit:              inst.Unit,
		CurrentPrice:      c.CurrentPrice,
		Change:            c.Change,
		ChangePercent:     c.ChangePercent,
		PriceText:         Money(inst.Unit, c.CurrentPrice),
		ChangeText:        changeText,
		ChangePercentText: "(" + sign + decimal.NewFromFloat(c.ChangePercent).StringFixed(2) + "%)",
		Direction:         dir,
		Source:            c.Source,
		UpdatedAt:         c.UpdatedAt,
	}
}

// Money renders a price with its unit at two decimals
func Money(unit string, v float64) string {
	return unit + decimal.NewFromFloat(v).StringFixed(2)
}

func direction(change float64) string {
	switch {
	case change > 0:
		return Positive
	case change < 0:
		return Negative
	default:
		return Neutral
	}
}

// MainChart labels a main-chart series by its interval
func (p *Presenter) MainChart(inst market.Instrument, interval string, points []market.Point) Chart {
	return p.chart(inst, market.IntervalKey(interval), points, func(t time.Time) string {
		return p.IntervalLabel(t, interval)
	})
}

// OverviewChart labels an overview series by its period
func (p *Presenter) OverviewChart(inst market.Instrument, period string, points []market.Point) Chart {
	return p.chart(inst, market.PeriodKey(period), points, func(t time.Time) string {
		return p.PeriodLabel(t, period)
	})
}

func (p *Presenter) chart(inst market.Instrument, wk market.WindowKey, points []market.Point, label func(time.Time) string) Chart {
	c := Chart{
		Instrument: inst.Key,
		Name:       inst.Name,
		Window:     wk.String(),
		Unit:       inst.Unit,
		Prices:     make([]float64, len(points)),
		Timestamps: make([]time.Time, len(points)),
		Labels:     make([]string, len(points)),
	}
	for i, pt := range points {
		c.Prices[i] = pt.Price
		c.Timestamps[i] = pt.Time
		c.Labels[i] = label(pt.Time)
	}
	return c
}

// IntervalLabel formats a main-chart timestamp: clock time for intraday bars,
// month and day for 4hr/1d, month, day and year for 1w/1m.
func (p *Presenter) IntervalLabel(t time.Time, interval string) string {
	t = t.In(p.loc)
	switch interval {
	case "4hr", "1d":
		return t.Format("Jan 2")
	case "1w", "1m":
		return t.Format("Jan 2, 06")
	default:
		return t.Format("15:04")
	}
}

// PeriodLabel formats an overview timestamp for the given period
func (p *Presenter) PeriodLabel(t time.Time, period string) string {
	t = t.In(p.loc)
	switch {
	case period == "1D":
		return t.Format("15:04")
	case period == "1W":
		return t.Format("Jan 2, 15h")
	case strings.Contains(period, "Y") || period == "MAX":
		return t.Format("Jan 2, 2006")
	default:
		return t.Format("Jan 2")
	}
}

// PeriodPerformance is (last-first)/first*100 over the window. With fewer than
// two points it returns a random estimate in ±5%.
func (p *Presenter) PeriodPerformance(period market.Period, points []market.Point) Performance {
	perf := Performance{Period: period.Key, Label: period.Label}

	if len(points) >= 2 && points[0].Price != 0 {
		first, last := points[0].Price, points[len(points)-1].Price
		perf.ChangePercent = (last - first) / first * 100
	} else {
		p.mu.Lock()
		perf.ChangePercent = (p.random.Float64() - 0.5) * 10
		p.mu.Unlock()
		perf.Estimated = true
	}

	sign := ""
	perf.Direction = Negative
	if perf.ChangePercent >= 0 {
		sign = "+"
		perf.Direction = Positive
	}
	perf.Text = sign + decimal.NewFromFloat(perf.ChangePercent).StringFixed(2) + "%"
	return perf
}
