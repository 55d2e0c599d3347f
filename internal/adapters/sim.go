package adapters

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
)

// Generator produces synthetic prices when the provider cannot. Every price
// stays within base*(1±volatility): a uniform walk of ±vol/2 plus a slow
// sinusoidal trend of ±vol/2.
type Generator struct {
	mu     sync.Mutex
	random *rand.Rand
	now    func() time.Time
}

// NewGenerator creates a generator seeded from the wall clock
func NewGenerator() *Generator {
	return NewGeneratorWith(rand.NewSource(time.Now().UnixNano()), time.Now)
}

// NewGeneratorWith injects the random source and clock, for tests
func NewGeneratorWith(src rand.Source, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{random: rand.New(src), now: now}
}

// NextPrice returns base * (1 + walk + trend)
func (g *Generator) NextPrice(inst market.Instrument, base float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextLocked(inst, base, g.now())
}

func (g *Generator) nextLocked(inst market.Instrument, base float64, now time.Time) float64 {
	walk := (g.random.Float64() - 0.5) * inst.Volatility
	trend := math.Sin(float64(now.UnixMilli())/1e6) * inst.Volatility * 0.5
	return base * (1 + walk + trend)
}

// Quote wraps NextPrice as a synthetic QuoteRecord stamped with the generator clock
func (g *Generator) Quote(inst market.Instrument, base float64) market.QuoteRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	return market.QuoteRecord{
		InstrumentKey: inst.Key,
		Price:         g.nextLocked(inst, base, now),
		ObservedAt:    now,
		Source:        market.SourceSynthetic,
	}
}

// Window builds spec.MaxPoints chronological points around the instrument's
// base price, the last one at now. Period windows carry a random volume.
func (g *Generator) Window(inst market.Instrument, spec market.WindowSpec) []market.Point {
	n := spec.MaxPoints
	if n <= 0 || n > market.MaxWindowPoints {
		n = market.MaxWindowPoints
	}
	step := spec.Step
	if step <= 0 {
		step = time.Minute
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	points := make([]market.Point, n)
	for i := range points {
		p := market.Point{
			Time:  now.Add(-time.Duration(n-1-i) * step),
			Price: g.nextLocked(inst, inst.BasePrice, now),
		}
		if spec.Key.Kind == market.KindPeriod {
			p.Volume = g.random.Float64() * 1e6
		}
		points[i] = p
	}
	return points
}

// Backfill returns n points spaced step apart ending at now, used to seed the
// rolling buffer before the first live fetch.
func (g *Generator) Backfill(inst market.Instrument, n int, step time.Duration) []market.Point {
	if n <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	points := make([]market.Point, n)
	for i := range points {
		points[i] = market.Point{
			Time:  now.Add(-time.Duration(n-1-i) * step),
			Price: g.nextLocked(inst, inst.BasePrice, now),
		}
	}
	return points
}
