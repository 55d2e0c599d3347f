package series

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
)

func backfill(n int, price float64, end time.Time) []market.Point {
	points := make([]market.Point, n)
	for i := range points {
		points[i] = market.Point{Time: end.Add(-time.Duration(n-1-i) * time.Minute), Price: price}
	}
	return points
}

func TestInitSeedsBufferWithinCap(t *testing.T) {
	s := NewStore(5)
	now := time.Now()
	s.Init("CL=F", 75.5, backfill(8, 75.5, now))

	buf, err := s.Series("CL=F")
	require.NoError(t, err)
	assert.Len(t, buf, 5)
	assert.Equal(t, now, buf[4].Time)

	card, err := s.Card("CL=F")
	require.NoError(t, err)
	assert.Equal(t, 75.5, card.CurrentPrice)
	assert.Equal(t, 75.5, card.PreviousPrice)
	assert.Zero(t, card.Change)
	assert.Zero(t, card.ChangePercent)
}

func TestRecordQuoteChangeFields(t *testing.T) {
	tests := []struct {
		name       string
		base       float64
		price      float64
		wantChange float64
		wantPct    float64
	}{
		{"rise", 100, 105, 5, 5},
		{"fall", 80, 76, -4, -5},
		{"flat", 2.85, 2.85, 0, 0},
		{"zero previous", 0, 10, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(DefaultCapacity)
			s.Init("NG=F", tt.base, nil)

			require.NoError(t, s.RecordQuote("NG=F", tt.price, time.Now(), market.SourceAlphaVantage))
			card, err := s.Card("NG=F")
			require.NoError(t, err)

			assert.Equal(t, tt.base, card.PreviousPrice)
			assert.Equal(t, tt.price, card.CurrentPrice)
			assert.InDelta(t, tt.wantChange, card.Change, 1e-9)
			assert.InDelta(t, tt.wantPct, card.ChangePercent, 1e-9)
			assert.Equal(t, market.SourceAlphaVantage, card.Source)
		})
	}
}

func TestRecordQuoteFIFOEviction(t *testing.T) {
	s := NewStore(DefaultCapacity)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Init("GC=F", 2040, backfill(DefaultCapacity, 2040, start))

	for i := 1; i <= 60; i++ {
		require.NoError(t, s.RecordQuote("GC=F", 2040+float64(i), start.Add(time.Duration(i)*time.Minute), market.SourceSynthetic))
	}

	buf, err := s.Series("GC=F")
	require.NoError(t, err)
	require.Len(t, buf, DefaultCapacity)
	assert.Equal(t, 2040.0+60, buf[len(buf)-1].Price)
	assert.Equal(t, 2040.0+11, buf[0].Price)
}

func TestRecordQuoteRejects(t *testing.T) {
	s := NewStore(10)
	s.Init("SI=F", 24.5, nil)

	assert.ErrorIs(t, s.RecordQuote("XX=F", 1, time.Now(), ""), market.ErrUnknownInstrument)
	assert.ErrorIs(t, s.RecordQuote("SI=F", math.NaN(), time.Now(), ""), ErrInvalidPrice)
	assert.ErrorIs(t, s.RecordQuote("SI=F", -1, time.Now(), ""), ErrInvalidPrice)

	card, _ := s.Card("SI=F")
	assert.Equal(t, 24.5, card.CurrentPrice)
}

func TestWindows(t *testing.T) {
	s := NewStore(10)
	now := time.Now()
	s.Init("HG=F", 3.85, backfill(3, 3.85, now))
	wk := market.IntervalKey("5min")

	_, err := s.Window("HG=F", wk)
	assert.ErrorIs(t, err, ErrWindowNotFound)
	assert.False(t, s.HasWindow("HG=F", wk))

	chart, err := s.ChartSeries("HG=F", wk)
	require.NoError(t, err)
	assert.Len(t, chart, 3, "empty window falls back to buffer")

	points := backfill(7, 3.9, now)
	require.NoError(t, s.ReplaceWindow("HG=F", wk, points))
	points[0].Price = 999 // caller's slice must not alias the store

	w, err := s.Window("HG=F", wk)
	require.NoError(t, err)
	assert.Len(t, w, 7)
	assert.Equal(t, 3.9, w[0].Price)
	assert.True(t, s.HasWindow("HG=F", wk))

	chart, err = s.ChartSeries("HG=F", wk)
	require.NoError(t, err)
	assert.Len(t, chart, 7)

	require.NoError(t, s.ReplaceWindow("HG=F", wk, backfill(2, 4.0, now)))
	w, _ = s.Window("HG=F", wk)
	assert.Len(t, w, 2, "replacement is wholesale")

	assert.ErrorIs(t, s.ReplaceWindow("XX=F", wk, nil), market.ErrUnknownInstrument)
	_, err = s.ChartSeries("XX=F", wk)
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)
}

func TestCardsKeepInitOrder(t *testing.T) {
	s := NewStore(10)
	for _, inst := range market.DefaultInstruments() {
		s.Init(inst.Key, inst.BasePrice, nil)
	}
	cards := s.Cards()
	require.Len(t, cards, 7)
	assert.Equal(t, "CL=F", cards[0].Key)
	assert.Equal(t, "ZS=F", cards[6].Key)
	assert.Equal(t, cards[0].Key, s.Keys()[0])
}

func TestConcurrentReadersSeeConsistentCards(t *testing.T) {
	s := NewStore(DefaultCapacity)
	s.Init("CL=F", 100, nil)
	wk := market.PeriodKey("1D")

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			_ = s.RecordQuote("CL=F", 100+float64(i%17), time.Now(), market.SourceSynthetic)
			// Generation i has 1+i%20 points, all priced 100+i
			_ = s.ReplaceWindow("CL=F", wk, backfill(1+i%20, 100+float64(i), time.Now()))
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				card, err := s.Card("CL=F")
				if !assert.NoError(t, err) {
					return
				}
				assert.InDelta(t, card.CurrentPrice-card.PreviousPrice, card.Change, 1e-9)

				buf, _ := s.Series("CL=F")
				assert.LessOrEqual(t, len(buf), DefaultCapacity)

				if w, err := s.Window("CL=F", wk); err == nil {
					if !assert.NotEmpty(t, w) {
						return
					}
					gen := int(w[0].Price) - 100
					for _, p := range w {
						assert.Equal(t, w[0].Price, p.Price, "window mixes generations")
					}
					assert.Len(t, w, 1+gen%20, "window length does not match generation %d", gen)
				}
			}
		}()
	}
	wg.Wait()
}
