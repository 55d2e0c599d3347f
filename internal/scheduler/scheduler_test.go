package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/commodity-dashboard/internal/adapters"
	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
	"github.com/Rajchodisetti/commodity-dashboard/internal/observ"
	"github.com/Rajchodisetti/commodity-dashboard/internal/series"
)

type event struct {
	kind    string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(kind string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind, payload})
}

func (r *recorder) charts() []ChartEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ChartEvent
	for _, e := range r.events {
		if ce, ok := e.payload.(ChartEvent); ok {
			out = append(out, ce)
		}
	}
	return out
}

// gatedSource blocks history fetches for gated symbols until released
type gatedSource struct {
	*adapters.MockSource
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{MockSource: adapters.NewMockSource(), gates: map[string]chan struct{}{}}
}

func (g *gatedSource) gate(symbol string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch := make(chan struct{})
	g.gates[symbol] = ch
	return ch
}

func (g *gatedSource) FetchHistory(ctx context.Context, inst market.Instrument, spec market.WindowSpec) ([]market.Point, error) {
	g.mu.Lock()
	ch := g.gates[inst.ProxySymbol]
	g.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return g.MockSource.FetchHistory(ctx, inst, spec)
}

type harness struct {
	sched  *Scheduler
	store  *series.Store
	source *gatedSource
	pub    *recorder
}

func newHarness(t *testing.T, delay time.Duration) *harness {
	t.Helper()
	return newHarnessAt(t, delay, nil)
}

// newHarnessAt builds a harness whose scheduler reads now for refresh times
func newHarnessAt(t *testing.T, delay time.Duration, now func() time.Time) *harness {
	t.Helper()
	observ.Reset()

	catalog, err := market.NewCatalog(market.DefaultInstruments(), market.DefaultPeriods(), market.DefaultIntervals())
	require.NoError(t, err)

	h := &harness{
		store:  series.NewStore(series.DefaultCapacity),
		source: newGatedSource(),
		pub:    &recorder{},
	}
	h.sched, err = New(Config{Schedule: "@every 1h", RequestDelay: delay}, Deps{
		Catalog:   catalog,
		Source:    h.source,
		Generator: adapters.NewGeneratorWith(rand.NewSource(1), time.Now),
		Store:     h.store,
		Publisher: h.pub,
		Now:       now,
	})
	require.NoError(t, err)
	return h
}

func TestNewSeedsEveryInstrument(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	assert.Equal(t, Selection{Instrument: "CL=F", Period: "1D", Interval: "1min"}, h.sched.Selection())
	for _, key := range h.store.Keys() {
		buf, err := h.store.Series(key)
		require.NoError(t, err)
		assert.Len(t, buf, series.DefaultCapacity, key)
	}
	assert.Equal(t, StateIdle, h.sched.State())
}

func TestNewRejectsBadSelection(t *testing.T) {
	catalog, err := market.NewCatalog(market.DefaultInstruments(), market.DefaultPeriods(), market.DefaultIntervals())
	require.NoError(t, err)

	_, err = New(Config{Selection: Selection{Instrument: "XX=F"}}, Deps{
		Catalog: catalog,
		Source:  adapters.NewMockSource(),
		Store:   series.NewStore(10),
	})
	assert.ErrorIs(t, err, market.ErrUnknownInstrument)
}

func TestRefreshAllIsPacedSequentially(t *testing.T) {
	const delay = 40 * time.Millisecond
	h := newHarness(t, delay)

	start := time.Now()
	require.NoError(t, h.sched.RefreshAll(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 6*delay, "7 instruments need at least 6 delays")

	calls := h.source.Calls()
	require.Len(t, calls, 7)
	assert.Equal(t, "USO latest", calls[0])
	assert.Equal(t, "SOYB latest", calls[6])
	assert.False(t, h.sched.LastRefresh().IsZero())
}

func TestRateLimitedInstrumentFallsBackAlone(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.source.SetFailure("UNG", adapters.FailureRateLimited)

	require.NoError(t, h.sched.RefreshAll(context.Background()))

	ng, err := h.store.Card("NG=F")
	require.NoError(t, err)
	assert.Equal(t, market.SourceSynthetic, ng.Source)
	assert.InDelta(t, 2.85, ng.CurrentPrice, 2.85*0.03)

	gold, err := h.store.Card("GC=F")
	require.NoError(t, err)
	assert.Equal(t, market.SourceMock, gold.Source)
	assert.InDelta(t, 2040.0, gold.CurrentPrice, 1e-9)

	crude, _ := h.store.Card("CL=F")
	assert.InDelta(t, 75.6, crude.CurrentPrice, 1e-9)
	assert.Equal(t, market.SourceMock, crude.Source)

	assert.Equal(t, int64(1), observ.Counter("quote_fetch_total", map[string]string{"instrument": "NG=F", "result": "rate_limited"}))
	assert.Equal(t, int64(1), observ.CounterTotal("synthetic_quotes_total"))

	h.pub.mu.Lock()
	last := h.pub.events[len(h.pub.events)-1]
	h.pub.mu.Unlock()
	require.Equal(t, EventPrices, last.kind)
	assert.Equal(t, []string{"NG=F"}, last.payload.(PricesEvent).Synthetic)
}

func TestManualRefreshIsCoalesced(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.source.SetLatency(30 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- h.sched.RefreshAll(context.Background()) }()

	require.Eventually(t, h.sched.Refreshing, time.Second, time.Millisecond)
	assert.Equal(t, StateFetchingAll, h.sched.State())
	assert.ErrorIs(t, h.sched.RefreshAll(context.Background()), ErrRefreshInProgress)

	assert.ErrorIs(t, h.sched.TriggerRefresh(), ErrRefreshInProgress)

	require.NoError(t, <-done)
	assert.Equal(t, int64(2), observ.CounterTotal("refresh_coalesced_total"))
	assert.Len(t, h.source.Calls(), 7, "coalesced call must not fetch")
}

func TestTriggerRefreshRunsInBackground(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	require.NoError(t, h.sched.TriggerRefresh())
	h.sched.Wait()

	assert.False(t, h.sched.Refreshing())
	assert.Len(t, h.source.Calls(), 7)
	assert.Equal(t, int64(1), observ.CounterTotal("refresh_cycles_total"))
}

func TestStaleSelectionIsDiscarded(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	release := h.source.gate("BNO")

	require.NoError(t, h.sched.SelectInstrument("BZ=F"))
	require.NoError(t, h.sched.SelectInstrument("CL=F"))

	// CL=F windows arrive while BZ=F is still pending
	require.Eventually(t, func() bool {
		return h.store.HasWindow("CL=F", market.IntervalKey("1min")) && h.store.HasWindow("CL=F", market.PeriodKey("1D"))
	}, time.Second, time.Millisecond)

	close(release)
	h.sched.Wait()

	assert.False(t, h.store.HasWindow("BZ=F", market.IntervalKey("1min")))
	assert.False(t, h.store.HasWindow("BZ=F", market.PeriodKey("1D")))
	assert.Equal(t, int64(2), observ.CounterTotal("window_stale_discarded_total"))

	for _, ce := range h.pub.charts() {
		assert.Equal(t, "CL=F", ce.Instrument)
	}
}

func TestSelectIntervalKeepsPriorWindowOnFailure(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	wk := market.IntervalKey("5min")

	require.NoError(t, h.sched.SelectInterval("5min"))
	h.sched.Wait()
	first, err := h.store.Window("CL=F", wk)
	require.NoError(t, err)
	assert.InDelta(t, 75.6, first[0].Price, 1e-9)

	h.source.SetFailure("USO", adapters.FailureProvider)
	require.NoError(t, h.sched.SelectInterval("5min"))
	h.sched.Wait()

	again, err := h.store.Window("CL=F", wk)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestSelectIntervalSynthesizesMissingWindow(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.source.SetFailure("USO", adapters.FailureTransport)

	require.NoError(t, h.sched.SelectInterval("1w"))
	h.sched.Wait()

	w, err := h.store.Window("CL=F", market.IntervalKey("1w"))
	require.NoError(t, err)
	assert.Len(t, w, 52)
	for _, p := range w {
		assert.InDelta(t, 75.50, p.Price, 75.50*0.02)
	}

	charts := h.pub.charts()
	require.Len(t, charts, 1)
	assert.True(t, charts[0].Synthetic)
	assert.Equal(t, TargetMain, charts[0].Target)
}

func TestSelectPeriodNotifiesMainChart(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	require.NoError(t, h.sched.SelectPeriod("1Y"))
	h.sched.Wait()

	assert.True(t, h.store.HasWindow("CL=F", market.PeriodKey("1Y")))
	charts := h.pub.charts()
	require.Len(t, charts, 1)
	assert.Equal(t, TargetMain, charts[0].Target)
	assert.Equal(t, "period:1Y", charts[0].Window)
}

func TestSelectRejectsUnknownKeys(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	assert.ErrorIs(t, h.sched.SelectInstrument("XX=F"), market.ErrUnknownInstrument)
	assert.ErrorIs(t, h.sched.SelectPeriod("2D"), market.ErrUnknownPeriod)
	assert.ErrorIs(t, h.sched.SelectInterval("2min"), market.ErrUnknownInterval)
	assert.Equal(t, Selection{Instrument: "CL=F", Period: "1D", Interval: "1min"}, h.sched.Selection())
}

func TestSelectFetchesOnlyFinalWindows(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	sel, err := h.sched.Select(Selection{Instrument: "BZ=F", Period: "1Y", Interval: "5min"})
	require.NoError(t, err)
	assert.Equal(t, Selection{Instrument: "BZ=F", Period: "1Y", Interval: "5min"}, sel)
	h.sched.Wait()

	assert.ElementsMatch(t, []string{"BNO period:1Y", "BNO interval:5min"}, h.source.Calls())
	assert.True(t, h.store.HasWindow("BZ=F", market.PeriodKey("1Y")))
	assert.True(t, h.store.HasWindow("BZ=F", market.IntervalKey("5min")))
	assert.Zero(t, observ.CounterTotal("window_stale_discarded_total"))

	var targets []string
	for _, ce := range h.pub.charts() {
		assert.Equal(t, "BZ=F", ce.Instrument)
		targets = append(targets, ce.Target)
	}
	assert.ElementsMatch(t, []string{TargetOverview, TargetMain}, targets)
}

func TestSelectPartialAndNoop(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	// Same values as the active selection fetch nothing
	sel, err := h.sched.Select(Selection{Instrument: "CL=F", Interval: "1min"})
	require.NoError(t, err)
	h.sched.Wait()
	assert.Equal(t, Selection{Instrument: "CL=F", Period: "1D", Interval: "1min"}, sel)
	assert.Empty(t, h.source.Calls())

	sel, err = h.sched.Select(Selection{Period: "1M"})
	require.NoError(t, err)
	h.sched.Wait()
	assert.Equal(t, Selection{Instrument: "CL=F", Period: "1M", Interval: "1min"}, sel)
	assert.Equal(t, []string{"USO period:1M"}, h.source.Calls())

	charts := h.pub.charts()
	require.Len(t, charts, 1)
	assert.Equal(t, TargetMain, charts[0].Target)
}

func TestSelectRejectsWholeRequest(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	sel, err := h.sched.Select(Selection{Instrument: "GC=F", Period: "2D"})
	assert.ErrorIs(t, err, market.ErrUnknownPeriod)
	assert.Equal(t, Selection{Instrument: "CL=F", Period: "1D", Interval: "1min"}, sel)
	assert.Equal(t, sel, h.sched.Selection())

	h.sched.Wait()
	assert.Empty(t, h.source.Calls())
}

func TestInjectedClockDrivesRefreshTimes(t *testing.T) {
	t0 := time.Date(2020, 1, 2, 15, 4, 5, 0, time.UTC)
	h := newHarnessAt(t, time.Millisecond, func() time.Time { return t0 })

	require.NoError(t, h.sched.RefreshAll(context.Background()))
	assert.True(t, h.sched.LastRefresh().Equal(t0))

	card, err := h.store.Card("GC=F")
	require.NoError(t, err)
	assert.True(t, card.UpdatedAt.Equal(t0))

	// The schedule runs on wall time, so a clock stuck in the past sees the
	// next cycle more than an hour out
	require.NoError(t, h.sched.Start())
	h.sched.Wait()
	assert.Greater(t, h.sched.Countdown(), time.Hour)
	h.sched.Stop()
}

func TestStartRunsInitialLoad(t *testing.T) {
	h := newHarness(t, time.Millisecond)

	require.NoError(t, h.sched.Start())
	h.sched.Wait()

	assert.False(t, h.sched.LastRefresh().IsZero())
	assert.True(t, h.store.HasWindow("CL=F", market.PeriodKey("1D")))
	assert.True(t, h.store.HasWindow("CL=F", market.IntervalKey("1min")))

	next := h.sched.NextRefresh()
	assert.False(t, next.IsZero())
	assert.LessOrEqual(t, h.sched.Countdown(), time.Hour)

	st := h.sched.Status()
	assert.Equal(t, "mock", st.Provider)
	assert.Equal(t, "healthy", st.Health.Status)

	h.sched.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.sched.cfg.Schedule = "not a schedule"
	assert.Error(t, h.sched.Start())
}
