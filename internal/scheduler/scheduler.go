// Package scheduler drives the periodic fetch-all cycle and the on-demand
// window refetches triggered by selection changes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/commodity-dashboard/internal/adapters"
	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
	"github.com/Rajchodisetti/commodity-dashboard/internal/observ"
	"github.com/Rajchodisetti/commodity-dashboard/internal/series"
)

// ErrRefreshInProgress is returned when a fetch-all cycle is already running
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Event types handed to the Publisher
const (
	EventPrices    = "prices"
	EventChart     = "chart"
	EventSelection = "selection"
)

// Chart targets
const (
	TargetMain     = "main"
	TargetOverview = "overview"
)

// States
const (
	StateIdle        = "idle"
	StateFetchingAll = "fetching_all"
	StateFetchingOne = "fetching_one"
)

// scheduleParser is the six-field (seconds first) cron syntax plus descriptors
var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule checks spec against the syntax Start accepts
func ParseSchedule(spec string) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

// Publisher receives redraw notifications
type Publisher interface {
	Publish(eventType string, payload any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// Config controls cadence and pacing
type Config struct {
	Schedule     string        // cron spec, e.g. "@every 60s"
	RequestDelay time.Duration // minimum spacing between fetch-all requests
	Selection    Selection     // initial selection; empty fields take catalog defaults
}

// Selection is the instrument, period and interval the dashboard is focused on
type Selection struct {
	Instrument string `json:"instrument"`
	Period     string `json:"period"`
	Interval   string `json:"interval"`
}

// Deps are the collaborators the scheduler drives
type Deps struct {
	Catalog   *market.Catalog
	Source    adapters.QuoteSource
	Scaler    *adapters.Scaler
	Generator *adapters.Generator
	Store     *series.Store
	Health    *adapters.ProviderHealth
	Publisher Publisher
	Logger    *zap.Logger
	Now       func() time.Time // clock for refresh and countdown times; defaults to time.Now
}

// PricesEvent is published after each fetch-all cycle
type PricesEvent struct {
	CycleID   string        `json:"cycle_id"`
	Cards     []series.Card `json:"cards"`
	Synthetic []string      `json:"synthetic,omitempty"`
}

// ChartEvent is published after a window has been applied
type ChartEvent struct {
	Target     string `json:"target"`
	Instrument string `json:"instrument"`
	Window     string `json:"window"`
	Synthetic  bool   `json:"synthetic"`
}

// Status is a snapshot for the status endpoint
type Status struct {
	Selection   Selection                `json:"selection"`
	State       string                   `json:"state"`
	Refreshing  bool                     `json:"refreshing"`
	LastRefresh time.Time                `json:"last_refresh"`
	NextRefresh time.Time                `json:"next_refresh"`
	CountdownS  int                      `json:"countdown_seconds"`
	Provider    string                   `json:"provider"`
	Health      *adapters.HealthSnapshot `json:"health,omitempty"`
}

// Scheduler owns all writes to the series store
type Scheduler struct {
	cfg     Config
	catalog *market.Catalog
	source  adapters.QuoteSource
	scaler  *adapters.Scaler
	gen     *adapters.Generator
	store   *series.Store
	health  *adapters.ProviderHealth
	pub     Publisher
	logger  *zap.Logger
	pacer   *rate.Limiter
	now     func() time.Time

	cron  *cron.Cron
	entry cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	sel         Selection
	refreshing  bool
	inflight    int
	lastRefresh time.Time
}

// New validates the configuration, seeds the store with a synthetic backfill
// for every instrument and returns an idle scheduler.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Catalog == nil || deps.Source == nil || deps.Store == nil {
		return nil, fmt.Errorf("scheduler: catalog, source and store are required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 60s"
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = time.Second
	}
	if deps.Scaler == nil {
		deps.Scaler = adapters.NewScaler(deps.Catalog.Instruments())
	}
	if deps.Generator == nil {
		deps.Generator = adapters.NewGenerator()
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Health == nil {
		deps.Health = adapters.NewProviderHealth(deps.Source.Name(), deps.Logger)
	}

	sel, err := defaultSelection(deps.Catalog, cfg.Selection)
	if err != nil {
		return nil, err
	}

	cronLog := cron.PrintfLogger(zap.NewStdLog(deps.Logger))
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cfg:     cfg,
		catalog: deps.Catalog,
		source:  deps.Source,
		scaler:  deps.Scaler,
		gen:     deps.Generator,
		store:   deps.Store,
		health:  deps.Health,
		pub:     deps.Publisher,
		logger:  deps.Logger,
		pacer:   rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		now:     deps.Now,
		cron:    cron.New(cron.WithParser(scheduleParser), cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog))),
		ctx:     ctx,
		cancel:  cancel,
		sel:     sel,
	}
	s.seed()
	return s, nil
}

func defaultSelection(c *market.Catalog, want Selection) (Selection, error) {
	sel := want
	if sel.Instrument == "" {
		sel.Instrument = c.Keys()[0]
	}
	if sel.Period == "" {
		sel.Period = "1D"
		if _, err := c.Period(sel.Period); err != nil && len(c.Periods()) > 0 {
			sel.Period = c.Periods()[0].Key
		}
	}
	if sel.Interval == "" {
		sel.Interval = "1min"
		if _, err := c.Interval(sel.Interval); err != nil && len(c.Intervals()) > 0 {
			sel.Interval = c.Intervals()[0].Key
		}
	}

	if _, err := c.Instrument(sel.Instrument); err != nil {
		return Selection{}, fmt.Errorf("scheduler: initial selection: %w", err)
	}
	if _, err := c.Period(sel.Period); err != nil {
		return Selection{}, fmt.Errorf("scheduler: initial selection: %w", err)
	}
	if _, err := c.Interval(sel.Interval); err != nil {
		return Selection{}, fmt.Errorf("scheduler: initial selection: %w", err)
	}
	return sel, nil
}

// seed fills each buffer with capacity synthetic points one minute apart
func (s *Scheduler) seed() {
	for _, inst := range s.catalog.Instruments() {
		s.store.Init(inst.Key, inst.BasePrice, s.gen.Backfill(inst, s.store.Capacity(), time.Minute))
	}
}

// Start registers the periodic job and kicks off the initial load in the background
func (s *Scheduler) Start() error {
	id, err := s.cron.AddFunc(s.cfg.Schedule, s.tick)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Schedule, err)
	}
	s.entry = id
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick()
		s.LoadSelection()
	}()

	s.logger.Info("scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("request_delay", s.cfg.RequestDelay),
		zap.Int("instruments", len(s.catalog.Keys())))
	return nil
}

// Stop halts the schedule, cancels in-flight work and waits for it to drain
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Wait blocks until every on-demand fetch started so far has finished
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) tick() {
	if err := s.RefreshAll(s.ctx); err != nil && !errors.Is(err, ErrRefreshInProgress) {
		s.logger.Warn("refresh cycle aborted", zap.Error(err))
	}
}

// RefreshAll fetches the latest quote for every instrument in configured order,
// one at a time through the pacer. A failed instrument gets a synthetic price
// and the cycle moves on. Overlapping calls return ErrRefreshInProgress.
func (s *Scheduler) RefreshAll(ctx context.Context) error {
	if !s.beginRefresh() {
		return ErrRefreshInProgress
	}
	return s.runCycle(ctx)
}

// TriggerRefresh starts a fetch-all cycle in the background, or returns
// ErrRefreshInProgress when one is already running.
func (s *Scheduler) TriggerRefresh() error {
	if !s.beginRefresh() {
		return ErrRefreshInProgress
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.runCycle(s.ctx); err != nil {
			s.logger.Warn("manual refresh aborted", zap.Error(err))
		}
	}()
	return nil
}

func (s *Scheduler) beginRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshing {
		observ.IncCounter("refresh_coalesced_total", nil)
		return false
	}
	s.refreshing = true
	return true
}

// runCycle performs one fetch-all; the caller has won beginRefresh
func (s *Scheduler) runCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	start := time.Now()
	var synthetic []string

	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.lastRefresh = s.now()
		s.mu.Unlock()
	}()

	for _, inst := range s.catalog.Instruments() {
		if err := s.pacer.Wait(ctx); err != nil {
			return fmt.Errorf("refresh cycle %s: %w", cycleID, err)
		}
		if !s.refreshOne(ctx, inst) {
			synthetic = append(synthetic, inst.Key)
		}
	}

	observ.RecordDuration("refresh_cycle", time.Since(start), nil)
	observ.IncCounter("refresh_cycles_total", nil)
	s.logger.Info("refresh cycle done",
		zap.String("cycle_id", cycleID),
		zap.Int("instruments", len(s.catalog.Keys())),
		zap.Strings("synthetic", synthetic),
		zap.Duration("elapsed", time.Since(start)))

	s.pub.Publish(EventPrices, PricesEvent{CycleID: cycleID, Cards: s.store.Cards(), Synthetic: synthetic})
	return nil
}

// refreshOne records one live or synthetic price and reports whether it was live
func (s *Scheduler) refreshOne(ctx context.Context, inst market.Instrument) bool {
	q, err := s.source.FetchLatest(ctx, inst)
	if err == nil {
		q.Price = s.scaler.Scale(inst.Key, q.Price)
		if verr := adapters.ValidateQuote(q); verr != nil {
			err = adapters.NewMalformedError(inst.ProxySymbol, "invalid quote", verr)
		}
	}

	live := err == nil
	if live {
		s.health.RecordSuccess()
		observ.IncCounter("quote_fetch_total", map[string]string{"instrument": inst.Key, "result": "ok"})
	} else {
		kind := adapters.KindOf(err)
		s.health.RecordError(err)
		observ.IncCounter("quote_fetch_total", map[string]string{"instrument": inst.Key, "result": string(kind)})
		observ.IncCounter("synthetic_quotes_total", map[string]string{"instrument": inst.Key})
		s.logger.Warn("live quote unavailable, using synthetic",
			zap.String("instrument", inst.Key),
			zap.String("kind", string(kind)),
			zap.Error(err))

		card, cerr := s.store.Card(inst.Key)
		base := inst.BasePrice
		if cerr == nil && card.CurrentPrice > 0 {
			base = card.CurrentPrice
		}
		q = s.gen.Quote(inst, base)
	}

	if err := s.store.RecordQuote(inst.Key, q.Price, s.now(), q.Source); err != nil {
		s.logger.Error("record quote", zap.String("instrument", inst.Key), zap.Error(err))
		return false
	}
	return live
}

// Selection returns the active selection
func (s *Scheduler) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// SelectInstrument focuses an instrument and refetches its overview and main windows
func (s *Scheduler) SelectInstrument(key string) error {
	inst, err := s.catalog.Instrument(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sel.Instrument = key
	sel := s.sel
	s.mu.Unlock()

	period, _ := s.catalog.Period(sel.Period)
	interval, _ := s.catalog.Interval(sel.Interval)

	s.pub.Publish(EventSelection, sel)
	s.spawn(inst, period.Spec(), TargetOverview)
	s.spawn(inst, interval.Spec(), TargetMain)
	return nil
}

// SelectPeriod switches the overview period and refetches that window. The
// redraw notification targets the main chart.
func (s *Scheduler) SelectPeriod(key string) error {
	period, err := s.catalog.Period(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sel.Period = key
	sel := s.sel
	s.mu.Unlock()

	inst, _ := s.catalog.Instrument(sel.Instrument)
	s.pub.Publish(EventSelection, sel)
	s.spawn(inst, period.Spec(), TargetMain)
	return nil
}

// SelectInterval switches the main-chart interval and refetches that window
func (s *Scheduler) SelectInterval(key string) error {
	interval, err := s.catalog.Interval(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sel.Interval = key
	sel := s.sel
	s.mu.Unlock()

	inst, _ := s.catalog.Instrument(sel.Instrument)
	s.pub.Publish(EventSelection, sel)
	s.spawn(inst, interval.Spec(), TargetMain)
	return nil
}

// Select applies every non-empty field of req at once and refetches only the
// windows of the resulting selection. Nothing changes if any field is unknown.
func (s *Scheduler) Select(req Selection) (Selection, error) {
	if req.Instrument != "" {
		if _, err := s.catalog.Instrument(req.Instrument); err != nil {
			return s.Selection(), err
		}
	}
	if req.Period != "" {
		if _, err := s.catalog.Period(req.Period); err != nil {
			return s.Selection(), err
		}
	}
	if req.Interval != "" {
		if _, err := s.catalog.Interval(req.Interval); err != nil {
			return s.Selection(), err
		}
	}

	s.mu.Lock()
	prev := s.sel
	if req.Instrument != "" {
		s.sel.Instrument = req.Instrument
	}
	if req.Period != "" {
		s.sel.Period = req.Period
	}
	if req.Interval != "" {
		s.sel.Interval = req.Interval
	}
	sel := s.sel
	s.mu.Unlock()

	if sel == prev {
		return sel, nil
	}

	inst, _ := s.catalog.Instrument(sel.Instrument)
	period, _ := s.catalog.Period(sel.Period)
	interval, _ := s.catalog.Interval(sel.Interval)

	s.pub.Publish(EventSelection, sel)
	switch {
	case sel.Instrument != prev.Instrument:
		s.spawn(inst, period.Spec(), TargetOverview)
		s.spawn(inst, interval.Spec(), TargetMain)
	default:
		// Period redraws notify the main chart, as SelectPeriod does
		if sel.Period != prev.Period {
			s.spawn(inst, period.Spec(), TargetMain)
		}
		if sel.Interval != prev.Interval {
			s.spawn(inst, interval.Spec(), TargetMain)
		}
	}
	return sel, nil
}

// LoadSelection fetches both windows of the active selection and waits for them
func (s *Scheduler) LoadSelection() {
	sel := s.Selection()
	inst, _ := s.catalog.Instrument(sel.Instrument)
	period, _ := s.catalog.Period(sel.Period)
	interval, _ := s.catalog.Interval(sel.Interval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.loadWindow(s.ctx, inst, period.Spec(), TargetOverview) }()
	go func() { defer wg.Done(); s.loadWindow(s.ctx, inst, interval.Spec(), TargetMain) }()
	wg.Wait()
}

func (s *Scheduler) spawn(inst market.Instrument, spec market.WindowSpec, target string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loadWindow(s.ctx, inst, spec, target)
	}()
}

// loadWindow fetches one window and applies it only if the selection still
// points at it. On failure a loaded window is kept; otherwise a synthetic one
// is generated.
func (s *Scheduler) loadWindow(ctx context.Context, inst market.Instrument, spec market.WindowSpec, target string) {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	start := time.Now()
	points, err := s.source.FetchHistory(ctx, inst, spec)
	if err == nil && len(points) == 0 {
		err = adapters.NewMalformedError(inst.ProxySymbol, "empty window", nil)
	}
	observ.RecordDuration("window_fetch", time.Since(start), map[string]string{"granularity": spec.Granularity()})

	labels := map[string]string{"instrument": inst.Key, "window": spec.Key.String()}
	if err == nil {
		points = s.scaler.ScalePoints(inst.Key, points)
		s.health.RecordSuccess()
		labels["result"] = "ok"
	} else {
		s.health.RecordError(err)
		labels["result"] = string(adapters.KindOf(err))
	}
	observ.IncCounter("window_fetch_total", labels)

	s.mu.Lock()
	if !s.matchesLocked(inst.Key, spec.Key) {
		s.mu.Unlock()
		observ.IncCounter("window_stale_discarded_total", map[string]string{"window": spec.Key.String()})
		s.logger.Debug("discarding stale window",
			zap.String("instrument", inst.Key),
			zap.Stringer("window", spec.Key))
		return
	}

	synthetic := false
	if err != nil {
		if s.store.HasWindow(inst.Key, spec.Key) {
			s.mu.Unlock()
			s.logger.Warn("window refetch failed, keeping prior window",
				zap.String("instrument", inst.Key),
				zap.Stringer("window", spec.Key),
				zap.Error(err))
			return
		}
		s.logger.Warn("window unavailable, using synthetic",
			zap.String("instrument", inst.Key),
			zap.Stringer("window", spec.Key),
			zap.Error(err))
		points = s.gen.Window(inst, spec)
		synthetic = true
	}
	applyErr := s.store.ReplaceWindow(inst.Key, spec.Key, points)
	s.mu.Unlock()

	if applyErr != nil {
		s.logger.Error("replace window", zap.String("instrument", inst.Key), zap.Error(applyErr))
		return
	}
	s.pub.Publish(EventChart, ChartEvent{
		Target:     target,
		Instrument: inst.Key,
		Window:     spec.Key.String(),
		Synthetic:  synthetic,
	})
}

func (s *Scheduler) matchesLocked(key string, wk market.WindowKey) bool {
	if s.sel.Instrument != key {
		return false
	}
	switch wk.Kind {
	case market.KindPeriod:
		return s.sel.Period == wk.Name
	case market.KindInterval:
		return s.sel.Interval == wk.Name
	}
	return false
}

// Refreshing reports whether a fetch-all cycle is running
func (s *Scheduler) Refreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshing
}

// LastRefresh is when the last fetch-all cycle finished
func (s *Scheduler) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh
}

// NextRefresh is the next scheduled cycle, zero before Start
func (s *Scheduler) NextRefresh() time.Time {
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Countdown is the time left until NextRefresh, never negative
func (s *Scheduler) Countdown() time.Duration {
	next := s.NextRefresh()
	if next.IsZero() {
		return 0
	}
	if d := next.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}

// State reports the scheduler state machine position
func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.refreshing:
		return StateFetchingAll
	case s.inflight > 0:
		return StateFetchingOne
	default:
		return StateIdle
	}
}

// Status gathers everything the status endpoint reports
func (s *Scheduler) Status() Status {
	health := s.health.Snapshot()
	st := Status{
		Selection:   s.Selection(),
		State:       s.State(),
		Refreshing:  s.Refreshing(),
		LastRefresh: s.LastRefresh(),
		NextRefresh: s.NextRefresh(),
		CountdownS:  int(s.Countdown().Round(time.Second) / time.Second),
		Provider:    s.source.Name(),
		Health:      &health,
	}
	return st
}
