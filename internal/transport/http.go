package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
	"github.com/Rajchodisetti/commodity-dashboard/internal/observ"
	"github.com/Rajchodisetti/commodity-dashboard/internal/present"
	"github.com/Rajchodisetti/commodity-dashboard/internal/scheduler"
	"github.com/Rajchodisetti/commodity-dashboard/internal/series"
)

// ServerDeps are the read models and controls behind the API
type ServerDeps struct {
	Catalog   *market.Catalog
	Store     *series.Store
	Scheduler *scheduler.Scheduler
	Presenter *present.Presenter
	Hub       *Hub
	Logger    *zap.Logger
	Heartbeat time.Duration
}

// Server is the dashboard HTTP API
type Server struct {
	catalog *market.Catalog
	store   *series.Store
	sched   *scheduler.Scheduler
	present *present.Presenter
	hub     *Hub
	logger  *zap.Logger
	mux     *http.ServeMux
}

// NewServer wires the routes
func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Presenter == nil {
		deps.Presenter = present.New(time.UTC)
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Logger)
	}

	s := &Server{
		catalog: deps.Catalog,
		store:   deps.Store,
		sched:   deps.Scheduler,
		present: deps.Presenter,
		hub:     deps.Hub,
		logger:  deps.Logger,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/instruments", s.handleInstruments)
	s.mux.HandleFunc("GET /api/cards", s.handleCards)
	s.mux.HandleFunc("GET /api/cards/{key}", s.handleCard)
	s.mux.HandleFunc("GET /api/chart/main", s.handleMainChart)
	s.mux.HandleFunc("GET /api/chart/overview", s.handleOverviewChart)
	s.mux.HandleFunc("GET /api/performance", s.handlePerformance)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/select", s.handleSelect)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.Handle("GET /stream", NewSSEHandler(s.hub, deps.Heartbeat, s.logger))
	s.mux.Handle("GET /ws", NewWSHandler(s.hub, s.logger))
	s.mux.Handle("GET /metrics", observ.Handler())
	s.mux.Handle("GET /healthz", observ.HealthHandler())
	return s
}

// Handler returns the routes wrapped with request accounting
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.mux.ServeHTTP(w, r)
		observ.RecordDuration("http_request", time.Since(start), map[string]string{"path": r.URL.Path})
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instruments": s.catalog.Instruments(),
		"periods":     s.catalog.Periods(),
		"intervals":   s.catalog.Intervals(),
	})
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	cards := s.store.Cards()
	views := make([]present.CardView, 0, len(cards))
	for _, c := range cards {
		inst, err := s.catalog.Instrument(c.Key)
		if err != nil {
			continue
		}
		views = append(views, s.present.Card(inst, c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	inst, err := s.catalog.Instrument(key)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	card, err := s.store.Card(key)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.present.Card(inst, card))
}

func (s *Server) handleMainChart(w http.ResponseWriter, r *http.Request) {
	sel := s.sched.Selection()
	inst, err := s.catalog.Instrument(sel.Instrument)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	points, err := s.store.ChartSeries(sel.Instrument, market.IntervalKey(sel.Interval))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.present.MainChart(inst, sel.Interval, points))
}

func (s *Server) handleOverviewChart(w http.ResponseWriter, r *http.Request) {
	sel := s.sched.Selection()
	inst, err := s.catalog.Instrument(sel.Instrument)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	points, err := s.store.ChartSeries(sel.Instrument, market.PeriodKey(sel.Period))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.present.OverviewChart(inst, sel.Period, points))
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	sel := s.sched.Selection()
	period, err := s.catalog.Period(sel.Period)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	points, err := s.store.Window(sel.Instrument, market.PeriodKey(sel.Period))
	if err != nil && !errors.Is(err, series.ErrWindowNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, s.present.PeriodPerformance(period, points))
}

type statusBody struct {
	scheduler.Status
	StreamClients int `json:"stream_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{Status: s.sched.Status(), StreamClients: s.hub.Clients()})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req scheduler.Selection
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("bad json: "+err.Error()))
		return
	}

	sel, err := s.sched.Select(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sel)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.TriggerRefresh(); err != nil {
		if errors.Is(err, scheduler.ErrRefreshInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "in_progress"})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}
