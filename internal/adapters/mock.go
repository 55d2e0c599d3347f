package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
)

// MockSource provides deterministic proxy prices for testing and demo runs
type MockSource struct {
	mu       sync.Mutex
	prices   map[string]float64     // proxy symbol -> raw price
	failures map[string]FailureKind // proxy symbol -> forced failure
	latency  time.Duration
	calls    []string
}

// NewMockSource creates a mock source with the stock proxy prices
func NewMockSource() *MockSource {
	return &MockSource{
		prices: map[string]float64{
			"USO":  36.00,
			"BNO":  34.40,
			"UNG":  19.00,
			"GLD":  200.00,
			"SLV":  22.30,
			"CPER": 15.40,
			"SOYB": 26.40,
		},
		failures: map[string]FailureKind{},
	}
}

func (m *MockSource) Name() string { return market.SourceMock }

// Close performs cleanup (no-op for mock)
func (m *MockSource) Close() error { return nil }

// FetchLatest returns the configured price, or the configured failure
func (m *MockSource) FetchLatest(ctx context.Context, inst market.Instrument) (market.QuoteRecord, error) {
	price, err := m.lookup(ctx, inst.ProxySymbol, "latest")
	if err != nil {
		return market.QuoteRecord{}, err
	}
	return market.QuoteRecord{
		InstrumentKey: inst.Key,
		Price:         price,
		ObservedAt:    time.Now(),
		Source:        market.SourceMock,
	}, nil
}

// FetchHistory returns a flat window at the configured price, spaced by spec.Step
func (m *MockSource) FetchHistory(ctx context.Context, inst market.Instrument, spec market.WindowSpec) ([]market.Point, error) {
	price, err := m.lookup(ctx, inst.ProxySymbol, spec.Key.String())
	if err != nil {
		return nil, err
	}

	n := spec.MaxPoints
	if n <= 0 || n > market.MaxWindowPoints {
		n = market.MaxWindowPoints
	}
	step := spec.Step
	if step <= 0 {
		step = time.Minute
	}

	now := time.Now()
	points := make([]market.Point, n)
	for i := range points {
		points[i] = market.Point{Time: now.Add(-time.Duration(n-1-i) * step), Price: price}
	}
	return points, nil
}

func (m *MockSource) lookup(ctx context.Context, symbol, what string) (float64, error) {
	m.mu.Lock()
	latency := m.latency
	m.calls = append(m.calls, symbol+" "+what)
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return 0, NewTransportError(symbol, "cancelled", ctx.Err())
		case <-time.After(latency):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if kind, ok := m.failures[symbol]; ok {
		return 0, &QuoteError{Kind: kind, Symbol: symbol, Message: "forced by mock"}
	}
	price, ok := m.prices[symbol]
	if !ok {
		return 0, NewProviderError(symbol, "Invalid API call")
	}
	return price, nil
}

// SetPrice allows tests to control the raw proxy price
func (m *MockSource) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetFailure makes every call for symbol fail with kind
func (m *MockSource) SetFailure(symbol string, kind FailureKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[symbol] = kind
}

// ClearFailure removes a forced failure
func (m *MockSource) ClearFailure(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, symbol)
}

// SetLatency allows tests to control simulated latency
func (m *MockSource) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Calls returns the requests seen so far as "SYMBOL what"
func (m *MockSource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// OfflineSource reports a transport failure for every call. It stands in for
// the live provider when no API key is configured.
type OfflineSource struct{}

func (OfflineSource) Name() string { return "offline" }

func (OfflineSource) Close() error { return nil }

func (OfflineSource) FetchLatest(_ context.Context, inst market.Instrument) (market.QuoteRecord, error) {
	return market.QuoteRecord{}, NewTransportError(inst.ProxySymbol, "no API key configured", nil)
}

func (OfflineSource) FetchHistory(_ context.Context, inst market.Instrument, _ market.WindowSpec) ([]market.Point, error) {
	return nil, NewTransportError(inst.ProxySymbol, "no API key configured", nil)
}
