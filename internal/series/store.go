// Package series holds the per-instrument rolling price buffers and named
// chart windows. All reads return copies; every write is a single critical
// section so readers never see a half-applied update.
package series

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
)

// DefaultCapacity is the rolling buffer length per instrument
const DefaultCapacity = 50

var (
	ErrWindowNotFound = errors.New("window not loaded")
	ErrInvalidPrice   = errors.New("invalid price")
)

// Card is the summary state of one instrument
type Card struct {
	Key           string    `json:"key"`
	CurrentPrice  float64   `json:"current_price"`
	PreviousPrice float64   `json:"previous_price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	UpdatedAt     time.Time `json:"updated_at"`
	Source        string    `json:"source"`
}

type state struct {
	card    Card
	buffer  []market.Point
	windows map[market.WindowKey][]market.Point
}

// Store is safe for concurrent use
type Store struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	states   map[string]*state
}

// NewStore creates an empty store whose buffers hold at most capacity points
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		states:   map[string]*state{},
	}
}

// Capacity returns the rolling buffer cap
func (s *Store) Capacity() int { return s.capacity }

// Init creates the state for key with current and previous set to base and the
// buffer seeded from backfill (newest capacity points kept). Re-initializing a
// key resets it.
func (s *Store) Init(key string, base float64, backfill []market.Point) {
	if len(backfill) > s.capacity {
		backfill = backfill[len(backfill)-s.capacity:]
	}
	st := &state{
		card: Card{
			Key:           key,
			CurrentPrice:  base,
			PreviousPrice: base,
			Source:        market.SourceSynthetic,
		},
		buffer:  append(make([]market.Point, 0, s.capacity), backfill...),
		windows: map[market.WindowKey][]market.Point{},
	}
	if n := len(backfill); n > 0 {
		st.card.UpdatedAt = backfill[n-1].Time
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[key]; !ok {
		s.order = append(s.order, key)
	}
	s.states[key] = st
}

// RecordQuote shifts current into previous, recomputes the change fields and
// appends to the buffer, evicting the oldest point beyond capacity.
func (s *Store) RecordQuote(key string, price float64, ts time.Time, source string) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("%w: %v for %s", ErrInvalidPrice, price, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok {
		return unknown(key)
	}

	c := &st.card
	c.PreviousPrice = c.CurrentPrice
	c.CurrentPrice = price
	c.Change = c.CurrentPrice - c.PreviousPrice
	if c.PreviousPrice != 0 {
		c.ChangePercent = c.Change / c.PreviousPrice * 100
	} else {
		c.ChangePercent = 0
	}
	c.UpdatedAt = ts
	c.Source = source

	st.buffer = append(st.buffer, market.Point{Time: ts, Price: price})
	if over := len(st.buffer) - s.capacity; over > 0 {
		// shift in place to keep the backing array bounded
		copy(st.buffer, st.buffer[over:])
		st.buffer = st.buffer[:s.capacity]
	}
	return nil
}

// ReplaceWindow swaps in a private copy of points for the window
func (s *Store) ReplaceWindow(key string, wk market.WindowKey, points []market.Point) error {
	cp := append([]market.Point(nil), points...)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok {
		return unknown(key)
	}
	st.windows[wk] = cp
	return nil
}

// Card returns the summary for key
func (s *Store) Card(key string) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key]
	if !ok {
		return Card{}, unknown(key)
	}
	return st.card, nil
}

// Cards returns every card in initialization order
func (s *Store) Cards() []Card {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cards := make([]Card, 0, len(s.order))
	for _, key := range s.order {
		cards = append(cards, s.states[key].card)
	}
	return cards
}

// Series returns a copy of the rolling buffer, oldest first
func (s *Store) Series(key string) ([]market.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key]
	if !ok {
		return nil, unknown(key)
	}
	return append([]market.Point(nil), st.buffer...), nil
}

// Window returns a copy of a loaded window, or ErrWindowNotFound
func (s *Store) Window(key string, wk market.WindowKey) ([]market.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key]
	if !ok {
		return nil, unknown(key)
	}
	w, ok := st.windows[wk]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrWindowNotFound, key, wk)
	}
	return append([]market.Point(nil), w...), nil
}

// HasWindow reports whether a window has been loaded for key
func (s *Store) HasWindow(key string, wk market.WindowKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key]
	if !ok {
		return false
	}
	_, ok = st.windows[wk]
	return ok
}

// ChartSeries returns the window if it holds points, else the rolling buffer
func (s *Store) ChartSeries(key string, wk market.WindowKey) ([]market.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key]
	if !ok {
		return nil, unknown(key)
	}
	if w := st.windows[wk]; len(w) > 0 {
		return append([]market.Point(nil), w...), nil
	}
	return append([]market.Point(nil), st.buffer...), nil
}

// Keys returns instrument keys in initialization order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func unknown(key string) error {
	return fmt.Errorf("%w: %q", market.ErrUnknownInstrument, key)
}
