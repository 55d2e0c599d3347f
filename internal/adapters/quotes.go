package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
)

// QuoteSource fetches latest quotes and historical windows from an upstream provider.
// Implementations return raw proxy prices; callers scale them and own all state.
type QuoteSource interface {
	FetchLatest(ctx context.Context, inst market.Instrument) (market.QuoteRecord, error)
	FetchHistory(ctx context.Context, inst market.Instrument, spec market.WindowSpec) ([]market.Point, error)
	Name() string
	Close() error
}

// FailureKind classifies why a source could not produce data
type FailureKind string

const (
	FailureTransport   FailureKind = "transport"      // network error or non-2xx status
	FailureProvider    FailureKind = "provider_error" // explicit error payload
	FailureRateLimited FailureKind = "rate_limited"   // throttle notice payload
	FailureMalformed   FailureKind = "malformed"      // expected field absent
)

// QuoteError is the only error type a QuoteSource returns
type QuoteError struct {
	Kind    FailureKind
	Symbol  string
	Message string
	Cause   error
}

func (e *QuoteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Kind, e.Symbol, e.Message)
}

func (e *QuoteError) Unwrap() error { return e.Cause }

// Common error constructors
func NewTransportError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Kind: FailureTransport, Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *QuoteError {
	return &QuoteError{Kind: FailureRateLimited, Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string) *QuoteError {
	return &QuoteError{Kind: FailureProvider, Symbol: symbol, Message: message}
}

func NewMalformedError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Kind: FailureMalformed, Symbol: symbol, Message: message, Cause: cause}
}

// KindOf extracts the failure kind from err. Errors that did not come from a
// source (context cancellation, programming errors) report FailureTransport.
func KindOf(err error) FailureKind {
	var qe *QuoteError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return FailureTransport
}

// ValidateQuote rejects quotes the store must never record
func ValidateQuote(q market.QuoteRecord) error {
	if q.InstrumentKey == "" {
		return fmt.Errorf("empty instrument key")
	}
	if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) || q.Price <= 0 {
		return fmt.Errorf("invalid price %v for %s", q.Price, q.InstrumentKey)
	}
	if q.Volume < 0 {
		return fmt.Errorf("negative volume: %d", q.Volume)
	}
	if q.ObservedAt.After(time.Now().Add(24 * time.Hour)) {
		return fmt.Errorf("quote timestamp too far in future: %v", q.ObservedAt)
	}
	return nil
}
