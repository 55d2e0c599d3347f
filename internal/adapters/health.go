package adapters

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rajchodisetti/commodity-dashboard/internal/observ"
)

// ProviderStatus represents the health state of a data provider
type ProviderStatus string

const (
	ProviderStatusHealthy  ProviderStatus = "healthy"
	ProviderStatusDegraded ProviderStatus = "degraded"
	ProviderStatusFailed   ProviderStatus = "failed"
)

// ProviderHealth tracks provider reliability from fetch outcomes. Rate-limit
// notices degrade the provider; consecutive failures of any kind fail it.
type ProviderHealth struct {
	mu                sync.RWMutex
	name              string
	status            ProviderStatus
	lastSuccessful    time.Time
	lastError         time.Time
	lastErrorKind     FailureKind
	errorCount        int64
	successCount      int64
	consecutiveErrors int
	logger            *zap.Logger

	// Health thresholds
	degradedErrorRate    float64 // 0.10 = 10%
	maxConsecutiveErrors int
}

// HealthSnapshot is a point-in-time copy of ProviderHealth
type HealthSnapshot struct {
	Provider          string    `json:"provider"`
	Status            string    `json:"status"`
	ErrorRate         float64   `json:"error_rate"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastErrorKind     string    `json:"last_error_kind,omitempty"`
	LastSuccessful    time.Time `json:"last_successful"`
	LastError         time.Time `json:"last_error"`
	SuccessCount      int64     `json:"success_count"`
	ErrorCount        int64     `json:"error_count"`
}

// NewProviderHealth creates a new provider health monitor
func NewProviderHealth(name string, logger *zap.Logger) *ProviderHealth {
	if logger == nil {
		logger = zap.NewNop()
	}
	ph := &ProviderHealth{
		name:                 name,
		status:               ProviderStatusHealthy,
		degradedErrorRate:    0.10,
		maxConsecutiveErrors: 5,
		logger:               logger.With(zap.String("provider", name)),
	}
	ph.publish()
	return ph
}

// RecordSuccess records a fetch that returned real data
func (ph *ProviderHealth) RecordSuccess() {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastSuccessful = time.Now()
	ph.successCount++
	ph.consecutiveErrors = 0
	ph.transition(ph.evaluate())

	observ.IncCounter("provider_operations_total", map[string]string{
		"provider": ph.name,
		"result":   "success",
	})
}

// RecordError records a failed fetch
func (ph *ProviderHealth) RecordError(err error) {
	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.lastError = time.Now()
	ph.lastErrorKind = KindOf(err)
	ph.errorCount++
	ph.consecutiveErrors++
	ph.transition(ph.evaluate())

	observ.IncCounter("provider_operations_total", map[string]string{
		"provider": ph.name,
		"result":   string(ph.lastErrorKind),
	})

	ph.logger.Debug("provider error",
		zap.Int("consecutive", ph.consecutiveErrors),
		zap.String("kind", string(ph.lastErrorKind)),
		zap.Error(err))
}

// GetStatus returns the current provider status
func (ph *ProviderHealth) GetStatus() ProviderStatus {
	ph.mu.RLock()
	defer ph.mu.RUnlock()
	return ph.status
}

// Snapshot returns current health metrics
func (ph *ProviderHealth) Snapshot() HealthSnapshot {
	ph.mu.RLock()
	defer ph.mu.RUnlock()

	total := ph.successCount + ph.errorCount
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(ph.errorCount) / float64(total)
	}

	return HealthSnapshot{
		Provider:          ph.name,
		Status:            string(ph.status),
		ErrorRate:         errorRate,
		ConsecutiveErrors: ph.consecutiveErrors,
		LastErrorKind:     string(ph.lastErrorKind),
		LastSuccessful:    ph.lastSuccessful,
		LastError:         ph.lastError,
		SuccessCount:      ph.successCount,
		ErrorCount:        ph.errorCount,
	}
}

// evaluate derives the status from consecutive errors, the last error kind and
// the running error rate. Caller holds mu.
func (ph *ProviderHealth) evaluate() ProviderStatus {
	if ph.consecutiveErrors >= ph.maxConsecutiveErrors {
		return ProviderStatusFailed
	}
	if ph.consecutiveErrors > 0 && ph.lastErrorKind == FailureRateLimited {
		return ProviderStatusDegraded
	}

	total := ph.successCount + ph.errorCount
	if total > 0 && float64(ph.errorCount)/float64(total) >= ph.degradedErrorRate && ph.consecutiveErrors > 0 {
		return ProviderStatusDegraded
	}
	return ProviderStatusHealthy
}

// transition applies a new status, logging and counting changes. Caller holds mu.
func (ph *ProviderHealth) transition(next ProviderStatus) {
	if next != ph.status {
		ph.logger.Info("provider status changed",
			zap.String("from", string(ph.status)),
			zap.String("to", string(next)),
			zap.Int("consecutive_errors", ph.consecutiveErrors))

		observ.IncCounter("provider_status_change_total", map[string]string{
			"provider": ph.name,
			"from":     string(ph.status),
			"to":       string(next),
		})
		ph.status = next
	}
	ph.publish()
}

// publish writes the provider_status gauge: 0 failed, 1 degraded, 2 healthy
func (ph *ProviderHealth) publish() {
	var v float64
	switch ph.status {
	case ProviderStatusHealthy:
		v = 2
	case ProviderStatusDegraded:
		v = 1
	}
	observ.SetGauge("provider_status", v, map[string]string{"provider": ph.name})
}
