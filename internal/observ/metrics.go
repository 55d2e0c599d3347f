package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labels -> count
	gauges   map[string]map[string]float64 // name -> labels -> value
	hist     map[string]map[string][]float64
}

// maxSamples bounds each histogram series
const maxSamples = 1024

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		counters: map[string]map[string]int64{},
		gauges:   map[string]map[string]float64{},
		hist:     map[string]map[string][]float64{},
	}
}

// series returns the label map for name, creating it on first use
func series[T any](family map[string]map[string]T, name string) map[string]T {
	m, ok := family[name]
	if !ok {
		m = map[string]T{}
		family[name] = m
	}
	return m
}

// labelKey renders labels as sorted k=v pairs so equal sets share a series
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	series(reg.counters, name)[labelKey(labels)] += int64(value)
	reg.mu.Unlock()
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	series(reg.gauges, name)[labelKey(labels)] = value
	reg.mu.Unlock()
}

// Observe appends a histogram sample, keeping the newest maxSamples
func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m := series(reg.hist, name)
	k := labelKey(labels)
	samples := append(m[k], value)
	if over := len(samples) - maxSamples; over > 0 {
		samples = samples[over:]
	}
	m[k] = samples
}

// RecordDuration observes d in milliseconds under name+"_ms"
func RecordDuration(name string, d time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(d.Milliseconds()), labels)
}

// Counter returns the current value of one labelled counter
func Counter(name string, labels map[string]string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.counters[name][labelKey(labels)]
}

// CounterTotal sums a counter across all label sets
func CounterTotal(name string) int64 {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

// Gauge returns the current value of one labelled gauge
func Gauge(name string, labels map[string]string) (float64, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	v, ok := reg.gauges[name][labelKey(labels)]
	return v, ok
}

// Reset clears every series
func Reset() {
	fresh := newRegistry()
	reg.mu.Lock()
	reg.counters, reg.gauges, reg.hist = fresh.counters, fresh.gauges, fresh.hist
	reg.mu.Unlock()
}

// Summary condenses one histogram series for the /metrics dump
type Summary struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

func summarize(samples []float64) Summary {
	return Summary{
		Count: len(samples),
		P50:   percentile(samples, 0.50),
		P95:   percentile(samples, 0.95),
		Max:   percentile(samples, 1),
	}
}

// Handler serves the registry as JSON, histograms summarized
func Handler() http.Handler {
	type dump struct {
		Counters   map[string]map[string]int64   `json:"counters"`
		Gauges     map[string]map[string]float64 `json:"gauges"`
		Histograms map[string]map[string]Summary `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		out := dump{
			Counters:   reg.counters,
			Gauges:     reg.gauges,
			Histograms: make(map[string]map[string]Summary, len(reg.hist)),
		}
		for name, byLabel := range reg.hist {
			for k, samples := range byLabel {
				series(out.Histograms, name)[k] = summarize(samples)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
		reg.mu.Unlock()
	})
}

// HealthStatus is the body served at /healthz
type HealthStatus struct {
	Status      string  `json:"status"`    // "healthy", "degraded", "failed"
	Timestamp   string  `json:"timestamp"` // ISO 8601
	Uptime      string  `json:"uptime"`
	Version     string  `json:"version"`
	SuccessRate float64 `json:"success_rate"`     // live fetches that returned real data
	SyntheticN  int64   `json:"synthetic_quotes"` // quotes served by the fallback generator
	FetchP95Ms  int64   `json:"fetch_p95_ms"`
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// HealthHandler reports upstream health. The dashboard keeps serving synthetic
// prices when the provider is down, so "failed" still answers 200.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		health := HealthStatus{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
		}

		var total, ok int64
		for labels, n := range reg.counters["quote_fetch_total"] {
			total += n
			if strings.Contains(labels, "result=ok") {
				ok += n
			}
		}
		if total > 0 {
			health.SuccessRate = float64(ok) / float64(total)
		}
		for _, n := range reg.counters["synthetic_quotes_total"] {
			health.SyntheticN += n
		}
		for _, samples := range reg.hist["quote_fetch_latency_ms"] {
			if p := percentile(samples, 0.95); int64(p) > health.FetchP95Ms {
				health.FetchP95Ms = int64(p)
			}
		}
		health.Status = overallStatus(reg.gauges["provider_status"])
		reg.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health)
	})
}

// provider_status gauge: 0 = failed, 1 = degraded, 2 = healthy
func overallStatus(statuses map[string]float64) string {
	status := "healthy"
	for _, v := range statuses {
		switch {
		case v == 0:
			return "failed"
		case v == 1:
			status = "degraded"
		}
	}
	return status
}

func percentile(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
