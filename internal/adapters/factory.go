package adapters

import (
	"os"
	"strings"

	"github.com/Rajchodisetti/commodity-dashboard/internal/observ"
)

// QuotesConfig selects and configures the quote source
type QuotesConfig struct {
	Adapter      string                     `yaml:"adapter"` // "alphavantage" | "mock" | "offline"
	AlphaVantage AlphaVantageProviderConfig `yaml:"alphavantage"`
}

// AlphaVantageProviderConfig holds Alpha Vantage specific config
type AlphaVantageProviderConfig struct {
	APIKey             string `yaml:"api_key"`
	APIKeyEnv          string `yaml:"api_key_env"`
	BaseURL            string `yaml:"base_url"`
	LatestInterval     string `yaml:"latest_interval"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	DailyCap           int    `yaml:"daily_cap"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
}

// DefaultQuotesConfig returns defaults for the free Alpha Vantage tier. Pacing
// is done by the scheduler, so the adapter's own limiter is off.
func DefaultQuotesConfig() QuotesConfig {
	return QuotesConfig{
		Adapter: "alphavantage",
		AlphaVantage: AlphaVantageProviderConfig{
			APIKeyEnv:      "ALPHA_VANTAGE_API_KEY",
			BaseURL:        defaultAlphaVantageURL,
			LatestInterval: "5min",
			TimeoutSeconds: 10,
			MaxRetries:     1,
			BackoffBaseMs:  500,
		},
	}
}

// NewQuoteSource creates the configured source. The QUOTES environment variable
// overrides the configured adapter. A missing API key degrades to the offline
// source so the dashboard runs on synthetic prices.
func NewQuoteSource(config QuotesConfig) QuoteSource {
	adapter := strings.ToLower(strings.TrimSpace(config.Adapter))

	if envAdapter := os.Getenv("QUOTES"); envAdapter != "" {
		adapter = strings.ToLower(strings.TrimSpace(envAdapter))
		observ.Log("quotes_adapter_override", map[string]any{
			"config_adapter": config.Adapter,
			"env_override":   adapter,
		})
	}

	switch adapter {
	case "mock":
		observ.Log("quotes_adapter_created", map[string]any{"type": "mock"})
		return NewMockSource()
	case "offline":
		observ.Log("quotes_adapter_created", map[string]any{"type": "offline"})
		return OfflineSource{}
	case "alphavantage", "":
		return createAlphaVantage(config.AlphaVantage)
	default:
		observ.Log("quotes_adapter_fallback", map[string]any{
			"requested_adapter": adapter,
			"fallback_to":       "offline",
			"reason":            "unknown adapter type",
		})
		return OfflineSource{}
	}
}

func createAlphaVantage(config AlphaVantageProviderConfig) QuoteSource {
	apiKey := config.APIKey
	if apiKey == "" && config.APIKeyEnv != "" {
		apiKey = os.Getenv(config.APIKeyEnv)
	}

	if apiKey == "" {
		observ.Log("quotes_adapter_fallback", map[string]any{
			"requested_adapter": "alphavantage",
			"fallback_to":       "offline",
			"reason":            "missing API key",
			"api_key_env":       config.APIKeyEnv,
		})
		return OfflineSource{}
	}

	adapter, err := NewAlphaVantageAdapter(AlphaVantageConfig{
		APIKey:             apiKey,
		BaseURL:            config.BaseURL,
		LatestInterval:     config.LatestInterval,
		RateLimitPerMinute: config.RateLimitPerMinute,
		DailyCap:           config.DailyCap,
		TimeoutSeconds:     config.TimeoutSeconds,
		MaxRetries:         config.MaxRetries,
		BackoffBaseMs:      config.BackoffBaseMs,
	})
	if err != nil {
		observ.Log("quotes_adapter_fallback", map[string]any{
			"requested_adapter": "alphavantage",
			"fallback_to":       "offline",
			"reason":            "adapter creation failed",
			"error":             err.Error(),
		})
		return OfflineSource{}
	}

	observ.Log("quotes_adapter_created", map[string]any{
		"type":           "alphavantage",
		"rate_limit_pm":  config.RateLimitPerMinute,
		"daily_cap":      config.DailyCap,
		"api_key_masked": maskAPIKey(apiKey),
	})
	return adapter
}

// maskAPIKey masks sensitive API key for logging
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
