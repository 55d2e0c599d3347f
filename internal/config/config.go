package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/commodity-dashboard/internal/adapters"
	"github.com/Rajchodisetti/commodity-dashboard/internal/market"
	"github.com/Rajchodisetti/commodity-dashboard/internal/scheduler"
)

type Server struct {
	Addr            string        `yaml:"addr"`
	Heartbeat       time.Duration `yaml:"sse_heartbeat"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Refresh struct {
	Schedule     string        `yaml:"schedule"`      // cron spec
	RequestDelay time.Duration `yaml:"request_delay"` // spacing between fetch-all requests
}

type Display struct {
	Timezone string `yaml:"timezone"`
}

type Selection struct {
	Instrument string `yaml:"instrument"`
	Period     string `yaml:"period"`
	Interval   string `yaml:"interval"`
}

type Root struct {
	LogLevel       string                `yaml:"log_level"`
	Server         Server                `yaml:"server"`
	Refresh        Refresh               `yaml:"refresh"`
	BufferCapacity int                   `yaml:"buffer_capacity"`
	Display        Display               `yaml:"display"`
	Selection      Selection             `yaml:"selection"`
	Quotes         adapters.QuotesConfig `yaml:"quotes"`
	Instruments    []market.Instrument   `yaml:"instruments"`
	Periods        []market.Period       `yaml:"periods"`
	Intervals      []market.Interval     `yaml:"intervals"`
}

// Default returns a config that runs without any file
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path, then layers .env and process env on top.
// An empty path skips the file.
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	c.applyEnv()
	c.applyDefaults()
	return c, c.Validate()
}

func (c *Root) applyEnv() {
	if v := os.Getenv("DASHBOARD_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REFRESH_SCHEDULE"); v != "" {
		c.Refresh.Schedule = v
	}
	if v := os.Getenv("DISPLAY_TIMEZONE"); v != "" {
		c.Display.Timezone = v
	}
}

func (c *Root) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Heartbeat == 0 {
		c.Server.Heartbeat = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Refresh.Schedule == "" {
		c.Refresh.Schedule = "@every 60s"
	}
	if c.Refresh.RequestDelay == 0 {
		c.Refresh.RequestDelay = time.Second
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = 50
	}
	if c.Display.Timezone == "" {
		c.Display.Timezone = "Local"
	}

	// Quote source defaults
	defaults := adapters.DefaultQuotesConfig()
	if c.Quotes.Adapter == "" {
		c.Quotes.Adapter = defaults.Adapter
	}
	av := &c.Quotes.AlphaVantage
	if av.APIKeyEnv == "" {
		av.APIKeyEnv = defaults.AlphaVantage.APIKeyEnv
	}
	if av.BaseURL == "" {
		av.BaseURL = defaults.AlphaVantage.BaseURL
	}
	if av.LatestInterval == "" {
		av.LatestInterval = defaults.AlphaVantage.LatestInterval
	}
	if av.TimeoutSeconds == 0 {
		av.TimeoutSeconds = defaults.AlphaVantage.TimeoutSeconds
	}
	if av.MaxRetries == 0 {
		av.MaxRetries = defaults.AlphaVantage.MaxRetries
	}
	if av.BackoffBaseMs == 0 {
		av.BackoffBaseMs = defaults.AlphaVantage.BackoffBaseMs
	}

	if len(c.Instruments) == 0 {
		c.Instruments = market.DefaultInstruments()
	}
	if len(c.Periods) == 0 {
		c.Periods = market.DefaultPeriods()
	}
	if len(c.Intervals) == 0 {
		c.Intervals = market.DefaultIntervals()
	}
}

// Validate checks the fields the service cannot start without
func (c *Root) Validate() error {
	if c.BufferCapacity < 1 {
		return fmt.Errorf("buffer_capacity must be positive, got %d", c.BufferCapacity)
	}
	if err := scheduler.ParseSchedule(c.Refresh.Schedule); err != nil {
		return fmt.Errorf("refresh.schedule: %w", err)
	}
	if c.Refresh.RequestDelay < 0 {
		return errors.New("refresh.request_delay must not be negative")
	}
	if c.Server.Heartbeat < 0 {
		return errors.New("server.sse_heartbeat must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("display.timezone: %w", err)
	}

	catalog, err := c.Catalog()
	if err != nil {
		return err
	}
	if s := c.Selection.Instrument; s != "" {
		if _, err := catalog.Instrument(s); err != nil {
			return fmt.Errorf("selection: %w", err)
		}
	}
	if s := c.Selection.Period; s != "" {
		if _, err := catalog.Period(s); err != nil {
			return fmt.Errorf("selection: %w", err)
		}
	}
	if s := c.Selection.Interval; s != "" {
		if _, err := catalog.Interval(s); err != nil {
			return fmt.Errorf("selection: %w", err)
		}
	}
	return nil
}

// Catalog builds the instrument, period and interval tables
func (c *Root) Catalog() (*market.Catalog, error) {
	return market.NewCatalog(c.Instruments, c.Periods, c.Intervals)
}

// Location resolves the display timezone
func (c *Root) Location() (*time.Location, error) {
	return time.LoadLocation(c.Display.Timezone)
}
