package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Rajchodisetti/commodity-dashboard/internal/config"
	"github.com/Rajchodisetti/commodity-dashboard/internal/observ"
	"github.com/Rajchodisetti/commodity-dashboard/internal/stubs"
)

// Local Alpha Vantage stand-in. Point quotes.alphavantage.base_url at
// http://localhost:8091/query to run the dashboard without a real key.
func main() {
	var (
		addr, cfgPath, apiKey string
		noteEvery             int
		latency               time.Duration
	)
	flag.StringVar(&addr, "addr", ":8091", "listen address")
	flag.StringVar(&cfgPath, "config", "", "dashboard config for the instrument table (defaults when empty)")
	flag.StringVar(&apiKey, "apikey", "", "required api key (any non-empty key when empty)")
	flag.IntVar(&noteEvery, "note-every", 0, "answer every Nth request with a rate-limit Note (0 disables)")
	flag.DurationVar(&latency, "latency", 0, "added latency per response")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := observ.InitLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	stub := stubs.NewAlphaVantage(cfg.Instruments, stubs.Options{
		APIKey:    apiKey,
		NoteEvery: noteEvery,
		Latency:   latency,
		Logger:    logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/query", stub)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	logger.Info("alpha vantage stub listening", zap.String("addr", addr), zap.Int("note_every", noteEvery))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("stub server", zap.Error(err))
	}
}
