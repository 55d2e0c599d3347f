package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Rajchodisetti/commodity-dashboard/internal/adapters"
	"github.com/Rajchodisetti/commodity-dashboard/internal/config"
	"github.com/Rajchodisetti/commodity-dashboard/internal/observ"
	"github.com/Rajchodisetti/commodity-dashboard/internal/present"
	"github.com/Rajchodisetti/commodity-dashboard/internal/scheduler"
	"github.com/Rajchodisetti/commodity-dashboard/internal/series"
	"github.com/Rajchodisetti/commodity-dashboard/internal/transport"
)

var version = "dev"

func main() {
	var cfgPath, addr string
	flag.StringVar(&cfgPath, "config", "", "config path (defaults apply when empty)")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v (did you copy config/dashboard.example.yaml?)", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := observ.InitLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	observ.SetVersion(version)

	catalog, err := cfg.Catalog()
	if err != nil {
		logger.Fatal("build catalog", zap.Error(err))
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("display timezone", zap.Error(err))
	}

	source := adapters.NewQuoteSource(cfg.Quotes)
	defer source.Close()

	store := series.NewStore(cfg.BufferCapacity)
	hub := transport.NewHub(logger)

	sched, err := scheduler.New(scheduler.Config{
		Schedule:     cfg.Refresh.Schedule,
		RequestDelay: cfg.Refresh.RequestDelay,
		Selection: scheduler.Selection{
			Instrument: cfg.Selection.Instrument,
			Period:     cfg.Selection.Period,
			Interval:   cfg.Selection.Interval,
		},
	}, scheduler.Deps{
		Catalog:   catalog,
		Source:    source,
		Scaler:    adapters.NewScaler(catalog.Instruments()),
		Generator: adapters.NewGenerator(),
		Store:     store,
		Health:    adapters.NewProviderHealth(source.Name(), logger),
		Publisher: hub,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("create scheduler", zap.Error(err))
	}

	api := transport.NewServer(transport.ServerDeps{
		Catalog:   catalog,
		Store:     store,
		Scheduler: sched,
		Presenter: present.New(loc),
		Hub:       hub,
		Logger:    logger,
		Heartbeat: cfg.Server.Heartbeat,
	})
	// Cancelled on shutdown so open streams return
	baseCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     api.Handler(),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	observ.Log("startup", map[string]any{
		"version":     version,
		"addr":        cfg.Server.Addr,
		"provider":    source.Name(),
		"schedule":    cfg.Refresh.Schedule,
		"instruments": catalog.Keys(),
	})

	if err := sched.Start(); err != nil {
		logger.Fatal("start scheduler", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown requested", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	stopStreams()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	observ.Log("shutdown_complete", map[string]any{"version": version})
}
