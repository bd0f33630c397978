package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/regenheat/optimization-engine/internal/optd"
	"github.com/regenheat/optimization-engine/internal/optimize"
	"github.com/regenheat/optimization-engine/pkg/config"
	"github.com/regenheat/optimization-engine/pkg/logger"
	"github.com/regenheat/optimization-engine/pkg/models"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}
	logger.SetDefault(logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store optd.Store
	switch cfg.Store.Driver {
	case "sqlite":
		sqlStore, err := optd.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			logger.Error("failed to open sqlite store", "path", cfg.Store.Path, "error", err)
			os.Exit(1)
		}
		store = sqlStore
		logger.Info("using sqlite store", "path", cfg.Store.Path)
	default:
		store = optd.NewMemoryStore()
		logger.Info("using in-memory store")
	}
	defer store.Close()

	scenarios := optd.NewScenarioStore()
	if cfg.ScenarioDir != "" {
		if err := scenarios.LoadDir(cfg.ScenarioDir); err != nil {
			logger.Warn("scenario directory not loaded", "dir", cfg.ScenarioDir, "error", err)
		}
	}

	bus := optd.NewBroadcaster()
	econ := optimize.EconomicsParams{
		FuelPricePerMWh:       cfg.Economics.FuelPricePerMWh,
		OperatingHoursPerYear: cfg.Economics.OperatingHoursPerYear,
		RetrofitCost:          cfg.Economics.RetrofitCost,
	}
	// The surrogate stands in for the plant's physics model; deployments
	// replace this factory with the real solver binding.
	evalFactory := func(s *models.Scenario) optimize.Evaluator {
		return optimize.NewSurrogateEvaluator(s.Variables)
	}
	runner := optd.NewRunner(store, bus, evalFactory, econ)
	notifier := optd.NewNotifier(cfg.Callback.URL, cfg.Callback.Secret)
	scheduler := optd.NewScheduler(store, runner, notifier, cfg.Workers)
	scheduler.Start(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           optd.NewHTTPServer(store, scenarios, scheduler, bus).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // event streams stay open indefinitely
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	scheduler.Wait()
	logger.Info("shutdown complete")
}
