package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/hydrowatch/flood-telemetry-service/internal/adapter/http"
	kafkaadapter "github.com/hydrowatch/flood-telemetry-service/internal/adapter/kafka"
	"github.com/hydrowatch/flood-telemetry-service/internal/alert"
	"github.com/hydrowatch/flood-telemetry-service/internal/config"
	"github.com/hydrowatch/flood-telemetry-service/internal/forecast"
	"github.com/hydrowatch/flood-telemetry-service/internal/observability"
	"github.com/hydrowatch/flood-telemetry-service/internal/pipeline"
	"github.com/hydrowatch/flood-telemetry-service/internal/processor"
	"github.com/hydrowatch/flood-telemetry-service/internal/scheduler"
	"github.com/hydrowatch/flood-telemetry-service/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	repo := sqlite.NewRepository(db)

	rules, err := alert.LoadRules(cfg.RulesPath)
	if err != nil {
		logger.Error("failed to load alert rules", "path", cfg.RulesPath, "error", err)
		os.Exit(1)
	}
	logger.Info("alert rules loaded",
		"debounce_min", rules.DebounceMin,
		"early_horizon_h", rules.Early.HorizonH,
		"high_horizon_h", rules.High.HorizonH)

	proc := processor.New(repo, repo, repo, clock, logger, cfg.QMax)
	transformer := pipeline.NewTransformer(proc, logger)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	rain := forecast.NewOpenMeteoClient(cfg.WeatherTimeout, cfg.WeatherCacheTTL, logger, metrics)
	predictor := &forecast.Predictor{}
	evaluator := alert.NewEvaluator(rules, repo, clock, logger)

	sched := scheduler.New(repo, rain, predictor, evaluator,
		clock, logger, metrics,
		cfg.ModelInterval, cfg.ForecastHorizons, cfg.WeatherLat, cfg.WeatherLon)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, transformer, repo, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start forecast scheduler.
	go func() {
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	// Start telemetry pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
