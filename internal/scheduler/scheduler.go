package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hydrowatch/flood-telemetry-service/internal/alert"
	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
	"github.com/hydrowatch/flood-telemetry-service/internal/forecast"
	"github.com/hydrowatch/flood-telemetry-service/internal/observability"
)

// Store provides the node inventory and forecast persistence for a cycle.
type Store interface {
	ListNodes(ctx context.Context) ([]string, error)
	LatestRecord(ctx context.Context, nodeID string) (*domain.DerivedRecord, error)
	UpsertForecast(ctx context.Context, tsRun, nodeID string, horizonH int, f domain.Forecast) error
}

// Evaluator turns a node's forecasts into alerts.
type Evaluator interface {
	Evaluate(ctx context.Context, nodeID, ts string, forecasts map[int]domain.Forecast, dH10m, rainNextHour *float64, state *alert.State) []domain.Alert
}

// Scheduler runs the forecast and alert cycle on a fixed interval over every
// node that has ever reported.
type Scheduler struct {
	store     Store
	rain      forecast.RainProvider
	predictor *forecast.Predictor
	evaluator Evaluator
	state     *alert.State
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	interval time.Duration
	horizons []int
	lat, lon float64
}

// New creates a Scheduler. The alert debounce state lives for the scheduler's
// lifetime; a restart starts clean and relies on alert ID dedupe in storage.
func New(store Store, rain forecast.RainProvider, predictor *forecast.Predictor, evaluator Evaluator,
	clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics,
	interval time.Duration, horizons []int, lat, lon float64) *Scheduler {
	return &Scheduler{
		store:     store,
		rain:      rain,
		predictor: predictor,
		evaluator: evaluator,
		state:     alert.NewState(),
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		interval:  interval,
		horizons:  horizons,
		lat:       lat,
		lon:       lon,
	}
}

// Run executes one cycle immediately, then one per interval until the context
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "horizons", s.horizons)
	s.RunCycle(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.RunCycle(ctx)
		}
	}
}

// RunCycle forecasts every node once and evaluates alert rules on the
// results. Node failures are logged and skipped so one bad node cannot
// starve the rest.
func (s *Scheduler) RunCycle(ctx context.Context) {
	start := s.clock.Now()
	tsRun := start.UTC().Format(time.RFC3339)

	rainMmph := s.rain.RainNextHourMmph(ctx, s.lat, s.lon)

	nodes, err := s.store.ListNodes(ctx)
	if err != nil {
		s.logger.Error("list nodes failed", "error", err)
		return
	}

	for _, nodeID := range nodes {
		if err := s.runNode(ctx, nodeID, tsRun, rainMmph); err != nil {
			s.logger.Error("forecast cycle failed for node", "node_id", nodeID, "error", err)
		}
	}

	s.metrics.ForecastCycleDuration.Observe(s.clock.Since(start).Seconds())
	s.logger.Debug("forecast cycle complete", "ts_run", tsRun, "nodes", len(nodes))
}

func (s *Scheduler) runNode(ctx context.Context, nodeID, tsRun string, rainMmph float64) error {
	rec, err := s.store.LatestRecord(ctx, nodeID)
	if err != nil {
		return err
	}
	if rec == nil || rec.HM == nil {
		// Nothing derivable to forecast from yet.
		return nil
	}

	features := forecast.Features{
		HM:           *rec.HM,
		DH10m:        rec.DH10m,
		RainNextHour: &rainMmph,
	}
	forecasts := s.predictor.Predict(features, s.horizons)

	for _, h := range s.horizons {
		if err := s.store.UpsertForecast(ctx, tsRun, nodeID, h, forecasts[h]); err != nil {
			return err
		}
	}

	alerts := s.evaluator.Evaluate(ctx, nodeID, rec.TS, forecasts, rec.DH10m, &rainMmph, s.state)
	for _, a := range alerts {
		s.metrics.AlertsEmitted.WithLabelValues(a.Level).Inc()
		s.logger.Warn("alert emitted",
			"alert_id", a.ID, "node_id", a.NodeID, "level", a.Level,
			"horizon_h", a.HorizonH, "reason", a.Reason)
	}
	return nil
}
