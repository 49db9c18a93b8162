package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
)

// Alert levels and rule names.
const (
	LevelEarly = "EARLY"
	LevelHigh  = "HIGH"

	ruleEarly = "early"
	ruleHigh  = "high"
)

// Sink persists emitted alerts. Insert is idempotent: submitting the same
// alert ID twice stores one row; inserted is false on the duplicate.
type Sink interface {
	InsertAlertIfAbsent(ctx context.Context, a domain.Alert) (inserted bool, err error)
}

// State holds the debounce memory, keyed by (node, rule) so cooldown for one
// node's early warning never suppresses another node's. It lives for the
// monitoring session only; a restart clears it and the first round of alerts
// after startup may re-emit inside what would have been the old window.
type State struct {
	mu      sync.Mutex
	entries map[stateKey]stateEntry
}

type stateKey struct {
	nodeID string
	rule   string
}

type stateEntry struct {
	lastEmission time.Time
	active       bool
}

// NewState creates empty debounce state. Tests instantiate one per node or
// scenario; the service owns a single instance.
func NewState() *State {
	return &State{entries: make(map[stateKey]stateEntry)}
}

// Evaluator applies the rule set to one node's forecasts per invocation.
// It is safe for concurrent use as long as each State is mutated by one
// evaluation at a time, which Evaluate enforces via the state lock.
type Evaluator struct {
	rules  Rules
	sink   Sink
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewEvaluator(rules Rules, sink Sink, clock clockwork.Clock, logger *slog.Logger) *Evaluator {
	return &Evaluator{rules: rules, sink: sink, clock: clock, logger: logger}
}

// Evaluate runs both rule tracks and returns the alerts actually emitted
// (zero, one, or two). forecasts maps horizon hours to model output; dH10m
// and rainNextHour may be nil; for the early rule's secondary condition
// only, absent values compare as 0.0.
func (e *Evaluator) Evaluate(ctx context.Context, nodeID, ts string, forecasts map[int]domain.Forecast, dH10m, rainNextHour *float64, state *State) []domain.Alert {
	state.mu.Lock()
	defer state.mu.Unlock()

	now := e.clock.Now()
	window := time.Duration(e.rules.DebounceMin) * time.Minute

	var emitted []domain.Alert

	if f, ok := forecasts[e.rules.Early.HorizonH]; ok {
		probTrigger := f.ProbFlood >= e.rules.Early.ProbMin
		riseTrigger := orZero(dH10m) >= e.rules.Early.DH10Min &&
			orZero(rainNextHour) >= e.rules.Early.RainNextHourMmphMin
		if probTrigger || riseTrigger {
			if a := e.emit(ctx, state, now, window, nodeID, ts, ruleEarly, LevelEarly, e.rules.Early.HorizonH); a != nil {
				emitted = append(emitted, *a)
			}
		}
	}

	if f, ok := forecasts[e.rules.High.HorizonH]; ok && f.ProbFlood >= e.rules.High.ProbMin {
		if a := e.emit(ctx, state, now, window, nodeID, ts, ruleHigh, LevelHigh, e.rules.High.HorizonH); a != nil {
			emitted = append(emitted, *a)
		}
	}

	return emitted
}

// emit persists one alert unless its (node, rule) track is inside the
// debounce window. Returns nil when suppressed or when the sink failed (a
// failed insert leaves the track inactive so the next cycle retries).
func (e *Evaluator) emit(ctx context.Context, state *State, now time.Time, window time.Duration, nodeID, ts, rule, level string, horizonH int) *domain.Alert {
	key := stateKey{nodeID: nodeID, rule: rule}
	entry := state.entries[key]
	if entry.active && now.Sub(entry.lastEmission) < window {
		return nil
	}

	a := domain.Alert{
		ID:       fmt.Sprintf("%s:%s:%s:%d", nodeID, ts, rule, horizonH),
		TS:       ts,
		NodeID:   nodeID,
		Level:    level,
		HorizonH: horizonH,
		Reason:   "rule:" + rule,
	}
	inserted, err := e.sink.InsertAlertIfAbsent(ctx, a)
	if err != nil {
		e.logger.Error("alert insert failed", "alert_id", a.ID, "error", err)
		return nil
	}
	if !inserted {
		e.logger.Debug("alert already stored", "alert_id", a.ID)
	}

	state.entries[key] = stateEntry{lastEmission: now, active: true}
	return &a
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0.0
	}
	return *v
}
