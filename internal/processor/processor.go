// Package processor turns validated telemetry samples into derived records:
// head, effective head, discharge through the node's calibrated curve,
// 10-minute deltas against stored history, and QC flags.
package processor

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// deltaWindow is the lookback for dH/dQ reference samples.
const deltaWindow = 10 * time.Minute

// ProfileStore provides per-node calibration profiles.
type ProfileStore interface {
	GetHQProfile(ctx context.Context, nodeID string) (domain.HQProfile, error)
}

// History looks up the most recent stored record at or before a cutoff
// timestamp for a node. A nil result means no history exists.
type History interface {
	ValueAtOrBefore(ctx context.Context, nodeID, cutoffTS string) (*domain.HistoricalValue, error)
}

// RecordStore persists derived records (and the device-status side record).
type RecordStore interface {
	UpsertDerived(ctx context.Context, rec domain.DerivedRecord) error
}

// Processor computes and persists one derived record per sample. Samples for
// the same node are serialized by a per-node lock so every delta is computed
// against the correct historical reference even under concurrent delivery.
type Processor struct {
	profiles ProfileStore
	history  History
	records  RecordStore
	clock    clockwork.Clock
	logger   *slog.Logger
	qMax     float64

	mu        sync.Mutex
	nodeLocks map[string]*sync.Mutex
}

// New creates a Processor. qMax <= 0 falls back to the default discharge
// ceiling.
func New(profiles ProfileStore, history History, records RecordStore, clock clockwork.Clock, logger *slog.Logger, qMax float64) *Processor {
	if qMax <= 0 {
		qMax = domain.DefaultQMax
	}
	return &Processor{
		profiles:  profiles,
		history:   history,
		records:   records,
		clock:     clock,
		logger:    logger,
		qMax:      qMax,
		nodeLocks: make(map[string]*sync.Mutex),
	}
}

// Process derives, flags, and persists the record for one sample. Arithmetic
// never fails: absent inputs propagate as absent outputs, and storage errors
// are logged without discarding the computed record.
func (p *Processor) Process(ctx context.Context, s domain.Sample) domain.DerivedRecord {
	lock := p.nodeLock(s.NodeID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := p.profiles.GetHQProfile(ctx, s.NodeID)
	if err != nil {
		p.logger.Error("profile lookup failed, using defaults", "node_id", s.NodeID, "error", err)
		profile = domain.DefaultHQProfile()
	}

	sensorHeight := profile.SensorHeightAboveCrestM
	if s.SensorHeightOverride != nil {
		sensorHeight = *s.SensorHeightOverride
	}

	rec := domain.DerivedRecord{
		NodeID:      s.NodeID,
		TS:          s.TS,
		DistM:       s.DistM,
		RainBin:     s.RainBin,
		BattV:       s.BattV,
		ProcessedAt: p.clock.Now(),
	}

	if s.DistM != nil {
		h := sensorHeight - *s.DistM
		heff := math.Max(0, h-profile.H0M)
		rec.HM = &h
		rec.HEff = &heff
		if q, err := domain.Discharge(heff, profile.A, profile.B); err == nil {
			rec.QM3s = &q
		} else {
			p.logger.Warn("discharge not computable", "node_id", s.NodeID, "error", err)
		}
	}

	rec.DH10m, rec.DQ10m = p.deltas(ctx, s, rec)
	rec.Flags = domain.QCFlags(rec.DistM, rec.HM, rec.DH10m, rec.QM3s, p.qMax)

	if err := p.records.UpsertDerived(ctx, rec); err != nil {
		p.logger.Error("derived record upsert failed", "node_id", s.NodeID, "ts", s.TS, "error", err)
	}
	return rec
}

// deltas computes signed changes over the delta window. A delta is absent,
// never zero, when no reference record exists or either side of the
// subtraction is absent, so a missing delta cannot mask a spike check.
func (p *Processor) deltas(ctx context.Context, s domain.Sample, rec domain.DerivedRecord) (dh, dq *float64) {
	cutoff := s.Time.Add(-deltaWindow).Format(time.RFC3339)
	prev, err := p.history.ValueAtOrBefore(ctx, s.NodeID, cutoff)
	if err != nil {
		p.logger.Error("history lookup failed", "node_id", s.NodeID, "cutoff", cutoff, "error", err)
		return nil, nil
	}
	if prev == nil {
		return nil, nil
	}
	if rec.HM != nil && prev.HM != nil {
		d := *rec.HM - *prev.HM
		dh = &d
	}
	if rec.QM3s != nil && prev.QM3s != nil {
		d := *rec.QM3s - *prev.QM3s
		dq = &d
	}
	return dh, dq
}

func (p *Processor) nodeLock(nodeID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.nodeLocks[nodeID]
	if !ok {
		lock = &sync.Mutex{}
		p.nodeLocks[nodeID] = lock
	}
	return lock
}
