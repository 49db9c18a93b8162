package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// telemetryPayload is the wire shape published by field gateways.
type telemetryPayload struct {
	TS     string      `json:"ts"`
	NodeID string      `json:"node_id"`
	S      sensorBlock `json:"s"`
	Meta   sampleMeta  `json:"meta"`
	Ver    int         `json:"ver"`
}

type sensorBlock struct {
	DistM   *float64 `json:"dist_m"`
	RainBin *int     `json:"rain_bin"`
	BattV   *float64 `json:"batt_v"`
}

type sampleMeta struct {
	SensorHeightAboveCrestM *float64 `json:"sensor_height_above_crest_m"`
}

// RawSample represents an unprocessed message from the source topic.
type RawSample struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Sample is a validated telemetry reading. Optional sensor fields are nil
// when the gateway omitted them.
type Sample struct {
	NodeID  string
	TS      string // original timestamp string, stored as received
	Time    time.Time
	DistM   *float64
	RainBin *int
	BattV   *float64

	// SensorHeightOverride is the per-sample sensor height from meta,
	// nil when the node's stored profile value applies.
	SensorHeightOverride *float64
}

// ParseSample deserializes and validates a raw telemetry message.
// Missing node_id or ts, or an unparseable ts, reject the sample here so the
// processor only ever sees well-formed identity and time fields.
func ParseSample(raw RawSample) (Sample, error) {
	var p telemetryPayload
	if err := json.Unmarshal(raw.Value, &p); err != nil {
		return Sample{}, fmt.Errorf("parse telemetry payload: %w", err)
	}

	p.NodeID = strings.TrimSpace(p.NodeID)
	if p.NodeID == "" {
		return Sample{}, errors.New("parse telemetry payload: missing node_id")
	}
	if p.TS == "" {
		return Sample{}, errors.New("parse telemetry payload: missing ts")
	}
	ts, err := time.Parse(time.RFC3339, p.TS)
	if err != nil {
		return Sample{}, fmt.Errorf("parse telemetry payload: invalid ts %q: %w", p.TS, err)
	}

	return Sample{
		NodeID:               p.NodeID,
		TS:                   p.TS,
		Time:                 ts,
		DistM:                p.S.DistM,
		RainBin:              p.S.RainBin,
		BattV:                p.S.BattV,
		SensorHeightOverride: p.Meta.SensorHeightAboveCrestM,
	}, nil
}

// HQProfile holds a node's calibrated H-Q parameters and sensor geometry.
type HQProfile struct {
	A                       float64 `json:"a"`
	B                       float64 `json:"b"`
	H0M                     float64 `json:"h0_m"`
	SensorHeightAboveCrestM float64 `json:"sensor_height_above_crest_m"`
}

// DefaultHQProfile returns the profile used for nodes that have never been
// calibrated.
func DefaultHQProfile() HQProfile {
	return HQProfile{A: 1.0, B: 1.5, H0M: 0.0, SensorHeightAboveCrestM: 1.0}
}

// DerivedRecord is the pipeline output for one accepted sample, keyed by
// (node_id, ts). Nil fields were not derivable from the input.
type DerivedRecord struct {
	NodeID  string   `json:"node_id"`
	TS      string   `json:"ts"`
	DistM   *float64 `json:"dist_m,omitempty"`
	HM      *float64 `json:"h_m,omitempty"`
	HEff    *float64 `json:"h_eff,omitempty"`
	QM3s    *float64 `json:"q_m3s,omitempty"`
	DH10m   *float64 `json:"dh_10m,omitempty"`
	DQ10m   *float64 `json:"dq_10m,omitempty"`
	RainBin *int     `json:"rain_bin,omitempty"`
	BattV   *float64 `json:"batt_v,omitempty"`
	Flags   []string `json:"flags,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}

// FlagString joins the QC flags for display and storage, e.g.
// "SPIKES_H|OUT_OF_RANGE_Q". Empty when the record is clean.
func (r DerivedRecord) FlagString() string {
	return strings.Join(r.Flags, "|")
}

// HistoricalValue is the slice of a past record needed for delta computation.
type HistoricalValue struct {
	HM   *float64
	QM3s *float64
}

// Forecast is one horizon's output from the prediction model.
type Forecast struct {
	ProbFlood float64 `json:"prob_flood"`
	WlPeakCm  float64 `json:"wl_peak_cm"`
	CiLowCm   float64 `json:"ci_low_cm"`
	CiHighCm  float64 `json:"ci_high_cm"`
}

// Alert is an emitted early-warning event. ID is deterministic
// (node:ts:rule:horizon) so storage can deduplicate replays.
type Alert struct {
	ID       string `json:"alert_id"`
	TS       string `json:"ts"`
	NodeID   string `json:"node_id"`
	Level    string `json:"level"`
	HorizonH int    `json:"horizon_h"`
	Reason   string `json:"reason"`
}

// Float returns a pointer to v, for building optional fields in literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
