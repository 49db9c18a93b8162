// Package forecast produces per-horizon flood probabilities and fetches the
// next-hour precipitation rate that feeds the early-warning rule.
package forecast

import (
	"math"

	"github.com/hydrowatch/flood-telemetry-service/internal/domain"
)

// Features is the model input derived from a node's latest record. Optional
// members are nil when the record had no value.
type Features struct {
	HM           float64
	DH10m        *float64
	RainNextHour *float64
}

// Predictor maps features to per-horizon flood probability and a naive
// water-level peak projection. The pipeline treats the model as opaque; this
// implementation is the calibrated-heuristic baseline that ships with the
// service so alerting works without a trained model artifact.
type Predictor struct{}

// Predict returns one forecast per requested horizon. Probability grows with
// head (cm), the 10-minute rise, and forecast rain, clamped to [0, 1].
func (Predictor) Predict(f Features, horizons []int) map[int]domain.Forecast {
	hCm := math.Max(0, f.HM) * 100.0
	rise := math.Max(0, orZero(f.DH10m)) * 10.0
	rain := orZero(f.RainNextHour) / 10.0
	prob := clamp01(0.003*hCm + 0.2*rise + 0.1*rain)

	// Peak projection: one hour of the current 10-minute rise, in cm.
	peakCm := math.Max(0, f.HM*100.0+orZero(f.DH10m)*6.0*100.0)

	out := make(map[int]domain.Forecast, len(horizons))
	for _, h := range horizons {
		out[h] = domain.Forecast{
			ProbFlood: prob,
			WlPeakCm:  peakCm,
			CiLowCm:   math.Max(0, peakCm-5.0),
			CiHighCm:  peakCm + 5.0,
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0.0
	}
	return *v
}
