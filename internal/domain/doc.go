// Package domain models water-level telemetry from field nodes and the
// derived hydraulic quantities computed from it.
//
// # Telemetry payload
//
// Field gateways publish one JSON object per reading:
//
//	{
//	  "ts": "2025-11-03T09:15:00+07:00",
//	  "node_id": "CM-01",
//	  "s":    { "dist_m": 0.83, "rain_bin": 1, "batt_v": 4.92 },
//	  "meta": { "sensor_height_above_crest_m": 0.95 },
//	  "ver": 2
//	}
//
// "node_id" and "ts" are required; everything under "s" is optional. A
// missing sensor field stays absent through the whole pipeline: absence is
// distinct from zero, and no derived value is ever defaulted to fill a gap.
// "meta" may override the node's stored sensor height for a single sample
// (field crews re-mount sensors without touching the profile).
//
// # H-Q curve
//
// The ultrasonic sensor reports distance down to the water surface, so head
// above the weir crest is sensor height minus distance. Discharge follows an
// empirically calibrated power law:
//
//	H_eff = max(0, H - H0)
//	Q     = a * H_eff^b
//
// H0 is the datum offset, the head at which flow stops (the crest). The
// parameters (a, b, H0) come from calibration surveys: pairs of observed
// head and gauged discharge fitted by [Fitter] implementations. A survey
// with fewer than five usable pairs yields the sentinel [FitResult] rather
// than an error, so callers always hold a usable curve.
//
// # QC flags
//
// [QCFlags] attaches order-stable anomaly markers (range, negative head,
// spike, discharge bounds) to each derived record. Flags are independent of
// one another and never raised for absent values.
package domain
