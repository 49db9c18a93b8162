package domain

import "math"

// QC flag names, in the fixed order they are evaluated and reported.
const (
	FlagOutOfRangeDist = "OUT_OF_RANGE_DIST"
	FlagNegH           = "NEG_H"
	FlagSpikesH        = "SPIKES_H"
	FlagOutOfRangeQ    = "OUT_OF_RANGE_Q"
)

// DefaultQMax is the conservative discharge ceiling used when no site
// limit is configured.
const DefaultQMax = 1000.0

// QC thresholds. Distances come from the sensor's rated window; the head
// thresholds absorb mounting tolerance and ultrasonic jitter.
const (
	qcDistMin    = 0.05
	qcDistMax    = 5.0
	qcNegHFloor  = -0.02
	qcSpikeDH10m = 0.15
)

// QCFlags evaluates the per-record quality rules and returns the raised
// flags in declaration order. Each rule is independent; a record can carry
// any subset. Absent (nil) inputs never raise a flag; missing data is not
// an anomaly at this layer.
func QCFlags(distM, hM, dH10m, qM3s *float64, qMax float64) []string {
	var flags []string
	if distM != nil && (*distM < qcDistMin || *distM > qcDistMax) {
		flags = append(flags, FlagOutOfRangeDist)
	}
	if hM != nil && *hM < qcNegHFloor {
		flags = append(flags, FlagNegH)
	}
	if dH10m != nil && math.Abs(*dH10m) >= qcSpikeDH10m {
		flags = append(flags, FlagSpikesH)
	}
	if qM3s != nil && (*qM3s < 0 || *qM3s > qMax) {
		flags = append(flags, FlagOutOfRangeQ)
	}
	return flags
}
