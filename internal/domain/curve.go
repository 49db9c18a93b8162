package domain

import (
	"fmt"
	"math"
)

// Discharge evaluates the calibrated H-Q power law at effective head heff.
// heff at or below zero means no flow over the crest, so the result is
// exactly 0 (no backflow is modeled). The only failure mode is non-finite
// input; any real-valued input is in domain.
func Discharge(heff, a, b float64) (float64, error) {
	if math.IsNaN(heff) || math.IsInf(heff, 0) {
		return 0, fmt.Errorf("discharge: non-finite effective head %v", heff)
	}
	if math.IsNaN(a) || math.IsInf(a, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
		return 0, fmt.Errorf("discharge: non-finite curve parameters a=%v b=%v", a, b)
	}
	if heff <= 0 {
		return 0.0, nil
	}
	return a * math.Pow(heff, b), nil
}
