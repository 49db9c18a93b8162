package domain

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// FitResult describes a fitted H-Q curve and its goodness of fit. A result
// with R2 == 0 and RMSE == +Inf is the insufficient-data sentinel: still a
// structurally valid curve, but one the caller should not apply.
type FitResult struct {
	A    float64 `json:"a"`
	B    float64 `json:"b"`
	H0M  float64 `json:"h0_m"`
	R2   float64 `json:"r2"`
	RMSE float64 `json:"rmse"`
}

// minFitPoints is the smallest survey that produces a real fit.
const minFitPoints = 5

// SentinelFit returns the fixed insufficient-data result. The parameters
// match the uncalibrated profile defaults so downstream code always has a
// usable curve.
func SentinelFit() FitResult {
	return FitResult{A: 1.0, B: 1.5, H0M: 0.0, R2: 0.0, RMSE: math.Inf(1)}
}

// Fitter produces H-Q curve parameters from synchronized head/discharge
// survey pairs. Implementations never return an error: malformed pairs are
// discarded, and a survey too small to fit yields [SentinelFit].
type Fitter interface {
	Fit(H, Q []float64) FitResult
}

// NewFitter selects the calibration strategy by name: "grid" for the
// log-linear grid search alone, anything else for the nonlinear solver with
// grid fallback.
func NewFitter(method string) Fitter {
	if method == "grid" {
		return GridFitter{}
	}
	return SolverFitter{}
}

// SolverFitter fits (a, b, H0) jointly by nonlinear least squares
// (Nelder-Mead on the sum of squared residuals, bounded evaluation count).
// When the solver fails to produce finite parameters with a > 0, it falls
// back to [GridFitter] so the caller still gets the best available curve.
type SolverFitter struct {
	// MaxEvaluations bounds the objective evaluations; 0 means 20000.
	MaxEvaluations int
}

func (f SolverFitter) Fit(H, Q []float64) FitResult {
	h, q := filterPairs(H, Q)
	if len(h) < minFitPoints {
		return SentinelFit()
	}

	sse := func(x []float64) float64 {
		a, b, h0 := x[0], x[1], x[2]
		var sum float64
		for i := range h {
			he := math.Max(0, h[i]-h0)
			var pred float64
			if he > 0 {
				pred = a * math.Pow(he, b)
			}
			d := q[i] - pred
			sum += d * d
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return math.MaxFloat64
		}
		return sum
	}

	evals := f.MaxEvaluations
	if evals <= 0 {
		evals = 20000
	}
	problem := optimize.Problem{Func: sse}
	settings := &optimize.Settings{FuncEvaluations: evals}
	result, err := optimize.Minimize(problem, []float64{1.0, 1.5, 0.0}, settings, &optimize.NelderMead{})
	if err != nil || !solvableParams(result.X) {
		return GridFitter{}.Fit(h, q)
	}

	a, b, h0 := result.X[0], result.X[1], result.X[2]
	pred := make([]float64, len(h))
	for i := range h {
		he := math.Max(0, h[i]-h0)
		if he > 0 {
			pred[i] = a * math.Pow(he, b)
		}
	}
	r2, rmse := scoreFit(q, pred)
	return FitResult{A: a, B: b, H0M: h0, R2: r2, RMSE: rmse}
}

// solvableParams rejects non-finite solver output and curves with a <= 0,
// which cannot describe a physical head-discharge relation.
func solvableParams(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return x[0] > 0
}

// GridFitter searches the datum offset H0 over [0, 0.1] m in 1 mm steps and
// fits a and b by ordinary least squares in log space at each candidate.
// The candidate with the strictly highest log-space r2 wins; ties keep the
// first seen.
type GridFitter struct{}

func (GridFitter) Fit(H, Q []float64) FitResult {
	h, q := filterPairs(H, Q)
	best := SentinelFit()
	if len(h) < minFitPoints {
		return best
	}

	for step := 0; step <= 100; step++ {
		h0 := float64(step) * 0.001

		var logHe, logQ []float64
		for i := range h {
			he := h[i] - h0
			if he > 0 {
				logHe = append(logHe, math.Log(he))
				logQ = append(logQ, math.Log(q[i]))
			}
		}
		if len(logHe) < minFitPoints {
			continue
		}

		b, logA, ok := linearRegression(logHe, logQ)
		if !ok {
			continue
		}

		pred := make([]float64, len(logHe))
		for i := range logHe {
			pred[i] = logA + b*logHe[i]
		}
		r2, rmse := scoreFit(logQ, pred)
		if r2 > best.R2 {
			best = FitResult{A: math.Exp(logA), B: b, H0M: h0, R2: r2, RMSE: rmse}
		}
	}
	return best
}

// filterPairs drops pairs with non-finite members or non-positive discharge.
func filterPairs(H, Q []float64) ([]float64, []float64) {
	n := len(H)
	if len(Q) < n {
		n = len(Q)
	}
	h := make([]float64, 0, n)
	q := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(H[i]) || math.IsInf(H[i], 0) || math.IsNaN(Q[i]) || math.IsInf(Q[i], 0) {
			continue
		}
		if Q[i] <= 0 {
			continue
		}
		h = append(h, H[i])
		q = append(q, Q[i])
	}
	return h, q
}

// linearRegression fits y = intercept + slope*x. ok is false when x has no
// spread.
func linearRegression(x, y []float64) (slope, intercept float64, ok bool) {
	n := float64(len(x))
	var xMean, yMean float64
	for i := range x {
		xMean += x[i]
		yMean += y[i]
	}
	xMean /= n
	yMean /= n

	var sxy, sxx float64
	for i := range x {
		sxy += (x[i] - xMean) * (y[i] - yMean)
		sxx += (x[i] - xMean) * (x[i] - xMean)
	}
	if sxx <= 0 {
		return 0, 0, false
	}
	slope = sxy / sxx
	return slope, yMean - slope*xMean, true
}

// scoreFit computes r2 = 1 - SSres/SStot (0 when SStot is not positive, so
// the score is never NaN or negative infinity) and the root-mean-square
// residual over the same points.
func scoreFit(yTrue, yPred []float64) (r2, rmse float64) {
	n := len(yTrue)
	if n == 0 {
		return 0, math.Inf(1)
	}
	var mean float64
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(n)

	var ssRes, ssTot float64
	for i := range yTrue {
		ssRes += (yTrue[i] - yPred[i]) * (yTrue[i] - yPred[i])
		ssTot += (yTrue[i] - mean) * (yTrue[i] - mean)
	}
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return r2, math.Sqrt(ssRes / float64(n))
}
