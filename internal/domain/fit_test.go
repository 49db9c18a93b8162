package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticSurvey generates Q = a * max(0, H-h0)^b over H in [0, 0.2].
func syntheticSurvey(a, b, h0 float64, n int) (H, Q []float64) {
	H = make([]float64, n)
	Q = make([]float64, n)
	for i := 0; i < n; i++ {
		h := 0.2 * float64(i) / float64(n-1)
		H[i] = h
		he := math.Max(0, h-h0)
		Q[i] = a * math.Pow(he, b)
	}
	return H, Q
}

func assertRoundTrip(t *testing.T, fit FitResult) {
	t.Helper()
	assert.Greater(t, fit.A, 2.0)
	assert.Less(t, fit.A, 4.5)
	assert.Greater(t, fit.B, 1.2)
	assert.Less(t, fit.B, 2.2)
	assert.GreaterOrEqual(t, fit.H0M, 0.0)
	assert.LessOrEqual(t, fit.H0M, 0.05)
	assert.Greater(t, fit.R2, 0.9)
}

func TestSolverFitter_RoundTrip(t *testing.T) {
	H, Q := syntheticSurvey(3.0, 1.7, 0.02, 50)
	fit := SolverFitter{}.Fit(H, Q)
	assertRoundTrip(t, fit)
}

func TestGridFitter_RoundTrip(t *testing.T) {
	H, Q := syntheticSurvey(3.0, 1.7, 0.02, 50)
	fit := GridFitter{}.Fit(H, Q)
	assertRoundTrip(t, fit)
	assert.False(t, math.IsInf(fit.RMSE, 1))
}

func TestFit_InsufficientData(t *testing.T) {
	cases := []struct {
		name string
		H, Q []float64
	}{
		{"empty", nil, nil},
		{"four points", []float64{0.1, 0.2, 0.3, 0.4}, []float64{1, 2, 3, 4}},
		{"non-positive discharge filtered", []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, []float64{1, 2, 0, -1, 3, 0}},
		{"non-finite head filtered", []float64{math.NaN(), math.Inf(1), 0.3, 0.4, 0.5}, []float64{1, 2, 3, 4, 5}},
	}

	for _, fitter := range []Fitter{SolverFitter{}, GridFitter{}} {
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				fit := fitter.Fit(tc.H, tc.Q)
				assert.Equal(t, 1.0, fit.A)
				assert.Equal(t, 1.5, fit.B)
				assert.Equal(t, 0.0, fit.H0M)
				assert.Equal(t, 0.0, fit.R2)
				assert.True(t, math.IsInf(fit.RMSE, 1))
			})
		}
	}
}

func TestGridFitter_NoCandidateWithEnoughPoints(t *testing.T) {
	// All heads below every H0 candidate's positive range except too few.
	H := []float64{0.0, 0.0, 0.0, 0.0, 0.0, 0.001}
	Q := []float64{1, 1, 1, 1, 1, 1}
	fit := GridFitter{}.Fit(H, Q)
	assert.Equal(t, SentinelFit(), fit)
}

func TestNewFitter_Selection(t *testing.T) {
	assert.IsType(t, GridFitter{}, NewFitter("grid"))
	assert.IsType(t, SolverFitter{}, NewFitter("solver"))
	assert.IsType(t, SolverFitter{}, NewFitter(""))
}

func TestScoreFit_ZeroVariance(t *testing.T) {
	// SStot == 0 must yield r2 == 0, never NaN or -Inf.
	r2, rmse := scoreFit([]float64{2, 2, 2}, []float64{2, 2, 2})
	assert.Equal(t, 0.0, r2)
	assert.Equal(t, 0.0, rmse)

	r2, _ = scoreFit([]float64{2, 2, 2}, []float64{1, 2, 3})
	assert.Equal(t, 0.0, r2)
}

func TestFilterPairs(t *testing.T) {
	h, q := filterPairs(
		[]float64{0.1, math.NaN(), 0.3, 0.4, math.Inf(-1)},
		[]float64{1.0, 2.0, -0.5, 4.0, 5.0},
	)
	require.Equal(t, []float64{0.1, 0.4}, h)
	require.Equal(t, []float64{1.0, 4.0}, q)
}
