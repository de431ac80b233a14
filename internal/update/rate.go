package update

import "math"

// degenerate is the smallest regression denominator treated as real variance.
const degenerate = 1e-9

// Add accumulates one observation.
func (r RateModel) Add(x, y float64) RateModel {
	r.N++
	r.SumX += x
	r.SumY += y
	r.SumXX += x * x
	r.SumXY += x * y
	return r
}

// Params returns slope and intercept once n ≥ 2 and x has variance.
func (r RateModel) Params() (slope, intercept float64, ok bool) {
	if r.N < 2 {
		return 0, 0, false
	}
	n := float64(r.N)
	denom := n*r.SumXX - r.SumX*r.SumX
	if math.Abs(denom) < degenerate {
		return 0, 0, false
	}
	slope = (n*r.SumXY - r.SumX*r.SumY) / denom
	intercept = (r.SumY - slope*r.SumX) / n
	return slope, intercept, true
}

// Predict returns the expected rate at driving force x.
func (r RateModel) Predict(x float64) (float64, bool) {
	slope, intercept, ok := r.Params()
	if !ok {
		return 0, false
	}
	return slope*x + intercept, true
}

// MeanX is the average driving force seen so far.
func (r RateModel) MeanX() (float64, bool) {
	if r.N == 0 {
		return 0, false
	}
	return r.SumX / float64(r.N), true
}
