package update

import "math"

// #region observe
// Observe folds one accepted efficiency sample into the model.
//
// The baseline is the running mean of every accepted sample. Each sample also
// leaves an offset against the baseline it was compared to; the mean of recent
// offsets is the current regime. Effective stays equal to baseline until
// confidence reaches the configured threshold.
func (e EfficiencyModel) Observe(sample float64, cfg UpdateConfig) EfficiencyModel {
	next := EfficiencyModel{BaselineN: e.BaselineN + 1}

	offset := 0.0
	if e.BaselineN > 0 {
		offset = sample - e.Baseline
	}
	next.Baseline = e.Baseline + (sample-e.Baseline)/float64(next.BaselineN)

	window := cfg.OffsetWindow
	if window <= 0 {
		window = 1
	}
	next.Offsets = append(append([]float64(nil), e.Offsets...), offset)
	if len(next.Offsets) > window {
		next.Offsets = next.Offsets[len(next.Offsets)-window:]
	}

	next.Confidence = confidence(next.Offsets, next.Baseline, window)
	next.Effective = next.Baseline
	if next.Confidence >= cfg.RegimeConfidence {
		regime := next.Baseline + mean(next.Offsets)
		next.Effective = next.Confidence*regime + (1-next.Confidence)*next.Baseline
	}
	if next.Effective < 0 {
		next.Effective = 0
	}
	return next
}

// #endregion observe

// #region confidence
// confidence grows with the number of recent offsets and shrinks with their
// dispersion relative to the baseline. Always within [0, 1].
func confidence(offsets []float64, baseline float64, window int) float64 {
	if len(offsets) == 0 {
		return 0
	}
	fill := math.Min(1, float64(len(offsets))/float64(window))

	sd := stddev(offsets)
	var cv float64
	switch {
	case sd == 0:
		cv = 0
	case baseline == 0:
		return 0
	default:
		cv = sd / math.Abs(baseline)
	}
	return math.Min(1, fill/(1+cv))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// #endregion confidence
