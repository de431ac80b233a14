package eval

import (
	"fmt"
	"math"

	"github.com/ventwise/dab-controller/internal/update"
)

// #region eval-harness
// EvalHarness runs lightweight validation on a vent's models after an update.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks the updated models for values no physical vent can produce.
// A failed result means the caller keeps the previous models. A rate fit that
// only extrapolates past MaxRate at full aperture sets RateRejected instead:
// the caller keeps the previous rate model and commits the rest.
func (h *EvalHarness) Run(vm update.VentModels) EvalResult {
	var metrics []EvalMetric
	var failReasons []string
	var rateNote string

	check := func(name string, value float64, pass bool, format string, args ...any) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, fmt.Sprintf(format, args...))
		}
	}

	e := vm.Efficiency

	// 1. Efficiency values finite, non-negative and bounded
	check("baseline", e.Baseline, bounded(e.Baseline, h.config.MaxEfficiency),
		"baseline %.4f outside [0, %.2f]", e.Baseline, h.config.MaxEfficiency)
	check("effective", e.Effective, bounded(e.Effective, h.config.MaxEfficiency),
		"effective %.4f outside [0, %.2f]", e.Effective, h.config.MaxEfficiency)

	// 2. Confidence is a probability-like score
	check("confidence", e.Confidence, e.Confidence >= 0 && e.Confidence <= 1 && !math.IsNaN(e.Confidence),
		"confidence %.4f outside [0, 1]", e.Confidence)

	// 3. Offset window respected
	check("offsets", float64(len(e.Offsets)), len(e.Offsets) <= h.config.MaxOffsets,
		"%d offsets exceed %d", len(e.Offsets), h.config.MaxOffsets)

	// 4. Regression sums finite
	r := vm.Rate
	sumsFinite := finite(r.SumX) && finite(r.SumY) && finite(r.SumXX) && finite(r.SumXY)
	check("rate_sums", float64(r.N), sumsFinite && r.N >= 0, "rate model sums not finite")

	// 5. Fit plausible at full aperture. Two close points can extrapolate
	// wildly; that costs the fit, not the efficiency update.
	rateRejected := false
	if predicted, ok := r.Predict(1.0); ok && sumsFinite {
		pass := finite(predicted) && math.Abs(predicted) <= h.config.MaxRate
		metrics = append(metrics, EvalMetric{Name: "rate_at_full", Value: predicted, Pass: pass})
		if !pass {
			rateRejected = true
			rateNote = fmt.Sprintf("rate fit skipped: predicted full-aperture rate %.4f exceeds %.2f", predicted, h.config.MaxRate)
		}
	}

	passed := len(failReasons) == 0
	reason := "all checks passed"
	if rateNote != "" {
		reason = rateNote
	}
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:       passed,
		RateRejected: rateRejected,
		Metrics:      metrics,
		Reason:       reason,
	}
}

// #endregion eval-harness

// #region helpers
func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func bounded(x, upper float64) bool {
	return finite(x) && x >= 0 && x <= upper
}

// #endregion helpers
