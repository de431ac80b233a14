package update

import (
	"fmt"
	"math"
	"time"

	"github.com/ventwise/dab-controller/internal/gate"
)

// #region update-function
// Update is a pure function that folds an accepted cycle measurement into a
// vent's models. Measurements the gate did not commit, or that carry no usable
// efficiency, return the old models with a no_op decision.
func Update(old VentModels, decision gate.GateDecision, config UpdateConfig) UpdateResult {
	start := time.Now()
	m := decision.Measurement

	metrics := Metrics{
		BaselineBefore:  old.Efficiency.Baseline,
		EffectiveBefore: old.Efficiency.Effective,
	}

	if decision.Action != "commit" {
		return noOp(old, metrics, fmt.Sprintf("gate rejected: %s", decision.Reason), start)
	}
	if math.IsNaN(m.Efficiency) || math.IsInf(m.Efficiency, 0) || m.Efficiency <= 0 {
		return noOp(old, metrics, fmt.Sprintf("unusable efficiency sample %v", m.Efficiency), start)
	}

	next := VentModels{
		Rate:       old.Rate.Add(m.DrivingForce, m.Rate),
		Efficiency: old.Efficiency.Observe(m.Efficiency, config),
	}

	metrics.EfficiencySample = m.Efficiency
	metrics.BaselineAfter = next.Efficiency.Baseline
	metrics.EffectiveAfter = next.Efficiency.Effective
	metrics.Confidence = next.Efficiency.Confidence
	metrics.Slope, metrics.Intercept, metrics.HasParams = next.Rate.Params()
	metrics.UpdateTimeMs = time.Since(start).Milliseconds()

	return UpdateResult{
		New: next,
		Decision: Decision{
			Action: "commit",
			Reason: fmt.Sprintf("efficiency %.4f confidence %.2f", next.Efficiency.Effective, next.Efficiency.Confidence),
		},
		Metrics: metrics,
	}
}

// KeepRate restores the previous rate model after eval rejected the new fit.
// The efficiency update stands.
func (u *UpdateResult) KeepRate(old RateModel) {
	u.New.Rate = old
	u.Metrics.Slope, u.Metrics.Intercept, u.Metrics.HasParams = old.Params()
}

func noOp(old VentModels, metrics Metrics, reason string, start time.Time) UpdateResult {
	metrics.BaselineAfter = old.Efficiency.Baseline
	metrics.EffectiveAfter = old.Efficiency.Effective
	metrics.Confidence = old.Efficiency.Confidence
	metrics.UpdateTimeMs = time.Since(start).Milliseconds()
	return UpdateResult{
		New:      old,
		Decision: Decision{Action: "no_op", Reason: reason},
		Metrics:  metrics,
	}
}

// #endregion update-function
