package target

import "math"

// #region dab
// DABTarget maps the rate needed to close errC within budget minutes onto the
// vent's learned rate. An unknown rate opens fully; no error closes.
func DABTarget(errC, rate, budgetMinutes float64) float64 {
	if errC <= 0 {
		return 0
	}
	if rate <= 0 || budgetMinutes <= 0 {
		return 100
	}
	required := errC / budgetMinutes
	return clampPct(100 * required / rate)
}

// #endregion dab

// #region cost
// CostForTarget scores an aperture: squared residual error after budget
// minutes plus squared distance from the vent's efficient point.
func CostForTarget(errC, rate, budgetMinutes, targetPct, efficientPt, wTemp, wEff float64) float64 {
	a := targetPct / 100
	residual := errC - rate*a*budgetMinutes
	drift := a - efficientPt
	return wTemp*residual*residual + wEff*drift*drift
}

// CostTarget returns the granularity step with the lowest cost. Ties resolve
// to the smaller aperture.
func CostTarget(errC, rate, budgetMinutes, efficientPt, wTemp, wEff float64, granularity int) float64 {
	if errC <= 0 {
		return 0
	}
	if granularity <= 0 {
		granularity = 1
	}
	best, bestCost := 0.0, math.Inf(1)
	for pct := 0; pct <= 100; pct += granularity {
		c := CostForTarget(errC, rate, budgetMinutes, float64(pct), efficientPt, wTemp, wEff)
		if c < bestCost-1e-12 {
			best, bestCost = float64(pct), c
		}
	}
	return best
}

// #endregion cost

// #region stats
// StatsTarget scales the error against the historical mean error: a room as
// far off as the average room gets half open.
func StatsTarget(errC, avgErrC float64) float64 {
	if errC <= 0 {
		return 0
	}
	if avgErrC <= 0 {
		return 100
	}
	return clampPct(100 * errC / (2 * avgErrC))
}

// #endregion stats

// #region dispatch
// compute evaluates the strategy for one vent. Hybrid resolves to the blend
// when the vent's model is trusted and to stats otherwise; the returned
// strategy is the one that actually produced the value.
func (s Strategy) compute(v VentInput, errC float64, in Input, cfg Config) (float64, Strategy) {
	ep := cfg.DefaultEfficientPt
	if v.EfficientPoint != nil {
		ep = *v.EfficientPoint
	}
	avg := in.AvgTempError
	if avg <= 0 {
		avg = cfg.DefaultAvgTempError
	}

	switch s {
	case StrategyDAB:
		return DABTarget(errC, v.Rate, cfg.TimeBudgetMinutes), StrategyDAB
	case StrategyCost:
		return CostTarget(errC, v.Rate, cfg.TimeBudgetMinutes, ep, cfg.CostTempWeight, cfg.CostEfficiencyWeight, cfg.Granularity), StrategyCost
	case StrategyStats:
		return StatsTarget(errC, avg), StrategyStats
	default:
		if !v.Confident {
			return StatsTarget(errC, avg), StrategyStats
		}
		w := math.Max(0, math.Min(1, cfg.HybridDABWeight))
		dab := DABTarget(errC, v.Rate, cfg.TimeBudgetMinutes)
		cost := CostTarget(errC, v.Rate, cfg.TimeBudgetMinutes, ep, cfg.CostTempWeight, cfg.CostEfficiencyWeight, cfg.Granularity)
		return w*dab + (1-w)*cost, StrategyHybrid
	}
}

// #endregion dispatch

func clampPct(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}
