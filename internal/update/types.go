package update

import "github.com/ventwise/dab-controller/internal/hvac"

// #region rate-model
// RateModel holds the sufficient statistics of a simple linear regression of
// temperature rate (y, °C/min) on aperture-normalized driving force (x).
type RateModel struct {
	N     int     `json:"n"`
	SumX  float64 `json:"sum_x"`
	SumY  float64 `json:"sum_y"`
	SumXX float64 `json:"sum_xx"`
	SumXY float64 `json:"sum_xy"`
}

// #endregion rate-model

// #region efficiency-model
// EfficiencyModel tracks a vent's long-run efficiency and a confidence-gated
// estimate of the regime it is currently in.
type EfficiencyModel struct {
	Baseline   float64   `json:"baseline"`
	BaselineN  int       `json:"baseline_n"`
	Offsets    []float64 `json:"offsets"`
	Effective  float64   `json:"effective"`
	Confidence float64   `json:"confidence"`
}

// #endregion efficiency-model

// #region vent-models
// VentModels is everything learned for one (vent, mode) pair.
type VentModels struct {
	Rate       RateModel
	Efficiency EfficiencyModel
}

// #endregion vent-models

// #region decision
// Decision records what the update function decided.
type Decision struct {
	Action string // "commit" | "no_op"
	Reason string
}

// #endregion decision

// #region metrics
// Metrics captures telemetry from one model update.
type Metrics struct {
	EfficiencySample float64
	BaselineBefore   float64
	BaselineAfter    float64
	EffectiveBefore  float64
	EffectiveAfter   float64
	Confidence       float64
	Slope            float64
	Intercept        float64
	HasParams        bool
	UpdateTimeMs     int64
}

// #endregion metrics

// #region update-config
// UpdateConfig holds the efficiency model's tuning.
type UpdateConfig struct {
	RegimeConfidence float64 // confidence needed before effective leaves baseline (default 0.6)
	OffsetWindow     int     // recent offsets kept (default 8)
}

// DefaultUpdateConfig returns the controller's learning defaults.
func DefaultUpdateConfig() UpdateConfig {
	return UpdateConfig{
		RegimeConfidence: 0.6,
		OffsetWindow:     8,
	}
}

// #endregion update-config

// #region update-result
// UpdateResult bundles everything returned by Update().
type UpdateResult struct {
	New      VentModels
	Decision Decision
	Metrics  Metrics
}

// #endregion update-result

// #region models
// Models is the single aggregate of everything the engine has learned.
// Maps are keyed by vent id, then by mode.
type Models struct {
	Rates             map[string]map[hvac.Action]RateModel       `json:"rate_models"`
	Efficiency        map[string]map[hvac.Action]EfficiencyModel `json:"efficiency_models"`
	VentRates         map[string]map[hvac.Action]float64         `json:"vent_rates"`
	MaxRates          map[hvac.Action]float64                    `json:"max_rates"`
	MaxRunningMinutes map[string]float64                         `json:"max_running_minutes"`
}

// #endregion models
