package gate

import (
	"time"

	"github.com/ventwise/dab-controller/internal/cycle"
	"github.com/ventwise/dab-controller/internal/hvac"
)

// #region veto-type
// VetoType enumerates the reasons a cycle is not learned from.
type VetoType string

const (
	VetoInsufficient   VetoType = "insufficient_samples"
	VetoShortCycle     VetoType = "short_cycle"
	VetoWrongDirection VetoType = "wrong_direction"
	VetoSmallDelta     VetoType = "small_delta"
	VetoLowAperture    VetoType = "low_aperture"
	VetoApertureJitter VetoType = "aperture_jitter"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected rejection condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds the acceptance thresholds applied to a finished cycle.
type GateConfig struct {
	Window            time.Duration // trailing sample window (default 30m)
	StartLag          time.Duration // ignore samples this close to cycle start
	MinCycleMinutes   float64       // shorter cycles are discarded
	MinDeltaC         float64       // minimum net temperature change
	MinAperturePct    float64       // mean aperture below this is too weak to attribute
	ApertureJitterPct float64       // max-min aperture spread tolerated
	MinDuctDeltaC     float64       // duct-to-room delta needed for normalization
	DuctDeltaJitterC  float64       // spread of duct deltas still considered stable
	DuctReferenceC    float64       // duct delta that scales the rate-model regressor to 1
}

// DefaultGateConfig returns the thresholds used by the controller.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Window:            cycle.DefaultWindow,
		StartLag:          2 * time.Minute,
		MinCycleMinutes:   3,
		MinDeltaC:         0.1,
		MinAperturePct:    10,
		ApertureJitterPct: 10,
		MinDuctDeltaC:     3,
		DuctDeltaJitterC:  3,
		DuctReferenceC:    10,
	}
}

// #endregion gate-config

// #region cycle-input
// CycleInput is one vent's view of a completed cycle.
type CycleInput struct {
	Mode       hvac.Action
	CycleStart time.Time
	Samples    []cycle.Sample
	Setpoint   *float64
}

// #endregion cycle-input

// #region measurement
// Measurement is what the gate extracted from an accepted cycle.
type Measurement struct {
	Samples        int
	Trimmed        bool
	DeltaC         float64 // net change in the direction of the mode
	ElapsedMinutes float64
	Rate           float64 // °C per minute
	MeanAperture   float64 // percent
	ApertureSpread float64
	DuctDeltaC     float64
	DuctNormalized bool
	Efficiency     float64 // rate per unit aperture fraction, duct-normalized when stable
	DrivingForce   float64 // regressor for the rate model
}

// #endregion measurement

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string // "commit" | "reject"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
	SoftScore   float64      // 0-1 data quality composite (for logging)
	Measurement Measurement
}

// #endregion gate-decision
