package target

import (
	"fmt"
	"time"

	"github.com/ventwise/dab-controller/internal/hvac"
)

// #region strategy
// Strategy selects how a vent's desired aperture is computed.
type Strategy string

const (
	StrategyDAB    Strategy = "dab"
	StrategyCost   Strategy = "cost"
	StrategyStats  Strategy = "stats"
	StrategyHybrid Strategy = "hybrid"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{StrategyDAB, StrategyCost, StrategyStats, StrategyHybrid}

// ParseStrategy validates a strategy name. Empty selects hybrid.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyHybrid, nil
	}
	for _, known := range Strategies {
		if Strategy(s) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// #endregion strategy

// #region config
// Config holds the calculator's tuning.
type Config struct {
	Strategy             Strategy
	TimeBudgetMinutes    float64       // horizon the dab strategy plans to close the error in
	Granularity          int           // aperture step the vents accept
	CloseInactiveRooms   bool          // drive inactive rooms to ClosedTarget
	ClosedTarget         int           // aperture used for inactive rooms
	ConventionalOpenPct  float64       // open area each conventional vent contributes to the floor
	MinAdjustPercent     int           // hysteresis: minimum change worth commanding
	MinAdjustInterval    time.Duration // hysteresis: minimum spacing between commands
	TempErrorOverrideC   float64       // error that bypasses hysteresis (0 disables)
	CostTempWeight       float64
	CostEfficiencyWeight float64
	HybridDABWeight      float64 // share of dab in the hybrid blend
	DefaultEfficientPt   float64 // aperture fraction assumed before a vent has history
	DefaultAvgTempError  float64 // stats fallback before any cycle has been measured
}

// DefaultConfig returns the calculator defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:             StrategyHybrid,
		TimeBudgetMinutes:    30,
		Granularity:          5,
		CloseInactiveRooms:   true,
		ClosedTarget:         0,
		ConventionalOpenPct:  50,
		MinAdjustPercent:     10,
		MinAdjustInterval:    10 * time.Minute,
		TempErrorOverrideC:   1.0,
		CostTempWeight:       1.0,
		CostEfficiencyWeight: 0.25,
		HybridDABWeight:      0.5,
		DefaultEfficientPt:   0.5,
		DefaultAvgTempError:  1.0,
	}
}

// #endregion config

// #region input
// VentInput is everything the calculator needs to know about one vent.
type VentInput struct {
	VentID          string
	RoomID          string
	Active          bool
	TempC           *float64
	Aperture        *int
	LastCommanded   *int
	LastCommandedAt time.Time
	Rate            float64  // effective rate, °C/min per unit aperture fraction
	Confident       bool     // vent has a model worth trusting
	EfficientPoint  *float64 // learned typical aperture fraction
}

// Input is one circuit's snapshot for a single calculation.
type Input struct {
	Action            hvac.Action
	SetpointC         float64
	Vents             []VentInput
	ConventionalVents int
	AvgTempError      float64
	Now               time.Time
}

// #endregion input

// #region result
// VentTarget is the calculator's decision for one vent.
type VentTarget struct {
	VentID    string
	Target    int
	Raw       float64
	Commit    bool
	Reason    string
	TempError float64
	HasError  bool
	Floor     bool // raised by the conventional-vent floor
	Strategy  Strategy
}

// Result is the calculator output for one circuit.
type Result struct {
	Strategy      Strategy
	Targets       []VentTarget
	ActiveRooms   int
	MeanTempError float64
	FloorApplied  bool
}

// Committed returns the targets that passed hysteresis.
func (r Result) Committed() []VentTarget {
	var out []VentTarget
	for _, t := range r.Targets {
		if t.Commit {
			out = append(out, t)
		}
	}
	return out
}

// #endregion result
