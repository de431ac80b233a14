package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ventwise/dab-controller/internal/cycle"
	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/update"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	StartModels     *update.Models          `json:"start_models,omitempty"`
	Config          FixtureConfig           `json:"config"`
	Cycles          []FixtureCycle          `json:"cycles"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureCycle mirrors replay.Cycle with JSON tags.
type FixtureCycle struct {
	CycleID    string         `json:"cycle_id"`
	VentID     string         `json:"vent_id"`
	Mode       hvac.Action    `json:"mode"`
	CycleStart time.Time      `json:"cycle_start"`
	Setpoint   *float64       `json:"setpoint,omitempty"`
	Samples    []cycle.Sample `json:"samples"`
}

// FixtureExpectedResult captures the expected action per cycle.
type FixtureExpectedResult struct {
	CycleID string `json:"cycle_id"`
	Action  string `json:"action"`
}

// FixtureConfig bundles all sub-configs for a replay run. Zero values keep
// the defaults.
type FixtureConfig struct {
	GateConfig   FixtureGateConfig   `json:"gate_config"`
	UpdateConfig FixtureUpdateConfig `json:"update_config"`
	EvalConfig   FixtureEvalConfig   `json:"eval_config"`
}

// FixtureGateConfig mirrors gate.GateConfig with JSON tags and minute units.
type FixtureGateConfig struct {
	WindowMinutes     float64 `json:"window_minutes"`
	StartLagMinutes   float64 `json:"start_lag_minutes"`
	MinCycleMinutes   float64 `json:"min_cycle_minutes"`
	MinDeltaC         float64 `json:"min_delta_c"`
	MinAperturePct    float64 `json:"min_aperture_pct"`
	ApertureJitterPct float64 `json:"aperture_jitter_pct"`
	MinDuctDeltaC     float64 `json:"min_duct_delta_c"`
	DuctDeltaJitterC  float64 `json:"duct_delta_jitter_c"`
	DuctReferenceC    float64 `json:"duct_reference_c"`
}

// FixtureUpdateConfig mirrors update.UpdateConfig with JSON tags.
type FixtureUpdateConfig struct {
	RegimeConfidence float64 `json:"regime_confidence"`
	OffsetWindow     int     `json:"offset_window"`
}

// FixtureEvalConfig mirrors eval.EvalConfig with JSON tags.
type FixtureEvalConfig struct {
	MaxEfficiency float64 `json:"max_efficiency"`
	MaxRate       float64 `json:"max_rate"`
	MaxOffsets    int     `json:"max_offsets"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToCycle converts a FixtureCycle to a domain Cycle.
func (fc *FixtureCycle) ToCycle() Cycle {
	return Cycle{
		CycleID:    fc.CycleID,
		VentID:     fc.VentID,
		Mode:       fc.Mode,
		CycleStart: fc.CycleStart,
		Setpoint:   fc.Setpoint,
		Samples:    fc.Samples,
	}
}

// ToCycles converts every fixture cycle.
func (f *Fixture) ToCycles() []Cycle {
	out := make([]Cycle, len(f.Cycles))
	for i := range f.Cycles {
		out[i] = f.Cycles[i].ToCycle()
	}
	return out
}

// ToReplayConfig overlays the fixture's non-zero settings on the defaults.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	g := fc.GateConfig
	setDuration(&cfg.GateConfig.Window, g.WindowMinutes)
	setDuration(&cfg.GateConfig.StartLag, g.StartLagMinutes)
	setFloat(&cfg.GateConfig.MinCycleMinutes, g.MinCycleMinutes)
	setFloat(&cfg.GateConfig.MinDeltaC, g.MinDeltaC)
	setFloat(&cfg.GateConfig.MinAperturePct, g.MinAperturePct)
	setFloat(&cfg.GateConfig.ApertureJitterPct, g.ApertureJitterPct)
	setFloat(&cfg.GateConfig.MinDuctDeltaC, g.MinDuctDeltaC)
	setFloat(&cfg.GateConfig.DuctDeltaJitterC, g.DuctDeltaJitterC)
	setFloat(&cfg.GateConfig.DuctReferenceC, g.DuctReferenceC)

	setFloat(&cfg.UpdateConfig.RegimeConfidence, fc.UpdateConfig.RegimeConfidence)
	if fc.UpdateConfig.OffsetWindow > 0 {
		cfg.UpdateConfig.OffsetWindow = fc.UpdateConfig.OffsetWindow
	}

	setFloat(&cfg.EvalConfig.MaxEfficiency, fc.EvalConfig.MaxEfficiency)
	setFloat(&cfg.EvalConfig.MaxRate, fc.EvalConfig.MaxRate)
	if fc.EvalConfig.MaxOffsets > 0 {
		cfg.EvalConfig.MaxOffsets = fc.EvalConfig.MaxOffsets
	}
	return cfg
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, minutes float64) {
	if minutes != 0 {
		*dst = time.Duration(minutes * float64(time.Minute))
	}
}

// #endregion fixture-loader
