package update

import (
	"math"
	"testing"

	"github.com/ventwise/dab-controller/internal/gate"
	"github.com/ventwise/dab-controller/internal/hvac"
)

func committed(eff, rate, x float64) gate.GateDecision {
	return gate.GateDecision{
		Action: "commit",
		Measurement: gate.Measurement{
			Efficiency:   eff,
			Rate:         rate,
			DrivingForce: x,
		},
	}
}

func TestRateModelParams(t *testing.T) {
	r := RateModel{N: 2, SumX: 3, SumY: 5, SumXX: 5, SumXY: 9}
	slope, intercept, ok := r.Params()
	if !ok {
		t.Fatal("expected parameters")
	}
	if slope != 3 || intercept != -2 {
		t.Fatalf("expected slope 3 intercept -2, got %v %v", slope, intercept)
	}

	flat := RateModel{N: 2, SumX: 1, SumY: 1, SumXX: 0.5, SumXY: 0.5}
	if _, _, ok := flat.Params(); ok {
		t.Fatal("expected degenerate variance to report no parameters")
	}
}

func TestRateModelNeedsTwoSamples(t *testing.T) {
	var r RateModel
	if _, _, ok := r.Params(); ok {
		t.Fatal("empty model should have no parameters")
	}
	r = r.Add(0.5, 0.2)
	if _, _, ok := r.Params(); ok {
		t.Fatal("n=1 should have no parameters")
	}
	r = r.Add(1.0, 0.5)
	slope, intercept, ok := r.Params()
	if !ok {
		t.Fatal("n=2 with variance should have parameters")
	}
	if math.Abs(slope-0.6) > 1e-9 || math.Abs(intercept+0.1) > 1e-9 {
		t.Fatalf("unexpected fit slope=%v intercept=%v", slope, intercept)
	}
	if p, _ := r.Predict(0.75); math.Abs(p-0.35) > 1e-9 {
		t.Fatalf("unexpected prediction %v", p)
	}
}

func TestEfficiencyBelowThresholdEqualsBaseline(t *testing.T) {
	cfg := DefaultUpdateConfig()
	var e EfficiencyModel
	for _, s := range []float64{0.3, 0.5, 0.2, 0.6} {
		e = e.Observe(s, cfg)
		if e.Confidence >= cfg.RegimeConfidence {
			t.Fatalf("confidence %v reached threshold too early", e.Confidence)
		}
		if e.Effective != e.Baseline {
			t.Fatalf("effective %v must equal baseline %v below threshold", e.Effective, e.Baseline)
		}
	}
	if math.Abs(e.Baseline-0.4) > 1e-9 {
		t.Fatalf("expected running mean 0.4, got %v", e.Baseline)
	}
}

func TestEfficiencyRegimeShiftMovesEffective(t *testing.T) {
	cfg := DefaultUpdateConfig()
	var e EfficiencyModel
	for i := 0; i < 20; i++ {
		e = e.Observe(0.30, cfg)
	}
	for i := 0; i < cfg.OffsetWindow; i++ {
		e = e.Observe(0.36, cfg)
	}
	if e.Confidence < cfg.RegimeConfidence {
		t.Fatalf("expected confident regime, got %v", e.Confidence)
	}
	if e.Effective <= e.Baseline {
		t.Fatalf("expected effective %v above baseline %v after upward shift", e.Effective, e.Baseline)
	}
	if e.Confidence > 1 {
		t.Fatalf("confidence above 1: %v", e.Confidence)
	}
	if len(e.Offsets) != cfg.OffsetWindow {
		t.Fatalf("expected %d offsets, got %d", cfg.OffsetWindow, len(e.Offsets))
	}
}

func TestUpdateNoOpOnRejectedCycle(t *testing.T) {
	old := VentModels{Efficiency: EfficiencyModel{Baseline: 0.3, BaselineN: 3, Effective: 0.3}}
	rejected := gate.GateDecision{Action: "reject", Reason: "hard veto: wrong direction"}

	result := Update(old, rejected, DefaultUpdateConfig())
	if result.Decision.Action != "no_op" {
		t.Fatalf("expected no_op, got %s", result.Decision.Action)
	}
	if result.New.Efficiency.BaselineN != 3 || result.New.Rate.N != 0 {
		t.Fatal("rejected cycle must not change models")
	}

	bad := Update(old, committed(math.Inf(1), 0.1, 0.5), DefaultUpdateConfig())
	if bad.Decision.Action != "no_op" {
		t.Fatal("infinite efficiency must be ignored")
	}
}

func TestUpdateCommit(t *testing.T) {
	result := Update(VentModels{}, committed(0.286, 0.143, 0.5), DefaultUpdateConfig())
	if result.Decision.Action != "commit" {
		t.Fatalf("expected commit, got %s", result.Decision.Action)
	}
	if result.New.Rate.N != 1 || result.New.Efficiency.Baseline != 0.286 {
		t.Fatalf("unexpected models %+v", result.New)
	}
	if result.Metrics.HasParams {
		t.Fatal("one observation cannot produce regression parameters")
	}
}

func TestModelsEffectiveRateFallbacks(t *testing.T) {
	m := NewModels()
	if got := m.GetEffectiveRate("v1", hvac.ActionHeating, 0.5); got != 0.5 {
		t.Fatalf("expected initial default, got %v", got)
	}
	m.Efficiency["v1"] = map[hvac.Action]EfficiencyModel{hvac.ActionHeating: {Baseline: 0.25, BaselineN: 1}}
	if got := m.GetEffectiveRate("v1", hvac.ActionHeating, 0.5); got != 0.25 {
		t.Fatalf("expected baseline, got %v", got)
	}
	m.Store("v1", hvac.ActionHeating, VentModels{Efficiency: EfficiencyModel{Baseline: 0.25, Effective: 0.3, BaselineN: 2}})
	if got := m.GetEffectiveRate("v1", hvac.ActionHeating, 0.5); got != 0.3 {
		t.Fatalf("expected effective, got %v", got)
	}
	if m.MaxRates[hvac.ActionHeating] != 0.3 {
		t.Fatalf("expected max rate to track, got %v", m.MaxRates[hvac.ActionHeating])
	}
	m.SetVentRate("v2", hvac.ActionHeating, 0.15)
	if pct := m.EfficiencyPercent("v2", hvac.ActionHeating, 50); pct != 50 {
		t.Fatalf("expected 50%%, got %v", pct)
	}
	if pct := m.EfficiencyPercent("v3", hvac.ActionHeating, 42); pct != 42 {
		t.Fatalf("expected fallback percent, got %v", pct)
	}
}

func TestModelsCloneIsDeep(t *testing.T) {
	m := NewModels()
	m.Store("v1", hvac.ActionCooling, VentModels{Efficiency: EfficiencyModel{Baseline: 0.2, Offsets: []float64{0.1}}})
	cp := m.Clone()
	cp.Efficiency["v1"][hvac.ActionCooling].Offsets[0] = 9
	cp.VentRates["v1"][hvac.ActionCooling] = 9
	if m.Efficiency["v1"][hvac.ActionCooling].Offsets[0] != 0.1 || m.VentRates["v1"][hvac.ActionCooling] == 9 {
		t.Fatal("clone shares state with original")
	}
}
