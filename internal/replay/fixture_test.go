package replay

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// #region fixture-tests

// TestFixture_HeatingSession loads the heating_session fixture, runs Replay(),
// and compares each cycle's Action against the expected action. If gate or
// update thresholds change, this catches drift.
func TestFixture_HeatingSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "heating_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	config := f.Config.ToReplayConfig()
	results, final := Replay(f.StartModels, f.ToCycles(), config)

	if len(results) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(results))
	}
	for i, expected := range f.ExpectedResults {
		actual := results[i]
		if actual.CycleID != expected.CycleID {
			t.Errorf("cycle %d: expected cycle_id=%s, got %s", i, expected.CycleID, actual.CycleID)
		}
		if actual.Action != expected.Action {
			t.Errorf("cycle %d (%s): expected action=%s, got action=%s (reason: %s)",
				i, expected.CycleID, expected.Action, actual.Action, actual.Reason)
		}
	}

	if got := results[0].GateDecision.Measurement.Efficiency; math.Abs(got-(1.0/7.0)/0.5) > 1e-9 {
		t.Errorf("c1 efficiency = %v, want %v", got, (1.0/7.0)/0.5)
	}
	if !results[3].GateDecision.Measurement.DuctNormalized {
		t.Error("c4 should be duct normalized")
	}
	if _, ok := final.VentRates["v2"]; ok {
		t.Error("v2 never committed, expected no published rate")
	}
	if final.Rates["v1"]["heating"].N != 2 {
		t.Errorf("v1 heating regression n = %d, want 2", final.Rates["v1"]["heating"].N)
	}
}

func TestFixtureConfigOverlaysDefaults(t *testing.T) {
	fc := FixtureConfig{GateConfig: FixtureGateConfig{StartLagMinutes: 1.5, MinDeltaC: 0.2}}
	cfg := fc.ToReplayConfig()
	def := DefaultReplayConfig()

	if cfg.GateConfig.StartLag != 90*time.Second {
		t.Errorf("start lag = %s, want 1m30s", cfg.GateConfig.StartLag)
	}
	if cfg.GateConfig.MinDeltaC != 0.2 {
		t.Errorf("min delta = %v, want 0.2", cfg.GateConfig.MinDeltaC)
	}
	if cfg.GateConfig.Window != def.GateConfig.Window {
		t.Errorf("window = %s, want default %s", cfg.GateConfig.Window, def.GateConfig.Window)
	}
	if cfg.EvalConfig != def.EvalConfig {
		t.Errorf("eval config = %+v, want defaults", cfg.EvalConfig)
	}
}

// TestLoadFixture_NotFound verifies error on missing file.
func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// TestLoadFixture_Malformed verifies error on invalid JSON.
func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

// #endregion fixture-tests
