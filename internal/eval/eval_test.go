package eval

import (
	"math"
	"strings"
	"testing"

	"github.com/ventwise/dab-controller/internal/update"
)

func healthy() update.VentModels {
	return update.VentModels{
		Rate: update.RateModel{N: 2, SumX: 1.5, SumY: 0.7, SumXX: 1.25, SumXY: 0.6},
		Efficiency: update.EfficiencyModel{
			Baseline: 0.3, BaselineN: 4, Effective: 0.3, Confidence: 0.4,
			Offsets: []float64{0, 0.01, -0.02},
		},
	}
}

func TestEvalPassesOnHealthyModels(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	result := h.Run(healthy())
	if !result.Passed {
		t.Fatalf("expected pass, got fail: %s", result.Reason)
	}
	if len(result.Metrics) != 6 {
		t.Fatalf("expected 6 metrics, got %d", len(result.Metrics))
	}
}

func TestEvalPassesOnEmptyModels(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	if result := h.Run(update.VentModels{}); !result.Passed {
		t.Fatalf("empty models should pass: %s", result.Reason)
	}
}

func TestEvalFailsOnNaNEfficiency(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	vm := healthy()
	vm.Efficiency.Effective = math.NaN()

	result := h.Run(vm)
	if result.Passed {
		t.Fatal("expected fail on NaN effective")
	}
	if !strings.Contains(result.Reason, "effective") {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
}

func TestEvalDropsImplausibleFitOnly(t *testing.T) {
	cfg := DefaultEvalConfig()
	cfg.MaxRate = 0.1
	h := NewEvalHarness(cfg)

	result := h.Run(healthy())
	if !result.Passed {
		t.Fatalf("an implausible fit must not fail the update: %s", result.Reason)
	}
	if !result.RateRejected {
		t.Fatal("expected rate fit rejected when full-aperture rate exceeds cap")
	}
}

func TestEvalCloseApertureFitKeepsEfficiency(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	vm := healthy()
	vm.Rate = update.RateModel{}.Add(0.475, 0.10).Add(0.480, 0.20)

	if predicted, _ := vm.Rate.Predict(1.0); predicted <= 5 {
		t.Fatalf("expected steep extrapolation, got %.3f", predicted)
	}
	result := h.Run(vm)
	if !result.Passed {
		t.Fatalf("expected pass, got %s", result.Reason)
	}
	if !result.RateRejected {
		t.Fatal("expected the steep fit to be dropped")
	}
}

func TestEvalCountsMultipleFailures(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	vm := healthy()
	vm.Efficiency.Baseline = -1
	vm.Efficiency.Confidence = 2

	result := h.Run(vm)
	if result.Passed {
		t.Fatal("expected fail")
	}
	if !strings.Contains(result.Reason, "2 checks") {
		t.Fatalf("expected two failures in reason, got %s", result.Reason)
	}
}
