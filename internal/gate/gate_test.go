package gate

import (
	"math"
	"testing"
	"time"

	"github.com/ventwise/dab-controller/internal/cycle"
	"github.com/ventwise/dab-controller/internal/hvac"
)

var t0 = time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC)

func sample(minutes float64, temp float64, aperture int) cycle.Sample {
	return cycle.Sample{At: t0.Add(time.Duration(minutes * float64(time.Minute))), RoomTempC: temp, Aperture: aperture}
}

func withDuct(s cycle.Sample, duct float64) cycle.Sample {
	s.DuctTempC = &duct
	return s
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-3 {
		t.Fatalf("%s: expected %.4f, got %.4f", name, want, got)
	}
}

func TestGateCommitsHeatingCycle(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	d := g.Evaluate(CycleInput{
		Mode:       hvac.ActionHeating,
		CycleStart: t0,
		Samples:    []cycle.Sample{sample(3, 20.0, 50), sample(10, 21.0, 50)},
	})

	if d.Action != "commit" {
		t.Fatalf("expected commit, got %s: %s", d.Action, d.Reason)
	}
	approx(t, "efficiency", d.Measurement.Efficiency, (1.0/7.0)/0.5)
	approx(t, "rate", d.Measurement.Rate, 1.0/7.0)
	if d.Measurement.DuctNormalized {
		t.Fatal("no duct data should mean no normalization")
	}
	if d.SoftScore <= 0 || d.SoftScore > 1 {
		t.Fatalf("soft score out of range: %f", d.SoftScore)
	}
}

func TestGateRejectsWrongDirection(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	for _, aperture := range []int{20, 50, 100} {
		d := g.Evaluate(CycleInput{
			Mode: hvac.ActionHeating,
			Samples: []cycle.Sample{
				withDuct(sample(0, 21.0, aperture), 35),
				withDuct(sample(10, 20.0, aperture), 35),
			},
		})
		if d.Action != "reject" || d.VetoSignals[0].Type != VetoWrongDirection {
			t.Fatalf("aperture %d: expected wrong direction veto, got %+v", aperture, d)
		}
	}

	cool := g.Evaluate(CycleInput{
		Mode:    hvac.ActionCooling,
		Samples: []cycle.Sample{sample(0, 24.0, 60), sample(10, 23.0, 60)},
	})
	if cool.Action != "commit" {
		t.Fatalf("falling temperature is correct for cooling: %s", cool.Reason)
	}
}

func TestGateRejectsShortAndSmall(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	short := g.Evaluate(CycleInput{
		Mode:    hvac.ActionHeating,
		Samples: []cycle.Sample{sample(3, 20.0, 50), sample(4, 21.0, 50)},
	})
	if short.Action != "reject" || short.VetoSignals[0].Type != VetoShortCycle {
		t.Fatalf("expected short cycle veto, got %+v", short.VetoSignals)
	}

	small := g.Evaluate(CycleInput{
		Mode:    hvac.ActionHeating,
		Samples: []cycle.Sample{sample(0, 20.0, 50), sample(10, 20.05, 50)},
	})
	if small.Action != "reject" || small.VetoSignals[0].Type != VetoSmallDelta {
		t.Fatalf("expected small delta veto, got %+v", small.VetoSignals)
	}

	single := g.Evaluate(CycleInput{Mode: hvac.ActionHeating, Samples: []cycle.Sample{sample(0, 20, 50)}})
	if single.VetoSignals[0].Type != VetoInsufficient {
		t.Fatalf("expected insufficient veto, got %+v", single.VetoSignals)
	}
}

func TestGateRejectsApertureProblems(t *testing.T) {
	cfg := DefaultGateConfig()
	g := NewGate(cfg)

	weak := g.Evaluate(CycleInput{
		Mode:    hvac.ActionHeating,
		Samples: []cycle.Sample{sample(0, 20, 5), sample(10, 21, 5)},
	})
	if weak.Action != "reject" || weak.VetoSignals[0].Type != VetoLowAperture {
		t.Fatalf("expected low aperture veto, got %+v", weak.VetoSignals)
	}

	jitter := g.Evaluate(CycleInput{
		Mode:    hvac.ActionHeating,
		Samples: []cycle.Sample{sample(0, 20, 30), sample(5, 20.5, 80), sample(10, 21, 30)},
	})
	if jitter.Action != "reject" || jitter.VetoSignals[0].Type != VetoApertureJitter {
		t.Fatalf("expected jitter veto, got %+v", jitter.VetoSignals)
	}
}

func TestGateTrimsAtSetpoint(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	sp := 21.0
	d := g.Evaluate(CycleInput{
		Mode:     hvac.ActionHeating,
		Setpoint: &sp,
		Samples:  []cycle.Sample{sample(3, 20.0, 50), sample(8, 21.0, 50), sample(15, 23.0, 50)},
	})
	if d.Action != "commit" {
		t.Fatalf("expected commit, got %s", d.Reason)
	}
	if !d.Measurement.Trimmed || d.Measurement.Samples != 2 {
		t.Fatalf("expected trim to two samples, got %+v", d.Measurement)
	}
	approx(t, "rate", d.Measurement.Rate, 0.2)
	approx(t, "efficiency", d.Measurement.Efficiency, 0.4)
	approx(t, "mean aperture", d.Measurement.MeanAperture, 50)
}

func TestGateDuctNormalization(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	stable := g.Evaluate(CycleInput{
		Mode: hvac.ActionHeating,
		Samples: []cycle.Sample{
			withDuct(sample(3, 20.0, 50), 35),
			withDuct(sample(10, 21.0, 50), 36),
		},
	})
	if !stable.Measurement.DuctNormalized {
		t.Fatal("expected duct normalization")
	}
	approx(t, "duct delta", stable.Measurement.DuctDeltaC, 15)
	approx(t, "efficiency", stable.Measurement.Efficiency, ((1.0/7.0)/15)/0.5)
	approx(t, "driving force", stable.Measurement.DrivingForce, 0.75)

	fixedDuct := g.Evaluate(CycleInput{
		Mode:       hvac.ActionHeating,
		CycleStart: t0,
		Samples: []cycle.Sample{
			withDuct(sample(3, 20.0, 50), 30),
			withDuct(sample(10, 21.0, 50), 30),
		},
	})
	if fixedDuct.Action != "commit" || !fixedDuct.Measurement.DuctNormalized {
		t.Fatalf("expected normalized commit, got %+v", fixedDuct)
	}
	approx(t, "fixed duct efficiency", fixedDuct.Measurement.Efficiency, ((1.0/7.0)/9.5)/0.5)
	if rel := math.Abs(fixedDuct.Measurement.Efficiency/(((1.0/7.0)/10)/0.5) - 1); rel > 0.1 {
		t.Fatalf("fixed duct efficiency %f strays %.2f from the first-sample delta", fixedDuct.Measurement.Efficiency, rel)
	}

	unstable := g.Evaluate(CycleInput{
		Mode: hvac.ActionHeating,
		Samples: []cycle.Sample{
			withDuct(sample(3, 20.0, 50), 25),
			withDuct(sample(10, 21.0, 50), 35),
		},
	})
	if unstable.Action != "commit" || unstable.Measurement.DuctNormalized {
		t.Fatalf("unstable duct should fall back to un-normalized, got %+v", unstable)
	}
	approx(t, "fallback efficiency", unstable.Measurement.Efficiency, (1.0/7.0)/0.5)
}

func TestDefaultStartLagDropsFirstSample(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	d := g.Evaluate(CycleInput{
		Mode:       hvac.ActionHeating,
		CycleStart: t0,
		Samples:    []cycle.Sample{sample(1, 18.0, 50), sample(4, 20.0, 50), sample(9, 21.0, 50)},
	})
	if d.Action != "commit" {
		t.Fatalf("expected commit, got %s", d.Reason)
	}
	if d.Measurement.Samples != 2 {
		t.Fatalf("expected 2 samples after the default start lag, got %d", d.Measurement.Samples)
	}
}

func TestGateIgnoresSamplesBeforeStartLag(t *testing.T) {
	cfg := DefaultGateConfig()
	cfg.StartLag = 2 * time.Minute
	g := NewGate(cfg)
	d := g.Evaluate(CycleInput{
		Mode:       hvac.ActionHeating,
		CycleStart: t0,
		Samples:    []cycle.Sample{sample(1, 18.0, 50), sample(4, 20.0, 50), sample(9, 21.0, 50)},
	})
	if d.Measurement.Samples != 2 {
		t.Fatalf("expected lagged sample dropped, got %d samples", d.Measurement.Samples)
	}
	approx(t, "rate", d.Measurement.Rate, 0.2)
}
