package gate

import (
	"fmt"
	"math"

	"github.com/ventwise/dab-controller/internal/cycle"
	"github.com/ventwise/dab-controller/internal/hvac"
)

// #region gate
// Gate decides whether a vent's completed cycle is clean enough to learn from.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Config returns the thresholds in use.
func (g *Gate) Config() GateConfig {
	return g.config
}

// Evaluate windows and trims the samples, then checks every rejection rule.
// A rejected cycle is a normal outcome, never an error.
func (g *Gate) Evaluate(in CycleInput) GateDecision {
	samples := cycle.After(in.Samples, in.CycleStart.Add(g.config.StartLag))
	samples = cycle.Window(samples, g.config.Window)

	var m Measurement
	if in.Setpoint != nil {
		var trimmed bool
		samples, trimmed = TrimAtSetpoint(samples, in.Mode, *in.Setpoint)
		m.Trimmed = trimmed
	}
	m.Samples = len(samples)

	if len(samples) < 2 {
		return reject([]VetoSignal{{
			Type:   VetoInsufficient,
			Reason: fmt.Sprintf("%d usable samples", len(samples)),
		}}, m)
	}

	first, last := samples[0], samples[len(samples)-1]
	m.ElapsedMinutes = last.At.Sub(first.At).Minutes()
	m.DeltaC = directional(in.Mode, last.RoomTempC-first.RoomTempC)
	m.MeanAperture, m.ApertureSpread = apertureStats(samples)

	var vetoes []VetoSignal

	// 1. Too short to separate signal from lag
	if m.ElapsedMinutes < g.config.MinCycleMinutes {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoShortCycle,
			Reason: fmt.Sprintf("cycle %.1fm shorter than %.1fm", m.ElapsedMinutes, g.config.MinCycleMinutes),
		})
	}

	// 2. Temperature moved against the mode
	if m.DeltaC <= 0 {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoWrongDirection,
			Reason: fmt.Sprintf("%s cycle moved %.2f°C the wrong way", in.Mode, -m.DeltaC),
		})
	} else if m.DeltaC < g.config.MinDeltaC {
		// 3. Net change below noise
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoSmallDelta,
			Reason: fmt.Sprintf("delta %.3f°C below %.3f°C", m.DeltaC, g.config.MinDeltaC),
		})
	}

	// 4. Aperture too small to attribute the change to this vent
	if m.MeanAperture < g.config.MinAperturePct {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoLowAperture,
			Reason: fmt.Sprintf("mean aperture %.1f%% below %.1f%%", m.MeanAperture, g.config.MinAperturePct),
		})
	}

	// 5. Aperture moved too much during the cycle
	if m.ApertureSpread > g.config.ApertureJitterPct {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoApertureJitter,
			Reason: fmt.Sprintf("aperture spread %.1f%% exceeds %.1f%%", m.ApertureSpread, g.config.ApertureJitterPct),
		})
	}

	if len(vetoes) > 0 {
		return reject(vetoes, m)
	}

	m.Rate = m.DeltaC / m.ElapsedMinutes
	fraction := m.MeanAperture / 100
	m.Efficiency = m.Rate / fraction
	m.DrivingForce = fraction

	if delta, ok := g.stableDuctDelta(samples); ok {
		m.DuctNormalized = true
		m.DuctDeltaC = delta
		m.Efficiency /= delta
		if g.config.DuctReferenceC > 0 {
			m.DrivingForce = fraction * delta / g.config.DuctReferenceC
		}
	}

	score := softScore(m, g.config)
	return GateDecision{
		Action:      "commit",
		Reason:      fmt.Sprintf("passed gate: soft_score=%.4f", score),
		SoftScore:   score,
		Measurement: m,
	}
}

func reject(vetoes []VetoSignal, m Measurement) GateDecision {
	return GateDecision{
		Action:      "reject",
		Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
		Vetoed:      true,
		VetoSignals: vetoes,
		Measurement: m,
	}
}

// #endregion gate

// #region trim
// TrimAtSetpoint drops samples after the first one that reached the setpoint.
// It reports whether anything was removed.
func TrimAtSetpoint(samples []cycle.Sample, mode hvac.Action, setpoint float64) ([]cycle.Sample, bool) {
	for i, s := range samples {
		reached := false
		switch mode {
		case hvac.ActionHeating:
			reached = s.RoomTempC >= setpoint
		case hvac.ActionCooling:
			reached = s.RoomTempC <= setpoint
		}
		if reached {
			return samples[:i+1], i+1 < len(samples)
		}
	}
	return samples, false
}

// #endregion trim

// #region helpers
func directional(mode hvac.Action, delta float64) float64 {
	if mode == hvac.ActionCooling {
		return -delta
	}
	return delta
}

func apertureStats(samples []cycle.Sample) (mean, spread float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	var sum float64
	for _, s := range samples {
		a := float64(s.Aperture)
		sum += a
		lo = math.Min(lo, a)
		hi = math.Max(hi, a)
	}
	return sum / float64(len(samples)), hi - lo
}

// stableDuctDelta returns the mean duct-to-room delta when every sample has a
// duct reading, each delta clears the minimum and the deltas stay within the
// jitter band.
func (g *Gate) stableDuctDelta(samples []cycle.Sample) (float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	var sum float64
	for _, s := range samples {
		if s.DuctTempC == nil {
			return 0, false
		}
		d := math.Abs(*s.DuctTempC - s.RoomTempC)
		if d < g.config.MinDuctDeltaC {
			return 0, false
		}
		sum += d
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	if hi-lo > g.config.DuctDeltaJitterC {
		return 0, false
	}
	return sum / float64(len(samples)), true
}

// softScore rates data quality 0-1 from sample density, aperture steadiness
// and duct normalization. Logged, never blocking.
func softScore(m Measurement, cfg GateConfig) float64 {
	var score float64

	// Density: a sample every few minutes is plenty (weight 0.4)
	if m.ElapsedMinutes > 0 {
		perTen := float64(m.Samples) / (m.ElapsedMinutes / 10)
		score += 0.4 * math.Min(1, perTen/3)
	}

	// Steadiness (weight 0.3)
	if cfg.ApertureJitterPct > 0 {
		score += 0.3 * (1 - math.Min(1, m.ApertureSpread/cfg.ApertureJitterPct))
	} else {
		score += 0.3
	}

	// Duct data (weight 0.3)
	if m.DuctNormalized {
		score += 0.3
	}
	return score
}

// #endregion helpers
