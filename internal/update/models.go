package update

import (
	"math"

	"github.com/ventwise/dab-controller/internal/hvac"
)

// NewModels returns an empty aggregate.
func NewModels() *Models {
	return &Models{
		Rates:             map[string]map[hvac.Action]RateModel{},
		Efficiency:        map[string]map[hvac.Action]EfficiencyModel{},
		VentRates:         map[string]map[hvac.Action]float64{},
		MaxRates:          map[hvac.Action]float64{},
		MaxRunningMinutes: map[string]float64{},
	}
}

// #region accessors
// Vent returns the models learned for one vent and mode.
func (m *Models) Vent(ventID string, mode hvac.Action) VentModels {
	return VentModels{
		Rate:       m.Rates[ventID][mode],
		Efficiency: m.Efficiency[ventID][mode],
	}
}

// Store replaces the models for one vent and mode and publishes the effective
// rate. Max rates only ever grow.
func (m *Models) Store(ventID string, mode hvac.Action, vm VentModels) {
	m.ensure()
	if m.Rates[ventID] == nil {
		m.Rates[ventID] = map[hvac.Action]RateModel{}
	}
	if m.Efficiency[ventID] == nil {
		m.Efficiency[ventID] = map[hvac.Action]EfficiencyModel{}
	}
	m.Rates[ventID][mode] = vm.Rate
	m.Efficiency[ventID][mode] = vm.Efficiency
	m.SetVentRate(ventID, mode, vm.Efficiency.Effective)
}

// SetVentRate publishes a vent's rate, as learned or imported.
func (m *Models) SetVentRate(ventID string, mode hvac.Action, rate float64) {
	m.ensure()
	if m.VentRates[ventID] == nil {
		m.VentRates[ventID] = map[hvac.Action]float64{}
	}
	m.VentRates[ventID][mode] = rate
	if rate > m.MaxRates[mode] {
		m.MaxRates[mode] = rate
	}
}

// ObserveRunning records a circuit's running duration if it is the longest seen.
func (m *Models) ObserveRunning(circuitID string, minutes float64) {
	m.ensure()
	if minutes > m.MaxRunningMinutes[circuitID] {
		m.MaxRunningMinutes[circuitID] = minutes
	}
}

// GetEffectiveRate returns the vent's published rate, else its efficiency
// model's effective value, else its baseline, else initial.
func (m *Models) GetEffectiveRate(ventID string, mode hvac.Action, initial float64) float64 {
	if r, ok := m.VentRates[ventID][mode]; ok && r > 0 {
		return r
	}
	if e, ok := m.Efficiency[ventID][mode]; ok {
		if e.Effective > 0 {
			return e.Effective
		}
		if e.Baseline > 0 {
			return e.Baseline
		}
	}
	return initial
}

// Learned reports whether the vent has any learned or imported rate for mode.
func (m *Models) Learned(ventID string, mode hvac.Action) bool {
	if _, ok := m.VentRates[ventID][mode]; ok {
		return true
	}
	return m.Efficiency[ventID][mode].BaselineN > 0
}

// EfficiencyPercent expresses the vent's rate relative to the fastest vent in
// the same mode. Without data it falls back to initialPct.
func (m *Models) EfficiencyPercent(ventID string, mode hvac.Action, initialPct float64) float64 {
	rate, ok := m.VentRates[ventID][mode]
	peak := m.MaxRates[mode]
	if !ok || rate <= 0 || peak <= 0 {
		return initialPct
	}
	return math.Round(math.Min(100, 100*rate/peak)*10) / 10
}

// #endregion accessors

// #region clone
// Clone returns a deep copy.
func (m *Models) Clone() *Models {
	out := NewModels()
	for v, modes := range m.Rates {
		out.Rates[v] = make(map[hvac.Action]RateModel, len(modes))
		for k, r := range modes {
			out.Rates[v][k] = r
		}
	}
	for v, modes := range m.Efficiency {
		out.Efficiency[v] = make(map[hvac.Action]EfficiencyModel, len(modes))
		for k, e := range modes {
			e.Offsets = append([]float64(nil), e.Offsets...)
			out.Efficiency[v][k] = e
		}
	}
	for v, modes := range m.VentRates {
		out.VentRates[v] = make(map[hvac.Action]float64, len(modes))
		for k, r := range modes {
			out.VentRates[v][k] = r
		}
	}
	for k, r := range m.MaxRates {
		out.MaxRates[k] = r
	}
	for k, r := range m.MaxRunningMinutes {
		out.MaxRunningMinutes[k] = r
	}
	return out
}

func (m *Models) ensure() {
	if m.Rates == nil {
		m.Rates = map[string]map[hvac.Action]RateModel{}
	}
	if m.Efficiency == nil {
		m.Efficiency = map[string]map[hvac.Action]EfficiencyModel{}
	}
	if m.VentRates == nil {
		m.VentRates = map[string]map[hvac.Action]float64{}
	}
	if m.MaxRates == nil {
		m.MaxRates = map[hvac.Action]float64{}
	}
	if m.MaxRunningMinutes == nil {
		m.MaxRunningMinutes = map[string]float64{}
	}
}

// #endregion clone
