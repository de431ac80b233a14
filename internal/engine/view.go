package engine

import (
	"sort"
	"time"

	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/metrics"
)

// #region publish
// publishView rebuilds the read-only view. Callers hold loopMu.
func (e *Engine) publishView() {
	now := e.now()
	initial := e.initialPct()
	stats := e.ventStats.Summaries(now)

	v := View{
		UpdatedAt: now,
		Vents:     map[string]VentView{},
		Rooms:     map[string]RoomView{},
		Circuits:  map[string]CircuitView{},
		Strategy:  e.strategy.Clone(),
		MaxRates:  map[hvac.Action]float64{},
	}
	for mode, r := range e.models.MaxRates {
		v.MaxRates[mode] = r
	}

	for ventID, circuitID := range e.ventCircuit {
		vv := VentView{
			VentID:            ventID,
			CircuitID:         circuitID,
			HeatingEfficiency: e.models.EfficiencyPercent(ventID, hvac.ActionHeating, initial),
			CoolingEfficiency: e.models.EfficiencyPercent(ventID, hvac.ActionCooling, initial),
			Stats24h:          stats[ventID],
		}
		if sv, ok := e.snapshot.Vents[ventID]; ok {
			vv.RoomID = sv.RoomID
			vv.Aperture = copyInt(sv.Aperture)
			if room, ok := e.snapshot.Rooms[sv.RoomID]; ok {
				vv.RoomName = room.Name
			}
		}
		if b, ok := e.books[ventID]; ok {
			vv.LastCommanded = copyInt(b.lastCommanded)
			if !b.lastCommandedAt.IsZero() {
				at := b.lastCommandedAt
				vv.LastCommandedAt = &at
			}
			if b.lastTarget != nil {
				vv.Target = hvac.Int(b.lastTarget.Target)
				vv.TargetReason = b.lastTarget.Reason
			}
		}
		if e.cfg.ManualVents {
			vv.ManualAperture = hvac.Int(e.manualAperture(ventID))
		}
		v.Vents[ventID] = vv
	}

	for roomID, room := range e.snapshot.Rooms {
		rv := RoomView{
			RoomID:       roomID,
			Name:         room.Name,
			Active:       room.Active,
			TemperatureC: room.TemperatureC,
		}
		var heat, cool float64
		for ventID, sv := range e.snapshot.Vents {
			if sv.RoomID != roomID {
				continue
			}
			rv.VentIDs = append(rv.VentIDs, ventID)
			heat += e.models.EfficiencyPercent(ventID, hvac.ActionHeating, initial)
			cool += e.models.EfficiencyPercent(ventID, hvac.ActionCooling, initial)
		}
		if n := len(rv.VentIDs); n > 0 {
			sort.Strings(rv.VentIDs)
			rv.HeatingEfficiency = heat / float64(n)
			rv.CoolingEfficiency = cool / float64(n)
		}
		v.Rooms[roomID] = rv
	}

	for _, id := range e.circuitIDs() {
		st := e.machine.State(id)
		cv := CircuitView{
			ThermostatID: id,
			Phase:        string(st.Phase),
			Mode:         st.Mode,
			Adjustments:  st.Stats.Adjustments,
			Movement:     st.Stats.Movement,
		}
		if !st.CycleStart.IsZero() {
			start := st.CycleStart
			cv.CycleStart = &start
		}
		for _, s := range st.Samples {
			cv.Samples += len(s)
		}
		v.Circuits[id] = cv
	}

	e.viewMu.Lock()
	e.view = v
	e.viewMu.Unlock()
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	return hvac.Int(*p)
}

// #endregion publish

// #region accessors
// View returns the last published view. The maps must not be modified.
func (e *Engine) View() View {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.view
}

// Vent returns one vent's view.
func (e *Engine) Vent(ventID string) (VentView, bool) {
	v, ok := e.View().Vents[ventID]
	return v, ok
}

// Room returns one room's view.
func (e *Engine) Room(roomID string) (RoomView, bool) {
	r, ok := e.View().Rooms[roomID]
	return r, ok
}

// Circuit returns one circuit's view.
func (e *Engine) Circuit(thermostatID string) (CircuitView, bool) {
	c, ok := e.View().Circuits[thermostatID]
	return c, ok
}

// SuggestedAperture returns the last computed target for a vent, committed
// or not.
func (e *Engine) SuggestedAperture(ventID string) (int, bool) {
	v, ok := e.Vent(ventID)
	if !ok || v.Target == nil {
		return 0, false
	}
	return *v.Target, true
}

// ManualAperture returns the user-set aperture of a manual vent.
func (e *Engine) ManualAperture(ventID string) (int, bool) {
	v, ok := e.Vent(ventID)
	if !ok || v.ManualAperture == nil {
		return 0, false
	}
	return *v.ManualAperture, true
}

// EfficiencyPercent returns a vent's efficiency for mode as a percent of the
// best vent, or the configured initial percent before any data.
func (e *Engine) EfficiencyPercent(ventID string, mode hvac.Action) (float64, bool) {
	v, ok := e.Vent(ventID)
	if !ok {
		return 0, false
	}
	if mode == hvac.ActionCooling {
		return v.CoolingEfficiency, true
	}
	return v.HeatingEfficiency, true
}

// StrategyMetrics returns a copy of the per-strategy metrics.
func (e *Engine) StrategyMetrics() *metrics.StrategyMetrics {
	return e.View().Strategy.Clone()
}

// VentStats returns a vent's adjustments and movement over the last 24 hours.
func (e *Engine) VentStats(ventID string) metrics.VentSummary {
	v, _ := e.Vent(ventID)
	return v.Stats24h
}

// UpdatedAt is when the view was last published.
func (e *Engine) UpdatedAt() time.Time {
	return e.View().UpdatedAt
}

// #endregion accessors
