package cycle

import (
	"sort"
	"time"

	"github.com/ventwise/dab-controller/internal/hvac"
)

// #region machine
// Machine tracks the cycle state of every thermostat circuit. It is not safe
// for concurrent use; the engine's control loop is its only caller.
type Machine struct {
	window   time.Duration
	circuits map[string]*State
}

// NewMachine creates a machine keeping samples for the given trailing window.
func NewMachine(window time.Duration) *Machine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Machine{window: window, circuits: make(map[string]*State)}
}

func (m *Machine) get(id string) *State {
	st, ok := m.circuits[id]
	if !ok {
		st = &State{Phase: PhaseIdle, Samples: map[string][]Sample{}}
		m.circuits[id] = st
	}
	return st
}

// #endregion machine

// #region observe
// Observe feeds the resolved action for a circuit and applies the transition
// it implies. Starting a cycle while the previous one still awaits finalize
// hands the pending record back in Step.Flush so it is finalized first.
func (m *Machine) Observe(id string, action hvac.Action, now time.Time) Step {
	st := m.get(id)
	var step Step

	switch st.Phase {
	case PhaseIdle, PhasePendingFinalize:
		if !action.Active() {
			return step
		}
		if st.pending != nil {
			step.Flush = st.pending
			st.pending = nil
		}
		m.start(st, action, now)
		step.Started = true

	case PhaseRunning:
		if action == st.Mode {
			return step
		}
		done := m.freeze(id, st, now)
		if action.Active() {
			// Mode flipped without passing through idle.
			step.Flush = done
			m.start(st, action, now)
			step.Started = true
			return step
		}
		st.pending = done
		st.Phase = PhasePendingFinalize
		st.Samples = map[string][]Sample{}
		step.Stopped = true
	}
	return step
}

func (m *Machine) start(st *State, action hvac.Action, now time.Time) {
	st.Phase = PhaseRunning
	st.Mode = action
	st.CycleStart = now
	st.RunningStart = now
	st.Samples = map[string][]Sample{}
	st.Stats = Stats{}
	st.Setpoint = nil
}

func (m *Machine) freeze(id string, st *State, now time.Time) *Completed {
	samples := make(map[string][]Sample, len(st.Samples))
	for k, v := range st.Samples {
		samples[k] = append([]Sample(nil), v...)
	}
	return &Completed{
		CircuitID:    id,
		Mode:         st.Mode,
		CycleStart:   st.CycleStart,
		RunningStart: st.RunningStart,
		EndedAt:      now,
		Samples:      samples,
		Stats:        st.Stats,
		Setpoint:     st.Setpoint,
	}
}

// #endregion observe

// #region record
// Record appends one sample for a vent on a running circuit. Missing room
// temperature or aperture makes it a no-op; it reports whether a sample was kept.
func (m *Machine) Record(id, ventID string, roomTempC *float64, aperture *int, ductC *float64, at time.Time) bool {
	st, ok := m.circuits[id]
	if !ok || st.Phase != PhaseRunning {
		return false
	}
	if roomTempC == nil || aperture == nil {
		if _, seen := st.Samples[ventID]; !seen {
			st.Samples[ventID] = []Sample{}
		}
		return false
	}
	s := Sample{At: at, RoomTempC: *roomTempC, Aperture: *aperture}
	if ductC != nil {
		d := *ductC
		s.DuctTempC = &d
	}
	st.Samples[ventID] = appendSample(st.Samples[ventID], s, m.window)
	return true
}

// SetSetpoint remembers the setpoint the running cycle is driving toward.
func (m *Machine) SetSetpoint(id string, sp float64) {
	if st, ok := m.circuits[id]; ok && st.Phase == PhaseRunning {
		st.Setpoint = &sp
	}
}

// AddStats folds one apply step's activity into the running cycle.
func (m *Machine) AddStats(id string, adjustments, movement int, strategy string, tempError float64, activeRooms int) {
	st, ok := m.circuits[id]
	if !ok || st.Phase != PhaseRunning {
		return
	}
	st.Stats.Adjustments += adjustments
	st.Stats.Movement += movement
	st.Stats.Strategy = strategy
	st.Stats.TempError = tempError
	st.Stats.ActiveRooms = activeRooms
	st.Stats.Evaluations++
}

// #endregion record

// #region finalize
// TakePending returns the circuit's completed cycle and moves it to Idle.
// A second call returns nil, which makes duplicate finalize requests no-ops.
func (m *Machine) TakePending(id string) *Completed {
	st, ok := m.circuits[id]
	if !ok || st.pending == nil {
		return nil
	}
	done := st.pending
	st.pending = nil
	if st.Phase == PhasePendingFinalize {
		st.Phase = PhaseIdle
	}
	return done
}

// #endregion finalize

// #region queries
// State returns a copy of the circuit's state.
func (m *Machine) State(id string) State {
	st, ok := m.circuits[id]
	if !ok {
		return State{Phase: PhaseIdle}
	}
	cp := *st
	cp.pending = nil
	cp.Samples = make(map[string][]Sample, len(st.Samples))
	for k, v := range st.Samples {
		cp.Samples[k] = append([]Sample(nil), v...)
	}
	return cp
}

// Phase returns the circuit's phase.
func (m *Machine) Phase(id string) Phase {
	if st, ok := m.circuits[id]; ok {
		return st.Phase
	}
	return PhaseIdle
}

// AnyRunning reports whether any circuit is actively heating or cooling.
func (m *Machine) AnyRunning() bool {
	for _, st := range m.circuits {
		if st.Phase == PhaseRunning {
			return true
		}
	}
	return false
}

// Circuits returns the ids the machine has seen, sorted.
func (m *Machine) Circuits() []string {
	ids := make([]string, 0, len(m.circuits))
	for id := range m.circuits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// #endregion queries
