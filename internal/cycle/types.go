package cycle

import (
	"time"

	"github.com/ventwise/dab-controller/internal/hvac"
)

// #region phase
// Phase is the lifecycle position of one thermostat circuit.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseRunning         Phase = "running"
	PhasePendingFinalize Phase = "pending_finalize"
)

// #endregion phase

// #region sample
// Sample is one per-vent observation taken while a circuit is running.
type Sample struct {
	At        time.Time `json:"at"`
	RoomTempC float64   `json:"room_temp_c"`
	Aperture  int       `json:"aperture"`
	DuctTempC *float64  `json:"duct_temp_c,omitempty"`
}

// #endregion sample

// #region stats
// Stats accumulates per-cycle command activity. Reset when a cycle starts.
type Stats struct {
	Adjustments int     `json:"adjustments"`
	Movement    int     `json:"movement"`
	Strategy    string  `json:"strategy"`
	TempError   float64 `json:"temp_error"`
	ActiveRooms int     `json:"active_rooms"`
	Evaluations int     `json:"evaluations"`
}

// #endregion stats

// #region state
// State is the mutable record kept for one circuit.
type State struct {
	Phase        Phase
	Mode         hvac.Action
	CycleStart   time.Time
	RunningStart time.Time
	Samples      map[string][]Sample
	Stats        Stats
	Setpoint     *float64

	pending *Completed
}

// Completed is the frozen record of a cycle that stopped running. Finalize
// consumes it exactly once.
type Completed struct {
	CircuitID    string
	Mode         hvac.Action
	CycleStart   time.Time
	RunningStart time.Time
	EndedAt      time.Time
	Samples      map[string][]Sample
	Stats        Stats
	Setpoint     *float64
}

// RunningMinutes is the wall-clock length of the completed cycle.
func (c Completed) RunningMinutes() float64 {
	return c.EndedAt.Sub(c.RunningStart).Minutes()
}

// #endregion state

// #region step
// Step describes what an observation did to a circuit.
type Step struct {
	Started bool
	Stopped bool
	// Flush is a still-pending cycle the caller must finalize before the
	// new cycle records anything.
	Flush *Completed
}

// #endregion step
