package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ventwise/dab-controller/internal/hvac"
)

// #region simulator
// SimOptions seeds a simulator built from circuits.
type SimOptions struct {
	AmbientC float64
	TargetC  float64
	Mode     hvac.Mode
	GainC    float64 // °C/min a room gains at 100% aperture while its thermostat runs
}

// Call is one recorded adapter call.
type Call struct {
	Op     string // "aperture" | "active" | "setpoint" | "structure_mode"
	Target string
	Value  string
}

// Simulator is an in-memory device fleet with a crude thermal model. It is
// safe for concurrent use.
type Simulator struct {
	mu       sync.Mutex
	snap     hvac.Snapshot
	ambientC float64
	gain     map[string]float64 // per room
	mode     string
	failures map[string]error
	hangs    map[string]bool
	calls    []Call
	clock    func() time.Time
}

// NewSimulator wraps an explicit device layout.
func NewSimulator(layout hvac.Snapshot, ambientC float64) *Simulator {
	s := &Simulator{
		snap:     layout.Clone(),
		ambientC: ambientC,
		gain:     map[string]float64{},
		failures: map[string]error{},
		hangs:    map[string]bool{},
		clock:    time.Now,
	}
	return s
}

// FromCircuits builds one room per vent, each at ambient temperature with the
// vent half open, and one thermostat per circuit.
func FromCircuits(circuits []hvac.Circuit, opts SimOptions) *Simulator {
	layout := hvac.Snapshot{
		Rooms:       map[string]hvac.Room{},
		Vents:       map[string]hvac.Vent{},
		Thermostats: map[string]hvac.Thermostat{},
	}
	for _, c := range circuits {
		layout.Thermostats[c.ThermostatID] = hvac.Thermostat{
			ID:       c.ThermostatID,
			Mode:     opts.Mode,
			CurrentC: hvac.Float(opts.AmbientC),
			TargetC:  hvac.Float(opts.TargetC),
		}
		for _, v := range c.VentIDs {
			roomID := "room-" + v
			layout.Rooms[roomID] = hvac.Room{
				ID:           roomID,
				Name:         "Room " + v,
				Active:       true,
				TemperatureC: hvac.Float(opts.AmbientC),
				ThermostatID: c.ThermostatID,
			}
			layout.Vents[v] = hvac.Vent{ID: v, RoomID: roomID, Aperture: hvac.Int(50)}
		}
	}
	s := NewSimulator(layout, opts.AmbientC)
	if opts.GainC > 0 {
		for id := range layout.Rooms {
			s.gain[id] = opts.GainC
		}
	}
	return s
}

// #endregion simulator

// #region adapter
// Snapshot returns a copy of the current fleet state.
func (s *Simulator) Snapshot(ctx context.Context) (hvac.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return hvac.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap.Clone()
	out.TakenAt = s.clock()
	return out, nil
}

// SetVentAperture sets one vent's aperture, honoring injected failures.
func (s *Simulator) SetVentAperture(ctx context.Context, ventID string, percent int) error {
	s.mu.Lock()
	hang := s.hangs[ventID]
	failure := s.failures[ventID]
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return fmt.Errorf("set vent %s: %w", ventID, ctx.Err())
	}
	if failure != nil {
		return fmt.Errorf("set vent %s: %w", ventID, failure)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snap.Vents[ventID]
	if !ok {
		return fmt.Errorf("unknown vent %s", ventID)
	}
	v.Aperture = hvac.Int(hvac.ClampAperture(float64(percent)))
	s.snap.Vents[ventID] = v
	s.record("aperture", ventID, fmt.Sprint(*v.Aperture))
	return nil
}

// SetRoomActive flags a room as active or inactive.
func (s *Simulator) SetRoomActive(ctx context.Context, roomID string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.snap.Rooms[roomID]
	if !ok {
		return fmt.Errorf("unknown room %s", roomID)
	}
	r.Active = active
	s.snap.Rooms[roomID] = r
	s.record("active", roomID, fmt.Sprint(active))
	return nil
}

// SetThermostatSetpoint moves the target of the thermostat serving roomID.
func (s *Simulator) SetThermostatSetpoint(ctx context.Context, roomID string, tempC float64, holdUntil *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.snap.Rooms[roomID]
	if !ok {
		return fmt.Errorf("unknown room %s", roomID)
	}
	t, ok := s.snap.Thermostats[r.ThermostatID]
	if !ok {
		return fmt.Errorf("room %s has no thermostat", roomID)
	}
	t.TargetC = hvac.Float(tempC)
	s.snap.Thermostats[t.ID] = t
	s.record("setpoint", roomID, fmt.Sprintf("%.2f", tempC))
	return nil
}

// SetStructureMode records the structure's control mode.
func (s *Simulator) SetStructureMode(ctx context.Context, mode string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.record("structure_mode", "", mode)
	return nil
}

func (s *Simulator) record(op, target, value string) {
	s.calls = append(s.calls, Call{Op: op, Target: target, Value: value})
}

// #endregion adapter

// #region controls
// SetClock replaces the time source used for snapshot timestamps.
func (s *Simulator) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// SetRoomTemperature overrides a room's reading.
func (s *Simulator) SetRoomTemperature(roomID string, tempC float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.snap.Rooms[roomID]; ok {
		r.TemperatureC = hvac.Float(tempC)
		s.snap.Rooms[roomID] = r
	}
}

// SetThermostat replaces a thermostat's reported state.
func (s *Simulator) SetThermostat(t hvac.Thermostat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Thermostats[t.ID] = t
}

// Thermostat returns a thermostat's reported state.
func (s *Simulator) Thermostat(id string) (hvac.Thermostat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.snap.Thermostats[id]
	return t, ok
}

// FailVent makes every SetVentAperture call for ventID return err. A nil err
// clears the failure.
func (s *Simulator) FailVent(ventID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, ventID)
		return
	}
	s.failures[ventID] = err
}

// HangVent makes SetVentAperture for ventID block until its context expires.
func (s *Simulator) HangVent(ventID string, hang bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hangs[ventID] = hang
}

// Aperture returns a vent's current aperture, or -1 if unknown.
func (s *Simulator) Aperture(ventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snap.Vents[ventID]
	if !ok || v.Aperture == nil {
		return -1
	}
	return *v.Aperture
}

// StructureMode returns the last mode set.
func (s *Simulator) StructureMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Calls returns the recorded calls in order.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// #endregion controls

// #region thermal
// Step advances the thermal model by d. Rooms whose thermostat is heating or
// cooling move toward it in proportion to their vents' mean aperture; idle
// rooms relax toward ambient. Thermostat readings follow the mean of their
// rooms.
func (s *Simulator) Step(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	minutes := d.Minutes()

	openByRoom := map[string][]int{}
	for _, v := range s.snap.Vents {
		if v.Aperture != nil {
			openByRoom[v.RoomID] = append(openByRoom[v.RoomID], *v.Aperture)
		}
	}

	roomIDs := make([]string, 0, len(s.snap.Rooms))
	for id := range s.snap.Rooms {
		roomIDs = append(roomIDs, id)
	}
	sort.Strings(roomIDs)

	sums := map[string]float64{}
	counts := map[string]int{}
	for _, id := range roomIDs {
		r := s.snap.Rooms[id]
		if r.TemperatureC == nil {
			continue
		}
		temp := *r.TemperatureC
		action := hvac.ActionNone
		if t, ok := s.snap.Thermostats[r.ThermostatID]; ok {
			action = hvac.ResolveAction(t)
		}
		switch action {
		case hvac.ActionHeating, hvac.ActionCooling:
			gain := s.gain[id]
			if gain == 0 {
				gain = 0.1
			}
			delta := gain * meanPct(openByRoom[id]) / 100 * minutes
			if action == hvac.ActionCooling {
				delta = -delta
			}
			temp += delta
		default:
			temp += (s.ambientC - temp) * 0.02 * minutes
		}
		r.TemperatureC = hvac.Float(temp)
		s.snap.Rooms[id] = r
		sums[r.ThermostatID] += temp
		counts[r.ThermostatID]++
	}
	for id, t := range s.snap.Thermostats {
		if counts[id] > 0 {
			t.CurrentC = hvac.Float(sums[id] / float64(counts[id]))
			s.snap.Thermostats[id] = t
		}
	}
}

func meanPct(vals []int) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum int
	for _, v := range vals {
		sum += v
	}
	return float64(sum) / float64(len(vals))
}

// #endregion thermal
