package hvac

import "time"

// #region action
// Action is the resolved HVAC activity of a thermostat circuit.
type Action string

const (
	ActionNone    Action = ""
	ActionHeating Action = "heating"
	ActionCooling Action = "cooling"
	ActionIdle    Action = "idle"
)

// Active reports whether the action moves conditioned air.
func (a Action) Active() bool {
	return a == ActionHeating || a == ActionCooling
}

// Mode is the thermostat's configured operating mode.
type Mode string

const (
	ModeOff      Mode = "off"
	ModeHeat     Mode = "heat"
	ModeCool     Mode = "cool"
	ModeHeatCool Mode = "heat_cool"
	ModeAuto     Mode = "auto"
)

// #endregion action

// #region snapshot-types
// Room is one conditioned space. TemperatureC is nil when no reading is available.
type Room struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Active       bool     `json:"active"`
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	SensorID     string   `json:"sensor_id,omitempty"`
	ThermostatID string   `json:"thermostat_id,omitempty"`
}

// Vent is a controllable register. Aperture is nil when the device did not report it.
type Vent struct {
	ID        string   `json:"id"`
	RoomID    string   `json:"room_id"`
	Aperture  *int     `json:"aperture,omitempty"`
	DuctTempC *float64 `json:"duct_temp_c,omitempty"`
	DuctTempF *float64 `json:"duct_temp_f,omitempty"`
}

// Thermostat is the raw state reported for one circuit's thermostat.
type Thermostat struct {
	ID          string   `json:"id"`
	Mode        Mode     `json:"mode"`
	Action      Action   `json:"action,omitempty"`
	CurrentC    *float64 `json:"current_c,omitempty"`
	TargetC     *float64 `json:"target_c,omitempty"`
	TargetLowC  *float64 `json:"target_low_c,omitempty"`
	TargetHighC *float64 `json:"target_high_c,omitempty"`
}

// Sensor is a remote temperature sensor that may be shared by several rooms.
type Sensor struct {
	ID           string   `json:"id"`
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	TemperatureF *float64 `json:"temperature_f,omitempty"`
}

// Snapshot is one consistent read of the device fleet.
type Snapshot struct {
	Rooms       map[string]Room       `json:"rooms"`
	Vents       map[string]Vent       `json:"vents"`
	Thermostats map[string]Thermostat `json:"thermostats"`
	Sensors     map[string]Sensor     `json:"sensors,omitempty"`
	TakenAt     time.Time             `json:"taken_at"`
}

// RoomOf returns the room owning the given vent.
func (s Snapshot) RoomOf(ventID string) (Room, bool) {
	v, ok := s.Vents[ventID]
	if !ok {
		return Room{}, false
	}
	r, ok := s.Rooms[v.RoomID]
	return r, ok
}

// Clone returns a deep copy, pointers included.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Rooms:       make(map[string]Room, len(s.Rooms)),
		Vents:       make(map[string]Vent, len(s.Vents)),
		Thermostats: make(map[string]Thermostat, len(s.Thermostats)),
		Sensors:     make(map[string]Sensor, len(s.Sensors)),
		TakenAt:     s.TakenAt,
	}
	for id, r := range s.Rooms {
		r.TemperatureC = copyFloat(r.TemperatureC)
		out.Rooms[id] = r
	}
	for id, v := range s.Vents {
		if v.Aperture != nil {
			v.Aperture = Int(*v.Aperture)
		}
		v.DuctTempC = copyFloat(v.DuctTempC)
		v.DuctTempF = copyFloat(v.DuctTempF)
		out.Vents[id] = v
	}
	for id, t := range s.Thermostats {
		t.CurrentC = copyFloat(t.CurrentC)
		t.TargetC = copyFloat(t.TargetC)
		t.TargetLowC = copyFloat(t.TargetLowC)
		t.TargetHighC = copyFloat(t.TargetHighC)
		out.Thermostats[id] = t
	}
	for id, sn := range s.Sensors {
		sn.TemperatureC = copyFloat(sn.TemperatureC)
		sn.TemperatureF = copyFloat(sn.TemperatureF)
		out.Sensors[id] = sn
	}
	return out
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float(*p)
}

// #endregion snapshot-types

// #region circuit
// Circuit is a thermostat together with the smart vents it drives and the
// number of conventional vents sharing its air handler.
type Circuit struct {
	ThermostatID      string
	VentIDs           []string
	ConventionalVents int
}

// #endregion circuit

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
