package hvac

import "math"

// #region resolve-action
// ResolveAction derives the circuit's action from raw thermostat state.
// An explicit action always wins. Otherwise heat infers heating below target,
// cool infers cooling above target, and heat_cool/auto infers an action only
// outside the [low, high] band. Anything else resolves to ActionNone.
func ResolveAction(t Thermostat) Action {
	switch t.Action {
	case ActionHeating, ActionCooling:
		return t.Action
	case ActionIdle:
		return ActionNone
	}
	if t.CurrentC == nil {
		return ActionNone
	}
	cur := *t.CurrentC

	switch t.Mode {
	case ModeHeat:
		if t.TargetC != nil && cur < *t.TargetC {
			return ActionHeating
		}
	case ModeCool:
		if t.TargetC != nil && cur > *t.TargetC {
			return ActionCooling
		}
	case ModeHeatCool, ModeAuto:
		low, high := bandOf(t)
		if low != nil && cur < *low {
			return ActionHeating
		}
		if high != nil && cur > *high {
			return ActionCooling
		}
	}
	return ActionNone
}

func bandOf(t Thermostat) (low, high *float64) {
	low, high = t.TargetLowC, t.TargetHighC
	if low == nil {
		low = t.TargetC
	}
	if high == nil {
		high = t.TargetC
	}
	return low, high
}

// #endregion resolve-action

// #region setpoint
// Setpoint returns the temperature the circuit is driving rooms toward for the
// given action, shifted by offset. Heating targets the low side of a band and
// adds the offset; cooling targets the high side and subtracts it.
func Setpoint(t Thermostat, action Action, offset float64) (float64, bool) {
	switch action {
	case ActionHeating:
		sp := t.TargetC
		if t.Mode == ModeHeatCool || t.Mode == ModeAuto || sp == nil {
			if t.TargetLowC != nil {
				sp = t.TargetLowC
			}
		}
		if sp == nil {
			return 0, false
		}
		return *sp + offset, true
	case ActionCooling:
		sp := t.TargetC
		if t.Mode == ModeHeatCool || t.Mode == ModeAuto || sp == nil {
			if t.TargetHighC != nil {
				sp = t.TargetHighC
			}
		}
		if sp == nil {
			return 0, false
		}
		return *sp - offset, true
	}
	return 0, false
}

// TempError is the remaining distance to setpoint in the direction of travel.
// Positive means the room still needs conditioning.
func TempError(action Action, tempC, setpointC float64) (float64, bool) {
	switch action {
	case ActionHeating:
		return setpointC - tempC, true
	case ActionCooling:
		return tempC - setpointC, true
	}
	return 0, false
}

// PredictAction reports which action a thermostat is about to call for when its
// current temperature sits within margin of the trigger point. Circuits that are
// already heating or cooling report ActionNone.
func PredictAction(t Thermostat, margin float64) Action {
	if margin <= 0 || ResolveAction(t).Active() || t.CurrentC == nil {
		return ActionNone
	}
	cur := *t.CurrentC
	heatAt, coolAt := t.TargetC, t.TargetC
	switch t.Mode {
	case ModeHeat:
		coolAt = nil
	case ModeCool:
		heatAt = nil
	case ModeHeatCool, ModeAuto:
		heatAt, coolAt = bandOf(t)
	default:
		return ActionNone
	}
	if heatAt != nil && cur-*heatAt >= 0 && cur-*heatAt <= margin {
		return ActionHeating
	}
	if coolAt != nil && *coolAt-cur >= 0 && *coolAt-cur <= margin {
		return ActionCooling
	}
	return ActionNone
}

// #endregion setpoint

// #region units
// FahrenheitToCelsius converts a reading in °F.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// celsius returns c when set, else f converted. Nil when neither is.
func celsius(c, f *float64) *float64 {
	if c != nil {
		return Float(*c)
	}
	if f != nil {
		return Float(FahrenheitToCelsius(*f))
	}
	return nil
}

// ClampAperture bounds a percentage to the 0-100 range a vent accepts.
func ClampAperture(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, p))))
}

// #endregion units

// #region enrich
// SensorCache memoizes remote sensor readings for the duration of one refresh.
type SensorCache map[string]*float64

// Enrich normalizes readings to °C and resolves each room's temperature,
// preferring its assigned remote sensor over the room's own reading. Shared
// sensors are read once via cache. Devices that report °F only have their
// readings converted; the input snapshot is not modified.
func Enrich(s Snapshot, cache SensorCache) Snapshot {
	if cache == nil {
		cache = SensorCache{}
	}
	sensors := make(map[string]Sensor, len(s.Sensors))
	for id, sn := range s.Sensors {
		sn.TemperatureC = celsius(sn.TemperatureC, sn.TemperatureF)
		sn.TemperatureF = nil
		sensors[id] = sn
	}
	vents := make(map[string]Vent, len(s.Vents))
	for id, v := range s.Vents {
		v.DuctTempC = celsius(v.DuctTempC, v.DuctTempF)
		v.DuctTempF = nil
		vents[id] = v
	}

	rooms := make(map[string]Room, len(s.Rooms))
	for id, r := range s.Rooms {
		if r.SensorID != "" {
			temp, ok := cache[r.SensorID]
			if !ok {
				if sensor, found := sensors[r.SensorID]; found {
					temp = sensor.TemperatureC
				}
				cache[r.SensorID] = temp
			}
			if temp != nil {
				r.TemperatureC = temp
			}
		}
		rooms[id] = r
	}
	s.Rooms = rooms
	s.Vents = vents
	s.Sensors = sensors
	return s
}

// #endregion enrich
