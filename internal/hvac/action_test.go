package hvac

import (
	"math"
	"testing"
)

func TestResolveActionExplicitWins(t *testing.T) {
	th := Thermostat{Mode: ModeHeat, Action: ActionCooling, CurrentC: Float(18), TargetC: Float(21)}
	if got := ResolveAction(th); got != ActionCooling {
		t.Fatalf("expected cooling, got %q", got)
	}
	th.Action = ActionIdle
	if got := ResolveAction(th); got != ActionNone {
		t.Fatalf("expected explicit idle to resolve to none, got %q", got)
	}
}

func TestResolveActionInferred(t *testing.T) {
	cases := []struct {
		name string
		th   Thermostat
		want Action
	}{
		{"heat below target", Thermostat{Mode: ModeHeat, CurrentC: Float(19), TargetC: Float(21)}, ActionHeating},
		{"heat at target", Thermostat{Mode: ModeHeat, CurrentC: Float(21), TargetC: Float(21)}, ActionNone},
		{"cool above target", Thermostat{Mode: ModeCool, CurrentC: Float(25), TargetC: Float(23)}, ActionCooling},
		{"cool below target", Thermostat{Mode: ModeCool, CurrentC: Float(22), TargetC: Float(23)}, ActionNone},
		{"heat_cool below band", Thermostat{Mode: ModeHeatCool, CurrentC: Float(18), TargetLowC: Float(20), TargetHighC: Float(24)}, ActionHeating},
		{"heat_cool above band", Thermostat{Mode: ModeHeatCool, CurrentC: Float(26), TargetLowC: Float(20), TargetHighC: Float(24)}, ActionCooling},
		{"heat_cool in band", Thermostat{Mode: ModeHeatCool, CurrentC: Float(22), TargetLowC: Float(20), TargetHighC: Float(24)}, ActionNone},
		{"off", Thermostat{Mode: ModeOff, CurrentC: Float(10), TargetC: Float(21)}, ActionNone},
		{"no reading", Thermostat{Mode: ModeHeat, TargetC: Float(21)}, ActionNone},
	}
	for _, tc := range cases {
		if got := ResolveAction(tc.th); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestSetpointOffsets(t *testing.T) {
	th := Thermostat{Mode: ModeHeatCool, TargetLowC: Float(20), TargetHighC: Float(24)}
	sp, ok := Setpoint(th, ActionHeating, 0.5)
	if !ok || sp != 20.5 {
		t.Fatalf("heating setpoint: got %v ok=%v", sp, ok)
	}
	sp, ok = Setpoint(th, ActionCooling, 0.5)
	if !ok || sp != 23.5 {
		t.Fatalf("cooling setpoint: got %v ok=%v", sp, ok)
	}
	if _, ok := Setpoint(th, ActionNone, 0); ok {
		t.Fatal("expected no setpoint for idle")
	}
}

func TestTempError(t *testing.T) {
	if e, _ := TempError(ActionHeating, 19, 21); e != 2 {
		t.Fatalf("heating error: got %v", e)
	}
	if e, _ := TempError(ActionCooling, 25, 23); e != 2 {
		t.Fatalf("cooling error: got %v", e)
	}
	if _, ok := TempError(ActionNone, 25, 23); ok {
		t.Fatal("expected no error for idle")
	}
}

func TestPredictAction(t *testing.T) {
	th := Thermostat{Mode: ModeHeat, CurrentC: Float(21.3), TargetC: Float(21)}
	if got := PredictAction(th, 0.5); got != ActionHeating {
		t.Fatalf("expected heating prediction, got %q", got)
	}
	if got := PredictAction(th, 0.2); got != ActionNone {
		t.Fatalf("expected no prediction outside margin, got %q", got)
	}
	running := Thermostat{Mode: ModeHeat, CurrentC: Float(20), TargetC: Float(21)}
	if got := PredictAction(running, 5); got != ActionNone {
		t.Fatalf("expected no prediction while running, got %q", got)
	}
}

func TestUnitConversion(t *testing.T) {
	if c := FahrenheitToCelsius(68); math.Abs(c-20) > 1e-9 {
		t.Fatalf("68F: got %v", c)
	}
	if ClampAperture(140) != 100 || ClampAperture(-3) != 0 || ClampAperture(42.6) != 43 {
		t.Fatal("clamp aperture out of range")
	}
}

func TestEnrichPrefersSharedSensor(t *testing.T) {
	snap := Snapshot{
		Rooms: map[string]Room{
			"a": {ID: "a", TemperatureC: Float(19), SensorID: "s1"},
			"b": {ID: "b", TemperatureC: Float(18), SensorID: "s1"},
			"c": {ID: "c", TemperatureC: Float(17), SensorID: "missing"},
		},
		Sensors: map[string]Sensor{"s1": {ID: "s1", TemperatureC: Float(22)}},
	}
	cache := SensorCache{}
	out := Enrich(snap, cache)
	if *out.Rooms["a"].TemperatureC != 22 || *out.Rooms["b"].TemperatureC != 22 {
		t.Fatal("expected sensor reading to replace room reading")
	}
	if *out.Rooms["c"].TemperatureC != 17 {
		t.Fatal("expected fallback to room reading when sensor is missing")
	}
	if len(cache) != 2 {
		t.Fatalf("expected 2 cache entries, got %d", len(cache))
	}
	if *snap.Rooms["a"].TemperatureC != 19 {
		t.Fatal("input snapshot was mutated")
	}
}

func TestEnrichConvertsFahrenheitReadings(t *testing.T) {
	snap := Snapshot{
		Rooms: map[string]Room{"a": {ID: "a", TemperatureC: Float(19), SensorID: "s1"}},
		Vents: map[string]Vent{
			"v1": {ID: "v1", RoomID: "a", DuctTempF: Float(95)},
			"v2": {ID: "v2", RoomID: "a", DuctTempC: Float(30), DuctTempF: Float(50)},
			"v3": {ID: "v3", RoomID: "a"},
		},
		Sensors: map[string]Sensor{"s1": {ID: "s1", TemperatureF: Float(71.6)}},
	}
	out := Enrich(snap, nil)

	if d := out.Vents["v1"].DuctTempC; d == nil || math.Abs(*d-35) > 1e-9 {
		t.Fatalf("expected 95F duct as 35C, got %v", d)
	}
	if out.Vents["v1"].DuctTempF != nil {
		t.Fatal("expected fahrenheit reading cleared after conversion")
	}
	if d := out.Vents["v2"].DuctTempC; d == nil || *d != 30 {
		t.Fatalf("expected celsius reading to win, got %v", d)
	}
	if out.Vents["v3"].DuctTempC != nil {
		t.Fatal("expected no duct reading")
	}
	if r := out.Rooms["a"].TemperatureC; r == nil || math.Abs(*r-22) > 1e-9 {
		t.Fatalf("expected 71.6F sensor as 22C, got %v", r)
	}
	if snap.Vents["v1"].DuctTempC != nil {
		t.Fatal("input snapshot was mutated")
	}
}
