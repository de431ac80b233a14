package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ventwise/dab-controller/internal/dispatch"
	"github.com/ventwise/dab-controller/internal/eval"
	"github.com/ventwise/dab-controller/internal/gate"
	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/logging"
	"github.com/ventwise/dab-controller/internal/metrics"
	"github.com/ventwise/dab-controller/internal/state"
	"github.com/ventwise/dab-controller/internal/target"
	"github.com/ventwise/dab-controller/internal/update"
)

// ErrValidation rejects a control operation that the deployment cannot serve.
var ErrValidation = errors.New("validation error")

// #region collaborators
// DeviceAdapter is the device fleet as the engine sees it.
type DeviceAdapter interface {
	Snapshot(ctx context.Context) (hvac.Snapshot, error)
	SetVentAperture(ctx context.Context, ventID string, percent int) error
	SetRoomActive(ctx context.Context, roomID string, active bool) error
	SetThermostatSetpoint(ctx context.Context, roomID string, tempC float64, holdUntil *time.Time) error
	SetStructureMode(ctx context.Context, mode string) error
}

// StateStore persists learned models between runs. Load returns nil, nil when
// nothing was saved yet.
type StateStore interface {
	Load() (*state.Snapshot, error)
	Save(snap state.Snapshot) error
}

// versionSaver is implemented by stores that can report the version they wrote.
type versionSaver interface {
	SaveVersion(snap state.Snapshot) (state.SnapshotRecord, error)
}

// CycleLogger records per-vent finalize outcomes.
type CycleLogger interface {
	LogCycles(entries []logging.CycleEntry) error
}

// EventSink receives engine events for publication.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// Telemetry receives per-vent measurements after each apply.
type Telemetry interface {
	WriteVents(ctx context.Context, points []VentPoint) error
}

// #endregion collaborators

// #region events
// Event kinds published to the EventSink.
const (
	EventCycleStarted      = "cycle_started"
	EventCycleStopped      = "cycle_stopped"
	EventCycleFinalized    = "cycle_finalized"
	EventVentCommanded     = "vent_commanded"
	EventEfficiencyChanged = "efficiency_changed"
)

// Event is one notable thing the engine did.
type Event struct {
	Kind      string             `json:"kind"`
	CircuitID string             `json:"circuit_id,omitempty"`
	VentID    string             `json:"vent_id,omitempty"`
	Mode      string             `json:"mode,omitempty"`
	Values    map[string]float64 `json:"values,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	At        time.Time          `json:"at"`
}

// VentPoint is one vent's state after an apply.
type VentPoint struct {
	CircuitID  string
	VentID     string
	RoomID     string
	Mode       string
	Strategy   string
	TempC      *float64
	TempError  float64
	Aperture   *int
	Target     int
	Committed  bool
	Efficiency float64
	At         time.Time
}

// #endregion events

// #region config
// Config holds the engine settings and the component configs it drives.
type Config struct {
	StructureID            string
	Enabled                bool
	ManualVents            bool
	ForceStructureManual   bool
	PollActive             time.Duration
	PollIdle               time.Duration
	FinalizeDelay          time.Duration
	SetpointOffsetC        float64
	PreAdjust              bool
	PreAdjustMarginC       float64
	InitialRate            float64 // efficiency fraction assumed before any data
	EfficiencyChangeLogPct float64
	Circuits               []hvac.Circuit

	Gate     gate.GateConfig
	Target   target.Config
	Dispatch dispatch.Config
	Update   update.UpdateConfig
	Eval     eval.EvalConfig
}

// DefaultConfig returns engine defaults with no circuits.
func DefaultConfig() Config {
	return Config{
		StructureID:            "home",
		Enabled:                true,
		PollActive:             30 * time.Second,
		PollIdle:               3 * time.Minute,
		FinalizeDelay:          2 * time.Minute,
		PreAdjustMarginC:       0.5,
		InitialRate:            0.5,
		EfficiencyChangeLogPct: 10,
		Gate:                   gate.DefaultGateConfig(),
		Target:                 target.DefaultConfig(),
		Dispatch:               dispatch.DefaultConfig(),
		Update:                 update.DefaultUpdateConfig(),
		Eval:                   eval.DefaultEvalConfig(),
	}
}

// Deps are the engine's collaborators. Device is required; the rest are
// optional.
type Deps struct {
	Device     DeviceAdapter
	Store      StateStore
	CycleLog   CycleLogger
	Events     EventSink
	Telemetry  Telemetry
	Collectors *metrics.Collectors
	Clock      func() time.Time
}

// #endregion config

// #region view
// VentView is the read-only state of one vent.
type VentView struct {
	VentID            string              `json:"vent_id"`
	RoomID            string              `json:"room_id"`
	RoomName          string              `json:"room_name,omitempty"`
	CircuitID         string              `json:"circuit_id"`
	Aperture          *int                `json:"aperture,omitempty"`
	Target            *int                `json:"target,omitempty"`
	TargetReason      string              `json:"target_reason,omitempty"`
	LastCommanded     *int                `json:"last_commanded,omitempty"`
	LastCommandedAt   *time.Time          `json:"last_commanded_at,omitempty"`
	ManualAperture    *int                `json:"manual_aperture,omitempty"`
	HeatingEfficiency float64             `json:"heating_efficiency_pct"`
	CoolingEfficiency float64             `json:"cooling_efficiency_pct"`
	Stats24h          metrics.VentSummary `json:"stats_24h"`
}

// RoomView is the read-only state of one room.
type RoomView struct {
	RoomID            string   `json:"room_id"`
	Name              string   `json:"name"`
	Active            bool     `json:"active"`
	TemperatureC      *float64 `json:"temperature_c,omitempty"`
	VentIDs           []string `json:"vent_ids"`
	HeatingEfficiency float64  `json:"heating_efficiency_pct"`
	CoolingEfficiency float64  `json:"cooling_efficiency_pct"`
}

// CircuitView is the read-only state of one thermostat circuit.
type CircuitView struct {
	ThermostatID string      `json:"thermostat_id"`
	Phase        string      `json:"phase"`
	Mode         hvac.Action `json:"mode,omitempty"`
	CycleStart   *time.Time  `json:"cycle_start,omitempty"`
	Samples      int         `json:"samples"`
	Adjustments  int         `json:"adjustments"`
	Movement     int         `json:"movement"`
}

// View is an immutable picture of the engine published after each loop step.
type View struct {
	UpdatedAt time.Time                `json:"updated_at"`
	Vents     map[string]VentView      `json:"vents"`
	Rooms     map[string]RoomView      `json:"rooms"`
	Circuits  map[string]CircuitView   `json:"circuits"`
	Strategy  *metrics.StrategyMetrics `json:"strategy_metrics"`
	MaxRates  map[hvac.Action]float64  `json:"max_rates"`
}

// #endregion view

// #region bookkeeping
// ventBook is what the engine remembers about commanding one vent.
type ventBook struct {
	lastCommanded   *int
	lastCommandedAt time.Time
	lastTarget      *target.VentTarget
}

// #endregion bookkeeping
