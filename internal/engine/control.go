package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ventwise/dab-controller/internal/exchange"
	"github.com/ventwise/dab-controller/internal/hvac"
)

// Structure modes accepted by SetStructureMode.
const (
	StructureModeAuto   = "auto"
	StructureModeManual = "manual"
)

// DefaultManualAperture is reported for a manual vent nobody has set.
const DefaultManualAperture = 50

// #region run-dab
// RunDAB polls now and advances every circuit, or only thermostatID when it
// is non-empty.
func (e *Engine) RunDAB(ctx context.Context, thermostatID string) error {
	return e.do(ctx, func(ctx context.Context) error {
		if thermostatID != "" {
			if _, ok := e.circuits[thermostatID]; !ok {
				return fmt.Errorf("%w: unknown thermostat %q", ErrValidation, thermostatID)
			}
		}
		if err := e.refresh(ctx); err != nil {
			return err
		}
		for _, id := range e.circuitIDs() {
			if thermostatID == "" || id == thermostatID {
				e.advance(ctx, id, true)
			}
		}
		return nil
	})
}

// RefreshDevices re-reads the device snapshot and rebuilds the sensor cache.
func (e *Engine) RefreshDevices(ctx context.Context) error {
	if err := e.requireFleet("refresh devices"); err != nil {
		return err
	}
	return e.do(ctx, e.refresh)
}

// #endregion run-dab

// #region room-controls
// SetRoomActive flags a room active or inactive. id may name the room or one
// of its vents.
func (e *Engine) SetRoomActive(ctx context.Context, id string, active bool) error {
	if err := e.requireFleet("set room active"); err != nil {
		return err
	}
	return e.do(ctx, func(ctx context.Context) error {
		roomID, err := e.resolveRoom(ctx, id)
		if err != nil {
			return err
		}
		if err := e.deps.Device.SetRoomActive(ctx, roomID, active); err != nil {
			return fmt.Errorf("set room %s active=%t: %w", roomID, active, err)
		}
		r := e.snapshot.Rooms[roomID]
		r.Active = active
		e.snapshot.Rooms[roomID] = r
		e.logger.Info("room activity changed", "room", roomID, "active", active)
		return nil
	})
}

// SetRoomSetpoint sets the setpoint of the thermostat serving a room. id may
// name the room or one of its vents.
func (e *Engine) SetRoomSetpoint(ctx context.Context, id string, tempC float64, holdUntil *time.Time) error {
	if err := e.requireFleet("set room setpoint"); err != nil {
		return err
	}
	if math.IsNaN(tempC) || math.IsInf(tempC, 0) {
		return fmt.Errorf("%w: setpoint must be a number", ErrValidation)
	}
	return e.do(ctx, func(ctx context.Context) error {
		roomID, err := e.resolveRoom(ctx, id)
		if err != nil {
			return err
		}
		if err := e.deps.Device.SetThermostatSetpoint(ctx, roomID, tempC, holdUntil); err != nil {
			return fmt.Errorf("set room %s setpoint: %w", roomID, err)
		}
		e.logger.Info("room setpoint changed", "room", roomID, "setpoint_c", tempC)
		return nil
	})
}

// SetStructureMode switches the structure between auto and manual control.
func (e *Engine) SetStructureMode(ctx context.Context, mode string) error {
	if err := e.requireFleet("set structure mode"); err != nil {
		return err
	}
	if mode != StructureModeAuto && mode != StructureModeManual {
		return fmt.Errorf("%w: unknown structure mode %q", ErrValidation, mode)
	}
	return e.do(ctx, func(ctx context.Context) error {
		if err := e.deps.Device.SetStructureMode(ctx, mode); err != nil {
			return fmt.Errorf("set structure mode: %w", err)
		}
		e.logger.Info("structure mode changed", "mode", mode)
		return nil
	})
}

func (e *Engine) requireFleet(op string) error {
	if e.cfg.ManualVents {
		return fmt.Errorf("%w: %s needs device-managed vents", ErrValidation, op)
	}
	return nil
}

func (e *Engine) resolveRoom(ctx context.Context, id string) (string, error) {
	if e.snapshot.Rooms == nil {
		if err := e.refresh(ctx); err != nil {
			return "", err
		}
	}
	if _, ok := e.snapshot.Rooms[id]; ok {
		return id, nil
	}
	if v, ok := e.snapshot.Vents[id]; ok {
		if _, ok := e.snapshot.Rooms[v.RoomID]; ok {
			return v.RoomID, nil
		}
	}
	return "", fmt.Errorf("%w: no room or vent %q", ErrValidation, id)
}

// #endregion room-controls

// #region manual
// SetManualAperture records a user-set aperture for a manually declared vent.
// Values are clamped to 0-100.
func (e *Engine) SetManualAperture(ctx context.Context, ventID string, percent int) error {
	if !e.cfg.ManualVents {
		return fmt.Errorf("%w: manual apertures need manual vents", ErrValidation)
	}
	if _, ok := e.ventCircuit[ventID]; !ok {
		return fmt.Errorf("%w: unknown vent %q", ErrValidation, ventID)
	}
	return e.do(ctx, func(context.Context) error {
		e.manual[ventID] = hvac.ClampAperture(float64(percent))
		if v, ok := e.snapshot.Vents[ventID]; ok {
			v.Aperture = hvac.Int(e.manual[ventID])
			e.snapshot.Vents[ventID] = v
		}
		return nil
	})
}

func (e *Engine) manualAperture(ventID string) int {
	if pct, ok := e.manual[ventID]; ok {
		return pct
	}
	return DefaultManualAperture
}

// #endregion manual

// #region exchange
// ExportEfficiency builds the efficiency payload and, when path is non-empty,
// writes it there.
func (e *Engine) ExportEfficiency(ctx context.Context, path string) (exchange.Payload, error) {
	var p exchange.Payload
	err := e.do(ctx, func(context.Context) error {
		p = exchange.Build(e.cfg.StructureID, e.models, e.ventRefs(), e.now())
		return nil
	})
	if err != nil {
		return exchange.Payload{}, err
	}
	if path != "" {
		if err := exchange.WriteFile(path, p); err != nil {
			return exchange.Payload{}, err
		}
		e.logger.Info("efficiency exported", "path", path, "vents", len(p.Data.RoomEfficiencies))
	}
	return p, nil
}

// ImportEfficiency applies a payload and persists the result. Shape errors
// wrap exchange.ErrInvalidPayload and leave the models untouched.
func (e *Engine) ImportEfficiency(ctx context.Context, p exchange.Payload) (exchange.Result, error) {
	if err := p.Validate(); err != nil {
		return exchange.Result{}, err
	}
	var res exchange.Result
	err := e.do(ctx, func(ctx context.Context) error {
		if e.snapshot.Vents == nil {
			if err := e.refresh(ctx); err != nil {
				e.logger.Warn("import without device snapshot", "err", err)
			}
		}
		var err error
		res, err = exchange.Apply(e.models, p, e.ventRefs())
		if err != nil {
			return err
		}
		e.persist("import")
		return nil
	})
	if err != nil {
		return exchange.Result{}, err
	}
	e.logger.Info("efficiency imported", "entries", res.Entries, "applied", res.Applied, "unmatched", res.Unmatched)
	return res, nil
}

// ImportEfficiencyFile reads a payload from path and imports it.
func (e *Engine) ImportEfficiencyFile(ctx context.Context, path string) (exchange.Result, error) {
	p, err := exchange.ReadFile(path)
	if err != nil {
		return exchange.Result{}, err
	}
	return e.ImportEfficiency(ctx, p)
}

func (e *Engine) ventRefs() []exchange.VentRef {
	if len(e.snapshot.Vents) > 0 {
		return exchange.RefsFromSnapshot(e.snapshot)
	}
	return exchange.RefsFromModels(e.models)
}

// #endregion exchange
