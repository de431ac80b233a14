package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ventwise/dab-controller/internal/cycle"
	"github.com/ventwise/dab-controller/internal/dispatch"
	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/target"
)

// #region tick
// Tick reads a fresh snapshot and advances every circuit.
func (e *Engine) Tick(ctx context.Context) error {
	return e.do(ctx, e.tick)
}

func (e *Engine) tick(ctx context.Context) error {
	if err := e.refresh(ctx); err != nil {
		return err
	}
	for _, id := range e.circuitIDs() {
		e.advance(ctx, id, true)
	}
	e.readyOnce.Do(func() { close(e.ready) })
	return nil
}

// Ready is closed after the first tick that read the devices successfully.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// handleThermostat applies a pushed thermostat change to the last snapshot
// and advances that circuit without a device read.
func (e *Engine) handleThermostat(ctx context.Context, t hvac.Thermostat) {
	if _, ok := e.circuits[t.ID]; !ok {
		return
	}
	if e.snapshot.Thermostats == nil {
		if err := e.refresh(ctx); err != nil {
			e.logger.Warn("refresh on thermostat event failed", "thermostat", t.ID, "err", err)
			return
		}
	}
	e.snapshot.Thermostats[t.ID] = t
	e.advance(ctx, t.ID, false)
}

// refresh reads the device snapshot and resolves room temperatures through a
// per-refresh sensor cache.
func (e *Engine) refresh(ctx context.Context) error {
	snap, err := e.deps.Device.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("device snapshot: %w", err)
	}
	snap = hvac.Enrich(snap, hvac.SensorCache{})
	if snap.TakenAt.IsZero() {
		snap.TakenAt = e.now()
	}
	if snap.Thermostats == nil {
		snap.Thermostats = map[string]hvac.Thermostat{}
	}
	if e.cfg.ManualVents {
		e.overlayManual(&snap)
	}
	e.snapshot = snap
	return nil
}

// overlayManual reports manually declared apertures in place of device values.
func (e *Engine) overlayManual(snap *hvac.Snapshot) {
	if snap.Vents == nil {
		snap.Vents = map[string]hvac.Vent{}
	}
	for ventID := range e.ventCircuit {
		v, ok := snap.Vents[ventID]
		if !ok {
			v = hvac.Vent{ID: ventID}
		}
		v.Aperture = hvac.Int(e.manualAperture(ventID))
		snap.Vents[ventID] = v
	}
}

// #endregion tick

// #region advance
// advance feeds one circuit's resolved action to the cycle machine, records
// samples while it runs and applies targets.
func (e *Engine) advance(ctx context.Context, id string, sample bool) {
	circ := e.circuits[id]
	t, ok := e.snapshot.Thermostats[id]
	if !ok {
		e.logger.Debug("thermostat missing from snapshot", "circuit", id)
		return
	}
	now := e.now()
	action := hvac.ResolveAction(t)

	step := e.machine.Observe(id, action, now)
	if step.Flush != nil {
		e.scheduler.Cancel(id)
		e.logger.Info("finalizing superseded cycle", "circuit", id, "mode", step.Flush.Mode)
		e.finalize(ctx, step.Flush)
	}
	if step.Stopped {
		e.scheduler.Arm(id, e.cfg.FinalizeDelay)
		e.deps.Collectors.SetRunning(id, false)
		e.logger.Info("cycle stopped", "circuit", id, "finalize_in", e.cfg.FinalizeDelay)
		e.emit(ctx, Event{Kind: EventCycleStopped, CircuitID: id, At: now})
	}
	if step.Started {
		e.deps.Collectors.SetRunning(id, true)
		e.logger.Info("cycle started", "circuit", id, "mode", action)
		e.emit(ctx, Event{Kind: EventCycleStarted, CircuitID: id, Mode: string(action), At: now})
	}

	switch e.machine.Phase(id) {
	case cycle.PhaseRunning:
		sp, hasSP := hvac.Setpoint(t, action, e.cfg.SetpointOffsetC)
		if hasSP {
			e.machine.SetSetpoint(id, sp)
		}
		if sample {
			e.record(id, circ, now)
		}
		if e.cfg.Enabled && hasSP {
			e.apply(ctx, circ, action, sp, false)
		}
	default:
		if !e.cfg.Enabled || !e.cfg.PreAdjust || action.Active() {
			return
		}
		predicted := hvac.PredictAction(t, e.cfg.PreAdjustMarginC)
		if !predicted.Active() {
			return
		}
		if sp, ok := hvac.Setpoint(t, predicted, e.cfg.SetpointOffsetC); ok {
			e.logger.Debug("pre-adjusting", "circuit", id, "predicted", predicted)
			e.apply(ctx, circ, predicted, sp, true)
		}
	}
}

func (e *Engine) record(id string, circ hvac.Circuit, now time.Time) {
	at := e.snapshot.TakenAt
	if at.IsZero() {
		at = now
	}
	for _, ventID := range circ.VentIDs {
		v, ok := e.snapshot.Vents[ventID]
		if !ok {
			continue
		}
		var temp *float64
		if room, ok := e.snapshot.RoomOf(ventID); ok {
			temp = room.TemperatureC
		}
		e.machine.Record(id, ventID, temp, v.Aperture, v.DuctTempC, at)
	}
}

// #endregion advance

// #region apply
// apply computes targets for one circuit and dispatches the committed ones.
// Pre-adjust runs do not count toward cycle stats.
func (e *Engine) apply(ctx context.Context, circ hvac.Circuit, action hvac.Action, setpoint float64, preAdjust bool) target.Result {
	now := e.now()
	in := target.Input{
		Action:            action,
		SetpointC:         setpoint,
		ConventionalVents: circ.ConventionalVents,
		AvgTempError:      e.strategy.AvgActiveTempError(),
		Now:               now,
	}
	for _, ventID := range circ.VentIDs {
		in.Vents = append(in.Vents, e.ventInput(ventID, action))
	}

	res := target.Calculate(in, e.cfg.Target)
	for i := range res.Targets {
		vt := res.Targets[i]
		e.book(vt.VentID).lastTarget = &vt
	}

	committed := res.Committed()
	if e.cfg.ManualVents {
		// No managed fleet: targets stay advisory.
		if len(committed) > 0 {
			e.logger.Debug("suggested apertures updated", "circuit", circ.ThermostatID, "vents", len(committed))
		}
		return res
	}

	cmds := make([]dispatch.Command, 0, len(committed))
	for _, vt := range committed {
		cmd := dispatch.Command{VentID: vt.VentID, Percent: vt.Target}
		if v, ok := e.snapshot.Vents[vt.VentID]; ok && v.Aperture != nil {
			prev := *v.Aperture
			cmd.Previous = &prev
		}
		cmds = append(cmds, cmd)
	}

	adjustments, movement := 0, 0
	for _, o := range e.dispatcher.Apply(ctx, cmds) {
		e.deps.Collectors.ObserveCommand(o.VentID, o.Percent, o.OK(), o.Duration.Seconds())
		if !o.OK() {
			e.logger.Warn("vent not commanded", "circuit", circ.ThermostatID, "vent", o.VentID, "err", o.Err)
			continue
		}
		b := e.book(o.VentID)
		pct := o.Percent
		b.lastCommanded = &pct
		b.lastCommandedAt = now
		if v, ok := e.snapshot.Vents[o.VentID]; ok {
			v.Aperture = hvac.Int(pct)
			e.snapshot.Vents[o.VentID] = v
		}
		adjustments++
		movement += o.Movement
		e.ventStats.Record(o.VentID, o.Movement, now)
		e.emit(ctx, Event{
			Kind:      EventVentCommanded,
			CircuitID: circ.ThermostatID,
			VentID:    o.VentID,
			Mode:      string(action),
			Values:    map[string]float64{"percent": float64(pct), "movement": float64(o.Movement)},
			At:        now,
		})
	}

	if !preAdjust {
		e.machine.AddStats(circ.ThermostatID, adjustments, movement, string(res.Strategy), res.MeanTempError, res.ActiveRooms)
	}
	e.writeTelemetry(ctx, circ, action, res, now)
	return res
}

func (e *Engine) ventInput(ventID string, action hvac.Action) target.VentInput {
	b := e.book(ventID)
	in := target.VentInput{
		VentID:          ventID,
		LastCommanded:   b.lastCommanded,
		LastCommandedAt: b.lastCommandedAt,
		Rate:            e.models.GetEffectiveRate(ventID, action, e.cfg.InitialRate),
	}
	if v, ok := e.snapshot.Vents[ventID]; ok {
		in.RoomID = v.RoomID
		in.Aperture = v.Aperture
		if room, ok := e.snapshot.RoomOf(ventID); ok {
			in.Active = room.Active
			in.TempC = room.TemperatureC
		}
	}
	vm := e.models.Vent(ventID, action)
	_, _, hasParams := vm.Rate.Params()
	in.Confident = hasParams || (vm.Efficiency.BaselineN > 0 && vm.Efficiency.Confidence >= e.cfg.Update.RegimeConfidence)
	if x, ok := vm.Rate.MeanX(); ok {
		in.EfficientPoint = &x
	}
	return in
}

func (e *Engine) writeTelemetry(ctx context.Context, circ hvac.Circuit, action hvac.Action, res target.Result, now time.Time) {
	if e.deps.Telemetry == nil {
		return
	}
	points := make([]VentPoint, 0, len(res.Targets))
	for _, vt := range res.Targets {
		p := VentPoint{
			CircuitID:  circ.ThermostatID,
			VentID:     vt.VentID,
			Mode:       string(action),
			Strategy:   string(vt.Strategy),
			TempError:  vt.TempError,
			Target:     vt.Target,
			Committed:  vt.Commit,
			Efficiency: e.models.GetEffectiveRate(vt.VentID, action, e.cfg.InitialRate),
			At:         now,
		}
		if v, ok := e.snapshot.Vents[vt.VentID]; ok {
			p.RoomID = v.RoomID
			p.Aperture = v.Aperture
			if room, ok := e.snapshot.RoomOf(vt.VentID); ok {
				p.TempC = room.TemperatureC
			}
		}
		points = append(points, p)
	}
	if err := e.deps.Telemetry.WriteVents(ctx, points); err != nil {
		e.logger.Warn("telemetry write failed", "err", err)
	}
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	if e.deps.Events == nil {
		return
	}
	if err := e.deps.Events.Publish(ctx, ev); err != nil {
		e.logger.Warn("event publish failed", "kind", ev.Kind, "err", err)
	}
}

// #endregion apply
