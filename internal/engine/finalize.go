package engine

import (
	"context"
	"math"
	"sort"

	"github.com/ventwise/dab-controller/internal/cycle"
	"github.com/ventwise/dab-controller/internal/gate"
	"github.com/ventwise/dab-controller/internal/logging"
	"github.com/ventwise/dab-controller/internal/metrics"
	"github.com/ventwise/dab-controller/internal/state"
	"github.com/ventwise/dab-controller/internal/update"
)

// #region finalize
// Finalize runs the pending finalize for a circuit. It is a no-op when
// nothing is pending, so duplicate firings are harmless. Reports whether a
// cycle was finalized.
func (e *Engine) Finalize(ctx context.Context, circuitID string) bool {
	var ran bool
	_ = e.do(ctx, func(ctx context.Context) error {
		ran = e.finalizePending(ctx, circuitID)
		return nil
	})
	return ran
}

func (e *Engine) finalizePending(ctx context.Context, circuitID string) bool {
	done := e.machine.TakePending(circuitID)
	if done == nil {
		return false
	}
	e.finalize(ctx, done)
	return true
}

// VentOutcome is what finalize decided for one vent.
type VentOutcome struct {
	VentID   string
	Decision string // logging.DecisionAccepted | DecisionRejected | DecisionRolledBack
	Reason   string
	Gate     gate.GateDecision
	Update   update.UpdateResult
}

// finalize folds a completed cycle into the models, metrics and store.
func (e *Engine) finalize(ctx context.Context, done *cycle.Completed) []VentOutcome {
	now := e.now()
	e.models.ObserveRunning(done.CircuitID, done.RunningMinutes())

	ventIDs := make([]string, 0, len(done.Samples))
	for id := range done.Samples {
		ventIDs = append(ventIDs, id)
	}
	sort.Strings(ventIDs)

	outcomes := make([]VentOutcome, 0, len(ventIDs))
	entries := make([]logging.CycleEntry, 0, len(ventIDs))
	accepted := 0

	for _, ventID := range ventIDs {
		out := e.finalizeVent(ctx, done, ventID)
		outcomes = append(outcomes, out)
		if out.Decision == logging.DecisionAccepted {
			accepted++
		}

		entry := logging.CycleEntry{
			CircuitID: done.CircuitID,
			VentID:    ventID,
			Mode:      string(done.Mode),
			Decision:  out.Decision,
			Reason:    out.Reason,
			SoftScore: out.Gate.SoftScore,
			CreatedAt: now,
		}
		entry.Efficiency = math.NaN()
		if out.Gate.Action == "commit" {
			entry.Efficiency = out.Gate.Measurement.Efficiency
		}
		entry.Confidence = out.Update.Metrics.Confidence
		entries = append(entries, entry)

		e.deps.Collectors.ObserveFinalize(ventID, string(done.Mode), out.Decision == logging.DecisionAccepted,
			e.models.GetEffectiveRate(ventID, done.Mode, e.cfg.InitialRate), out.Update.Metrics.Confidence)
	}

	e.strategy.Record(metrics.CycleOutcome{
		Strategy:    done.Stats.Strategy,
		TempError:   done.Stats.TempError,
		Adjustments: done.Stats.Adjustments,
		Movement:    done.Stats.Movement,
		ActiveRooms: done.Stats.ActiveRooms,
	})
	if done.Stats.Strategy != "" {
		e.deps.Collectors.SetStrategyError(done.Stats.Strategy, e.strategy.Entries[done.Stats.Strategy].AvgActiveTempError)
	}

	versionID := e.persist("finalize")
	for i := range entries {
		entries[i].VersionID = versionID
	}
	if e.deps.CycleLog != nil {
		if err := e.deps.CycleLog.LogCycles(entries); err != nil {
			e.logger.Warn("cycle log write failed", "circuit", done.CircuitID, "err", err)
		}
	}

	e.logger.Info("cycle finalized",
		"circuit", done.CircuitID,
		"mode", done.Mode,
		"running_min", math.Round(done.RunningMinutes()*10)/10,
		"vents", len(ventIDs),
		"accepted", accepted,
		"adjustments", done.Stats.Adjustments,
	)
	e.emit(ctx, Event{
		Kind:      EventCycleFinalized,
		CircuitID: done.CircuitID,
		Mode:      string(done.Mode),
		Values: map[string]float64{
			"running_minutes": done.RunningMinutes(),
			"vents":           float64(len(ventIDs)),
			"accepted":        float64(accepted),
			"adjustments":     float64(done.Stats.Adjustments),
			"movement":        float64(done.Stats.Movement),
		},
		At: now,
	})
	return outcomes
}

// finalizeVent runs gate, update and eval for one vent and commits the new
// models only when all three pass.
func (e *Engine) finalizeVent(ctx context.Context, done *cycle.Completed, ventID string) VentOutcome {
	out := VentOutcome{VentID: ventID}
	samples := cycle.Window(done.Samples[ventID], e.cfg.Gate.Window)

	out.Gate = e.gate.Evaluate(gate.CycleInput{
		Mode:       done.Mode,
		CycleStart: done.CycleStart,
		Samples:    samples,
		Setpoint:   done.Setpoint,
	})

	old := e.models.Vent(ventID, done.Mode)
	out.Update = update.Update(old, out.Gate, e.cfg.Update)
	if out.Update.Decision.Action != "commit" {
		out.Decision = logging.DecisionRejected
		out.Reason = out.Update.Decision.Reason
		e.logger.Debug("vent update skipped", "vent", ventID, "reason", out.Reason)
		return out
	}

	res := e.harness.Run(out.Update.New)
	if !res.Passed {
		out.Decision = logging.DecisionRolledBack
		out.Reason = res.Reason
		e.logger.Warn("vent update rolled back", "vent", ventID, "reason", res.Reason)
		return out
	}
	if res.RateRejected {
		out.Update.KeepRate(old.Rate)
		e.logger.Debug("vent rate fit kept", "vent", ventID, "reason", res.Reason)
	}

	beforePct := e.models.EfficiencyPercent(ventID, done.Mode, e.initialPct())
	e.models.Store(ventID, done.Mode, out.Update.New)
	afterPct := e.models.EfficiencyPercent(ventID, done.Mode, e.initialPct())

	out.Decision = logging.DecisionAccepted
	out.Reason = out.Gate.Reason

	if change := afterPct - beforePct; e.cfg.EfficiencyChangeLogPct > 0 && math.Abs(change) >= e.cfg.EfficiencyChangeLogPct {
		e.logger.Info("vent efficiency changed",
			"vent", ventID,
			"mode", done.Mode,
			"before_pct", beforePct,
			"after_pct", afterPct,
		)
		e.emit(ctx, Event{
			Kind:      EventEfficiencyChanged,
			CircuitID: done.CircuitID,
			VentID:    ventID,
			Mode:      string(done.Mode),
			Values:    map[string]float64{"before_pct": beforePct, "after_pct": afterPct},
			At:        e.now(),
		})
	}
	return out
}

func (e *Engine) initialPct() float64 {
	return e.cfg.InitialRate * 100
}

// persist saves the current models and strategy metrics. Failures are logged;
// memory stays authoritative until the next successful save.
func (e *Engine) persist(trigger string) string {
	if e.deps.Store == nil {
		return ""
	}
	snap := state.Snapshot{Models: e.models.Clone(), Strategy: e.strategy.Clone(), Trigger: trigger}
	if vs, ok := e.deps.Store.(versionSaver); ok {
		rec, err := vs.SaveVersion(snap)
		if err != nil {
			e.deps.Collectors.PersistFailed()
			e.logger.Error("snapshot save failed", "trigger", trigger, "err", err)
			return ""
		}
		return rec.VersionID
	}
	if err := e.deps.Store.Save(snap); err != nil {
		e.deps.Collectors.PersistFailed()
		e.logger.Error("snapshot save failed", "trigger", trigger, "err", err)
	}
	return ""
}

// #endregion finalize
