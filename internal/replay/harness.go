package replay

import (
	"time"

	"github.com/ventwise/dab-controller/internal/cycle"
	"github.com/ventwise/dab-controller/internal/eval"
	"github.com/ventwise/dab-controller/internal/gate"
	"github.com/ventwise/dab-controller/internal/hvac"
	"github.com/ventwise/dab-controller/internal/update"
)

// #region types
// Cycle is one vent's recorded cycle for replay.
type Cycle struct {
	CycleID    string
	VentID     string
	Mode       hvac.Action
	CycleStart time.Time
	Setpoint   *float64
	Samples    []cycle.Sample
}

// ReplayConfig bundles gate, update, and eval configs for a replay run.
type ReplayConfig struct {
	GateConfig   gate.GateConfig
	UpdateConfig update.UpdateConfig
	EvalConfig   eval.EvalConfig
}

// DefaultReplayConfig returns the controller's defaults for all three stages.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		GateConfig:   gate.DefaultGateConfig(),
		UpdateConfig: update.DefaultUpdateConfig(),
		EvalConfig:   eval.DefaultEvalConfig(),
	}
}

// ReplayResult captures the outcome of replaying one cycle through the full pipeline.
type ReplayResult struct {
	CycleID string
	VentID  string
	Mode    hvac.Action
	Action  string // "commit" | "gate_reject" | "eval_rollback" | "no_op"
	Reason  string

	GateDecision gate.GateDecision

	// Update stage (nil if the gate rejected)
	UpdateDecision *update.Decision
	UpdateMetrics  *update.Metrics

	// Eval stage (nil unless update committed)
	EvalResult *eval.EvalResult

	// Effective rate for the vent and mode after this cycle
	EffectiveRate float64
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalCycles   int
	Commits       int
	GateRejects   int
	EvalRollbacks int
	NoOps         int
	FinalModels   *update.Models
}

// #endregion types

// #region replay
// Replay runs each cycle through gate → update → eval → commit, in order,
// against a private copy of start. It never touches a store. The returned
// models hold every committed update.
func Replay(start *update.Models, cycles []Cycle, config ReplayConfig) ([]ReplayResult, *update.Models) {
	models := update.NewModels()
	if start != nil {
		models = start.Clone()
	}
	results := make([]ReplayResult, 0, len(cycles))

	gateInst := gate.NewGate(config.GateConfig)
	evalInst := eval.NewEvalHarness(config.EvalConfig)

	for _, c := range cycles {
		res := ReplayResult{CycleID: c.CycleID, VentID: c.VentID, Mode: c.Mode}

		// 1. Gate
		res.GateDecision = gateInst.Evaluate(gate.CycleInput{
			Mode:       c.Mode,
			CycleStart: c.CycleStart,
			Samples:    cycle.Window(c.Samples, config.GateConfig.Window),
			Setpoint:   c.Setpoint,
		})
		if res.GateDecision.Action != "commit" {
			res.Action = "gate_reject"
			res.Reason = res.GateDecision.Reason
			res.EffectiveRate = models.VentRates[c.VentID][c.Mode]
			results = append(results, res)
			continue
		}

		// 2. Update
		prev := models.Vent(c.VentID, c.Mode)
		upd := update.Update(prev, res.GateDecision, config.UpdateConfig)
		res.UpdateDecision = &upd.Decision
		res.UpdateMetrics = &upd.Metrics
		if upd.Decision.Action == "no_op" {
			res.Action = "no_op"
			res.Reason = upd.Decision.Reason
			res.EffectiveRate = models.VentRates[c.VentID][c.Mode]
			results = append(results, res)
			continue
		}

		// 3. Eval
		evalResult := evalInst.Run(upd.New)
		res.EvalResult = &evalResult
		if !evalResult.Passed {
			res.Action = "eval_rollback"
			res.Reason = evalResult.Reason
			res.EffectiveRate = models.VentRates[c.VentID][c.Mode]
			results = append(results, res)
			continue
		}
		if evalResult.RateRejected {
			upd.KeepRate(prev.Rate)
		}

		// 4. Commit
		models.Store(c.VentID, c.Mode, upd.New)
		res.Action = "commit"
		res.Reason = res.GateDecision.Reason
		res.EffectiveRate = upd.New.Efficiency.Effective
		results = append(results, res)
	}

	return results, models
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, final *update.Models) ReplaySummary {
	s := ReplaySummary{
		TotalCycles: len(results),
		FinalModels: final,
	}
	for _, r := range results {
		switch r.Action {
		case "commit":
			s.Commits++
		case "gate_reject":
			s.GateRejects++
		case "eval_rollback":
			s.EvalRollbacks++
		case "no_op":
			s.NoOps++
		}
	}
	return s
}

// #endregion replay
