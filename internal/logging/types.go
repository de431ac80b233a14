package logging

import "time"

// #region cycle-entry
// CycleEntry is a single row in the cycle_log table: the outcome of one vent's
// finalize step.
type CycleEntry struct {
	VersionID  string // snapshot version that persisted the outcome, if any
	CircuitID  string
	VentID     string
	Mode       string
	Decision   string // "accepted" | "rejected" | "rolled_back"
	Reason     string
	Efficiency float64
	Confidence float64
	SoftScore  float64
	CreatedAt  time.Time
}

// #endregion cycle-entry

// Decision values written by the engine.
const (
	DecisionAccepted   = "accepted"
	DecisionRejected   = "rejected"
	DecisionRolledBack = "rolled_back"
)
