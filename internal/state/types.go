package state

import (
	"time"

	"github.com/ventwise/dab-controller/internal/metrics"
	"github.com/ventwise/dab-controller/internal/update"
)

// #region snapshot
// Snapshot is everything the engine persists: the learned models (vent
// rates, max rates, max running minutes, regression statistics, efficiency
// models) and the strategy metrics.
type Snapshot struct {
	Models   *update.Models           `json:"models"`
	Strategy *metrics.StrategyMetrics `json:"strategy_metrics"`
	Trigger  string                   `json:"-"` // why it was saved: "finalize" | "import" | "manual"
}

// Normalize fills nil parts so a loaded snapshot is always usable.
func (s *Snapshot) Normalize() {
	if s.Models == nil {
		s.Models = update.NewModels()
	}
	if s.Strategy == nil {
		s.Strategy = metrics.NewStrategyMetrics()
	}
}

// #endregion snapshot

// #region snapshot-record
// SnapshotRecord is one stored version of a snapshot.
type SnapshotRecord struct {
	VersionID string
	ParentID  string
	Trigger   string
	Snapshot  Snapshot
	CreatedAt time.Time
}

// #endregion snapshot-record

// #region cycle-log-row
// CycleLogRow is one per-vent finalize outcome as read back from the log.
type CycleLogRow struct {
	ID         int64
	VersionID  string
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

// #endregion cycle-log-row
