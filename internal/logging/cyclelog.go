package logging

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

// timeFormat matches the snapshot store so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// #region log-cycle
// LogCycle writes a cycle entry to the cycle_log table.
func LogCycle(db *sql.DB, entry CycleEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO cycle_log (version_id, circuit_id, vent_id, mode, decision, reason, efficiency, confidence, soft_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(entry.VersionID),
		entry.CircuitID,
		entry.VentID,
		entry.Mode,
		entry.Decision,
		nullIfEmpty(entry.Reason),
		nullIfNaN(entry.Efficiency),
		nullIfNaN(entry.Confidence),
		nullIfNaN(entry.SoftScore),
		entry.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("log cycle: %w", err)
	}
	return nil
}

// LogCycles writes entries in one transaction.
func LogCycles(db *sql.DB, entries []CycleEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO cycle_log (version_id, circuit_id, vent_id, mode, decision, reason, efficiency, confidence, soft_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		_, err := stmt.Exec(
			nullIfEmpty(e.VersionID), e.CircuitID, e.VentID, e.Mode, e.Decision,
			nullIfEmpty(e.Reason), nullIfNaN(e.Efficiency), nullIfNaN(e.Confidence),
			nullIfNaN(e.SoftScore), e.CreatedAt.UTC().Format(timeFormat),
		)
		if err != nil {
			return fmt.Errorf("log cycle %s: %w", e.VentID, err)
		}
	}
	return tx.Commit()
}

// #endregion log-cycle

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNaN(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// #endregion helpers

// #region db-logger
// DBLogger writes cycle entries to the cycle_log table of DB.
type DBLogger struct {
	DB *sql.DB
}

// LogCycles writes entries in one transaction.
func (l DBLogger) LogCycles(entries []CycleEntry) error {
	return LogCycles(l.DB, entries)
}

// #endregion db-logger
