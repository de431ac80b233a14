package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS snapshot_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	trigger_type  TEXT NOT NULL,
	payload       TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cycle_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id    TEXT,
	circuit_id    TEXT NOT NULL,
	vent_id       TEXT NOT NULL,
	mode          TEXT NOT NULL,
	decision      TEXT NOT NULL,
	reason        TEXT,
	efficiency    REAL,
	confidence    REAL,
	soft_score    REAL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cycle_log_vent ON cycle_log(vent_id, created_at);

CREATE TABLE IF NOT EXISTS active_snapshot (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES snapshot_versions(version_id)
);
`

// #endregion schema

// timeFormat is fixed-width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// #region store-struct
// Store keeps versioned persistence snapshots in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region load-save
// Load returns the active snapshot, or nil when nothing was ever saved.
func (s *Store) Load() (*Snapshot, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_snapshot WHERE id = 1`).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active: %w", err)
	}
	rec, err := s.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	return &rec.Snapshot, nil
}

// Save stores snap as a new version and makes it active.
func (s *Store) Save(snap Snapshot) error {
	_, err := s.SaveVersion(snap)
	return err
}

// SaveVersion inserts a new version, parented on the active one, and moves the
// active pointer atomically.
func (s *Store) SaveVersion(snap Snapshot) (SnapshotRecord, error) {
	snap.Normalize()
	payload, err := json.Marshal(snap)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	trigger := snap.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRow(`SELECT version_id FROM active_snapshot WHERE id = 1`).Scan(&parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, fmt.Errorf("get parent: %w", err)
	}

	rec := SnapshotRecord{
		VersionID: uuid.New().String(),
		ParentID:  parent.String,
		Trigger:   trigger,
		Snapshot:  snap,
		CreatedAt: time.Now().UTC(),
	}

	var parentPtr interface{}
	if rec.ParentID != "" {
		parentPtr = rec.ParentID
	}

	_, err = tx.Exec(
		`INSERT INTO snapshot_versions (version_id, parent_id, trigger_type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.VersionID, parentPtr, trigger, string(payload), rec.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_snapshot (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SnapshotRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion load-save

// #region get-version
// GetVersion retrieves a specific snapshot version by ID.
func (s *Store) GetVersion(id string) (SnapshotRecord, error) {
	row := s.db.QueryRow(
		`SELECT version_id, parent_id, trigger_type, payload, created_at
		 FROM snapshot_versions WHERE version_id = ?`, id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return rec, nil
}

// ActiveVersionID returns the active version id, or "" when none exists.
func (s *Store) ActiveVersionID() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT version_id FROM active_snapshot WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get active: %w", err)
	}
	return id, nil
}

// #endregion get-version

// #region rollback
// Rollback sets the active pointer to a previous version.
func (s *Store) Rollback(targetVersionID string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM snapshot_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}

	_, err = s.db.Exec(`UPDATE active_snapshot SET version_id = ? WHERE id = 1`, targetVersionID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent snapshot versions, newest first.
func (s *Store) ListVersions(limit int) ([]SnapshotRecord, error) {
	rows, err := s.db.Query(
		`SELECT version_id, parent_id, trigger_type, payload, created_at
		 FROM snapshot_versions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes all but the newest keep versions. The active version is
// always retained. Returns the number of rows removed.
func (s *Store) Prune(keep int) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM snapshot_versions
		 WHERE version_id NOT IN (
			SELECT version_id FROM snapshot_versions ORDER BY created_at DESC, rowid DESC LIMIT ?
		 )
		 AND version_id NOT IN (SELECT version_id FROM active_snapshot)`, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return res.RowsAffected()
}

// #endregion list-versions

// #region cycle-log
// RecentCycleLog returns the newest cycle log rows, optionally for one vent.
func (s *Store) RecentCycleLog(ventID string, limit int) ([]CycleLogRow, error) {
	query := `SELECT id, version_id, circuit_id, vent_id, mode, decision, reason, efficiency, confidence, soft_score, created_at
		FROM cycle_log`
	args := []interface{}{}
	if ventID != "" {
		query += ` WHERE vent_id = ?`
		args = append(args, ventID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cycle log: %w", err)
	}
	defer rows.Close()

	var out []CycleLogRow
	for rows.Next() {
		var r CycleLogRow
		var version, reason sql.NullString
		var eff, conf, score sql.NullFloat64
		var created string
		if err := rows.Scan(&r.ID, &version, &r.CircuitID, &r.VentID, &r.Mode, &r.Decision, &reason, &eff, &conf, &score, &created); err != nil {
			return nil, fmt.Errorf("scan cycle log: %w", err)
		}
		r.VersionID = version.String
		r.Reason = reason.String
		r.Efficiency = eff.Float64
		r.Confidence = conf.Float64
		r.SoftScore = score.Float64
		r.CreatedAt, _ = time.Parse(timeFormat, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion cycle-log

// #region scan
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (SnapshotRecord, error) {
	var rec SnapshotRecord
	var parentID sql.NullString
	var payload, createdStr string

	if err := row.Scan(&rec.VersionID, &parentID, &rec.Trigger, &payload, &createdStr); err != nil {
		return SnapshotRecord{}, err
	}
	rec.ParentID = parentID.String
	if err := json.Unmarshal([]byte(payload), &rec.Snapshot); err != nil {
		return SnapshotRecord{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	rec.Snapshot.Trigger = rec.Trigger
	rec.Snapshot.Normalize()
	rec.CreatedAt, _ = time.Parse(timeFormat, createdStr)
	return rec, nil
}

// #endregion scan
