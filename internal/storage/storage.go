// Package storage provides SQLite-backed persistence for snapshots, node
// readings and notifications.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/netliquidity/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db           *sql.DB
	maxSnapshots int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/netliquidity/data.db.
func New(maxSnapshots int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "netliquidity", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxSnapshots: maxSnapshots}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id           TEXT PRIMARY KEY,
			cycle_at     INTEGER NOT NULL,
			as_of        INTEGER NOT NULL,
			net_current  REAL NOT NULL,
			net_previous REAL NOT NULL,
			net_change   REAL NOT NULL,
			pct_state    INTEGER NOT NULL,
			pct_value    REAL NOT NULL DEFAULT 0,
			condition    TEXT NOT NULL,
			regime       TEXT NOT NULL,
			payload      TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			snapshot_id    TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
			role           TEXT NOT NULL,
			cur_date       INTEGER NOT NULL,
			cur_value      REAL NOT NULL,
			cur_pct_state  INTEGER NOT NULL DEFAULT 0,
			cur_pct_value  REAL NOT NULL DEFAULT 0,
			prev_date      INTEGER NOT NULL,
			prev_value     REAL NOT NULL,
			prev_pct_state INTEGER NOT NULL DEFAULT 0,
			prev_pct_value REAL NOT NULL DEFAULT 0,
			pct_state      INTEGER NOT NULL,
			pct_value      REAL NOT NULL DEFAULT 0,
			trend          TEXT NOT NULL,
			stale          INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (snapshot_id, role)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			snapshot_id TEXT PRIMARY KEY,
			condition   TEXT NOT NULL,
			sent_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_cycle_at ON snapshots(cycle_at)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_role ON nodes(role)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_sent_at ON notifications(sent_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot stores a snapshot with its nodes and enforces the snapshot cap.
func (s *Storage) SaveSnapshot(snap *models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	agg := snap.Aggregate
	_, err = tx.Exec(`
		INSERT INTO snapshots
			(id, cycle_at, as_of, net_current, net_previous, net_change,
			 pct_state, pct_value, condition, regime, payload)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		snap.ID.String(), snap.CycleAt.UnixNano(), asOf(snap).UnixNano(),
		agg.Current, agg.Previous, agg.Change,
		int(agg.PctChange.State), agg.PctChange.Value,
		string(snap.Narrative.Condition), string(snap.Regime), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	for role, n := range snap.Nodes {
		_, err = tx.Exec(`
			INSERT INTO nodes
				(snapshot_id, role, cur_date, cur_value, cur_pct_state, cur_pct_value,
				 prev_date, prev_value, prev_pct_state, prev_pct_value,
				 pct_state, pct_value, trend, stale)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			snap.ID.String(), string(role),
			n.Current.Date.UnixNano(), n.Current.Value,
			int(n.Current.PctChange.State), n.Current.PctChange.Value,
			n.Previous.Date.UnixNano(), n.Previous.Value,
			int(n.Previous.PctChange.State), n.Previous.PctChange.Value,
			int(n.PctChange.State), n.PctChange.Value,
			string(n.Trend), boolToInt(n.Stale),
		)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", role, err)
		}
	}

	if _, err = tx.Exec(`
		DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY cycle_at DESC LIMIT ?
		)`, s.maxSnapshots); err != nil {
		return fmt.Errorf("failed to enforce snapshot cap: %w", err)
	}

	return tx.Commit()
}

// LatestSnapshot returns the most recent snapshot, or nil if none is stored.
func (s *Storage) LatestSnapshot() (*models.Snapshot, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM snapshots ORDER BY cycle_at DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// History returns up to limit of the newest readings, oldest first.
func (s *Storage) History(limit int) ([]models.HistoryPoint, error) {
	rows, err := s.db.Query(`
		SELECT id, cycle_at, as_of, net_current, net_previous, net_change,
		       pct_state, pct_value, condition
		FROM (SELECT * FROM snapshots ORDER BY cycle_at DESC LIMIT ?)
		ORDER BY cycle_at ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	points := []models.HistoryPoint{}
	for rows.Next() {
		var p models.HistoryPoint
		var cycleAtNano, asOfNano int64
		var pctState int
		var condition string
		err := rows.Scan(
			&p.SnapshotID, &cycleAtNano, &asOfNano, &p.Current, &p.Previous, &p.Change,
			&pctState, &p.PctChange.Value, &condition,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		p.CycleAt = time.Unix(0, cycleAtNano).UTC()
		p.AsOf = time.Unix(0, asOfNano).UTC()
		p.PctChange.State = models.RateState(pctState)
		p.Condition = models.Condition(condition)
		points = append(points, p)
	}
	return points, rows.Err()
}

// NetLiquidityValues returns one net-liquidity reading per data date before
// the given date, newest first, taking the latest cycle for each date.
func (s *Storage) NetLiquidityValues(before time.Time, limit int) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT s.net_current FROM snapshots s
		JOIN (SELECT as_of, MAX(cycle_at) AS cycle_at FROM snapshots GROUP BY as_of) l
		  ON s.as_of = l.as_of AND s.cycle_at = l.cycle_at
		WHERE s.as_of < ?
		ORDER BY s.as_of DESC LIMIT ?`, before.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query net liquidity: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan net liquidity: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// LastKnownNode returns the newest stored node for role, or nil if none.
func (s *Storage) LastKnownNode(role models.Role) (*models.Node, error) {
	row := s.db.QueryRow(`
		SELECT n.cur_date, n.cur_value, n.cur_pct_state, n.cur_pct_value,
		       n.prev_date, n.prev_value, n.prev_pct_state, n.prev_pct_value,
		       n.pct_state, n.pct_value, n.trend
		FROM nodes n JOIN snapshots s ON s.id = n.snapshot_id
		WHERE n.role = ?
		ORDER BY s.cycle_at DESC LIMIT 1`, string(role))

	n := models.Node{Role: role}
	var currentNano, previousNano int64
	var curState, prevState, pctState int
	var trend string
	err := row.Scan(&currentNano, &n.Current.Value, &curState, &n.Current.PctChange.Value,
		&previousNano, &n.Previous.Value, &prevState, &n.Previous.PctChange.Value,
		&pctState, &n.PctChange.Value, &trend)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s: %w", role, err)
	}
	n.Current.Date = time.Unix(0, currentNano).UTC()
	n.Previous.Date = time.Unix(0, previousNano).UTC()
	n.Current.PctChange.State = models.RateState(curState)
	n.Previous.PctChange.State = models.RateState(prevState)
	n.PctChange.State = models.RateState(pctState)
	n.Trend = models.Trend(trend)
	return &n, nil
}

// RecordNotification marks a snapshot as sent.
func (s *Storage) RecordNotification(snapshotID string, condition models.Condition, sentAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO notifications (snapshot_id, condition, sent_at)
		VALUES (?,?,?)`, snapshotID, string(condition), sentAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// LastNotification returns the condition and time of the newest
// notification. ok is false when nothing has been sent yet.
func (s *Storage) LastNotification() (condition models.Condition, sentAt time.Time, ok bool, err error) {
	var cond string
	var sentAtNano int64
	err = s.db.QueryRow(`SELECT condition, sent_at FROM notifications ORDER BY sent_at DESC LIMIT 1`).
		Scan(&cond, &sentAtNano)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("failed to load notification: %w", err)
	}
	return models.Condition(cond), time.Unix(0, sentAtNano), true, nil
}

// RotateSnapshots keeps at most maxSnapshots newest snapshots by cycle_at.
// Cascading deletes remove their nodes.
func (s *Storage) RotateSnapshots() error {
	_, err := s.db.Exec(`
		DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY cycle_at DESC LIMIT ?
		)`, s.maxSnapshots)
	if err != nil {
		return fmt.Errorf("failed to rotate snapshots: %w", err)
	}
	if _, err := s.db.Exec(`
		DELETE FROM notifications WHERE snapshot_id NOT IN (SELECT id FROM snapshots)
		AND sent_at < (SELECT COALESCE(MAX(sent_at), 0) FROM notifications)`); err != nil {
		return fmt.Errorf("failed to rotate notifications: %w", err)
	}
	return nil
}

// asOf is the newest current date among the required nodes.
func asOf(snap *models.Snapshot) time.Time {
	var ref time.Time
	for _, role := range models.RequiredRoles {
		if n, ok := snap.Nodes[role]; ok && n.Current.Date.After(ref) {
			ref = n.Current.Date
		}
	}
	return ref
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
