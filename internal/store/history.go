package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"votewatch/internal/calibrate"
)

// History records every calibration cycle in SQLite so standings can be
// queried after the fact without replaying the CSV log.
type History struct {
	db *sql.DB
}

// CycleSummary is one completed poll cycle.
type CycleSummary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Total      int64     `json:"total"`
	Candidates int       `json:"candidates"`
}

func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	h := &History{db: db}
	if err := h.migrate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *History) Close() error { return h.db.Close() }

func (h *History) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
            id TEXT PRIMARY KEY,
            created_at TIMESTAMP,
            total INTEGER,
            candidates INTEGER
        );`,
		`CREATE TABLE IF NOT EXISTS standings (
            cycle_id TEXT,
            rank INTEGER,
            name TEXT,
            percent REAL,
            votes INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_standings_cycle ON standings(cycle_id);`,
	}
	for _, stmt := range stmts {
		if _, err := h.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordCycle inserts the cycle and its standings rows in one transaction.
func (h *History) RecordCycle(ctx context.Context, cycleID string, ts time.Time, total int64, results []calibrate.Result) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO cycles(id, created_at, total, candidates) VALUES(?,?,?,?)`,
		cycleID, ts, total, len(results)); err != nil {
		return err
	}
	for _, r := range results {
		if _, err := tx.ExecContext(ctx, `INSERT INTO standings(cycle_id, rank, name, percent, votes) VALUES(?,?,?,?,?)`,
			cycleID, r.Rank, r.Name, r.Percent, r.Votes); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentCycles lists the newest cycles first.
func (h *History) RecentCycles(ctx context.Context, limit int) ([]CycleSummary, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT id, created_at, total, candidates FROM cycles ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cycles []CycleSummary
	for rows.Next() {
		var c CycleSummary
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.Total, &c.Candidates); err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// LatestStandings returns the rows of the most recent cycle, rank ascending.
func (h *History) LatestStandings(ctx context.Context) ([]calibrate.Result, error) {
	row := h.db.QueryRowContext(ctx, `SELECT id FROM cycles ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	var cycleID string
	switch err := row.Scan(&cycleID); err {
	case nil:
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, err
	}
	return h.Standings(ctx, cycleID)
}

// Standings returns the rows for one cycle, rank ascending.
func (h *History) Standings(ctx context.Context, cycleID string) ([]calibrate.Result, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT rank, name, percent, votes FROM standings WHERE cycle_id=? ORDER BY rank ASC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []calibrate.Result
	for rows.Next() {
		var r calibrate.Result
		if err := rows.Scan(&r.Rank, &r.Name, &r.Percent, &r.Votes); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CandidateSeries returns the vote time series for one candidate, oldest first.
func (h *History) CandidateSeries(ctx context.Context, name string, limit int) ([]int64, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT s.votes FROM standings s JOIN cycles c ON c.id = s.cycle_id
        WHERE upper(s.name) = upper(?) ORDER BY c.created_at ASC LIMIT ?`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var series []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		series = append(series, v)
	}
	return series, rows.Err()
}

// Health returns an error if the DB is not reachable.
func (h *History) Health(ctx context.Context) error {
	row := h.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
