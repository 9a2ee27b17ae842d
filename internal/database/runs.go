package database

import (
	"database/sql"
	"fmt"
)

// Run status values.
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusPartial = "partial"
)

// Run is the persisted record of one pipeline run.
type Run struct {
	RunID      string
	Query      *string
	StartedAt  *string
	FinishedAt *string
	Status     string
	Total      int
	Completed  int
	Failed     int
	Degraded   int
	Skipped    int
}

// ProviderUsage is the persisted per-provider accounting for one run.
type ProviderUsage struct {
	RunID        string
	Provider     string
	Calls        int
	Successes    int
	Failures     int
	Retries      int
	Fallbacks    int
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// InsertRun records the start of a run.
func (db *DB) InsertRun(runID, query string, total int) error {
	_, err := db.conn.Exec(
		"INSERT INTO runs (run_id, query, total) VALUES (?, ?, ?)",
		runID, query, total,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun records a run's final status and counters.
func (db *DB) FinishRun(runID, status string, completed, failed, degraded, skipped int) error {
	_, err := db.conn.Exec(
		`UPDATE runs SET status = ?, completed = ?, failed = ?, degraded = ?, skipped = ?,
		 finished_at = datetime('now') WHERE run_id = ?`,
		status, completed, failed, degraded, skipped, runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// GetRun returns one run by id, or nil if absent.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.conn.QueryRow(
		`SELECT run_id, query, started_at, finished_at, status, total, completed, failed, degraded, skipped
		 FROM runs WHERE run_id = ?`, runID,
	)
	var r Run
	err := row.Scan(&r.RunID, &r.Query, &r.StartedAt, &r.FinishedAt, &r.Status,
		&r.Total, &r.Completed, &r.Failed, &r.Degraded, &r.Skipped)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return &r, nil
}

// GetRecentRuns returns the most recent runs, newest first.
func (db *DB) GetRecentRuns(limit int) ([]Run, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, query, started_at, finished_at, status, total, completed, failed, degraded, skipped
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Query, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.Total, &r.Completed, &r.Failed, &r.Degraded, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveProviderUsage upserts per-provider usage counters for a run.
func (db *DB) SaveProviderUsage(u ProviderUsage) error {
	_, err := db.conn.Exec(
		`INSERT INTO provider_usage
		 (run_id, provider, calls, successes, failures, retries, fallbacks, input_tokens, output_tokens, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, provider) DO UPDATE SET
		 calls = excluded.calls, successes = excluded.successes, failures = excluded.failures,
		 retries = excluded.retries, fallbacks = excluded.fallbacks,
		 input_tokens = excluded.input_tokens, output_tokens = excluded.output_tokens, cost = excluded.cost`,
		u.RunID, u.Provider, u.Calls, u.Successes, u.Failures, u.Retries, u.Fallbacks,
		u.InputTokens, u.OutputTokens, u.Cost,
	)
	if err != nil {
		return fmt.Errorf("saving provider usage: %w", err)
	}
	return nil
}

// SaveBackendWin increments the win count for a conversion backend in a run.
func (db *DB) SaveBackendWin(runID, backend string) error {
	_, err := db.conn.Exec(
		`INSERT INTO backend_usage (run_id, backend, wins) VALUES (?, ?, 1)
		 ON CONFLICT(run_id, backend) DO UPDATE SET wins = wins + 1`,
		runID, backend,
	)
	if err != nil {
		return fmt.Errorf("saving backend win: %w", err)
	}
	return nil
}

// GetProviderUsage returns per-provider usage for a run.
func (db *DB) GetProviderUsage(runID string) ([]ProviderUsage, error) {
	rows, err := db.conn.Query(
		`SELECT run_id, provider, calls, successes, failures, retries, fallbacks, input_tokens, output_tokens, cost
		 FROM provider_usage WHERE run_id = ? ORDER BY provider`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying provider usage: %w", err)
	}
	defer rows.Close()

	var usages []ProviderUsage
	for rows.Next() {
		var u ProviderUsage
		if err := rows.Scan(&u.RunID, &u.Provider, &u.Calls, &u.Successes, &u.Failures,
			&u.Retries, &u.Fallbacks, &u.InputTokens, &u.OutputTokens, &u.Cost); err != nil {
			return nil, fmt.Errorf("scanning provider usage: %w", err)
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

// Stats summarizes database contents for the status command.
type Stats struct {
	KnownItems  int
	TotalRuns   int
	PartialRuns int
	TotalCost   float64
	TotalTokens int
}

// GetStats returns aggregate statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	var err error
	if s.KnownItems, err = db.CountDedupEntries(); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM runs").Scan(&s.TotalRuns); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}
	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM runs WHERE status = ?", RunStatusPartial,
	).Scan(&s.PartialRuns); err != nil {
		return nil, fmt.Errorf("counting partial runs: %w", err)
	}
	err = db.conn.QueryRow(
		"SELECT COALESCE(SUM(cost), 0), COALESCE(SUM(input_tokens + output_tokens), 0) FROM provider_usage",
	).Scan(&s.TotalCost, &s.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("summing usage: %w", err)
	}

	return s, nil
}
