package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id has no row in the ledger.
var ErrRunNotFound = errors.New("run not found")

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id           TEXT PRIMARY KEY,
		started_at       TEXT NOT NULL,
		finished_at      TEXT NOT NULL,
		input            TEXT NOT NULL,
		output           TEXT NOT NULL,
		pruning_value    REAL NOT NULL,
		otu_count        INTEGER NOT NULL,
		site_count       INTEGER NOT NULL,
		unresolved_count INTEGER NOT NULL,
		skipped_taxonomy INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS unresolved (
		run_id   TEXT NOT NULL REFERENCES runs(run_id),
		otu_id   TEXT NOT NULL,
		query    TEXT NOT NULL,
		reason   TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		lookup_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS unresolved_run ON unresolved(run_id);
`

// RunRecord is one processing run as kept in the ledger.
type RunRecord struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	Input           string
	Output          string
	PruningValue    float64
	OtuCount        int
	SiteCount       int
	UnresolvedCount int
	SkippedTaxonomy bool
}

// UnresolvedRecord is one OTU whose lookup failed. LookupID ties it to the
// lookup job that produced it.
type UnresolvedRecord struct {
	OTU      string
	Query    string
	Reason   string
	Attempts int
	LookupID string
}

// Ledger is an append-only SQLite record of runs. Nothing reads it back
// during processing.
type Ledger struct {
	db *sql.DB
}

func OpenLedger(ctx context.Context, path string) (*Ledger, error) {

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY on this connection pool.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordRun stores the run and its unresolved OTUs in one transaction.
func (l *Ledger) RecordRun(ctx context.Context, run RunRecord, unresolved []UnresolvedRecord) (err error) {

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, finished_at, input, output, pruning_value,
			otu_count, site_count, unresolved_count, skipped_taxonomy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Input, run.Output,
		run.PruningValue, run.OtuCount, run.SiteCount, run.UnresolvedCount, run.SkippedTaxonomy,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stm, err := tx.PrepareContext(ctx, `
		INSERT INTO unresolved (run_id, otu_id, query, reason, attempts, lookup_id)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare unresolved insert: %w", err)
	}
	defer stm.Close()

	for _, u := range unresolved {
		if _, err = stm.ExecContext(ctx, run.RunID, u.OTU, u.Query, u.Reason, u.Attempts, u.LookupID); err != nil {
			return fmt.Errorf("insert unresolved %s: %w", u.OTU, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

func (l *Ledger) Run(ctx context.Context, runID string) (*RunRecord, error) {

	var (
		r                 RunRecord
		started, finished string
	)

	err := l.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, input, output, pruning_value,
			otu_count, site_count, unresolved_count, skipped_taxonomy
		FROM runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &started, &finished, &r.Input, &r.Output, &r.PruningValue,
		&r.OtuCount, &r.SiteCount, &r.UnresolvedCount, &r.SkippedTaxonomy)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("run %s started_at: %w", runID, err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("run %s finished_at: %w", runID, err)
	}
	return &r, nil
}

// Unresolved lists the unresolved OTUs of a run in insertion order.
func (l *Ledger) Unresolved(ctx context.Context, runID string) ([]UnresolvedRecord, error) {

	rows, err := l.db.QueryContext(ctx, `
		SELECT otu_id, query, reason, attempts, lookup_id FROM unresolved
		WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]UnresolvedRecord, 0, 8)
	for rows.Next() {
		var u UnresolvedRecord
		if err := rows.Scan(&u.OTU, &u.Query, &u.Reason, &u.Attempts, &u.LookupID); err != nil {
			return nil, fmt.Errorf("scan unresolved row: %w", err)
		}
		records = append(records, u)
	}
	return records, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
