// Package persistence stores replication results: CSV tables in a blob store
// and an optional SQLite database indexed by run.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/contagion/internal/engine"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// DB wraps a SQLite connection holding runs and their daily counts.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Replications write concurrently; SQLite takes one writer. Pragmas are
	// per connection, so the single connection is kept for the DB's lifetime.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.initPragmas(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pragmas: %w", err)
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initPragmas() error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.conn.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL,
		base_seed INTEGER NOT NULL,
		replications INTEGER NOT NULL,
		population INTEGER NOT NULL,
		grid_size INTEGER NOT NULL,
		days INTEGER NOT NULL,
		initial_infectious INTEGER NOT NULL,
		contact_radius INTEGER NOT NULL,
		latency_mean REAL NOT NULL,
		infectious_mean REAL NOT NULL,
		immunity_mean REAL NOT NULL,
		force_of_infection REAL NOT NULL,
		pressure TEXT NOT NULL,
		rng TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS replications (
		run_id TEXT NOT NULL REFERENCES runs(id),
		idx INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, idx)
	);

	CREATE TABLE IF NOT EXISTS daily_counts (
		run_id TEXT NOT NULL,
		replication INTEGER NOT NULL,
		day INTEGER NOT NULL,
		susceptible INTEGER NOT NULL,
		exposed INTEGER NOT NULL,
		infectious INTEGER NOT NULL,
		recovered INTEGER NOT NULL,
		PRIMARY KEY (run_id, replication, day)
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID                string         `db:"id" json:"id"`
	StartedAt         string         `db:"started_at" json:"started_at"`
	FinishedAt        sql.NullString `db:"finished_at" json:"-"`
	Status            string         `db:"status" json:"status"`
	BaseSeed          int64          `db:"base_seed" json:"base_seed"`
	Replications      int            `db:"replications" json:"replications"`
	Population        int            `db:"population" json:"population"`
	GridSize          int            `db:"grid_size" json:"grid_size"`
	Days              int            `db:"days" json:"days"`
	InitialInfectious int            `db:"initial_infectious" json:"initial_infectious"`
	ContactRadius     int            `db:"contact_radius" json:"contact_radius"`
	LatencyMean       float64        `db:"latency_mean" json:"latency_mean"`
	InfectiousMean    float64        `db:"infectious_mean" json:"infectious_mean"`
	ImmunityMean      float64        `db:"immunity_mean" json:"immunity_mean"`
	ForceOfInfection  float64        `db:"force_of_infection" json:"force_of_infection"`
	Pressure          string         `db:"pressure" json:"pressure"`
	RNG               string         `db:"rng" json:"rng"`
}

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run records the replications of one invocation. It is an engine.Sink.
type Run struct {
	db *DB
	ID string
}

// StartRun inserts a run row and returns a sink bound to it.
func (db *DB) StartRun(ctx context.Context, p engine.Params, baseSeed int64, replications int) (*Run, error) {
	id := uuid.NewString()
	_, err := db.conn.ExecContext(ctx, `INSERT INTO runs
		(id, started_at, status, base_seed, replications, population, grid_size, days,
		 initial_infectious, contact_radius, latency_mean, infectious_mean, immunity_mean,
		 force_of_infection, pressure, rng)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339), StatusRunning, baseSeed, replications,
		p.Population, p.GridSize, p.Days, p.InitialInfectious, p.ContactRadius,
		p.LatencyMean, p.InfectiousMean, p.ImmunityMean, p.ForceOfInfection,
		p.Pressure.String(), p.RNG.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	slog.Info("run recorded", "run_id", id)
	return &Run{db: db, ID: id}, nil
}

func (r *Run) Name() string { return "sqlite" }

// WriteReplication stores the replication and its daily counts in one
// transaction. Writing the same replication twice replaces it.
func (r *Run) WriteReplication(ctx context.Context, res engine.ReplicationResult) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM daily_counts WHERE run_id = ? AND replication = ?", r.ID, res.Index,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO replications (run_id, idx, seed, elapsed_ms) VALUES (?, ?, ?, ?)",
		r.ID, res.Index, res.Seed, res.Elapsed.Milliseconds(),
	); err != nil {
		return err
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO daily_counts
		(run_id, replication, day, susceptible, exposed, infectious, recovered)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range res.Days {
		if _, err := stmt.ExecContext(ctx, r.ID, res.Index, d.Day, d.Susceptible, d.Exposed, d.Infectious, d.Recovered); err != nil {
			return fmt.Errorf("insert day %d: %w", d.Day, err)
		}
	}

	return tx.Commit()
}

// Finish marks the run complete, or failed when runErr is non-nil.
func (r *Run) Finish(ctx context.Context, runErr error) error {
	status := StatusComplete
	if runErr != nil {
		status = StatusFailed
	}
	_, err := r.db.conn.ExecContext(ctx,
		"UPDATE runs SET status = ?, finished_at = ? WHERE id = ?",
		status, time.Now().UTC().Format(time.RFC3339), r.ID,
	)
	return err
}

// Runs lists recorded runs, newest first.
func (db *DB) Runs(ctx context.Context) ([]RunRecord, error) {
	var runs []RunRecord
	err := db.conn.SelectContext(ctx, &runs, "SELECT * FROM runs ORDER BY started_at DESC, id")
	return runs, err
}

// GetRun returns one run.
func (db *DB) GetRun(ctx context.Context, id string) (RunRecord, error) {
	var run RunRecord
	err := db.conn.GetContext(ctx, &run, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return run, err
}

// LoadDailyCounts returns the table of one replication (0-based index) in
// day order.
func (db *DB) LoadDailyCounts(ctx context.Context, runID string, index int) ([]engine.DailyCount, error) {
	var days []engine.DailyCount
	err := db.conn.SelectContext(ctx, &days,
		`SELECT day, susceptible, exposed, infectious, recovered FROM daily_counts
		 WHERE run_id = ? AND replication = ? ORDER BY day`,
		runID, index,
	)
	return days, err
}
