// Package sqldb persists the submission ledger in SQLite or Postgres through
// database/sql.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"tenxpipeline/internal/ledger/core"
)

const (
	defaultSQLitePath = "tenx-ledger.db"
	defaultDSN        = "postgres://localhost/tenxpipeline?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

type dialect struct {
	driverName string
	driver     core.Driver
	ddl        string
	bind       func(n int) string
}

var (
	sqliteDialect = dialect{
		driverName: "sqlite",
		driver:     core.DriverSQLite,
		ddl: `CREATE TABLE IF NOT EXISTS submissions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			job_name TEXT NOT NULL,
			command TEXT NOT NULL,
			experiment_name TEXT NOT NULL,
			job_queue TEXT NOT NULL,
			depends_on TEXT NOT NULL,
			submitted_at TEXT NOT NULL
		)`,
		bind: func(int) string { return "?" },
	}
	postgresDialect = dialect{
		driverName: "pgx",
		driver:     core.DriverPostgres,
		ddl: `CREATE TABLE IF NOT EXISTS submissions (
			seq BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			job_name TEXT NOT NULL,
			command TEXT NOT NULL,
			experiment_name TEXT NOT NULL,
			job_queue TEXT NOT NULL,
			depends_on TEXT NOT NULL,
			submitted_at TEXT NOT NULL
		)`,
		bind: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

// Store is a database/sql backed ledger.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens (creating if needed) a SQLite ledger at path.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	return open(ctx, sqliteDialect, path)
}

// OpenPostgres connects to the Postgres ledger at dsn.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	return open(ctx, postgresDialect, dsn)
}

func open(ctx context.Context, d dialect, dsn string) (*Store, error) {
	openMu.Lock()
	db, err := sqlOpen(d.driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}
	if _, err := db.ExecContext(ctx, d.ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create submissions table: %w", err)
	}
	return &Store{db: db, dialect: d}, nil
}

// Driver returns the backend identifier.
func (s *Store) Driver() core.Driver { return s.dialect.driver }

// Record inserts one submission.
func (s *Store) Record(ctx context.Context, e core.Entry) error {
	deps, err := json.Marshal(nonNil(e.DependsOn))
	if err != nil {
		return fmt.Errorf("encode depends_on: %w", err)
	}
	at := e.SubmittedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO submissions (job_id, job_name, command, experiment_name, job_queue, depends_on, submitted_at)
		VALUES (%s)`, s.placeholders(7))
	if _, err := s.db.ExecContext(ctx, q, e.JobID, e.JobName, e.Command, e.ExperimentName, e.JobQueue, string(deps), at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert submission %s: %w", e.JobID, err)
	}
	return nil
}

// List returns the submissions of one experiment in insertion order.
func (s *Store) List(ctx context.Context, experimentName string) ([]core.Entry, error) {
	q := fmt.Sprintf(`SELECT job_id, job_name, command, experiment_name, job_queue, depends_on, submitted_at
		FROM submissions WHERE experiment_name = %s ORDER BY seq`, s.dialect.bind(1))
	rows, err := s.db.QueryContext(ctx, q, experimentName)
	if err != nil {
		return nil, fmt.Errorf("select submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Entry
	for rows.Next() {
		var (
			e        core.Entry
			deps, at string
		)
		if err := rows.Scan(&e.JobID, &e.JobName, &e.Command, &e.ExperimentName, &e.JobQueue, &deps, &at); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if err := json.Unmarshal([]byte(deps), &e.DependsOn); err != nil {
			return nil, fmt.Errorf("decode depends_on: %w", err)
		}
		if len(e.DependsOn) == 0 {
			e.DependsOn = nil
		}
		if e.SubmittedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("decode submitted_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.dialect.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
