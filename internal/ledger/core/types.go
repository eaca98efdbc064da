// Package core defines the submission ledger abstractions shared by the
// ledger backends.
package core

import (
	"context"
	"time"
)

// Driver identifies a ledger backend.
type Driver string

const (
	// DriverNone disables the ledger.
	DriverNone Driver = "none"
	// DriverMemory keeps entries in process memory (tests).
	DriverMemory Driver = "memory"
	// DriverSQLite stores entries in a local SQLite file.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres stores entries in Postgres.
	DriverPostgres Driver = "postgres"
)

// Entry is one accepted batch submission.
type Entry struct {
	JobID          string    `json:"job_id"`
	JobName        string    `json:"job_name"`
	Command        string    `json:"command"`
	ExperimentName string    `json:"experiment_name"`
	JobQueue       string    `json:"job_queue"`
	DependsOn      []string  `json:"depends_on,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Store records submissions. List returns the entries of one experiment in
// submission order.
type Store interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, experimentName string) ([]Entry, error)
	Close() error
	Driver() Driver
}
