// Package ledger records accepted batch submissions so an experiment's job
// identifiers can be looked up after the submitting process has exited.
package ledger

import (
	"context"
	"fmt"

	"tenxpipeline/internal/infra/ledger/memory"
	"tenxpipeline/internal/infra/ledger/sqldb"
	"tenxpipeline/internal/ledger/core"
)

type (
	// Driver identifies a ledger backend.
	Driver = core.Driver
	// Entry is one recorded submission.
	Entry = core.Entry
	// Store is the ledger interface.
	Store = core.Store
)

const (
	DriverNone     = core.DriverNone
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
)

// OpenDriver opens the named backend: none (default), memory, sqlite with a
// file path DSN, or postgres.
func OpenDriver(ctx context.Context, driver Driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverNone:
		return Nop{}, nil
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return sqldb.OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return sqldb.OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown ledger driver %s", driver)
	}
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memory.New() }

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error           { return nil }
func (Nop) List(context.Context, string) ([]Entry, error) { return nil, nil }
func (Nop) Close() error                                  { return nil }
func (Nop) Driver() Driver                                { return DriverNone }
