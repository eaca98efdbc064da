package ledger

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenDriverSelectsBackend(t *testing.T) {
	ctx := context.Background()
	s, err := OpenDriver(ctx, "", "")
	if err != nil || s.Driver() != DriverNone {
		t.Fatalf("default driver: %v %v", err, s)
	}
	if err := s.Record(ctx, Entry{JobID: "x"}); err != nil {
		t.Fatalf("nop record: %v", err)
	}

	if s, err := OpenDriver(ctx, DriverMemory, ""); err != nil || s.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v", err)
	}

	s, err = OpenDriver(ctx, DriverSQLite, filepath.Join(t.TempDir(), "l.db"))
	if err != nil || s.Driver() != DriverSQLite {
		t.Fatalf("sqlite driver: %v", err)
	}
	_ = s.Close()

	if _, err := OpenDriver(ctx, "bogus", ""); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
