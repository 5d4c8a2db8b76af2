package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amlburn-test.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})
	return store, path
}

func TestOpenCreatesDBFileAndRunsMigrations(t *testing.T) {
	store, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected DB file at %q: %v", path, err)
	}

	for _, table := range []string{"_meta", "runs"} {
		var count int
		err := store.conn.QueryRow(`SELECT count(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("query sqlite_master error: %v", err)
		}
		if count != 1 {
			t.Fatalf("table %q not found", table)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amlburn-test.db")
	for i := 0; i < 2; i++ {
		store, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i+1, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close() #%d error = %v", i+1, err)
		}
	}
}

func TestInsertAndGet(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	rec := RunRecord{
		ID:         "run-1",
		Device:     "/dev/ttyUSB0",
		Image:      "/images/fw.img",
		Outcome:    "success",
		FinalState: "complete",
		Reason:     "kernel version observed",
		Lines:      412,
		Duration:   3*time.Minute + 250*time.Millisecond,
		StartedAt:  time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil for existing run")
	}
	if *got != rec {
		t.Fatalf("Get() = %+v, want %+v", *got, rec)
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestInsertRejectsEmptyID(t *testing.T) {
	store, _ := openTestStore(t)
	if err := store.Insert(context.Background(), RunRecord{}); err == nil {
		t.Fatal("Insert() accepted a record without an id")
	}
}

func TestListRecentOrdersNewestFirst(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		rec := RunRecord{
			ID:         id,
			Device:     "/dev/ttyUSB0",
			Image:      "fw.img",
			Outcome:    "failure",
			FinalState: "error",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert(%s) error = %v", id, err)
		}
	}

	got, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
		t.Fatalf("ListRecent() = %+v, want new then mid", got)
	}
}
