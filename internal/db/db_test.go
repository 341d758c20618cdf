package db

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sensitivity.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := openTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

func TestDSN(t *testing.T) {
	got := DSN("/tmp/a.db")
	want := "/tmp/a.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=foreign_keys(ON)"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	if got := DSN("file:x.db?mode=rwc"); got[:len("file:x.db?mode=rwc&")] != "file:x.db?mode=rwc&" {
		t.Errorf("existing query not extended: %q", got)
	}
}

func TestOpen_MigratesToLatest(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != LatestVersion || dirty {
		t.Errorf("version=%d dirty=%v, want %d clean", version, dirty, LatestVersion)
	}

	for _, table := range []string{"building_records", "sensitivity_runs", "sensitivity_trials"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	// Re-running is a no-op.
	if err := db.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp: %v", err)
	}
}

func TestMigrateDownAndForce(t *testing.T) {
	db, err := OpenNoMigrate(filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("OpenNoMigrate: %v", err)
	}
	defer db.Close()

	if v, _, err := db.MigrateVersion(); err != nil || v != 0 {
		t.Fatalf("fresh db version=%d err=%v", v, err)
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	if v, _, _ := db.MigrateVersion(); v != 1 {
		t.Errorf("after down version=%d, want 1", v)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='sensitivity_runs'`).Scan(&n); err != nil || n != 0 {
		t.Errorf("sensitivity_runs should be dropped (n=%d err=%v)", n, err)
	}
	if err := db.MigrateForce(2); err != nil {
		t.Fatalf("MigrateForce: %v", err)
	}
	if v, dirty, _ := db.MigrateVersion(); v != 2 || dirty {
		t.Errorf("after force version=%d dirty=%v", v, dirty)
	}
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := RetryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err=%v calls=%d, want nil after 3 calls", err, calls)
	}

	calls = 0
	boom := errors.New("constraint failed")
	if err := RetryOnBusy(func() error { calls++; return boom }); !errors.Is(err, boom) || calls != 1 {
		t.Errorf("non-busy error should not retry: err=%v calls=%d", err, calls)
	}

	calls = 0
	if err := RetryOnBusy(func() error { calls++; return errors.New("SQLITE_BUSY") }); err == nil || calls != busyRetries+1 {
		t.Errorf("exhausted retries: err=%v calls=%d", err, calls)
	}
}

func TestIsBusy(t *testing.T) {
	if IsBusy(nil) {
		t.Error("nil is not busy")
	}
	if !IsBusy(errors.New("database table is locked")) {
		t.Error("table lock should count as busy")
	}
}
