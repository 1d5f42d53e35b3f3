package store

import (
	"database/sql"
	"net/url"
	"path/filepath"
	"testing"
)

func testRawDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	u := url.URL{Scheme: "file", Path: path}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func latestMigrationVersion() int {
	latest := 0
	for _, m := range migrations {
		if m.Version > latest {
			latest = m.Version
		}
	}
	return latest
}

func TestRunMigrationsFreshDB(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != latestMigrationVersion() {
		t.Fatalf("expected version %d, got %d", latestMigrationVersion(), version)
	}

	for _, table := range []string{"blobs", "blob_owners", "files", "file_blob_index", "named_locks", "deferred_deletions"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatalf("check %s: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("%s table not created", table)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != latestMigrationVersion() {
		t.Fatalf("expected version %d, got %d", latestMigrationVersion(), version)
	}
}

func TestDetectPreMigrationDB(t *testing.T) {
	db := testRawDB(t)

	pre, err := detectPreMigrationDB(db)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if pre {
		t.Fatal("empty DB should not be pre-migration")
	}

	// A blobs table created outside the migration framework.
	if _, err := db.Exec(`CREATE TABLE blobs (
		id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL,
		path TEXT,
		created_at TEXT NOT NULL
	)`); err != nil {
		t.Fatalf("create blobs: %v", err)
	}

	pre, err = detectPreMigrationDB(db)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !pre {
		t.Fatal("DB with blobs but no schema_migrations should be pre-migration")
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pre, err = detectPreMigrationDB(db)
	if err != nil {
		t.Fatalf("detect after migration: %v", err)
	}
	if pre {
		t.Fatal("after migration should not be pre-migration")
	}
}

func TestMigrationPlan(t *testing.T) {
	db := testRawDB(t)

	plan, err := MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.CurrentVersion != 0 {
		t.Fatalf("expected current 0, got %d", plan.CurrentVersion)
	}
	if plan.AvailableVersion != latestMigrationVersion() {
		t.Fatalf("expected available %d, got %d", latestMigrationVersion(), plan.AvailableVersion)
	}
	if len(plan.Pending) != len(migrations) {
		t.Fatalf("expected %d pending, got %d", len(migrations), len(plan.Pending))
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	plan, err = MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan after run: %v", err)
	}
	if len(plan.Pending) != 0 {
		t.Fatalf("expected no pending migrations, got %v", plan.Pending)
	}
}

func TestFileBlobIndexCascadesWithFile(t *testing.T) {
	db := testRawDB(t)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable fks: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	stmts := []string{
		`INSERT INTO blobs (id, checksum, size, path, created_at) VALUES ('bl-1', 'c1', 3, 'p', datetime('now'))`,
		`INSERT INTO files (id, name, type, created_at) VALUES ('fi-1', 'f', 't', datetime('now'))`,
		`INSERT INTO file_blob_index (file_id, blob_id, byte_offset) VALUES ('fi-1', 'bl-1', 0)`,
		`DELETE FROM files WHERE id = 'fi-1'`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM file_blob_index").Scan(&count); err != nil {
		t.Fatalf("count index rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected index rows to cascade, got %d", count)
	}
}
