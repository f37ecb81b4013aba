package migrate

import (
	"context"
	"database/sql"
	"log/slog"
	"slices"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v, want nil", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestRun_EmbeddedSchema(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	applied, err := Run(ctx, db, discard())
	if err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if !slices.Equal(applied, []string{"0001", "0002"}) {
		t.Errorf("applied = %v; want [0001 0002]", applied)
	}

	for _, table := range []string{"devices", "polls"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	again, err := Run(ctx, db, discard())
	if err != nil {
		t.Fatalf("second Run() error = %v, want nil", err)
	}
	if len(again) != 0 {
		t.Errorf("second Run applied %v; want nothing", again)
	}
}

func TestRun_OrderAndSkipping(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"sql/0002_second.sql": {Data: []byte(`INSERT INTO a (id) VALUES (2);`)},
		"sql/0001_first.sql":  {Data: []byte(`CREATE TABLE a (id INTEGER); INSERT INTO a (id) VALUES (1);`)},
		"sql/readme.txt":      {Data: []byte(`not a migration`)},
		"sql/01_short.sql":    {Data: []byte(`garbage`)},
	}

	applied, err := run(context.Background(), db, fsys, discard())
	if err != nil {
		t.Fatalf("run() error = %v, want nil", err)
	}
	if !slices.Equal(applied, []string{"0001", "0002"}) {
		t.Errorf("applied = %v; want [0001 0002]", applied)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM a`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("rows = %d; want 2", n)
	}
}

func TestRun_FailedMigrationRollsBack(t *testing.T) {
	db := openMemory(t)
	fsys := fstest.MapFS{
		"sql/0001_ok.sql":     {Data: []byte(`CREATE TABLE a (id INTEGER);`)},
		"sql/0002_broken.sql": {Data: []byte(`INSERT INTO a (id) VALUES (1); INSERT INTO nope VALUES (1);`)},
	}

	applied, err := run(context.Background(), db, fsys, discard())
	if err == nil {
		t.Fatal("run() error = nil; want error")
	}
	if !slices.Equal(applied, []string{"0001"}) {
		t.Errorf("applied = %v; want [0001]", applied)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM a`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("rows = %d; want 0 after rollback", n)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = '0002'`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 0 {
		t.Error("broken migration recorded as applied")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		in          string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"0001_devices.sql", "0001", "devices", true},
		{"0012_add_index.sql", "0012", "add_index", true},
		{"1_devices.sql", "", "", false},
		{"0001_devices.txt", "", "", false},
		{"0001_.sql", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, n, ok := parseMigrationFilename(tt.in)
			if v != tt.wantVersion || n != tt.wantName || ok != tt.wantOK {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v; want %q, %q, %v", tt.in, v, n, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}
