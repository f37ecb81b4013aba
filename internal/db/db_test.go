package db

import (
	"path/filepath"
	"strings"
	"testing"

	"lacrosse-alerts/internal/config"
)

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		cfg        config.Config
		wantPrefix string
		wantSuffix string
	}{
		{
			name:       "explicit dsn wins",
			cfg:        config.Config{SQLiteDSN: "file::memory:?cache=shared", SQLitePath: "ignored.db"},
			wantPrefix: "file::memory:?cache=shared",
			wantSuffix: "cache=shared",
		},
		{
			name:       "plain path",
			cfg:        config.Config{SQLitePath: filepath.Join(dir, "data", "lacrosse.db")},
			wantPrefix: "file:" + filepath.Join(dir, "data", "lacrosse.db") + "?",
			wantSuffix: "_journal_mode=WAL",
		},
		{
			name:       "file uri with params",
			cfg:        config.Config{SQLitePath: "file:" + filepath.Join(dir, "x.db") + "?mode=rwc"},
			wantPrefix: "file:" + filepath.Join(dir, "x.db") + "?mode=rwc&",
			wantSuffix: "_journal_mode=WAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if err != nil {
				t.Fatalf("buildDSN() error = %v, want nil", err)
			}
			if !strings.HasPrefix(got, tt.wantPrefix) || !strings.HasSuffix(got, tt.wantSuffix) {
				t.Errorf("buildDSN() = %q; want prefix %q suffix %q", got, tt.wantPrefix, tt.wantSuffix)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	for _, logSQL := range []bool{false, true} {
		cfg := config.Config{
			SQLiteDriver:       "sqlite3",
			SQLitePath:         filepath.Join(t.TempDir(), "nested", "lacrosse.db"),
			SQLiteMaxOpenConns: 1,
			SQLiteMaxIdleConns: 1,
			SQLiteLogSQL:       logSQL,
		}
		db, err := Open(cfg, nil)
		if err != nil {
			t.Fatalf("Open(logSQL=%v) error = %v, want nil", logSQL, err)
		}
		if _, err := db.Exec(`CREATE TABLE t (id INTEGER)`); err != nil {
			t.Errorf("exec: %v", err)
		}
		if err := Close(db); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}
	if err := Close(nil); err != nil {
		t.Errorf("Close(nil) error = %v", err)
	}
}
