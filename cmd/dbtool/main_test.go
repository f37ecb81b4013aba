package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lacrosse-alerts/internal/config"
	"lacrosse-alerts/internal/db"
	"lacrosse-alerts/internal/modules/devices/repository"
	"lacrosse-alerts/internal/modules/devices/types"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		SQLiteDriver:       "sqlite3",
		SQLitePath:         filepath.Join(t.TempDir(), "tool.db"),
		SQLiteMaxOpenConns: 1,
	}
}

func TestRun_MigrateThenDevices(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	logger := slog.New(slog.DiscardHandler)

	var out bytes.Buffer
	if err := run(ctx, "migrate", cfg, logger, &out); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if out.String() != "migrations applied: 2\n" {
		t.Errorf("migrate output = %q", out.String())
	}

	out.Reset()
	if err := run(ctx, "migrate", cfg, logger, &out); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if out.String() != "migrations applied: 0\n" {
		t.Errorf("second migrate output = %q", out.String())
	}

	conn, err := db.Open(cfg, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seen := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	deviceType := "TX70"
	if err := repository.NewRepository(conn).UpsertDevice(ctx, types.Device{
		ID: "DEV1", Name: "Sump", APIURL: "http://feed.test", DeviceType: &deviceType, LastSeenAt: &seen,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_ = conn.Close()

	out.Reset()
	if err := run(ctx, "devices", cfg, logger, &out); err != nil {
		t.Fatalf("devices: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("devices output = %q", out.String())
	}
	for _, want := range []string{"DEV1", "Sump", "TX70", "2023-11-14T22:13:20Z"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q missing %q", lines[1], want)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run(context.Background(), "drop", testConfig(t), slog.New(slog.DiscardHandler), &bytes.Buffer{})
	if err == nil {
		t.Fatal("run(drop) error = nil; want error")
	}
}
