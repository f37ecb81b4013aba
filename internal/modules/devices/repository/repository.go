package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lacrosse-alerts/internal/modules/devices/types"
)

//go:embed sql/upsert-device.sql
var upsertDeviceSQL string

//go:embed sql/get-devices.sql
var getDevicesSQL string

//go:embed sql/get-device.sql
var getDeviceSQL string

//go:embed sql/insert-poll.sql
var insertPollSQL string

//go:embed sql/prune-polls.sql
var prunePollsSQL string

//go:embed sql/get-polls.sql
var getPollsSQL string

var ErrNotFound = errors.New("device not found")

// Fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type DevicesRepository interface {
	UpsertDevice(ctx context.Context, d types.Device) error
	GetDevices(ctx context.Context) ([]types.Device, error)
	GetDevice(ctx context.Context, id string) (types.Device, error)
	InsertPoll(ctx context.Context, p types.Poll, retain int) error
	GetPolls(ctx context.Context, deviceID string, limit int) ([]types.Poll, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) DevicesRepository {
	return &repositoryImpl{db: db}
}

// UpsertDevice inserts d or refreshes its name, URL and type. A nil
// LastSeenAt or DeviceType leaves the stored value untouched, and
// first_seen_at is only written on insert.
func (r *repositoryImpl) UpsertDevice(ctx context.Context, d types.Device) error {
	_, err := r.db.ExecContext(ctx, upsertDeviceSQL,
		d.ID, d.Name, nullString(d.DeviceType), d.APIURL,
		formatTime(d.FirstSeenAt), nullTime(d.LastSeenAt),
	)
	if err != nil {
		return fmt.Errorf("upsert device %q: %w", d.ID, err)
	}
	return nil
}

func (r *repositoryImpl) GetDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := r.db.QueryContext(ctx, getDevicesSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close devices rows", "error", err)
		}
	}()

	out := []types.Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) GetDevice(ctx context.Context, id string) (types.Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, getDeviceSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Device{}, ErrNotFound
	}
	return d, err
}

// InsertPoll appends p to the poll log and keeps only the newest retain
// entries of the device.
func (r *repositoryImpl) InsertPoll(ctx context.Context, p types.Poll, retain int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertPollSQL,
		p.DeviceID, formatTime(p.PolledAt), p.Valid, p.DurationMS,
	); err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	if retain > 0 {
		if _, err := tx.ExecContext(ctx, prunePollsSQL, p.DeviceID, p.DeviceID, retain); err != nil {
			return fmt.Errorf("prune polls: %w", err)
		}
	}
	return tx.Commit()
}

func (r *repositoryImpl) GetPolls(ctx context.Context, deviceID string, limit int) ([]types.Poll, error) {
	rows, err := r.db.QueryContext(ctx, getPollsSQL, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close polls rows", "error", err)
		}
	}()

	out := []types.Poll{}
	for rows.Next() {
		var (
			p  types.Poll
			ts string
		)
		if err := rows.Scan(&p.ID, &p.DeviceID, &ts, &p.Valid, &p.DurationMS); err != nil {
			return nil, err
		}
		if p.PolledAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (types.Device, error) {
	var (
		d          types.Device
		deviceType sql.NullString
		firstSeen  string
		lastSeen   sql.NullString
	)
	if err := s.Scan(&d.ID, &d.Name, &deviceType, &d.APIURL, &firstSeen, &lastSeen); err != nil {
		return types.Device{}, err
	}
	if deviceType.Valid {
		d.DeviceType = &deviceType.String
	}

	var err error
	if d.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return types.Device{}, err
	}
	if lastSeen.Valid {
		t, err := parseTime(lastSeen.String)
		if err != nil {
			return types.Device{}, err
		}
		d.LastSeenAt = &t
	}
	return d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
