// Package service connects polling to the device registry and builds the live
// view served by the controller.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"lacrosse-alerts/internal/lacrosse"
	"lacrosse-alerts/internal/modules/devices/repository"
	"lacrosse-alerts/internal/modules/devices/types"
	"lacrosse-alerts/internal/poller"
	"lacrosse-alerts/internal/sensors"
)

// Recorder stores every poll in the poll log. The device row is written on
// each poll so the log's foreign key holds even before the first valid
// reading; last_seen_at only moves on valid snapshots.
type Recorder struct {
	repo       repository.DevicesRepository
	deviceName string
	retain     int
	logger     *slog.Logger
}

func NewRecorder(repo repository.DevicesRepository, deviceName string, retain int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, deviceName: deviceName, retain: retain, logger: logger}
}

// Publish implements poller.Sink.
func (r *Recorder) Publish(ctx context.Context, res poller.Result) error {
	snap := res.Snapshot

	device := types.Device{
		ID:          snap.DeviceID(),
		Name:        r.deviceName,
		APIURL:      snap.APIURL(),
		FirstSeenAt: res.PolledAt,
	}
	if snap.IsValid() {
		device.DeviceType = snap.DeviceType()
		seen := res.PolledAt
		device.LastSeenAt = &seen
	}
	if err := r.repo.UpsertDevice(ctx, device); err != nil {
		return err
	}

	err := r.repo.InsertPoll(ctx, types.Poll{
		DeviceID:   snap.DeviceID(),
		PolledAt:   res.PolledAt,
		Valid:      snap.IsValid(),
		DurationMS: res.Duration.Milliseconds(),
	}, r.retain)
	if err != nil {
		return fmt.Errorf("record poll: %w", err)
	}

	r.logger.Debug("poll recorded", "device_id", snap.DeviceID(), "valid", snap.IsValid())
	return nil
}

// SnapshotSource is the part of lacrosse.Client the live view reads.
type SnapshotSource interface {
	DeviceID() string
	Snapshot() lacrosse.Snapshot
}

// Live serves the current snapshot of the polled device. The entity set is
// fixed by SetEntities once the device type is known.
type Live struct {
	source SnapshotSource

	mu       sync.RWMutex
	entities []sensors.Entity
}

func NewLive(source SnapshotSource) *Live {
	return &Live{source: source}
}

func (l *Live) SetEntities(entities []sensors.Entity) {
	l.mu.Lock()
	l.entities = entities
	l.mu.Unlock()
}

func (l *Live) Entities() []sensors.Entity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entities
}

func (l *Live) DeviceID() string { return l.source.DeviceID() }

func (l *Live) Current() types.Current {
	return NewCurrent(l.source.Snapshot(), l.Entities())
}

// NewCurrent renders snap through entities. Unavailable entities have a nil
// state.
func NewCurrent(snap lacrosse.Snapshot, entities []sensors.Entity) types.Current {
	states := make([]types.EntityState, 0, len(entities))
	for _, e := range entities {
		states = append(states, types.EntityState{
			Key:       e.Key,
			UniqueID:  e.UniqueID,
			Name:      e.Name,
			Component: e.Component,
			Unit:      e.Unit,
			Icon:      e.Icon(snap),
			State:     e.State(snap),
		})
	}
	return types.Current{
		DeviceID:   snap.DeviceID(),
		Valid:      snap.IsValid(),
		Attributes: sensors.Attributes(snap),
		Entities:   states,
	}
}

var _ poller.Sink = (*Recorder)(nil)
