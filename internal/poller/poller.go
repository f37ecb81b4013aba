// Package poller drives a telemetry client on a fixed interval and hands every
// result to the registered sinks. One attempt per tick; a failed poll waits
// for the next tick like any other.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lacrosse-alerts/internal/lacrosse"
)

// Updater is the part of lacrosse.Client the poller needs.
type Updater interface {
	Update(ctx context.Context) lacrosse.Snapshot
}

// Result is the outcome of one poll.
type Result struct {
	Snapshot lacrosse.Snapshot
	PolledAt time.Time
	Duration time.Duration
}

// Sink consumes poll results. Errors are logged and never stop polling.
type Sink interface {
	Publish(ctx context.Context, res Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res Result) error

func (f SinkFunc) Publish(ctx context.Context, res Result) error { return f(ctx, res) }

// Status summarises recent polling for health reporting.
type Status struct {
	LastPollAt          time.Time `json:"last_poll_at"`
	LastValid           bool      `json:"last_poll_valid"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Polls               int       `json:"polls"`
}

type namedSink struct {
	name string
	sink Sink
}

type Poller struct {
	updater  Updater
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	sinks  []namedSink
	status Status
}

func New(updater Updater, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		updater:  updater,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// AddSink registers a sink for every following poll.
func (p *Poller) AddSink(name string, sink Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, namedSink{name: name, sink: sink})
	p.mu.Unlock()
}

// PollOnce performs exactly one update and fans the result out.
func (p *Poller) PollOnce(ctx context.Context) Result {
	start := p.now()
	snap := p.updater.Update(ctx)
	res := Result{
		Snapshot: snap,
		PolledAt: start.UTC(),
		Duration: p.now().Sub(start),
	}

	p.mu.Lock()
	p.status.LastPollAt = res.PolledAt
	p.status.LastValid = snap.IsValid()
	p.status.Polls++
	if snap.IsValid() {
		p.status.ConsecutiveFailures = 0
	} else {
		p.status.ConsecutiveFailures++
	}
	sinks := append([]namedSink(nil), p.sinks...)
	p.mu.Unlock()

	p.logger.Info("poll finished",
		"device_id", snap.DeviceID(),
		"valid", snap.IsValid(),
		"duration_ms", res.Duration.Milliseconds(),
	)
	if snap.IsValid() {
		p.logger.Debug("attributes", "device_id", snap.DeviceID(), "attributes", snap.AllAttributes())
	}

	for _, s := range sinks {
		if err := s.sink.Publish(ctx, res); err != nil {
			p.logger.Warn("poll sink failed", "sink", s.name, "device_id", snap.DeviceID(), "error", err)
		}
	}
	return res
}

// Run polls on every tick until ctx is done. It does not poll on entry; the
// caller performs the initial poll.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}
