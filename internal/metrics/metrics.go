// Package metrics exposes poll outcomes and the current readings as
// Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lacrosse-alerts/internal/poller"
)

const namespace = "lacrosse"

type Metrics struct {
	registry *prometheus.Registry

	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram

	valid        *prometheus.GaugeVec
	ambient      *prometheus.GaugeVec
	probe        *prometheus.GaugeVec
	humidity     *prometheus.GaugeVec
	linkQuality  *prometheus.GaugeVec
	lowBattery   *prometheus.GaugeVec
	waterPresent *prometheus.GaugeVec
	measuredAt   *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Telemetry polls by outcome.",
		}, []string{"device_id", "outcome"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of telemetry polls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		valid:        gauge("snapshot_valid", "1 when the last poll produced a usable snapshot."),
		ambient:      gauge("ambient_temperature_celsius", "Ambient temperature."),
		probe:        gauge("probe_temperature_celsius", "Probe temperature."),
		humidity:     gauge("humidity_percent", "Relative humidity."),
		linkQuality:  gauge("link_quality_percent", "Radio link quality."),
		lowBattery:   gauge("low_battery", "1 when the sensor reports a low battery."),
		waterPresent: gauge("water_present", "1 when the moisture probe is wet, 0 when dry."),
		measuredAt:   gauge("measured_timestamp_seconds", "Unix time of the last observation."),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls, m.pollDuration,
		m.valid, m.ambient, m.probe, m.humidity, m.linkQuality, m.lowBattery, m.waterPresent, m.measuredAt,
	)
	return m
}

func gauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{"device_id"})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Publish implements poller.Sink. Readings that are absent in the snapshot
// have their series removed instead of being left at a stale value.
func (m *Metrics) Publish(_ context.Context, res poller.Result) error {
	snap := res.Snapshot
	id := snap.DeviceID()

	outcome := "invalid"
	if snap.IsValid() {
		outcome = "valid"
	}
	m.polls.WithLabelValues(id, outcome).Inc()
	m.pollDuration.Observe(res.Duration.Seconds())
	m.valid.WithLabelValues(id).Set(boolValue(snap.IsValid()))

	setOrDelete(m.ambient, id, snap.AmbientTemperature())
	setOrDelete(m.probe, id, snap.ProbeTemperature())
	setOrDelete(m.humidity, id, snap.Humidity())

	if lq := snap.LinkQuality(); lq != nil {
		m.linkQuality.WithLabelValues(id).Set(float64(*lq))
	} else {
		m.linkQuality.DeleteLabelValues(id)
	}

	if snap.IsValid() {
		m.lowBattery.WithLabelValues(id).Set(boolValue(snap.LowBattery()))
	} else {
		m.lowBattery.DeleteLabelValues(id)
	}

	if wet := snap.WaterPresent(); wet != nil {
		m.waterPresent.WithLabelValues(id).Set(boolValue(*wet))
	} else {
		m.waterPresent.DeleteLabelValues(id)
	}

	if t := snap.MeasuredTime(); t != nil {
		m.measuredAt.WithLabelValues(id).Set(float64(t.Unix()) + float64(t.Nanosecond())/1e9)
	} else {
		m.measuredAt.DeleteLabelValues(id)
	}
	return nil
}

func setOrDelete(g *prometheus.GaugeVec, id string, v *float64) {
	if v == nil {
		g.DeleteLabelValues(id)
		return
	}
	g.WithLabelValues(id).Set(*v)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ poller.Sink = (*Metrics)(nil)
