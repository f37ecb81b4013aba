package lacrosse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"
)

const (
	DeviceTypeTX60 = "TX60"
	// DeviceTypeTX70 carries a moisture code in probe_temp instead of a temperature.
	DeviceTypeTX70 = "TX70"
)

// Labels used by AllAttributes.
const (
	AttrAmbientTemperature = "ambient temperature"
	AttrProbeTemperature   = "probe temperature"
	AttrHumidity           = "humidity"
	AttrLowBattery         = "low_battery"
	AttrWaterPresent       = "water_present"
	AttrLinkQuality        = "link_quality"
	AttrDeviceType         = "device_type"
	AttrMeasuredTime       = "measured_time"
)

var (
	ErrMissingDevice       = errors.New("missing 'device0' in response")
	ErrInvalidObservations = errors.New("missing or invalid 'obs' list")
)

var (
	minEpoch = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxEpoch = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// Snapshot is one immutable observation of a device. The zero value and any
// snapshot produced by a failed update are invalid and report every reading
// as absent.
type Snapshot struct {
	deviceID string
	apiURL   string
	fields   map[string]any
	valid    bool
	logger   *slog.Logger
}

// ParseSnapshot decodes a feed response body. Only the first entry of
// device0.obs is used.
func ParseSnapshot(deviceID, apiURL string, body []byte, logger *slog.Logger) (Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Snapshot{}, fmt.Errorf("decode response: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Snapshot{}, errors.New("decode response: trailing data after JSON value")
	}

	fields, err := firstObservation(raw)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		deviceID: deviceID,
		apiURL:   apiURL,
		fields:   fields,
		valid:    true,
		logger:   logger,
	}, nil
}

func firstObservation(raw any) (map[string]any, error) {
	root, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrMissingDevice
	}
	device, ok := root["device0"].(map[string]any)
	if !ok || len(device) == 0 {
		return nil, ErrMissingDevice
	}
	list, ok := device["obs"].([]any)
	if !ok || len(list) == 0 {
		return nil, ErrInvalidObservations
	}
	obs, ok := list[0].(map[string]any)
	if !ok || len(obs) == 0 {
		return nil, fmt.Errorf("%w: first entry is not a non-empty object", ErrInvalidObservations)
	}
	return obs, nil
}

func (s Snapshot) DeviceID() string { return s.deviceID }

func (s Snapshot) APIURL() string { return s.apiURL }

func (s Snapshot) IsValid() bool { return s.valid }

func (s Snapshot) AmbientTemperature() *float64 { return s.number("ambient_temp") }

func (s Snapshot) ProbeTemperature() *float64 { return s.number("probe_temp") }

func (s Snapshot) Humidity() *float64 { return s.number("humidity") }

// LowBattery is true only for the exact string "1".
func (s Snapshot) LowBattery() bool {
	v, ok := s.fields["lowbattery"].(string)
	return ok && v == "1"
}

// LinkQuality accepts JSON integers only.
func (s Snapshot) LinkQuality() *int {
	n, ok := s.fields["linkquality"].(json.Number)
	if !ok {
		return nil
	}
	i64, err := n.Int64()
	if err != nil || int64(int(i64)) != i64 {
		return nil
	}
	i := int(i64)
	return &i
}

func (s Snapshot) DeviceType() *string {
	v, ok := s.fields["device_type"].(string)
	if !ok {
		return nil
	}
	return &v
}

// WaterPresent reads the moisture code that TX70 sensors put in probe_temp.
// Any other device type has no moisture probe.
func (s Snapshot) WaterPresent() *bool {
	dt := s.DeviceType()
	if dt == nil || *dt != DeviceTypeTX70 {
		return nil
	}
	code, _ := s.fields["probe_temp"].(string)
	var wet bool
	switch code {
	case "Dry":
		wet = false
	case "Wet":
		wet = true
	default:
		// "N/C" means the probe is not connected.
		return nil
	}
	return &wet
}

// MeasuredTime converts utctime (Unix seconds) to a UTC instant.
func (s Snapshot) MeasuredTime() *time.Time {
	raw, ok := s.fields["utctime"].(json.Number)
	if !ok {
		if s.valid {
			s.log().Debug("utctime missing or not numeric", "device_id", s.deviceID, "utctime", s.fields["utctime"])
		}
		return nil
	}
	t, err := epochToTime(raw)
	if err != nil {
		s.log().Warn("invalid utctime value", "device_id", s.deviceID, "utctime", raw.String(), "error", err)
		return nil
	}
	return &t
}

// AllAttributes returns every derived reading under its display label.
// Absent readings map to nil.
func (s Snapshot) AllAttributes() map[string]any {
	return map[string]any{
		AttrAmbientTemperature: deref(s.AmbientTemperature()),
		AttrProbeTemperature:   deref(s.ProbeTemperature()),
		AttrHumidity:           deref(s.Humidity()),
		AttrLowBattery:         s.LowBattery(),
		AttrWaterPresent:       deref(s.WaterPresent()),
		AttrLinkQuality:        deref(s.LinkQuality()),
		AttrDeviceType:         deref(s.DeviceType()),
		AttrMeasuredTime:       deref(s.MeasuredTime()),
	}
}

func (s Snapshot) number(key string) *float64 {
	n, ok := s.fields[key].(json.Number)
	if !ok {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}

func (s Snapshot) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

func epochToTime(n json.Number) (time.Time, error) {
	if sec, err := n.Int64(); err == nil {
		if sec < minEpoch || sec > maxEpoch {
			return time.Time{}, fmt.Errorf("epoch %d out of range", sec)
		}
		return time.Unix(sec, 0).UTC(), nil
	}

	f, err := n.Float64()
	if err != nil {
		return time.Time{}, fmt.Errorf("parse epoch %q: %w", n.String(), err)
	}
	if math.IsNaN(f) || f < float64(minEpoch) || f >= float64(maxEpoch+1) {
		return time.Time{}, fmt.Errorf("epoch %s out of range", n.String())
	}
	sec, frac := math.Modf(f)
	usec := math.Round(frac * 1e6)
	return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)).UTC(), nil
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
