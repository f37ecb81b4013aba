// Package sensors maps a La Crosse device onto Home Assistant style entities.
package sensors

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"lacrosse-alerts/internal/lacrosse"
)

const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"

	Manufacturer = "LaCrosse Technology"

	iconBatteryLow     = "mdi:battery-alert"
	iconBatteryOK      = "mdi:battery"
	iconBatteryUnknown = "mdi:battery-unknown"
)

// Entity is one displayable reading of a device.
type Entity struct {
	Key         string `json:"key"`
	UniqueID    string `json:"unique_id"`
	Name        string `json:"name"`
	Component   string `json:"component"`
	DeviceClass string `json:"device_class,omitempty"`
	StateClass  string `json:"state_class,omitempty"`
	Unit        string `json:"unit_of_measurement,omitempty"`

	value func(lacrosse.Snapshot) any
}

// DeviceInfo groups a device's entities.
type DeviceInfo struct {
	Identifiers      []string `json:"identifiers"`
	Name             string   `json:"name"`
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
}

// Build returns the entity set for a device. Which optional entities exist
// depends on the device type seen in snap, so call it once after the first
// update.
func Build(snap lacrosse.Snapshot, deviceName string) []Entity {
	id := snap.DeviceID()
	entities := []Entity{
		newEntity(id, deviceName, "ambient temperature", ComponentSensor, "temperature", "measurement", "°C",
			func(s lacrosse.Snapshot) any { return deref(s.AmbientTemperature()) }),
		newEntity(id, deviceName, "humidity", ComponentSensor, "humidity", "measurement", "%",
			func(s lacrosse.Snapshot) any { return deref(s.Humidity()) }),
		newEntity(id, deviceName, "battery", ComponentSensor, "", "", "",
			func(s lacrosse.Snapshot) any {
				if s.LowBattery() {
					return "low"
				}
				return "ok"
			}),
		newEntity(id, deviceName, "link quality", ComponentSensor, "signal_strength", "measurement", "%",
			func(s lacrosse.Snapshot) any { return deref(s.LinkQuality()) }),
		newEntity(id, deviceName, "sensor timestamp", ComponentSensor, "timestamp", "", "",
			func(s lacrosse.Snapshot) any {
				t := s.MeasuredTime()
				if t == nil {
					return nil
				}
				return t.UTC().Format(time.RFC3339)
			}),
	}

	dt := snap.DeviceType()
	if dt != nil && *dt == lacrosse.DeviceTypeTX70 {
		entities = append(entities, newEntity(id, deviceName, "water", ComponentBinarySensor, "moisture", "", "",
			func(s lacrosse.Snapshot) any {
				wet := s.WaterPresent()
				if wet == nil {
					return nil
				}
				if *wet {
					return "ON"
				}
				return "OFF"
			}))
	}
	if dt != nil && *dt == lacrosse.DeviceTypeTX60 {
		entities = append(entities, newEntity(id, deviceName, "probe temperature", ComponentSensor, "temperature", "measurement", "°C",
			func(s lacrosse.Snapshot) any { return deref(s.ProbeTemperature()) }))
	}
	return entities
}

func newEntity(deviceID, deviceName, suffix, component, deviceClass, stateClass, unit string, value func(lacrosse.Snapshot) any) Entity {
	key := strings.ReplaceAll(suffix, " ", "_")
	return Entity{
		Key:         key,
		UniqueID:    deviceID + "_" + key,
		Name:        deviceName + " " + capitalize(suffix),
		Component:   component,
		DeviceClass: deviceClass,
		StateClass:  stateClass,
		Unit:        unit,
		value:       value,
	}
}

// State is the entity's value in snap, or nil when it is unavailable.
func (e Entity) State(snap lacrosse.Snapshot) any {
	if !snap.IsValid() || e.value == nil {
		return nil
	}
	return e.value(snap)
}

// Icon only varies for the battery entity.
func (e Entity) Icon(snap lacrosse.Snapshot) string {
	if e.Key != "battery" {
		return ""
	}
	if !snap.IsValid() {
		return iconBatteryUnknown
	}
	if snap.LowBattery() {
		return iconBatteryLow
	}
	return iconBatteryOK
}

func NewDeviceInfo(snap lacrosse.Snapshot) DeviceInfo {
	model := "Unknown"
	typeName := "Unknown"
	if dt := snap.DeviceType(); dt != nil {
		model = *dt
		typeName = *dt
	}
	return DeviceInfo{
		Identifiers:      []string{"lacrosse_alerts_" + snap.DeviceID()},
		Name:             "LaCrosse Sensor " + typeName,
		Manufacturer:     Manufacturer,
		Model:            model,
		ConfigurationURL: snap.APIURL(),
	}
}

// States returns every entity's state keyed by entity key.
func States(entities []Entity, snap lacrosse.Snapshot) map[string]any {
	out := make(map[string]any, len(entities))
	for _, e := range entities {
		out[e.Key] = e.State(snap)
	}
	return out
}

// Attributes is AllAttributes with the measurement time rendered as RFC3339
// so the map can be sent as JSON as is.
func Attributes(snap lacrosse.Snapshot) map[string]any {
	attrs := snap.AllAttributes()
	if t, ok := attrs[lacrosse.AttrMeasuredTime].(time.Time); ok {
		attrs[lacrosse.AttrMeasuredTime] = t.UTC().Format(time.RFC3339)
	}
	return attrs
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
