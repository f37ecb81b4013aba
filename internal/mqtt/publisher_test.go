package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lacrosse-alerts/internal/config"
	"lacrosse-alerts/internal/lacrosse"
	"lacrosse-alerts/internal/poller"
	"lacrosse-alerts/internal/sensors"
)

type doneToken struct{ err error }

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *doneToken) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	payload  string
}

// fakeClient records publishes instead of talking to a broker.
type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	publishErr   error
	published    []message
	disconnected int
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }
func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return &doneToken{}
}
func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.disconnected++
	f.mu.Unlock()
}
func (f *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return &doneToken{err: f.publishErr}
	}
	f.published = append(f.published, message{topic: topic, retained: retained, payload: string(payload.([]byte))})
	return &doneToken{}
}
func (f *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token { return &doneToken{} }
func (f *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &doneToken{}
}
func (f *fakeClient) Unsubscribe(...string) mqtt.Token         { return &doneToken{} }
func (f *fakeClient) AddRoute(string, mqtt.MessageHandler)     {}
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (f *fakeClient) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.published...)
}

func (f *fakeClient) last(topic string) (message, bool) {
	msgs := f.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].topic == topic {
			return msgs[i], true
		}
	}
	return message{}, false
}

func testConfig() config.Config {
	return config.Config{
		LaCrosseDeviceID:    "DEV1",
		MQTTBroker:          "localhost",
		MQTTPort:            1883,
		MQTTClientID:        "test",
		MQTTTopicPrefix:     "lacrosse",
		MQTTDiscoveryPrefix: "homeassistant",
	}
}

func snapshot(t *testing.T, obs string) lacrosse.Snapshot {
	t.Helper()
	s, err := lacrosse.ParseSnapshot("DEV1", "http://feed.test", []byte(`{"device0":{"obs":[`+obs+`]}}`), nil)
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v, want nil", err)
	}
	return s
}

const tx70 = `{"ambient_temp":22.0,"humidity":48,"lowbattery":"0","device_type":"TX70","probe_temp":"Wet","linkquality":90,"utctime":1700000000}`

func newTestPublisher(t *testing.T, snap lacrosse.Snapshot) (*Publisher, *fakeClient) {
	t.Helper()
	entities := sensors.Build(snap, "Garage")
	p := NewPublisher(testConfig(), entities, func() lacrosse.Snapshot { return snap }, slog.New(slog.DiscardHandler))
	fc := &fakeClient{connected: true}
	p.client = fc
	p.setConnected(true)
	return p, fc
}

func TestNewTopics(t *testing.T) {
	topics := NewTopics("lacrosse", "homeassistant", "DEV1")

	if topics.Availability != "lacrosse/DEV1/availability" {
		t.Errorf("Availability = %q", topics.Availability)
	}
	if topics.State != "lacrosse/DEV1/state" {
		t.Errorf("State = %q", topics.State)
	}
	if topics.Attributes != "lacrosse/DEV1/attributes" {
		t.Errorf("Attributes = %q", topics.Attributes)
	}

	e := sensors.Entity{Component: sensors.ComponentBinarySensor, UniqueID: "DEV1_water"}
	if got, want := topics.Discovery(e), "homeassistant/binary_sensor/DEV1_water/config"; got != want {
		t.Errorf("Discovery() = %q; want %q", got, want)
	}
}

func TestPublishDiscovery(t *testing.T) {
	snap := snapshot(t, tx70)
	p, fc := newTestPublisher(t, snap)

	if err := p.PublishDiscovery(snap); err != nil {
		t.Fatalf("PublishDiscovery() error = %v, want nil", err)
	}

	msgs := fc.messages()
	if len(msgs) != len(p.entities) {
		t.Fatalf("published %d documents; want %d", len(msgs), len(p.entities))
	}
	for _, m := range msgs {
		if !m.retained {
			t.Errorf("%s not retained", m.topic)
		}
	}

	m, ok := fc.last("homeassistant/binary_sensor/DEV1_water/config")
	if !ok {
		t.Fatal("water discovery document not published")
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(m.payload), &doc); err != nil {
		t.Fatalf("discovery payload: %v", err)
	}
	want := map[string]any{
		"name":                  "Garage Water",
		"unique_id":             "DEV1_water",
		"state_topic":           "lacrosse/DEV1/state",
		"value_template":        "{{ value_json.water }}",
		"availability_topic":    "lacrosse/DEV1/availability",
		"json_attributes_topic": "lacrosse/DEV1/attributes",
		"device_class":          "moisture",
		"payload_on":            "ON",
		"payload_off":           "OFF",
	}
	for k, v := range want {
		if doc[k] != v {
			t.Errorf("%s = %v; want %v", k, doc[k], v)
		}
	}
	device, _ := doc["device"].(map[string]any)
	if device["model"] != "TX70" || device["manufacturer"] != sensors.Manufacturer {
		t.Errorf("device = %v", device)
	}

	battery, ok := fc.last("homeassistant/sensor/DEV1_battery/config")
	if !ok {
		t.Fatal("battery discovery document not published")
	}
	var bdoc map[string]any
	_ = json.Unmarshal([]byte(battery.payload), &bdoc)
	if bdoc["icon"] != "mdi:battery" {
		t.Errorf("battery icon = %v; want mdi:battery", bdoc["icon"])
	}
	if _, has := bdoc["payload_on"]; has {
		t.Error("sensor document carries payload_on")
	}
}

func TestPublishState_Valid(t *testing.T) {
	snap := snapshot(t, tx70)
	p, fc := newTestPublisher(t, snap)

	if err := p.Publish(context.Background(), poller.Result{Snapshot: snap}); err != nil {
		t.Fatalf("Publish() error = %v, want nil", err)
	}

	state, ok := fc.last("lacrosse/DEV1/state")
	if !ok {
		t.Fatal("state not published")
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(state.payload), &doc); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if doc["valid"] != true || doc["water"] != "ON" || doc["battery"] != "ok" || doc["humidity"] != float64(48) {
		t.Errorf("state = %v", doc)
	}
	if doc["sensor_timestamp"] != "2023-11-14T22:13:20Z" {
		t.Errorf("sensor_timestamp = %v", doc["sensor_timestamp"])
	}

	attrs, ok := fc.last("lacrosse/DEV1/attributes")
	if !ok {
		t.Fatal("attributes not published")
	}
	if err := json.Unmarshal([]byte(attrs.payload), &doc); err != nil {
		t.Fatalf("attributes payload: %v", err)
	}
	if doc[lacrosse.AttrDeviceType] != "TX70" || doc[lacrosse.AttrWaterPresent] != true {
		t.Errorf("attributes = %v", doc)
	}

	avail, _ := fc.last("lacrosse/DEV1/availability")
	if avail.payload != payloadOnline {
		t.Errorf("availability = %q; want online", avail.payload)
	}
}

func TestPublishState_InvalidMarksOffline(t *testing.T) {
	snap := snapshot(t, tx70)
	p, fc := newTestPublisher(t, snap)

	invalid := lacrosse.NewClient("http://feed.test", "DEV1", nil).Snapshot()
	if err := p.PublishState(invalid); err != nil {
		t.Fatalf("PublishState() error = %v, want nil", err)
	}

	state, _ := fc.last("lacrosse/DEV1/state")
	var doc map[string]any
	if err := json.Unmarshal([]byte(state.payload), &doc); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if doc["valid"] != false {
		t.Errorf("valid = %v; want false", doc["valid"])
	}
	for _, e := range p.entities {
		if doc[e.Key] != nil {
			t.Errorf("%s = %v; want null", e.Key, doc[e.Key])
		}
	}
	avail, _ := fc.last("lacrosse/DEV1/availability")
	if avail.payload != payloadOffline {
		t.Errorf("availability = %q; want offline", avail.payload)
	}
}

func TestPublish_NotConnected(t *testing.T) {
	snap := snapshot(t, tx70)
	p, fc := newTestPublisher(t, snap)
	p.setConnected(false)

	if err := p.PublishState(snap); err == nil {
		t.Fatal("PublishState() error = nil; want not connected error")
	}
	if err := p.PublishDiscovery(snap); err == nil {
		t.Fatal("PublishDiscovery() error = nil; want not connected error")
	}
	if n := len(fc.messages()); n != 0 {
		t.Errorf("published %d messages; want 0", n)
	}
}

func TestPublish_BrokerError(t *testing.T) {
	snap := snapshot(t, tx70)
	p, fc := newTestPublisher(t, snap)
	fc.publishErr = errors.New("queue full")

	if err := p.PublishState(snap); err == nil {
		t.Fatal("PublishState() error = nil; want error")
	}
}

func TestAnnounce_PublishesDiscoveryThenState(t *testing.T) {
	snap := snapshot(t, tx70)
	p, fc := newTestPublisher(t, snap)

	p.announce()

	msgs := fc.messages()
	if len(msgs) != len(p.entities)+3 {
		t.Fatalf("published %d messages; want %d", len(msgs), len(p.entities)+3)
	}
	if msgs[len(msgs)-3].topic != "lacrosse/DEV1/state" {
		t.Errorf("state published out of order: %v", msgs[len(msgs)-3].topic)
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	p, fc := newTestPublisher(t, snapshot(t, tx70))

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v, want nil", err)
	}
	if fc.disconnected != 0 {
		t.Error("Connect disconnected a live client")
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	p, fc := newTestPublisher(t, snapshot(t, tx70))

	p.Disconnect()
	p.Disconnect()

	offline := 0
	for _, m := range fc.messages() {
		if m.topic == "lacrosse/DEV1/availability" && m.payload == payloadOffline {
			offline++
		}
	}
	if offline != 1 {
		t.Errorf("offline published %d times; want 1", offline)
	}
	if p.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
	if err := p.Connect(context.Background()); err == nil {
		t.Error("Connect() after Disconnect error = nil; want stopped")
	}
}
