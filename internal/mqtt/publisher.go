package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lacrosse-alerts/internal/config"
	"lacrosse-alerts/internal/lacrosse"
	"lacrosse-alerts/internal/poller"
	"lacrosse-alerts/internal/sensors"
)

const (
	qos            = byte(1)
	publishTimeout = 5 * time.Second

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Publisher exposes one device to Home Assistant through MQTT discovery.
type Publisher struct {
	client mqtt.Client
	topics Topics
	logger *slog.Logger

	entities []sensors.Entity
	latest   func() lacrosse.Snapshot

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Topics are the per-device topic names.
type Topics struct {
	DiscoveryPrefix string
	Availability    string
	State           string
	Attributes      string
}

func NewTopics(topicPrefix, discoveryPrefix, deviceID string) Topics {
	base := fmt.Sprintf("%s/%s", topicPrefix, deviceID)
	return Topics{
		DiscoveryPrefix: discoveryPrefix,
		Availability:    base + "/availability",
		State:           base + "/state",
		Attributes:      base + "/attributes",
	}
}

// Discovery is the config topic for one entity.
func (t Topics) Discovery(e sensors.Entity) string {
	return fmt.Sprintf("%s/%s/%s/config", t.DiscoveryPrefix, e.Component, e.UniqueID)
}

// NewPublisher builds the paho client. latest supplies the snapshot that is
// announced whenever the broker connection is (re)established.
func NewPublisher(cfg config.Config, entities []sensors.Entity, latest func() lacrosse.Snapshot, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topics:   NewTopics(cfg.MQTTTopicPrefix, cfg.MQTTDiscoveryPrefix, cfg.LaCrosseDeviceID),
		logger:   logger,
		entities: entities,
		latest:   latest,
		stopCh:   make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	opts.SetCleanSession(true)
	opts.SetWill(p.topics.Availability, payloadOffline, qos, true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		go p.announce()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the initial broker connection, honouring ctx and
// Disconnect.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher stopped")
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			p.client.Disconnect(0)
			return ctx.Err()
		case <-p.stopCh:
			p.client.Disconnect(0)
			return fmt.Errorf("publisher stopped")
		default:
		}
	}
}

// announce publishes discovery documents and the latest state.
func (p *Publisher) announce() {
	snap := p.latest()
	if err := p.PublishDiscovery(snap); err != nil {
		p.logger.Error("failed to publish discovery", "error", err)
		return
	}
	if err := p.PublishState(snap); err != nil {
		p.logger.Error("failed to publish state", "error", err)
	}
}

type discoveryConfig struct {
	Name                string             `json:"name"`
	UniqueID            string             `json:"unique_id"`
	StateTopic          string             `json:"state_topic"`
	ValueTemplate       string             `json:"value_template"`
	AvailabilityTopic   string             `json:"availability_topic"`
	JSONAttributesTopic string             `json:"json_attributes_topic"`
	DeviceClass         string             `json:"device_class,omitempty"`
	StateClass          string             `json:"state_class,omitempty"`
	Unit                string             `json:"unit_of_measurement,omitempty"`
	Icon                string             `json:"icon,omitempty"`
	PayloadOn           string             `json:"payload_on,omitempty"`
	PayloadOff          string             `json:"payload_off,omitempty"`
	Device              sensors.DeviceInfo `json:"device"`
}

func (p *Publisher) discoveryConfig(e sensors.Entity, snap lacrosse.Snapshot, device sensors.DeviceInfo) discoveryConfig {
	dc := discoveryConfig{
		Name:                e.Name,
		UniqueID:            e.UniqueID,
		StateTopic:          p.topics.State,
		ValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", e.Key),
		AvailabilityTopic:   p.topics.Availability,
		JSONAttributesTopic: p.topics.Attributes,
		DeviceClass:         e.DeviceClass,
		StateClass:          e.StateClass,
		Unit:                e.Unit,
		Icon:                e.Icon(snap),
		Device:              device,
	}
	if e.Component == sensors.ComponentBinarySensor {
		dc.PayloadOn = "ON"
		dc.PayloadOff = "OFF"
	}
	return dc
}

// PublishDiscovery publishes one retained config document per entity.
func (p *Publisher) PublishDiscovery(snap lacrosse.Snapshot) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	device := sensors.NewDeviceInfo(snap)
	for _, e := range p.entities {
		data, err := json.Marshal(p.discoveryConfig(e, snap, device))
		if err != nil {
			return fmt.Errorf("marshal discovery for %s: %w", e.UniqueID, err)
		}
		if err := p.publish(p.topics.Discovery(e), true, data); err != nil {
			return err
		}
	}

	p.logger.Debug("published discovery", "entities", len(p.entities))
	return nil
}

// PublishState publishes entity states, attributes and availability. An
// invalid snapshot marks the device offline so every entity shows as
// unavailable.
func (p *Publisher) PublishState(snap lacrosse.Snapshot) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	state := sensors.States(p.entities, snap)
	state["valid"] = snap.IsValid()
	stateData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	attrData, err := json.Marshal(sensors.Attributes(snap))
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	if err := p.publish(p.topics.State, true, stateData); err != nil {
		return err
	}
	if err := p.publish(p.topics.Attributes, true, attrData); err != nil {
		return err
	}

	availability := payloadOffline
	if snap.IsValid() {
		availability = payloadOnline
	}
	if err := p.publish(p.topics.Availability, true, []byte(availability)); err != nil {
		return err
	}

	p.logger.Debug("published state", "topic", p.topics.State, "device_id", snap.DeviceID(), "valid", snap.IsValid())
	return nil
}

// Publish implements poller.Sink.
func (p *Publisher) Publish(_ context.Context, res poller.Result) error {
	return p.PublishState(res.Snapshot)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("failed to publish", "topic", topic, "error", err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect marks the device offline and closes the connection.
// Idempotent.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	if p.IsConnected() {
		if err := p.publish(p.topics.Availability, true, []byte(payloadOffline)); err != nil {
			p.logger.Warn("failed to publish offline availability", "error", err)
		}
	}

	if p.client != nil {
		p.client.Disconnect(250)
	}

	p.setConnected(false)
	p.logger.Info("mqtt disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

var _ poller.Sink = (*Publisher)(nil)
