package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ventwise/dab-controller/internal/hvac"
)

// ErrNoSnapshot is returned until the bridge has received a fleet state.
var ErrNoSnapshot = errors.New("no device snapshot received yet")

// MQTTOptions configures the bridge.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Timeout     time.Duration
}

// #region topics
// Topics lays out the bridge's topic tree under one prefix.
type Topics struct{ Prefix string }

// State carries the retained full fleet snapshot.
func (t Topics) State() string { return t.Prefix + "/state" }

// ThermostatEvents matches per-thermostat change notifications.
func (t Topics) ThermostatEvents() string { return t.Prefix + "/thermostat/+/state" }

// VentSet is where aperture commands for one vent go.
func (t Topics) VentSet(ventID string) string { return t.Prefix + "/vent/" + ventID + "/set" }

// RoomActiveSet is where a room's active flag is commanded.
func (t Topics) RoomActiveSet(roomID string) string {
	return t.Prefix + "/room/" + roomID + "/active/set"
}

// RoomSetpointSet is where a room's setpoint is commanded.
func (t Topics) RoomSetpointSet(roomID string) string {
	return t.Prefix + "/room/" + roomID + "/setpoint/set"
}

// StructureModeSet is where the structure mode is commanded.
func (t Topics) StructureModeSet() string { return t.Prefix + "/structure/mode/set" }

// #endregion topics

// #region payloads
type aperturePayload struct {
	Aperture int `json:"aperture"`
}

type activePayload struct {
	Active bool `json:"active"`
}

type setpointPayload struct {
	TemperatureC float64    `json:"temperature_c"`
	HoldUntil    *time.Time `json:"hold_until,omitempty"`
}

type modePayload struct {
	Mode string `json:"mode"`
}

// #endregion payloads

// #region bridge
// MQTTBridge is a device adapter speaking JSON over MQTT. The fleet state is
// the latest retained message on the state topic; commands are published and
// confirmed by the broker, not by the device.
type MQTTBridge struct {
	client  mqtt.Client
	topics  Topics
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	latest *hvac.Snapshot

	events chan hvac.Thermostat
}

// NewMQTTBridge connects to the broker and subscribes to state and
// thermostat topics.
func NewMQTTBridge(opts MQTTOptions, logger *slog.Logger) (*MQTTBridge, error) {
	b := newBridge(opts, logger)
	co := mqtt.NewClientOptions().AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetAutoReconnect(true)
	co.SetOnConnectHandler(func(c mqtt.Client) {
		// Subscriptions are lost on reconnect with a clean session.
		if err := b.subscribe(c); err != nil {
			b.logger.Error("resubscribe failed", "err", err)
		}
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("connection lost", "err", err)
	})

	b.client = mqtt.NewClient(co)
	token := b.client.Connect()
	if !token.WaitTimeout(b.timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out after %s", opts.Broker, b.timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}
	return b, nil
}

func newBridge(opts MQTTOptions, logger *slog.Logger) *MQTTBridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MQTTBridge{
		topics:  Topics{Prefix: strings.TrimSuffix(opts.TopicPrefix, "/")},
		timeout: opts.Timeout,
		logger:  logger.With("component", "mqtt"),
		events:  make(chan hvac.Thermostat, 32),
	}
	if b.timeout <= 0 {
		b.timeout = 10 * time.Second
	}
	return b
}

func (b *MQTTBridge) subscribe(c mqtt.Client) error {
	filters := map[string]byte{
		b.topics.State():            1,
		b.topics.ThermostatEvents(): 1,
	}
	token := c.SubscribeMultiple(filters, b.handle)
	if !token.WaitTimeout(b.timeout) {
		return errors.New("subscribe timed out")
	}
	return token.Error()
}

func (b *MQTTBridge) handle(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	switch {
	case topic == b.topics.State():
		var snap hvac.Snapshot
		if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
			b.logger.Warn("bad state payload", "err", err)
			return
		}
		if snap.TakenAt.IsZero() {
			snap.TakenAt = time.Now()
		}
		b.mu.Lock()
		b.latest = &snap
		b.mu.Unlock()
	case strings.HasPrefix(topic, b.topics.Prefix+"/thermostat/"):
		var t hvac.Thermostat
		if err := json.Unmarshal(msg.Payload(), &t); err != nil {
			b.logger.Warn("bad thermostat payload", "topic", topic, "err", err)
			return
		}
		if t.ID == "" {
			t.ID = strings.TrimSuffix(strings.TrimPrefix(topic, b.topics.Prefix+"/thermostat/"), "/state")
		}
		b.mu.Lock()
		if b.latest != nil && b.latest.Thermostats != nil {
			b.latest.Thermostats[t.ID] = t
		}
		b.mu.Unlock()
		select {
		case b.events <- t:
		default:
			b.logger.Warn("thermostat event dropped", "thermostat", t.ID)
		}
	}
}

// Events delivers thermostat change notifications.
func (b *MQTTBridge) Events() <-chan hvac.Thermostat { return b.events }

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
}

// #endregion bridge

// #region adapter
// Snapshot returns the latest fleet state received.
func (b *MQTTBridge) Snapshot(ctx context.Context) (hvac.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return hvac.Snapshot{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return hvac.Snapshot{}, ErrNoSnapshot
	}
	return b.latest.Clone(), nil
}

// SetVentAperture publishes an aperture command.
func (b *MQTTBridge) SetVentAperture(ctx context.Context, ventID string, percent int) error {
	return b.publish(ctx, b.topics.VentSet(ventID), aperturePayload{Aperture: percent})
}

// SetRoomActive publishes a room active command.
func (b *MQTTBridge) SetRoomActive(ctx context.Context, roomID string, active bool) error {
	return b.publish(ctx, b.topics.RoomActiveSet(roomID), activePayload{Active: active})
}

// SetThermostatSetpoint publishes a room setpoint command.
func (b *MQTTBridge) SetThermostatSetpoint(ctx context.Context, roomID string, tempC float64, holdUntil *time.Time) error {
	return b.publish(ctx, b.topics.RoomSetpointSet(roomID), setpointPayload{TemperatureC: tempC, HoldUntil: holdUntil})
}

// SetStructureMode publishes a structure mode command.
func (b *MQTTBridge) SetStructureMode(ctx context.Context, mode string) error {
	return b.publish(ctx, b.topics.StructureModeSet(), modePayload{Mode: mode})
}

func (b *MQTTBridge) publish(ctx context.Context, topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	token := b.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

// #endregion adapter
