// Package mqttbridge mirrors registered fans into Home Assistant over MQTT.
// Each fan gets discovery configs, a retained JSON state topic and command
// topics that are routed back to the controller.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urmzd/ecovent/pkg/device"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultBaseTopic       = "ecovent"
	DefaultCommandTimeout  = 15 * time.Second

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Controller is what the bridge needs from the fan controller.
type Controller interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
	GetDeviceState(ctx context.Context, id string) (device.DeviceState, error)
	SetDeviceState(ctx context.Context, id string, state map[string]any) (device.DeviceState, error)
	RunAction(ctx context.Context, id, action string) (device.DeviceState, error)
	device.EventSubscriber
}

// Config holds topic layout settings.
type Config struct {
	DiscoveryPrefix string
	BaseTopic       string
	CommandTimeout  time.Duration
}

// Bridge publishes controller events to a broker and applies commands
// received from it.
type Bridge struct {
	broker     Broker
	controller Controller
	cfg        Config

	// announced tracks fans whose discovery configs carry sensors.
	// Only touched from Run.
	announced map[string]bool
}

// New creates a bridge. Zero Config fields take their defaults.
func New(broker Broker, controller Controller, cfg Config) *Bridge {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = DefaultBaseTopic
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	return &Bridge{
		broker:     broker,
		controller: controller,
		cfg:        cfg,
		announced:  make(map[string]bool),
	}
}

// StatusTopic is the bridge availability topic. Use it as the broker's will.
func StatusTopic(baseTopic string) string {
	if baseTopic == "" {
		baseTopic = DefaultBaseTopic
	}
	return baseTopic + "/status"
}

func (b *Bridge) statusTopic() string         { return StatusTopic(b.cfg.BaseTopic) }
func (b *Bridge) stateTopic(id string) string { return b.cfg.BaseTopic + "/" + id + "/state" }
func (b *Bridge) availabilityTopic(id string) string {
	return b.cfg.BaseTopic + "/" + id + "/availability"
}
func (b *Bridge) setTopic(id string) string    { return b.cfg.BaseTopic + "/" + id + "/set" }
func (b *Bridge) actionTopic(id string) string { return b.cfg.BaseTopic + "/" + id + "/action" }

func (b *Bridge) configTopic(component, objectID string) string {
	return b.cfg.DiscoveryPrefix + "/" + component + "/ecovent_" + objectID + "/config"
}

// Run announces every registered fan, then follows controller events until
// ctx is cancelled. The bridge is marked offline on return.
func (b *Bridge) Run(ctx context.Context) error {
	events := b.controller.Subscribe()
	defer b.controller.Unsubscribe(events)

	if err := b.broker.Subscribe(b.cfg.BaseTopic+"/+/set", b.handleSet); err != nil {
		return fmt.Errorf("subscribe set topics: %w", err)
	}
	if err := b.broker.Subscribe(b.cfg.BaseTopic+"/+/action", b.handleAction); err != nil {
		return fmt.Errorf("subscribe action topics: %w", err)
	}
	if err := b.broker.Publish(b.statusTopic(), true, []byte(payloadOnline)); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}

	devices, err := b.controller.ListDevices(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list fans for MQTT discovery")
	}
	for i := range devices {
		d := &devices[i]
		state, err := b.controller.GetDeviceState(ctx, d.ID)
		if err != nil {
			log.Debug().Err(err).Str("id", d.ID).Msg("No state yet for fan")
		}
		b.announce(d, state)
		b.publishAvailability(d.ID, d.Available)
		if state != nil {
			b.publishState(d.ID, state)
		}
	}

	log.Info().Str("base_topic", b.cfg.BaseTopic).Int("fans", len(devices)).Msg("MQTT bridge running")

	for {
		select {
		case <-ctx.Done():
			if err := b.broker.Publish(b.statusTopic(), true, []byte(payloadOffline)); err != nil {
				log.Warn().Err(err).Msg("Failed to publish offline status")
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.handleEvent(ctx, ev)
		}
	}
}

func (b *Bridge) handleEvent(ctx context.Context, ev device.Event) {
	if ev.Device == nil {
		return
	}
	id := ev.Device.ID

	switch ev.Type {
	case device.EventDeviceAdded, device.EventStateChanged:
		state := ev.State
		if state == nil {
			s, err := b.controller.GetDeviceState(ctx, id)
			if err == nil {
				state = s
			}
		}
		if !b.announced[id] {
			b.announce(ev.Device, state)
		}
		if state != nil {
			b.publishAvailability(id, true)
			b.publishState(id, state)
		}
	case device.EventDeviceUnavailable:
		b.publishAvailability(id, false)
	case device.EventDeviceRemoved:
		b.clear(id)
	}
}

// announce publishes discovery configs for d. Without state only the fan
// and buttons are announced; sensors follow with the first state.
func (b *Bridge) announce(d *device.Device, state device.DeviceState) {
	msgs, err := b.discoveryMessages(d, state)
	if err != nil {
		log.Error().Err(err).Str("id", d.ID).Msg("Failed to build MQTT discovery")
		return
	}
	for _, m := range msgs {
		if err := b.broker.Publish(m.Topic, true, m.Payload); err != nil {
			log.Warn().Err(err).Str("topic", m.Topic).Msg("Failed to publish discovery")
			return
		}
	}
	b.announced[d.ID] = len(state) > 0
	log.Debug().Str("id", d.ID).Int("configs", len(msgs)).Msg("Announced fan to Home Assistant")
}

func (b *Bridge) clear(id string) {
	for _, topic := range b.discoveryTopics(id) {
		if err := b.broker.Publish(topic, true, nil); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Failed to clear discovery")
		}
	}
	_ = b.broker.Publish(b.stateTopic(id), true, nil)
	_ = b.broker.Publish(b.availabilityTopic(id), true, nil)
	delete(b.announced, id)
}

func (b *Bridge) publishState(id string, state device.DeviceState) {
	payload, err := json.Marshal(state)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to encode fan state")
		return
	}
	if err := b.broker.Publish(b.stateTopic(id), true, payload); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Failed to publish fan state")
	}
}

func (b *Bridge) publishAvailability(id string, available bool) {
	payload := payloadOffline
	if available {
		payload = payloadOnline
	}
	if err := b.broker.Publish(b.availabilityTopic(id), true, []byte(payload)); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Failed to publish availability")
	}
}

// deviceFromTopic extracts the fan ID from base/<id>/<suffix>.
func (b *Bridge) deviceFromTopic(topic, suffix string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.cfg.BaseTopic+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/"+suffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func (b *Bridge) handleSet(topic string, payload []byte) {
	id, ok := b.deviceFromTopic(topic, "set")
	if !ok {
		return
	}
	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Ignoring malformed MQTT command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()
	if _, err := b.controller.SetDeviceState(ctx, id, state); err != nil {
		log.Warn().Err(err).Str("id", id).Interface("state", state).Msg("MQTT command failed")
		return
	}
	log.Debug().Str("id", id).Interface("state", state).Msg("Applied MQTT command")
}

func (b *Bridge) handleAction(topic string, payload []byte) {
	id, ok := b.deviceFromTopic(topic, "action")
	if !ok {
		return
	}
	action := strings.TrimSpace(string(payload))

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()
	if _, err := b.controller.RunAction(ctx, id, action); err != nil {
		log.Warn().Err(err).Str("id", id).Str("action", action).Msg("MQTT action failed")
		return
	}
	log.Debug().Str("id", id).Str("action", action).Msg("Ran MQTT action")
}
