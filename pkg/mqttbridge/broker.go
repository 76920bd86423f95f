package mqttbridge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Broker is the part of an MQTT session the bridge uses.
type Broker interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Close()
}

// BrokerConfig describes the MQTT connection.
type BrokerConfig struct {
	URL      string // tcp://host:1883 or ssl://host:8883
	Username string
	Password string
	// WillTopic receives WillPayload when the session drops.
	WillTopic   string
	WillPayload string
}

const opTimeout = 10 * time.Second

type pahoBroker struct {
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]func(topic string, payload []byte)
}

// Dial connects to the broker. Subscriptions are restored after reconnects.
func Dial(cfg BrokerConfig) (Broker, error) {
	b := &pahoBroker{subs: make(map[string]func(string, []byte))}
	opts := clientOptions(cfg, b)

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		// Publishes are queued until the retry loop connects.
		log.Warn().Str("broker", cfg.URL).Msg("MQTT broker not reachable yet, retrying in background")
	} else if token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, token.Error())
	}
	return b, nil
}

// clientOptions builds the paho options for cfg. Handlers run
// concurrently so a command stuck on an unreachable fan does not stall
// the other subscriptions.
func clientOptions(cfg BrokerConfig, b *pahoBroker) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID("ecovent-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOrderMatters(false)
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, cfg.WillPayload, 1, true)
	}

	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Str("broker", cfg.URL).Msg("MQTT connected")
		b.resubscribeAll()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.URL).Msg("MQTT connection lost")
	}
	return opts
}

func (b *pahoBroker) Publish(topic string, retained bool, payload []byte) error {
	return wait(b.client.Publish(topic, 1, retained, payload), "publish "+topic)
}

// Subscribe records handler and subscribes now if connected. Stored
// subscriptions are replayed on every connect.
func (b *pahoBroker) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	b.mu.Lock()
	b.subs[topic] = handler
	b.mu.Unlock()

	if !b.client.IsConnectionOpen() {
		return nil
	}
	return wait(b.client.Subscribe(topic, 1, b.callback(handler)), "subscribe "+topic)
}

func wait(token mqtt.Token, what string) error {
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("%s: timed out", what)
	}
	return token.Error()
}

func (b *pahoBroker) callback(handler func(string, []byte)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

func (b *pahoBroker) resubscribeAll() {
	b.mu.Lock()
	subs := make(map[string]func(string, []byte), len(b.subs))
	for topic, h := range b.subs {
		subs[topic] = h
	}
	b.mu.Unlock()

	for topic, h := range subs {
		_ = b.client.Subscribe(topic, 1, b.callback(h)).Wait()
	}
}

func (b *pahoBroker) Close() {
	b.client.Disconnect(250)
}
