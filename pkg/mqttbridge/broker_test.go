package mqttbridge

import (
	"strings"
	"testing"
)

func TestClientOptions(t *testing.T) {
	b := &pahoBroker{subs: make(map[string]func(string, []byte))}
	opts := clientOptions(BrokerConfig{
		URL:         "tcp://broker.local:1883",
		Username:    "ha",
		WillTopic:   "ecovent/status",
		WillPayload: "offline",
	}, b)

	if opts.Order {
		t.Error("OrderMatters is on")
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "broker.local:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if !strings.HasPrefix(opts.ClientID, "ecovent-") || len(opts.ClientID) != len("ecovent-")+12 {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("reconnect disabled")
	}
	if !opts.WillEnabled || !opts.WillRetained || opts.WillTopic != "ecovent/status" || string(opts.WillPayload) != "offline" {
		t.Errorf("will = %v %v %q %q", opts.WillEnabled, opts.WillRetained, opts.WillTopic, opts.WillPayload)
	}
	if opts.OnConnect == nil || opts.OnConnectionLost == nil {
		t.Error("connection handlers not set")
	}
}
