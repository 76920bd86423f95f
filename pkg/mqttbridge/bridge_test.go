package mqttbridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urmzd/ecovent/pkg/device"
	"github.com/urmzd/ecovent/pkg/vento"
)

type fakeBroker struct {
	mu       sync.Mutex
	retained map[string][]byte
	subs     map[string]func(string, []byte)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{retained: make(map[string][]byte), subs: make(map[string]func(string, []byte))}
}

func (f *fakeBroker) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retained[topic] = append([]byte(nil), payload...)
	return nil
}

func (f *fakeBroker) Subscribe(topic string, handler func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil
}

func (f *fakeBroker) Close() {}

func (f *fakeBroker) get(topic string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.retained[topic]
	return b, ok
}

// deliver routes a message to the first subscription whose filter matches.
func (f *fakeBroker) deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	var handler func(string, []byte)
	for filter, h := range f.subs {
		if topicMatches(filter, topic) {
			handler = h
			break
		}
	}
	f.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(topic, payload)
	return true
}

func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

type setCall struct {
	id    string
	state map[string]any
}

type fakeController struct {
	mu      sync.Mutex
	devices []device.Device
	states  map[string]device.DeviceState
	sets    []setCall
	actions []string
	events  chan device.Event
}

func newFakeController() *fakeController {
	return &fakeController{
		devices: []device.Device{{
			ID:           "0123456789abcdef",
			Name:         "Bedroom",
			Type:         device.DeviceTypeFan,
			Manufacturer: vento.Manufacturer,
			Model:        "Vento Expert A50-1/A85-1/A100-1 W V.2",
			HardwareID:   "0123456789ABCDEF",
			Firmware:     "0.7",
			Available:    true,
		}},
		states: map[string]device.DeviceState{
			"0123456789abcdef": {
				vento.KeyState:               vento.StateOn,
				vento.KeyHumidity:            52,
				vento.KeyFan1Speed:           800,
				vento.EntityPercentage:       45,
				vento.EntityPresetMode:       vento.SpeedManual,
				vento.EntityDirection:        vento.DirectionForward,
				vento.EntityOscillating:      true,
				vento.KeyAlarmStatus:         vento.AlarmNone,
				vento.KeyFilterReplacement:   vento.StateOff,
				vento.KeyHumidityThreshold:   60,
				vento.KeyHumiditySensorState: vento.StateOn,
			},
		},
		events: make(chan device.Event, 16),
	}
}

func (f *fakeController) ListDevices(context.Context) ([]device.Device, error) {
	return f.devices, nil
}

func (f *fakeController) GetDeviceState(_ context.Context, id string) (device.DeviceState, error) {
	s, ok := f.states[id]
	if !ok {
		return nil, device.ErrNotFound
	}
	return s, nil
}

func (f *fakeController) SetDeviceState(_ context.Context, id string, state map[string]any) (device.DeviceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, setCall{id: id, state: state})
	return f.states[id], nil
}

func (f *fakeController) RunAction(_ context.Context, id, action string) (device.DeviceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, id+":"+action)
	return f.states[id], nil
}

func (f *fakeController) Subscribe() chan device.Event  { return f.events }
func (f *fakeController) Unsubscribe(chan device.Event) {}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startBridge(t *testing.T) (*fakeBroker, *fakeController, func()) {
	t.Helper()
	broker := newFakeBroker()
	ctrl := newFakeController()
	b := New(broker, ctrl, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, "initial state", func() bool {
		_, ok := broker.get("ecovent/0123456789abcdef/state")
		return ok
	})

	stop := func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return")
		}
	}
	return broker, ctrl, stop
}

func TestRunAnnouncesRegisteredFans(t *testing.T) {
	broker, _, stop := startBridge(t)

	if b, _ := broker.get("ecovent/status"); string(b) != "online" {
		t.Errorf("status = %q, want online", b)
	}
	if b, _ := broker.get("ecovent/0123456789abcdef/availability"); string(b) != "online" {
		t.Errorf("availability = %q, want online", b)
	}

	raw, ok := broker.get("homeassistant/fan/ecovent_0123456789abcdef/config")
	if !ok {
		t.Fatal("fan discovery config not published")
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		t.Fatalf("decode fan config: %v", err)
	}
	if cfg["command_topic"] != "ecovent/0123456789abcdef/set" {
		t.Errorf("command_topic = %v", cfg["command_topic"])
	}
	if modes, _ := cfg["preset_modes"].([]any); len(modes) != len(vento.PresetModes) {
		t.Errorf("preset_modes = %v", cfg["preset_modes"])
	}
	dev, _ := cfg["device"].(map[string]any)
	if dev["manufacturer"] != vento.Manufacturer || dev["sw_version"] != "0.7" {
		t.Errorf("device = %v", dev)
	}

	if _, ok := broker.get("homeassistant/sensor/ecovent_0123456789abcdef_humidity/config"); !ok {
		t.Error("humidity sensor not announced")
	}
	if _, ok := broker.get("homeassistant/sensor/ecovent_0123456789abcdef_fan2_speed/config"); ok {
		t.Error("sensor announced for a key missing from state")
	}
	if _, ok := broker.get("homeassistant/button/ecovent_0123456789abcdef_reset_alarms/config"); !ok {
		t.Error("reset alarms button not announced")
	}

	var state map[string]any
	raw, _ = broker.get("ecovent/0123456789abcdef/state")
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state["percentage"] != float64(45) || state["state"] != "on" {
		t.Errorf("state = %v", state)
	}

	stop()
	if b, _ := broker.get("ecovent/status"); string(b) != "offline" {
		t.Errorf("status after stop = %q, want offline", b)
	}
}

func TestRunAnnouncesSettingsEntities(t *testing.T) {
	broker, ctrl, stop := startBridge(t)
	defer stop()

	raw, ok := broker.get("homeassistant/number/ecovent_0123456789abcdef_humidity_threshold/config")
	if !ok {
		t.Fatal("humidity threshold number not announced")
	}
	var number map[string]any
	if err := json.Unmarshal(raw, &number); err != nil {
		t.Fatalf("decode number config: %v", err)
	}
	if number["min"] != float64(40) || number["max"] != float64(80) || number["command_topic"] != "ecovent/0123456789abcdef/set" {
		t.Errorf("number config = %v", number)
	}
	if _, ok := broker.get("homeassistant/number/ecovent_0123456789abcdef_boost_time/config"); ok {
		t.Error("number announced for a key missing from state")
	}

	raw, ok = broker.get("homeassistant/switch/ecovent_0123456789abcdef_humidity_sensor_state/config")
	if !ok {
		t.Fatal("humidity sensor switch not announced")
	}
	var sw map[string]any
	if err := json.Unmarshal(raw, &sw); err != nil {
		t.Fatalf("decode switch config: %v", err)
	}

	// Home Assistant publishes the configured payloads verbatim.
	broker.deliver("ecovent/0123456789abcdef/set", []byte(sw["payload_off"].(string)))
	broker.deliver("ecovent/0123456789abcdef/set", []byte(`{"humidity_threshold": 65}`))

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.sets) != 2 {
		t.Fatalf("SetDeviceState calls = %d, want 2", len(ctrl.sets))
	}
	if got := ctrl.sets[0].state[vento.KeyHumiditySensorState]; got != vento.StateOff {
		t.Errorf("switch off sent %v", ctrl.sets[0].state)
	}
	if got := ctrl.sets[1].state[vento.KeyHumidityThreshold]; got != float64(65) {
		t.Errorf("threshold sent %v", ctrl.sets[1].state)
	}
}

func TestDiscoveryTopicsCoverEveryEntity(t *testing.T) {
	b := New(newFakeBroker(), newFakeController(), Config{})
	topics := make(map[string]bool)
	for _, topic := range b.discoveryTopics("fan1") {
		topics[topic] = true
	}

	d := device.Device{ID: "fan1", Name: "Fan"}
	state := device.DeviceState{}
	for _, s := range sensorSpecs {
		state[s.key] = 1
	}
	for _, n := range numberSpecs {
		state[n.key] = n.min
	}
	for _, sw := range switchSpecs {
		state[sw.key] = vento.StateOn
	}
	msgs, err := b.discoveryMessages(&d, state)
	if err != nil {
		t.Fatalf("discoveryMessages: %v", err)
	}
	for _, m := range msgs {
		if !topics[m.Topic] {
			t.Errorf("%s is announced but never cleared", m.Topic)
		}
	}
	if len(msgs) != len(topics) {
		t.Errorf("announced %d configs, clearable %d", len(msgs), len(topics))
	}
}

func TestCommandsRouteToController(t *testing.T) {
	broker, ctrl, stop := startBridge(t)
	defer stop()

	if !broker.deliver("ecovent/0123456789abcdef/set", []byte(`{"percentage": 40, "direction": "reverse"}`)) {
		t.Fatal("set topic not subscribed")
	}
	broker.deliver("ecovent/0123456789abcdef/set", []byte(`not json`))
	broker.deliver("ecovent/0123456789abcdef/action", []byte(" reset_filter_timer\n"))

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.sets) != 1 {
		t.Fatalf("SetDeviceState calls = %d, want 1", len(ctrl.sets))
	}
	got := ctrl.sets[0]
	if got.id != "0123456789abcdef" || got.state["percentage"] != float64(40) || got.state["direction"] != "reverse" {
		t.Errorf("SetDeviceState(%q, %v)", got.id, got.state)
	}
	if len(ctrl.actions) != 1 || ctrl.actions[0] != "0123456789abcdef:reset_filter_timer" {
		t.Errorf("actions = %v", ctrl.actions)
	}
}

func TestEventsUpdateTopics(t *testing.T) {
	broker, ctrl, stop := startBridge(t)
	defer stop()

	d := ctrl.devices[0]
	ctrl.events <- device.Event{Type: device.EventDeviceUnavailable, Device: &d, Error: "timeout"}
	waitFor(t, "offline availability", func() bool {
		b, _ := broker.get("ecovent/0123456789abcdef/availability")
		return string(b) == "offline"
	})

	ctrl.events <- device.Event{Type: device.EventStateChanged, Device: &d, State: device.DeviceState{"state": "off", "percentage": 0}}
	waitFor(t, "state update", func() bool {
		b, _ := broker.get("ecovent/0123456789abcdef/state")
		return strings.Contains(string(b), `"state":"off"`)
	})
	if b, _ := broker.get("ecovent/0123456789abcdef/availability"); string(b) != "online" {
		t.Errorf("availability = %q, want online", b)
	}

	ctrl.events <- device.Event{Type: device.EventDeviceRemoved, Device: &d}
	waitFor(t, "discovery cleared", func() bool {
		b, ok := broker.get("homeassistant/fan/ecovent_0123456789abcdef/config")
		return ok && len(b) == 0
	})
	if b, _ := broker.get("homeassistant/sensor/ecovent_0123456789abcdef_humidity/config"); len(b) != 0 {
		t.Errorf("humidity config = %q, want cleared", b)
	}
}

func TestDeviceFromTopic(t *testing.T) {
	b := New(newFakeBroker(), newFakeController(), Config{BaseTopic: "home/vent"})
	cases := map[string]string{
		"home/vent/abc/set":    "abc",
		"home/vent/abc/x/set":  "",
		"home/vent//set":       "",
		"other/abc/set":        "",
		"home/vent/abc/action": "",
	}
	for topic, want := range cases {
		got, ok := b.deviceFromTopic(topic, "set")
		if got != want || ok != (want != "") {
			t.Errorf("deviceFromTopic(%q) = %q, %v; want %q", topic, got, ok, want)
		}
	}
}
