package mqttbridge

import (
	"encoding/json"
	"fmt"

	"github.com/urmzd/ecovent/pkg/device"
	"github.com/urmzd/ecovent/pkg/vento"
)

// haDevice is the device block shared by every discovery config of a fan.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type haAvailability struct {
	Topic string `json:"topic"`
}

// discoveryMessage is one retained Home Assistant discovery config.
type discoveryMessage struct {
	Topic   string
	Payload []byte
}

type sensorSpec struct {
	component   string
	key         string
	name        string
	deviceClass string
	stateClass  string
	unit        string
	template    string
	entityCat   string
}

var sensorSpecs = []sensorSpec{
	{component: "sensor", key: vento.KeyHumidity, name: "Humidity", deviceClass: "humidity", stateClass: "measurement", unit: "%"},
	{component: "sensor", key: vento.KeyFan1Speed, name: "Fan 1 speed", stateClass: "measurement", unit: "rpm"},
	{component: "sensor", key: vento.KeyFan2Speed, name: "Fan 2 speed", stateClass: "measurement", unit: "rpm"},
	{component: "sensor", key: vento.KeyBatteryVoltage, name: "Battery", deviceClass: "voltage", stateClass: "measurement", unit: "mV", entityCat: "diagnostic"},
	{component: "sensor", key: vento.KeyFilterTimer, name: "Filter timer", entityCat: "diagnostic"},
	{component: "sensor", key: vento.KeyMachineHours, name: "Operating time", entityCat: "diagnostic"},
	{component: "sensor", key: vento.KeyAlarmStatus, name: "Alarm", entityCat: "diagnostic"},
	{component: "binary_sensor", key: vento.KeyFilterReplacement, name: "Filter replacement", deviceClass: "problem",
		template: "{{ 'ON' if value_json.filter_replacement_status == 'on' else 'OFF' }}"},
}

type numberSpec struct {
	key  string
	name string
	min  int
	max  int
	unit string
}

var numberSpecs = []numberSpec{
	{key: vento.KeyHumidityThreshold, name: "Humidity threshold", min: 40, max: 80, unit: "%"},
	{key: vento.KeyAnalogVThreshold, name: "Analog voltage threshold", min: 5, max: 100, unit: "%"},
	{key: vento.KeyBoostTime, name: "Boost time", min: 0, max: 60, unit: "min"},
}

var switchSpecs = []struct {
	key  string
	name string
}{
	{vento.KeyHumiditySensorState, "Humidity sensor"},
	{vento.KeyRelaySensorState, "Relay sensor"},
	{vento.KeyAnalogVSensorState, "Analog voltage sensor"},
}

var buttonSpecs = []struct {
	action string
	name   string
}{
	{vento.ActionResetFilterTimer, "Reset filter timer"},
	{vento.ActionResetAlarms, "Reset alarms"},
}

// discoveryMessages builds the fan, sensor, number, switch and button
// configs for d. Entities whose key is missing from state are skipped.
func (b *Bridge) discoveryMessages(d *device.Device, state device.DeviceState) ([]discoveryMessage, error) {
	dev := haDevice{
		Identifiers:  []string{"ecovent_" + d.ID},
		Name:         d.Name,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		SWVersion:    d.Firmware,
	}
	if d.HardwareID != "" {
		dev.Identifiers = append(dev.Identifiers, d.HardwareID)
	}
	avail := []haAvailability{{Topic: b.statusTopic()}, {Topic: b.availabilityTopic(d.ID)}}
	stateTopic := b.stateTopic(d.ID)
	setTopic := b.setTopic(d.ID)

	fan := map[string]any{
		"name":                         nil,
		"unique_id":                    d.ID + "_fan",
		"object_id":                    "ecovent_" + d.ID,
		"device":                       dev,
		"availability":                 avail,
		"availability_mode":            "all",
		"state_topic":                  stateTopic,
		"state_value_template":         "{{ value_json.state }}",
		"command_topic":                setTopic,
		"command_template":             `{"state": "{{ value }}"}`,
		"payload_on":                   vento.StateOn,
		"payload_off":                  vento.StateOff,
		"percentage_state_topic":       stateTopic,
		"percentage_value_template":    "{{ value_json.percentage }}",
		"percentage_command_topic":     setTopic,
		"percentage_command_template":  `{"percentage": {{ value }}}`,
		"preset_mode_state_topic":      stateTopic,
		"preset_mode_value_template":   "{{ value_json.preset_mode }}",
		"preset_mode_command_topic":    setTopic,
		"preset_mode_command_template": `{"preset_mode": "{{ value }}"}`,
		"preset_modes":                 vento.PresetModes,
		"direction_state_topic":        stateTopic,
		"direction_value_template":     "{{ value_json.direction }}",
		"direction_command_topic":      setTopic,
		"direction_command_template":   `{"direction": "{{ value }}"}`,
		"oscillation_state_topic":      stateTopic,
		"oscillation_value_template":   "{{ 'true' if value_json.oscillating else 'false' }}",
		"oscillation_command_topic":    setTopic,
		"oscillation_command_template": `{"oscillating": {{ value }}}`,
		"payload_oscillation_on":       "true",
		"payload_oscillation_off":      "false",
	}

	var out []discoveryMessage
	add := func(component, objectID string, cfg map[string]any) error {
		payload, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode %s config: %w", objectID, err)
		}
		out = append(out, discoveryMessage{Topic: b.configTopic(component, objectID), Payload: payload})
		return nil
	}

	if err := add("fan", d.ID, fan); err != nil {
		return nil, err
	}

	for _, s := range sensorSpecs {
		if _, ok := state[s.key]; !ok {
			continue
		}
		tmpl := s.template
		if tmpl == "" {
			tmpl = "{{ value_json." + s.key + " }}"
		}
		cfg := map[string]any{
			"name":              s.name,
			"unique_id":         d.ID + "_" + s.key,
			"device":            dev,
			"availability":      avail,
			"availability_mode": "all",
			"state_topic":       stateTopic,
			"value_template":    tmpl,
		}
		setIf(cfg, "device_class", s.deviceClass)
		setIf(cfg, "state_class", s.stateClass)
		setIf(cfg, "unit_of_measurement", s.unit)
		setIf(cfg, "entity_category", s.entityCat)
		if err := add(s.component, d.ID+"_"+s.key, cfg); err != nil {
			return nil, err
		}
	}

	for _, n := range numberSpecs {
		if _, ok := state[n.key]; !ok {
			continue
		}
		cfg := map[string]any{
			"name":                n.name,
			"unique_id":           d.ID + "_" + n.key,
			"device":              dev,
			"availability":        avail,
			"availability_mode":   "all",
			"state_topic":         stateTopic,
			"value_template":      "{{ value_json." + n.key + " }}",
			"command_topic":       setTopic,
			"command_template":    `{"` + n.key + `": {{ value | int }}}`,
			"min":                 n.min,
			"max":                 n.max,
			"step":                1,
			"mode":                "box",
			"unit_of_measurement": n.unit,
			"entity_category":     "config",
		}
		if err := add("number", d.ID+"_"+n.key, cfg); err != nil {
			return nil, err
		}
	}

	for _, sw := range switchSpecs {
		if _, ok := state[sw.key]; !ok {
			continue
		}
		cfg := map[string]any{
			"name":              sw.name,
			"unique_id":         d.ID + "_" + sw.key,
			"device":            dev,
			"availability":      avail,
			"availability_mode": "all",
			"state_topic":       stateTopic,
			"value_template":    "{{ value_json." + sw.key + " }}",
			"state_on":          vento.StateOn,
			"state_off":         vento.StateOff,
			"command_topic":     setTopic,
			"payload_on":        `{"` + sw.key + `": "` + vento.StateOn + `"}`,
			"payload_off":       `{"` + sw.key + `": "` + vento.StateOff + `"}`,
			"entity_category":   "config",
		}
		if err := add("switch", d.ID+"_"+sw.key, cfg); err != nil {
			return nil, err
		}
	}

	for _, btn := range buttonSpecs {
		cfg := map[string]any{
			"name":              btn.name,
			"unique_id":         d.ID + "_" + btn.action,
			"device":            dev,
			"availability":      avail,
			"availability_mode": "all",
			"command_topic":     b.actionTopic(d.ID),
			"payload_press":     btn.action,
			"entity_category":   "config",
		}
		if err := add("button", d.ID+"_"+btn.action, cfg); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// discoveryTopics lists every config topic discoveryMessages may emit for id,
// so a removed fan can be cleared from Home Assistant.
func (b *Bridge) discoveryTopics(id string) []string {
	topics := []string{b.configTopic("fan", id)}
	for _, s := range sensorSpecs {
		topics = append(topics, b.configTopic(s.component, id+"_"+s.key))
	}
	for _, n := range numberSpecs {
		topics = append(topics, b.configTopic("number", id+"_"+n.key))
	}
	for _, sw := range switchSpecs {
		topics = append(topics, b.configTopic("switch", id+"_"+sw.key))
	}
	for _, btn := range buttonSpecs {
		topics = append(topics, b.configTopic("button", id+"_"+btn.action))
	}
	return topics
}

func setIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
