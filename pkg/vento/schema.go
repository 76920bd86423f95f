package vento

import (
	"encoding/json"
	"sort"
)

// StateSchema returns the JSON Schema for state payloads accepted by
// Controller.SetDeviceState: every writable parameter plus the fan entity
// keys.
func StateSchema() json.RawMessage {
	enum := func(values map[byte]string) map[string]any {
		return map[string]any{"type": "string", "enum": enumNames(values)}
	}
	integer := func(lo, hi int) map[string]any {
		return map[string]any{"type": "integer", "minimum": lo, "maximum": hi}
	}
	presets := append([]string(nil), PresetModes...)
	sort.Strings(presets)

	props := map[string]any{
		KeyState:               enum(stateValues),
		KeySpeed:               enum(speedValues),
		KeyManSpeed:            integer(0, 255),
		KeyManSpeedPercent:     integer(0, 100),
		KeyAirflow:             enum(airflowValues),
		KeyHumidityThreshold:   integer(40, 80),
		KeyAnalogVThreshold:    integer(5, 100),
		KeyBoostTime:           integer(0, 60),
		KeyTimerMode:           enum(timerValues),
		KeyHumiditySensorState: enum(onOffValues),
		KeyRelaySensorState:    enum(onOffValues),
		KeyAnalogVSensorState:  enum(onOffValues),
		KeyFilterTimerReset:    map[string]any{},
		KeyResetAlarms:         map[string]any{},

		EntityPresetMode:  map[string]any{"type": "string", "enum": presets},
		EntityPercentage:  integer(0, 100),
		EntityDirection:   map[string]any{"type": "string", "enum": []string{DirectionForward, DirectionReverse}},
		EntityOscillating: map[string]any{"type": "boolean"},
	}

	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
		"minProperties":        1,
	}
	b, _ := json.Marshal(doc)
	return b
}
