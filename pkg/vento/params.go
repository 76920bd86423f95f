package vento

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Parameter numbers. The high byte is the page selected with the
// page-change command; the low byte is sent inline.
const (
	paramState               uint16 = 0x0001
	paramSpeed               uint16 = 0x0002
	paramBoostStatus         uint16 = 0x0006
	paramTimerMode           uint16 = 0x0007
	paramTimerCounter        uint16 = 0x000B
	paramHumiditySensorState uint16 = 0x000F
	paramRelaySensorState    uint16 = 0x0014
	paramAnalogVSensorState  uint16 = 0x0016
	paramHumidityThreshold   uint16 = 0x0019
	paramBatteryVoltage      uint16 = 0x0024
	paramHumidity            uint16 = 0x0025
	paramAnalogV             uint16 = 0x002D
	paramRelayState          uint16 = 0x0032
	paramManSpeed            uint16 = 0x0044
	paramFan1Speed           uint16 = 0x004A
	paramFan2Speed           uint16 = 0x004B
	paramFilterTimer         uint16 = 0x0064
	paramFilterTimerReset    uint16 = 0x0065
	paramBoostTime           uint16 = 0x0066
	paramDeviceSearch        uint16 = 0x007C
	paramMachineHours        uint16 = 0x007E
	paramResetAlarms         uint16 = 0x0080
	paramAlarmStatus         uint16 = 0x0083
	paramFirmware            uint16 = 0x0086
	paramFilterReplacement   uint16 = 0x0088
	paramCurrentWifiIP       uint16 = 0x00A3
	paramAirflow             uint16 = 0x00B7
	paramAnalogVThreshold    uint16 = 0x00B8
	paramUnitType            uint16 = 0x00B9
	paramNightModeTimer      uint16 = 0x0302
	paramPartyModeTimer      uint16 = 0x0303
	paramHumidityStatus      uint16 = 0x0304
	paramAnalogVStatus       uint16 = 0x0305
)

// Parameter keys accepted by SetParam and reported in state maps.
const (
	KeyState               = "state"
	KeySpeed               = "speed"
	KeyBoostStatus         = "boost_status"
	KeyTimerMode           = "timer_mode"
	KeyTimerCounter        = "timer_counter"
	KeyHumiditySensorState = "humidity_sensor_state"
	KeyRelaySensorState    = "relay_sensor_state"
	KeyAnalogVSensorState  = "analogv_sensor_state"
	KeyHumidityThreshold   = "humidity_threshold"
	KeyBatteryVoltage      = "battery_voltage"
	KeyHumidity            = "humidity"
	KeyAnalogV             = "analogv"
	KeyRelayState          = "relay_state"
	KeyManSpeed            = "man_speed"
	KeyManSpeedPercent     = "man_speed_percent"
	KeyFan1Speed           = "fan1_speed"
	KeyFan2Speed           = "fan2_speed"
	KeyFilterTimer         = "filter_timer"
	KeyFilterTimerReset    = "filter_timer_reset"
	KeyBoostTime           = "boost_time"
	KeyDeviceSearch        = "device_search"
	KeyMachineHours        = "machine_hours"
	KeyResetAlarms         = "reset_alarms"
	KeyAlarmStatus         = "alarm_status"
	KeyFirmware            = "firmware"
	KeyFilterReplacement   = "filter_replacement_status"
	KeyCurrentWifiIP       = "current_wifi_ip"
	KeyAirflow             = "airflow"
	KeyAnalogVThreshold    = "analogv_threshold"
	KeyUnitType            = "unit_type"
	KeyNightModeTimer      = "night_mode_timer"
	KeyPartyModeTimer      = "party_mode_timer"
	KeyHumidityStatus      = "humidity_status"
	KeyAnalogVStatus       = "analogv_status"
)

// Domain values.
const (
	StateOff    = "off"
	StateOn     = "on"
	StateToggle = "toggle"

	SpeedLow    = "low"
	SpeedMedium = "medium"
	SpeedHigh   = "high"
	SpeedManual = "manual"

	AirflowVentilation  = "ventilation"
	AirflowHeatRecovery = "heat_recovery"
	AirflowAirSupply    = "air_supply"

	TimerOff   = "off"
	TimerNight = "night"
	TimerParty = "party"

	AlarmNone    = "no"
	AlarmAlarm   = "alarm"
	AlarmWarning = "warning"
)

var (
	stateValues   = map[byte]string{0: StateOff, 1: StateOn, 2: StateToggle}
	speedValues   = map[byte]string{1: SpeedLow, 2: SpeedMedium, 3: SpeedHigh, 0xFF: SpeedManual}
	airflowValues = map[byte]string{0: AirflowVentilation, 1: AirflowHeatRecovery, 2: AirflowAirSupply}
	timerValues   = map[byte]string{0: TimerOff, 1: TimerNight, 2: TimerParty}
	alarmValues   = map[byte]string{0: AlarmNone, 1: AlarmAlarm, 2: AlarmWarning}
	onOffValues   = map[byte]string{0: StateOff, 1: StateOn}

	unitTypes = map[int]string{
		3: "Vento Expert A50-1/A85-1/A100-1 W V.2",
		4: "Vento Expert Duo A30-1 W V.2",
		5: "Vento Expert A30 W V.2",
	}
)

// param describes one entry of the fan's parameter table.
type param struct {
	key    string
	id     uint16
	size   int
	decode func(s *Snapshot, v []byte)
	// encode is nil for read-only parameters.
	encode func(v any) ([]byte, error)
	// apply mirrors an acknowledged write into a snapshot copy.
	apply func(s *Snapshot, raw []byte)
	// readable parameters are part of the read-all request.
	readable bool
	// trigger parameters act on any write and ignore the value.
	trigger bool
}

var params = []*param{
	{key: KeyState, id: paramState, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.State = enumName(stateValues, v) },
		encode: enumEncoder(KeyState, stateValues),
		apply: func(s *Snapshot, raw []byte) {
			if at(raw, 0) != 2 {
				s.State = enumName(stateValues, raw)
			} else if s.State == StateOn {
				s.State = StateOff
			} else {
				s.State = StateOn
			}
		}},
	{key: KeySpeed, id: paramSpeed, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.Speed = enumName(speedValues, v) },
		encode: enumEncoder(KeySpeed, speedValues)},
	{key: KeyBoostStatus, id: paramBoostStatus, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.BoostStatus = enumName(onOffValues, v) }},
	{key: KeyTimerMode, id: paramTimerMode, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.TimerMode = enumName(timerValues, v) },
		encode: enumEncoder(KeyTimerMode, timerValues)},
	{key: KeyTimerCounter, id: paramTimerCounter, size: 3, readable: true,
		decode: func(s *Snapshot, v []byte) {
			s.TimerCounter = Countdown{Seconds: int(at(v, 0)), Minutes: int(at(v, 1)), Hours: int(at(v, 2))}
		}},
	{key: KeyHumiditySensorState, id: paramHumiditySensorState, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.HumiditySensorState = enumName(onOffValues, v) },
		encode: enumEncoder(KeyHumiditySensorState, onOffValues)},
	{key: KeyRelaySensorState, id: paramRelaySensorState, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.RelaySensorState = enumName(onOffValues, v) },
		encode: enumEncoder(KeyRelaySensorState, onOffValues)},
	{key: KeyAnalogVSensorState, id: paramAnalogVSensorState, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.AnalogVSensorState = enumName(onOffValues, v) },
		encode: enumEncoder(KeyAnalogVSensorState, onOffValues)},
	{key: KeyHumidityThreshold, id: paramHumidityThreshold, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.HumidityThreshold = int(le(v)) },
		encode: rangeEncoder(KeyHumidityThreshold, 40, 80, 1)},
	{key: KeyBatteryVoltage, id: paramBatteryVoltage, size: 2, readable: true,
		decode: func(s *Snapshot, v []byte) { s.BatteryVoltage = int(le(v)) }},
	{key: KeyHumidity, id: paramHumidity, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.Humidity = int(le(v)) }},
	{key: KeyAnalogV, id: paramAnalogV, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.AnalogV = int(le(v)) }},
	{key: KeyRelayState, id: paramRelayState, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.RelayState = enumName(onOffValues, v) }},
	{key: KeyManSpeed, id: paramManSpeed, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.ManSpeed = int(le(v)) },
		encode: rangeEncoder(KeyManSpeed, 0, 255, 1)},
	{key: KeyFan1Speed, id: paramFan1Speed, size: 2, readable: true,
		decode: func(s *Snapshot, v []byte) { s.Fan1Speed = int(le(v)) }},
	{key: KeyFan2Speed, id: paramFan2Speed, size: 2, readable: true,
		decode: func(s *Snapshot, v []byte) { s.Fan2Speed = int(le(v)) }},
	{key: KeyFilterTimer, id: paramFilterTimer, size: 3, readable: true,
		decode: func(s *Snapshot, v []byte) {
			s.FilterTimer = Countdown{Minutes: int(at(v, 0)), Hours: int(at(v, 1)), Days: int(at(v, 2))}
		}},
	{key: KeyFilterTimerReset, id: paramFilterTimerReset, size: 1, trigger: true,
		encode: triggerEncoder,
		apply:  func(s *Snapshot, _ []byte) { s.FilterReplacement = StateOff }},
	{key: KeyBoostTime, id: paramBoostTime, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.BoostTime = int(le(v)) },
		encode: rangeEncoder(KeyBoostTime, 0, 60, 1)},
	{key: KeyDeviceSearch, id: paramDeviceSearch, size: 16, readable: true,
		decode: func(s *Snapshot, v []byte) { s.DeviceID = strings.TrimRight(string(v), "\x00 ") }},
	{key: KeyMachineHours, id: paramMachineHours, size: 4, readable: true,
		decode: func(s *Snapshot, v []byte) {
			s.MachineHours = Countdown{Minutes: int(at(v, 0)), Hours: int(at(v, 1)), Days: int(at(v, 2)) | int(at(v, 3))<<8}
		}},
	{key: KeyResetAlarms, id: paramResetAlarms, size: 1, trigger: true,
		encode: triggerEncoder,
		apply:  func(s *Snapshot, _ []byte) { s.AlarmStatus = AlarmNone }},
	{key: KeyAlarmStatus, id: paramAlarmStatus, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.AlarmStatus = enumName(alarmValues, v) }},
	{key: KeyFirmware, id: paramFirmware, size: 6, readable: true,
		decode: func(s *Snapshot, v []byte) {
			s.Firmware = Firmware{
				Major: int(at(v, 0)),
				Minor: int(at(v, 1)),
				Day:   int(at(v, 2)),
				Month: int(at(v, 3)),
				Year:  int(at(v, 4)) | int(at(v, 5))<<8,
			}
		}},
	{key: KeyFilterReplacement, id: paramFilterReplacement, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.FilterReplacement = enumName(onOffValues, v) }},
	{key: KeyCurrentWifiIP, id: paramCurrentWifiIP, size: 4, readable: true,
		decode: func(s *Snapshot, v []byte) {
			if len(v) == 4 {
				s.CurrentIP = fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
			}
		}},
	{key: KeyAirflow, id: paramAirflow, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.Airflow = enumName(airflowValues, v) },
		encode: enumEncoder(KeyAirflow, airflowValues)},
	{key: KeyAnalogVThreshold, id: paramAnalogVThreshold, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.AnalogVThreshold = int(le(v)) },
		encode: rangeEncoder(KeyAnalogVThreshold, 5, 100, 1)},
	{key: KeyUnitType, id: paramUnitType, size: 2, readable: true,
		decode: func(s *Snapshot, v []byte) { s.UnitType = unitTypeName(int(le(v))) }},
	{key: KeyNightModeTimer, id: paramNightModeTimer, size: 2, readable: true,
		decode: func(s *Snapshot, v []byte) {
			s.NightModeTimer = Countdown{Minutes: int(at(v, 0)), Hours: int(at(v, 1))}
		}},
	{key: KeyPartyModeTimer, id: paramPartyModeTimer, size: 2, readable: true,
		decode: func(s *Snapshot, v []byte) {
			s.PartyModeTimer = Countdown{Minutes: int(at(v, 0)), Hours: int(at(v, 1))}
		}},
	{key: KeyHumidityStatus, id: paramHumidityStatus, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.HumidityStatus = enumName(onOffValues, v) }},
	{key: KeyAnalogVStatus, id: paramAnalogVStatus, size: 1, readable: true,
		decode: func(s *Snapshot, v []byte) { s.AnalogVStatus = enumName(onOffValues, v) }},
}

var (
	paramsByKey = make(map[string]*param, len(params))
	paramsByID  = make(map[uint16]*param, len(params))
	readAllIDs  []uint16
)

func init() {
	for _, p := range params {
		paramsByKey[p.key] = p
		paramsByID[p.id] = p
		if p.readable {
			readAllIDs = append(readAllIDs, p.id)
		}
	}
	// man_speed_percent is a view over man_speed.
	paramsByKey[KeyManSpeedPercent] = &param{
		key:    KeyManSpeedPercent,
		id:     paramManSpeed,
		size:   1,
		decode: func(s *Snapshot, v []byte) { s.ManSpeed = int(le(v)) },
		encode: percentEncoder,
	}
}

// WritableKeys returns the keys SetParam accepts, sorted.
func WritableKeys() []string {
	keys := make([]string, 0, len(paramsByKey))
	for k, p := range paramsByKey {
		if p.encode != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// lookupWritable validates key and encodes value into its wire representation.
func lookupWritable(key string, value any) (*param, []byte, error) {
	p, ok := paramsByKey[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown key %q", ErrInvalidParameter, key)
	}
	if p.encode == nil {
		return nil, nil, fmt.Errorf("%w: %q is read-only", ErrInvalidParameter, key)
	}
	raw, err := p.encode(value)
	if err != nil {
		return nil, nil, err
	}
	return p, raw, nil
}

// PercentToManSpeed converts a manual speed percentage to the raw 0-255 value.
func PercentToManSpeed(percent int) int {
	return (255*percent + 50) / 100
}

// ManSpeedToPercent converts a raw manual speed to a percentage.
func ManSpeedToPercent(raw int) int {
	return (raw*100 + 127) / 255
}

func enumEncoder(key string, values map[byte]string) func(any) ([]byte, error) {
	return func(v any) ([]byte, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string, got %T", ErrInvalidParameter, key, v)
		}
		for raw, name := range values {
			if name == s {
				return []byte{raw}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s=%q not in %v", ErrInvalidParameter, key, s, enumNames(values))
	}
}

func rangeEncoder(key string, lo, hi int64, size int) func(any) ([]byte, error) {
	return func(v any) ([]byte, error) {
		n, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, key, err)
		}
		if n < lo || n > hi {
			return nil, fmt.Errorf("%w: %s=%d outside [%d,%d]", ErrInvalidParameter, key, n, lo, hi)
		}
		out := make([]byte, size)
		for i := range out {
			out[i] = byte(n >> (8 * i))
		}
		return out, nil
	}
}

func percentEncoder(v any) ([]byte, error) {
	n, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, KeyManSpeedPercent, err)
	}
	if n < 0 || n > 100 {
		return nil, fmt.Errorf("%w: %s=%d outside [0,100]", ErrInvalidParameter, KeyManSpeedPercent, n)
	}
	return []byte{byte(PercentToManSpeed(int(n)))}, nil
}

// triggerEncoder ignores the value: reset parameters act on any write.
func triggerEncoder(any) ([]byte, error) {
	return []byte{0x01}, nil
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		return uintToInt(uint64(n))
	case uint64:
		return uintToInt(n)
	case uintptr:
		return uintToInt(uint64(n))
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

func uintToInt(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return int64(n), nil
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected an integer, got %v", f)
	}
	return int64(f), nil
}

func enumName(values map[byte]string, v []byte) string {
	if len(v) == 0 {
		return ""
	}
	if name, ok := values[v[0]]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", v[0])
}

func enumNames(values map[byte]string) []string {
	names := make([]string, 0, len(values))
	for _, n := range values {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func unitTypeName(code int) string {
	if name, ok := unitTypes[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", code)
}

// le decodes a little-endian unsigned integer of up to 8 bytes.
func le(v []byte) uint64 {
	var n uint64
	for i := len(v) - 1; i >= 0; i-- {
		n = n<<8 | uint64(v[i])
	}
	return n
}

func at(v []byte, i int) byte {
	if i < len(v) {
		return v[i]
	}
	return 0
}
