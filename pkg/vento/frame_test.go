package vento

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeFrame_ReadState(t *testing.T) {
	got, err := encodeFrame(frame{
		deviceID: DefaultDeviceID,
		password: DefaultPassword,
		function: funcRead,
		data:     encodeReadData([]uint16{paramState}),
	})
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	want := []byte{0xFD, 0xFD, 0x02, 0x10}
	want = append(want, "DEFAULT_DEVICEID"...)
	want = append(want, 0x04)
	want = append(want, "1111"...)
	want = append(want, 0x01, 0x01, 0x7D, 0x05)

	if !bytes.Equal(got, want) {
		t.Errorf("encodeFrame = % X\nwant          % X", got, want)
	}
}

func TestEncodeFrame_Rejects(t *testing.T) {
	cases := []frame{
		{deviceID: "SHORT", password: DefaultPassword, function: funcRead},
		{deviceID: DefaultDeviceID, password: "123456789", function: funcRead},
		{deviceID: DefaultDeviceID, password: DefaultPassword, function: funcRead, data: make([]byte, 300)},
	}
	for i, f := range cases {
		if _, err := encodeFrame(f); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("case %d: err = %v, want ErrInvalidParameter", i, err)
		}
	}
}

func TestDecodeFrame_RoundTrip(t *testing.T) {
	in := frame{
		deviceID: simDeviceID,
		password: "abc",
		function: funcResponse,
		data:     []byte{0x01, 0x01, 0xFE, 0x02, 0x24, 0xB8, 0x0B},
	}
	b, err := encodeFrame(in)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	out, err := decodeFrame(b)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if out.deviceID != in.deviceID || out.password != in.password || out.function != in.function || !bytes.Equal(out.data, in.data) {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	good := responseDatagram(simDeviceID, DefaultPassword, []entry{{id: paramState, value: []byte{1}}})

	badChecksum := append([]byte(nil), good...)
	badChecksum[len(badChecksum)-2]++

	badStart := append([]byte(nil), good...)
	badStart[0] = 0xAA

	badProto := append([]byte(nil), good...)
	badProto[2] = 0x01

	// id length pointing past the end, checksum fixed up
	badIDLen := append([]byte(nil), good[:len(good)-2]...)
	badIDLen[3] = 0xF0
	sum := checksum(badIDLen[2:])
	badIDLen = append(badIDLen, byte(sum), byte(sum>>8))

	cases := map[string][]byte{
		"empty":          nil,
		"short":          {0xFD, 0xFD, 0x02},
		"bad checksum":   badChecksum,
		"bad start":      badStart,
		"bad protocol":   badProto,
		"bad id length":  badIDLen,
		"truncated body": good[:len(good)/2],
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeFrame(b); !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("decodeFrame = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestEncodeReadData_ChangesPage(t *testing.T) {
	got := encodeReadData([]uint16{paramState, paramUnitType, paramNightModeTimer, paramPartyModeTimer})
	want := []byte{0x01, 0xB9, 0xFF, 0x03, 0x02, 0x03}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeReadData = % X, want % X", got, want)
	}
	if ids := parseReadIDs(got); !reflect.DeepEqual(ids, []uint16{paramState, paramUnitType, paramNightModeTimer, paramPartyModeTimer}) {
		t.Errorf("round trip ids = %v", ids)
	}
}

func TestEncodeWriteData_SizesMultiByteValues(t *testing.T) {
	got := encodeWriteData([]entry{
		{id: paramState, value: []byte{1}},
		{id: paramBatteryVoltage, value: []byte{0xB8, 0x0B}},
		{id: paramNightModeTimer, value: []byte{0, 8}},
	})
	want := []byte{0x01, 0x01, 0xFE, 0x02, 0x24, 0xB8, 0x0B, 0xFF, 0x03, 0xFE, 0x02, 0x02, 0x00, 0x08}
	if !bytes.Equal(got, want) {
		t.Errorf("encodeWriteData = % X, want % X", got, want)
	}
}

func TestParseData(t *testing.T) {
	data := []byte{
		0x01, 0x01, // state on
		0xFC, 0x06, // function change
		0x02, 0xFF, // speed manual
		// current_wifi_ip, four bytes
		0xFE, 0x04, 0xA3, 192, 168, 1, 9,
		0xFF, 0x03, // page 3
		0xFD, 0x05, // analogv_status unsupported
		0x04, 0x01, // humidity_status
	}
	got, err := parseData(data)
	if err != nil {
		t.Fatalf("parseData: %v", err)
	}
	want := []entry{
		{id: paramState, value: []byte{0x01}},
		{id: paramSpeed, value: []byte{0xFF}},
		{id: paramCurrentWifiIP, value: []byte{192, 168, 1, 9}},
		{id: paramAnalogVStatus, unsupported: true},
		{id: paramHumidityStatus, value: []byte{0x01}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseData =\n%+v\nwant\n%+v", got, want)
	}
}

func TestParseData_Truncated(t *testing.T) {
	cases := map[string][]byte{
		"value missing":    {0x01},
		"page missing":     {0xFF},
		"size overruns":    {0xFE, 0x04, 0xA3, 0x01},
		"zero size":        {0xFE, 0x00, 0xA3},
		"unsupported id":   {0xFD},
		"function missing": {0x01, 0x01, 0xFC},
		"size id missing":  {0xFE, 0x02},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseData(b); !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("parseData = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestDecodeSnapshot_MissingParameter(t *testing.T) {
	_, err := decodeSnapshot([]entry{{id: paramState, value: []byte{1}}}, []uint16{paramState, paramSpeed})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("decodeSnapshot = %v, want ErrMalformedResponse", err)
	}
}

func TestDecodeSnapshot_UnknownEnumValue(t *testing.T) {
	s, err := decodeSnapshot([]entry{{id: paramAirflow, value: []byte{9}}}, []uint16{paramAirflow})
	if err != nil {
		t.Fatalf("decodeSnapshot: %v", err)
	}
	if !strings.HasPrefix(s.Airflow, "unknown") {
		t.Errorf("Airflow = %q", s.Airflow)
	}
}

func TestSnapshotMap_OmitsUnsupported(t *testing.T) {
	s := &Snapshot{State: StateOn, ManSpeed: 255, Unsupported: []string{KeyAnalogVStatus}}
	m := s.Map()
	if _, ok := m[KeyAnalogVStatus]; ok {
		t.Error("unsupported key present in map")
	}
	if m[KeyState] != StateOn || m[KeyManSpeedPercent] != 100 {
		t.Errorf("map = %v", m)
	}
}

func TestManSpeedPercent_RoundTrips(t *testing.T) {
	for p := 0; p <= 100; p++ {
		raw := PercentToManSpeed(p)
		if raw < 0 || raw > 255 {
			t.Fatalf("PercentToManSpeed(%d) = %d", p, raw)
		}
		if back := ManSpeedToPercent(raw); back != p {
			t.Errorf("%d%% -> %d -> %d%%", p, raw, back)
		}
	}
	if PercentToManSpeed(100) != 255 || ManSpeedToPercent(255) != 100 {
		t.Error("full scale must map to 255")
	}
}

func TestWritableKeys(t *testing.T) {
	keys := WritableKeys()
	want := []string{
		KeyAirflow, KeyAnalogVSensorState, KeyAnalogVThreshold, KeyBoostTime,
		KeyFilterTimerReset, KeyHumiditySensorState, KeyHumidityThreshold,
		KeyManSpeed, KeyManSpeedPercent, KeyRelaySensorState, KeyResetAlarms,
		KeySpeed, KeyState, KeyTimerMode,
	}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("WritableKeys = %v\nwant %v", keys, want)
	}
}
