package vento

import (
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"
)

const simDeviceID = "0123456789ABCDEF"

// simDevice answers read and write requests the way a Vento Expert unit does.
type simDevice struct {
	mu          sync.Mutex
	id          string
	password    string
	values      map[uint16][]byte
	unsupported map[uint16]bool
	silent      bool
	// muteWrites drops the acknowledgement of every write.
	muteWrites bool
	// before is prepended to every reply batch.
	before func(req *frame) [][]byte
	reads  int
	writes int
}

func newSimDevice() *simDevice {
	return &simDevice{
		id:       simDeviceID,
		password: DefaultPassword,
		values: map[uint16][]byte{
			paramState:               {1},
			paramSpeed:               {0xFF},
			paramBoostStatus:         {0},
			paramTimerMode:           {1},
			paramTimerCounter:        {10, 20, 3},
			paramHumiditySensorState: {1},
			paramRelaySensorState:    {0},
			paramAnalogVSensorState:  {0},
			paramHumidityThreshold:   {60},
			paramBatteryVoltage:      {0xB8, 0x0B}, // 3000 mV
			paramHumidity:            {52},
			paramAnalogV:             {12},
			paramRelayState:          {0},
			paramManSpeed:            {byte(PercentToManSpeed(45))},
			paramFan1Speed:           {0x20, 0x03}, // 800 rpm
			paramFan2Speed:           {0x1E, 0x03}, // 798 rpm
			paramFilterTimer:         {30, 4, 90},
			paramBoostTime:           {15},
			paramDeviceSearch:        []byte(simDeviceID),
			paramMachineHours:        {5, 6, 0x2C, 0x01}, // 300 days
			paramAlarmStatus:         {2},
			paramFirmware:            {0, 7, 15, 3, 0xE5, 0x07}, // 0.7, 2021-03-15
			paramFilterReplacement:   {1},
			paramCurrentWifiIP:       {192, 168, 50, 80},
			paramAirflow:             {1},
			paramAnalogVThreshold:    {50},
			paramUnitType:            {3, 0},
			paramNightModeTimer:      {0, 8},
			paramPartyModeTimer:      {30, 1},
			paramHumidityStatus:      {0},
		},
		unsupported: map[uint16]bool{
			paramAnalogVStatus: true,
		},
	}
}

func (d *simDevice) setSilent(v bool) {
	d.mu.Lock()
	d.silent = v
	d.mu.Unlock()
}

// handle returns the datagrams the device sends in reply to req.
func (d *simDevice) handle(req []byte) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.silent {
		return nil
	}
	f, err := decodeFrame(req)
	if err != nil || f.password != d.password {
		return nil
	}
	if f.deviceID != DefaultDeviceID && f.deviceID != d.id {
		return nil
	}

	var out [][]byte
	if d.before != nil {
		out = append(out, d.before(f)...)
	}

	var reply []entry
	switch f.function {
	case funcRead:
		d.reads++
		for _, id := range parseReadIDs(f.data) {
			if v, ok := d.values[id]; ok && !d.unsupported[id] {
				reply = append(reply, entry{id: id, value: v})
			} else {
				reply = append(reply, entry{id: id, unsupported: true})
			}
		}
	case funcWriteResponse, funcWrite:
		d.writes++
		entries, err := parseData(f.data)
		if err != nil {
			return out
		}
		for _, e := range entries {
			if _, ok := d.values[e.id]; ok {
				d.values[e.id] = append([]byte(nil), e.value...)
			}
			reply = append(reply, entry{id: e.id, value: e.value})
		}
		if f.function == funcWrite || d.muteWrites {
			return out
		}
	default:
		return out
	}

	out = append(out, responseDatagram(d.id, d.password, reply))
	return out
}

func parseReadIDs(data []byte) []uint16 {
	var ids []uint16
	page := byte(0)
	for i := 0; i < len(data); i++ {
		if data[i] == cmdPage && i+1 < len(data) {
			page = data[i+1]
			i++
			continue
		}
		ids = append(ids, uint16(page)<<8|uint16(data[i]))
	}
	return ids
}

func responseDatagram(id, password string, entries []entry) []byte {
	var data []byte
	page := byte(0)
	for _, e := range entries {
		if p := byte(e.id >> 8); p != page {
			data = append(data, cmdPage, p)
			page = p
		}
		if e.unsupported {
			data = append(data, cmdUnsupported, byte(e.id))
			continue
		}
		if len(e.value) != 1 {
			data = append(data, cmdSize, byte(len(e.value)))
		}
		data = append(data, byte(e.id))
		data = append(data, e.value...)
	}
	b, err := encodeFrame(frame{deviceID: id, password: password, function: funcResponse, data: data})
	if err != nil {
		panic(err)
	}
	return b
}

// fakeTransport delivers replies from a simDevice without a socket.
type fakeTransport struct {
	mu      sync.Mutex
	device  *simDevice
	writes  [][]byte
	queue   chan []byte
	active  bool
	overlap bool
	closed  bool
}

func newFakeTransport(d *simDevice) *fakeTransport {
	return &fakeTransport{device: d, queue: make(chan []byte, 64)}
}

func (f *fakeTransport) Write(b []byte) error {
	f.mu.Lock()
	if f.active {
		f.overlap = true
	}
	f.active = true
	f.writes = append(f.writes, append([]byte(nil), b...))
	f.mu.Unlock()

	for _, r := range f.device.handle(b) {
		f.queue <- r
	}
	return nil
}

func (f *fakeTransport) Read(deadline time.Time) ([]byte, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case b := <-f.queue:
		f.mu.Lock()
		f.active = false
		f.mu.Unlock()
		return b, nil
	case <-timer.C:
		f.mu.Lock()
		f.active = false
		f.mu.Unlock()
		return nil, os.ErrDeadlineExceeded
	}
}

func (f *fakeTransport) Drain() int {
	n := 0
	for {
		select {
		case <-f.queue:
			n++
		default:
			return n
		}
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

// fastPolicy keeps retry tests quick.
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       3,
		AttemptTimeout: 40 * time.Millisecond,
		Backoff:        10 * time.Millisecond,
		Budget:         time.Second,
	}
}

func newTestClient(t *testing.T, d *simDevice, deviceID string) (*Client, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport(d)
	c, err := New("192.168.50.80", DefaultPort, DefaultPassword, deviceID, "Bedroom",
		WithTransport(ft), WithRetryPolicy(fastPolicy()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, ft
}

// serveUDP runs d behind a real loopback socket until the test ends.
func serveUDP(t *testing.T, d *simDevice) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, maxFrameLen)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
			for _, r := range d.handle(append([]byte(nil), buf[:n]...)) {
				_, _ = conn.WriteToUDP(r, from)
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}
