package vento

import (
	"encoding/binary"
	"fmt"
)

// Frame layout:
//
//	FD FD | 02 | idLen | id | pwLen | pw | func | data | checksum (LE)
//
// The checksum is the 16-bit sum of every byte from the protocol type
// through the end of the data block.
const (
	frameStart   byte = 0xFD
	protocolType byte = 0x02

	funcRead          byte = 0x01
	funcWrite         byte = 0x02
	funcWriteResponse byte = 0x03
	funcIncrement     byte = 0x04
	funcDecrement     byte = 0x05
	funcResponse      byte = 0x06

	// Special bytes inside the data block
	cmdPage        byte = 0xFF
	cmdSize        byte = 0xFE
	cmdUnsupported byte = 0xFD
	cmdFunction    byte = 0xFC

	deviceIDLen    = 16
	maxPasswordLen = 8
	maxFrameLen    = 256
	minFrameLen    = 2 + 1 + 1 + 1 + 1 + 2 // no id, no password, no data
)

const (
	// DefaultPort is the UDP port Vento Expert units listen on.
	DefaultPort = 4000
	// DefaultDeviceID is accepted by every unit in place of its own ID.
	DefaultDeviceID = "DEFAULT_DEVICEID"
	// DefaultPassword is the factory password.
	DefaultPassword = "1111"
)

// frame is one decoded datagram.
type frame struct {
	deviceID string
	password string
	function byte
	data     []byte
}

// entry is a single parameter inside a data block.
type entry struct {
	id          uint16
	value       []byte
	unsupported bool
}

// checksum sums b as unsigned bytes, truncated to 16 bits.
func checksum(b []byte) uint16 {
	var sum uint16
	for _, c := range b {
		sum += uint16(c)
	}
	return sum
}

// encodeFrame builds a datagram ready to be written to the socket.
func encodeFrame(f frame) ([]byte, error) {
	if len(f.deviceID) != deviceIDLen {
		return nil, fmt.Errorf("%w: device id must be %d characters, got %d", ErrInvalidParameter, deviceIDLen, len(f.deviceID))
	}
	if len(f.password) > maxPasswordLen {
		return nil, fmt.Errorf("%w: password longer than %d characters", ErrInvalidParameter, maxPasswordLen)
	}

	buf := make([]byte, 0, minFrameLen+len(f.deviceID)+len(f.password)+len(f.data))
	buf = append(buf, frameStart, frameStart, protocolType)
	buf = append(buf, byte(len(f.deviceID)))
	buf = append(buf, f.deviceID...)
	buf = append(buf, byte(len(f.password)))
	buf = append(buf, f.password...)
	buf = append(buf, f.function)
	buf = append(buf, f.data...)

	if len(buf)+2 > maxFrameLen {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrInvalidParameter, len(buf)+2, maxFrameLen)
	}

	buf = binary.LittleEndian.AppendUint16(buf, checksum(buf[2:]))
	return buf, nil
}

// decodeFrame validates header, lengths and checksum.
func decodeFrame(b []byte) (*frame, error) {
	if len(b) < minFrameLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a frame", ErrMalformedResponse, len(b))
	}
	if b[0] != frameStart || b[1] != frameStart {
		return nil, fmt.Errorf("%w: bad start bytes %02x %02x", ErrMalformedResponse, b[0], b[1])
	}
	if b[2] != protocolType {
		return nil, fmt.Errorf("%w: unsupported protocol type 0x%02x", ErrMalformedResponse, b[2])
	}

	body := b[:len(b)-2]
	want := binary.LittleEndian.Uint16(b[len(b)-2:])
	if got := checksum(body[2:]); got != want {
		return nil, fmt.Errorf("%w: checksum 0x%04x, expected 0x%04x", ErrMalformedResponse, got, want)
	}

	pos := 3
	idLen := int(body[pos])
	pos++
	if pos+idLen+1 > len(body) {
		return nil, fmt.Errorf("%w: truncated device id", ErrMalformedResponse)
	}
	id := string(body[pos : pos+idLen])
	pos += idLen

	pwLen := int(body[pos])
	pos++
	if pos+pwLen+1 > len(body) {
		return nil, fmt.Errorf("%w: truncated password", ErrMalformedResponse)
	}
	pw := string(body[pos : pos+pwLen])
	pos += pwLen

	fn := body[pos]
	pos++

	return &frame{
		deviceID: id,
		password: pw,
		function: fn,
		data:     body[pos:],
	}, nil
}

// encodeReadData builds a read request data block for the given parameters.
func encodeReadData(ids []uint16) []byte {
	var out []byte
	page := byte(0)
	for _, id := range ids {
		if p := byte(id >> 8); p != page {
			out = append(out, cmdPage, p)
			page = p
		}
		out = append(out, byte(id))
	}
	return out
}

// encodeWriteData builds a write request data block.
func encodeWriteData(entries []entry) []byte {
	var out []byte
	page := byte(0)
	for _, e := range entries {
		if p := byte(e.id >> 8); p != page {
			out = append(out, cmdPage, p)
			page = p
		}
		if len(e.value) != 1 {
			out = append(out, cmdSize, byte(len(e.value)))
		}
		out = append(out, byte(e.id))
		out = append(out, e.value...)
	}
	return out
}

// parseData splits a response data block into parameter entries.
func parseData(data []byte) ([]entry, error) {
	var entries []entry
	page := byte(0)

	for i := 0; i < len(data); {
		switch data[i] {
		case cmdPage:
			if i+1 >= len(data) {
				return nil, fmt.Errorf("%w: truncated page change", ErrMalformedResponse)
			}
			page = data[i+1]
			i += 2

		case cmdFunction:
			if i+1 >= len(data) {
				return nil, fmt.Errorf("%w: truncated function change", ErrMalformedResponse)
			}
			i += 2

		case cmdUnsupported:
			if i+1 >= len(data) {
				return nil, fmt.Errorf("%w: truncated unsupported marker", ErrMalformedResponse)
			}
			entries = append(entries, entry{id: uint16(page)<<8 | uint16(data[i+1]), unsupported: true})
			i += 2

		case cmdSize:
			if i+2 >= len(data) {
				return nil, fmt.Errorf("%w: truncated size marker", ErrMalformedResponse)
			}
			size := int(data[i+1])
			id := uint16(page)<<8 | uint16(data[i+2])
			start := i + 3
			if size == 0 || start+size > len(data) {
				return nil, fmt.Errorf("%w: parameter 0x%04x value of %d bytes overruns data", ErrMalformedResponse, id, size)
			}
			entries = append(entries, entry{id: id, value: data[start : start+size]})
			i = start + size

		default:
			id := uint16(page)<<8 | uint16(data[i])
			if i+1 >= len(data) {
				return nil, fmt.Errorf("%w: parameter 0x%04x has no value", ErrMalformedResponse, id)
			}
			entries = append(entries, entry{id: id, value: data[i+1 : i+2]})
			i += 2
		}
	}

	return entries, nil
}
