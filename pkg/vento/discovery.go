package vento

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSearchTimeout bounds Discover when ctx has no deadline.
const DefaultSearchTimeout = 3 * time.Second

// Found is a fan that answered a search request.
type Found struct {
	Address  string `json:"address"`
	DeviceID string `json:"device_id"`
	UnitType string `json:"unit_type"`
}

// Discover broadcasts a device search and collects replies until ctx ends.
// target is a broadcast address, optionally with a port; empty means
// 255.255.255.255 on DefaultPort.
func Discover(ctx context.Context, target, password string) ([]Found, error) {
	if target == "" {
		target = "255.255.255.255"
	}
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, strconv.Itoa(DefaultPort))
	}
	raddr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}

	if password == "" {
		password = DefaultPassword
	}
	datagram, err := encodeFrame(frame{
		deviceID: DefaultDeviceID,
		password: password,
		function: funcRead,
		data:     encodeReadData([]uint16{paramDeviceSearch, paramUnitType}),
	})
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultSearchTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	// Unblock the read loop on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	log.Info().Str("target", raddr.String()).Msg("Searching for fans")
	if _, err := conn.WriteToUDP(datagram, raddr); err != nil {
		return nil, fmt.Errorf("send search: %w", err)
	}

	var found []Found
	seen := make(map[string]bool)
	buf := make([]byte, maxFrameLen)

	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return found, fmt.Errorf("receive: %w", err)
		}

		f, err := decodeFrame(buf[:n])
		if err != nil {
			log.Warn().Err(err).Str("from", from.String()).Msg("Malformed search reply")
			continue
		}
		if f.function != funcResponse {
			continue
		}
		entries, err := parseData(f.data)
		if err != nil {
			log.Warn().Err(err).Str("from", from.String()).Msg("Malformed search reply")
			continue
		}

		snap := &Snapshot{}
		for _, e := range entries {
			if p, ok := paramsByID[e.id]; ok && !e.unsupported && p.decode != nil {
				p.decode(snap, e.value)
			}
		}
		id := snap.DeviceID
		if id == "" {
			id = f.deviceID
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		fd := Found{Address: from.IP.String(), DeviceID: id, UnitType: snap.UnitType}
		log.Info().Str("address", fd.Address).Str("device_id", fd.DeviceID).Str("unit_type", fd.UnitType).Msg("Fan found")
		found = append(found, fd)
	}

	return found, nil
}
