package vento

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Transport carries datagrams between a Client and one fan.
type Transport interface {
	// Write sends one datagram.
	Write(b []byte) error
	// Read blocks until a datagram arrives or the deadline passes.
	// A passed deadline returns an error matching os.ErrDeadlineExceeded.
	Read(deadline time.Time) ([]byte, error)
	// Drain discards datagrams already queued on the socket.
	Drain() int
	Close() error
}

// UDPTransport is a Transport over a connected UDP socket. The socket is
// opened on first use so constructing a client performs no I/O.
type UDPTransport struct {
	addr string

	mu   sync.Mutex
	conn *net.UDPConn
	buf  []byte
}

// NewUDPTransport returns a transport for host:port.
func NewUDPTransport(host string, port int) *UDPTransport {
	return &UDPTransport{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		buf:  make([]byte, maxFrameLen),
	}
}

func (t *UDPTransport) dial() (*net.UDPConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}

	raddr, err := net.ResolveUDPAddr("udp4", t.addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", t.addr, err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.addr, err)
	}

	log.Debug().Str("remote", raddr.String()).Str("local", conn.LocalAddr().String()).Msg("UDP socket opened")
	t.conn = conn
	return conn, nil
}

// Write sends b to the fan.
func (t *UDPTransport) Write(b []byte) error {
	conn, err := t.dial()
	if err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

// Read returns the next datagram received before deadline.
func (t *UDPTransport) Read(deadline time.Time) ([]byte, error) {
	conn, err := t.dial()
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	n, err := conn.Read(t.buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, t.buf[:n])
	return out, nil
}

// Drain discards anything left over from earlier exchanges.
func (t *UDPTransport) Drain() int {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0
	}

	dropped := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
			return dropped
		}
		if _, err := conn.Read(t.buf); err != nil {
			return dropped
		}
		dropped++
	}
}

// Close releases the socket. The transport reopens it on next use.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
