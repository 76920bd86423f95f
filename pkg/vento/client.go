package vento

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy bounds every exchange with the fan.
type RetryPolicy struct {
	// Attempts is the number of datagrams sent before giving up.
	Attempts int
	// AttemptTimeout is how long each attempt waits for a reply.
	AttemptTimeout time.Duration
	// Backoff is the pause before the second attempt; it doubles after each retry.
	Backoff time.Duration
	// Budget caps the whole exchange including backoff.
	Budget time.Duration
}

// DefaultRetryPolicy returns 3 attempts of 1s with 0.5s, 1s backoff, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       3,
		AttemptTimeout: time.Second,
		Backoff:        500 * time.Millisecond,
		Budget:         5 * time.Second,
	}
}

// Identity holds the connection parameters of one fan. It never changes
// after the client is built.
type Identity struct {
	Address  string
	Port     int
	Password string
	DeviceID string
	Name     string
}

type requestKind int

const (
	requestReadAll requestKind = iota
	requestWriteOne
)

func (k requestKind) String() string {
	if k == requestWriteOne {
		return "write"
	}
	return "read-all"
}

// pendingRequest tracks one exchange from first send to final reply or timeout.
type pendingRequest struct {
	seq  uint64
	kind requestKind
	keys []string
	ids  []uint16
	// echo, when set, must accept the value a write reply carries.
	echo     func(value []byte) bool
	attempt  int
	deadline time.Time
	sent     bool
}

var errNoReply = errors.New("no reply before deadline")

// Stats counts exchanges since the client was built.
type Stats struct {
	Exchanges uint64
	Attempts  uint64
	Failures  uint64
	Malformed uint64
}

var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

// Client talks to a single Vento Expert fan. Exchanges are serialized;
// accessors read the last decoded snapshot and never block on the network.
type Client struct {
	identity  Identity
	transport Transport
	policy    RetryPolicy

	// exchange holds a token while a request is outstanding.
	exchange chan struct{}
	seq      atomic.Uint64

	exchanges atomic.Uint64
	attempts  atomic.Uint64
	failures  atomic.Uint64
	malformed atomic.Uint64

	mu        sync.RWMutex
	snapshot  *Snapshot
	updatedAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the UDP transport, mainly for tests.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// New builds a client for the fan at address:port. It performs no I/O and
// fails only when the address or port is malformed. An empty device ID
// selects DefaultDeviceID.
func New(address string, port int, password, deviceID, name string, opts ...Option) (*Client, error) {
	if err := validateAddress(address, port); err != nil {
		return nil, err
	}
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}
	if name == "" {
		name = address
	}

	c := &Client{
		identity: Identity{
			Address:  address,
			Port:     port,
			Password: password,
			DeviceID: deviceID,
			Name:     name,
		},
		policy:   DefaultRetryPolicy(),
		exchange: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewUDPTransport(address, port)
	}
	if c.policy.Attempts < 1 {
		c.policy.Attempts = 1
	}
	return c, nil
}

func validateAddress(address string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("malformed address: port %d out of range", port)
	}
	if _, err := netip.ParseAddr(address); err == nil {
		return nil
	}
	if len(address) == 0 || len(address) > 253 || !hostnamePattern.MatchString(address) {
		return fmt.Errorf("malformed address %q", address)
	}
	return nil
}

// InitDevice reads the full parameter table for the first time. It fails
// with ErrDeviceUnreachable when the fan does not answer within the retry
// budget; callers should abort bringing the device online.
func (c *Client) InitDevice(ctx context.Context) error {
	snap, err := c.readAll(ctx)
	if err != nil {
		if errors.Is(err, ErrInvalidParameter) {
			return err
		}
		return fmt.Errorf("%w: %s at %s:%d: %w", ErrDeviceUnreachable, c.identity.Name, c.identity.Address, c.identity.Port, err)
	}
	c.publish(snap)

	log.Info().
		Str("device", c.identity.Name).
		Str("id", c.ID()).
		Str("unit_type", snap.UnitType).
		Str("firmware", snap.Firmware.String()).
		Msg("Fan initialized")
	return nil
}

// Refresh re-reads every parameter and swaps in the new snapshot. On
// failure the previous snapshot stays in place and ErrCommunication is
// returned.
func (c *Client) Refresh(ctx context.Context) error {
	snap, err := c.readAll(ctx)
	if err != nil {
		if errors.Is(err, ErrInvalidParameter) {
			return err
		}
		return fmt.Errorf("%w: refresh %s: %w", ErrCommunication, c.identity.Name, err)
	}
	c.publish(snap)
	return nil
}

// SetParam validates value for key, writes it and waits for the fan's
// acknowledgement. Validation failures return ErrInvalidParameter without
// sending anything. On acknowledgement the cached snapshot reflects the new
// value until the next refresh reports the device's own view.
func (c *Client) SetParam(ctx context.Context, key string, value any) error {
	p, raw, err := lookupWritable(key, value)
	if err != nil {
		return err
	}

	datagram, err := encodeFrame(frame{
		deviceID: c.identity.DeviceID,
		password: c.identity.Password,
		function: funcWriteResponse,
		data:     encodeWriteData([]entry{{id: p.id, value: raw}}),
	})
	if err != nil {
		return err
	}

	req := &pendingRequest{
		seq:  c.seq.Add(1),
		kind: requestWriteOne,
		keys: []string{key},
		ids:  []uint16{p.id},
		echo: echoMatcher(p, raw),
	}
	entries, err := c.do(ctx, req, datagram)
	if err != nil {
		if req.sent {
			return fmt.Errorf("%w: set %s on %s: %w: %v", ErrCommunication, key, c.identity.Name, ErrWriteUnconfirmed, err)
		}
		return fmt.Errorf("%w: set %s on %s: %w", ErrCommunication, key, c.identity.Name, err)
	}

	for _, e := range entries {
		if e.id == p.id && e.unsupported {
			return fmt.Errorf("%w: %s rejected %s as unsupported", ErrCommunication, c.identity.Name, key)
		}
	}

	c.applyWrite(p, raw)
	log.Info().Str("device", c.identity.Name).Str("key", key).Interface("value", value).Msg("Parameter set")
	return nil
}

// SetManSpeedPercent sets the manual speed, 0-100.
func (c *Client) SetManSpeedPercent(ctx context.Context, percent int) error {
	return c.SetParam(ctx, KeyManSpeedPercent, percent)
}

// SetStateOn switches the fan on.
func (c *Client) SetStateOn(ctx context.Context) error {
	return c.SetParam(ctx, KeyState, StateOn)
}

// SetStateOff switches the fan off.
func (c *Client) SetStateOff(ctx context.Context) error {
	return c.SetParam(ctx, KeyState, StateOff)
}

// ResetFilterTimer restarts the filter replacement countdown.
func (c *Client) ResetFilterTimer(ctx context.Context) error {
	return c.SetParam(ctx, KeyFilterTimerReset, "")
}

// ResetAlarms clears active alarms and warnings.
func (c *Client) ResetAlarms(ctx context.Context) error {
	return c.SetParam(ctx, KeyResetAlarms, "")
}

// Close releases the socket.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) readAll(ctx context.Context) (*Snapshot, error) {
	datagram, err := encodeFrame(frame{
		deviceID: c.identity.DeviceID,
		password: c.identity.Password,
		function: funcRead,
		data:     encodeReadData(readAllIDs),
	})
	if err != nil {
		return nil, err
	}

	req := &pendingRequest{
		seq:  c.seq.Add(1),
		kind: requestReadAll,
		ids:  readAllIDs,
	}
	entries, err := c.do(ctx, req, datagram)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(entries, readAllIDs)
}

// do runs one request/response exchange under the retry policy. Only one
// exchange per client is in flight; other callers wait their turn or give
// up when their context ends.
func (c *Client) do(ctx context.Context, req *pendingRequest, datagram []byte) ([]entry, error) {
	select {
	case c.exchange <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.exchange }()
	c.exchanges.Add(1)

	if c.policy.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.Budget)
		defer cancel()
	}

	backoff := c.policy.Backoff
	var lastErr error

	for req.attempt = 1; req.attempt <= c.policy.Attempts; req.attempt++ {
		if req.attempt > 1 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				c.failures.Add(1)
				return nil, fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			}
			backoff *= 2
		}

		req.deadline = time.Now().Add(c.policy.AttemptTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(req.deadline) {
			req.deadline = d
		}
		if !time.Now().Before(req.deadline) {
			break
		}

		c.attempts.Add(1)
		entries, err := c.attempt(req, datagram)
		if err == nil {
			return entries, nil
		}
		lastErr = err

		log.Debug().
			Err(err).
			Str("device", c.identity.Name).
			Uint64("seq", req.seq).
			Int("attempt", req.attempt).
			Msg("Attempt failed")
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	c.failures.Add(1)

	log.Warn().
		Err(lastErr).
		Str("device", c.identity.Name).
		Str("kind", req.kind.String()).
		Strs("keys", req.keys).
		Uint64("seq", req.seq).
		Int("attempts", req.attempt-1).
		Msg("Retry budget exhausted")

	return nil, lastErr
}

// attempt sends the datagram once and waits for a matching reply until
// the attempt deadline. Replies that do not belong to this request are
// dropped and the wait continues.
func (c *Client) attempt(req *pendingRequest, datagram []byte) ([]entry, error) {
	if n := c.transport.Drain(); n > 0 {
		log.Debug().Str("device", c.identity.Name).Int("dropped", n).Msg("Discarded stale datagrams")
	}

	log.Debug().
		Str("device", c.identity.Name).
		Uint64("seq", req.seq).
		Int("attempt", req.attempt).
		Str("kind", req.kind.String()).
		Hex("frame", datagram).
		Msg("VENTO TX")

	if err := c.transport.Write(datagram); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	req.sent = true

	for {
		b, err := c.transport.Read(req.deadline)
		if err != nil {
			if isTimeout(err) {
				return nil, errNoReply
			}
			return nil, fmt.Errorf("receive: %w", err)
		}

		log.Debug().Str("device", c.identity.Name).Uint64("seq", req.seq).Hex("frame", b).Msg("VENTO RX")

		f, err := decodeFrame(b)
		if err == nil && f.function == funcResponse {
			var entries []entry
			entries, err = parseData(f.data)
			if err == nil {
				if c.matches(f, entries, req) {
					return entries, nil
				}
				log.Debug().Str("device", c.identity.Name).Uint64("seq", req.seq).Msg("Dropping datagram for another request")
				continue
			}
		}
		if err != nil {
			c.malformed.Add(1)
			log.Warn().Err(err).Str("device", c.identity.Name).Uint64("seq", req.seq).Int("attempt", req.attempt).Msg("Malformed datagram")
			return nil, err
		}
		log.Debug().Str("device", c.identity.Name).Uint8("function", f.function).Msg("Ignoring non-response datagram")
	}
}

// matches reports whether a reply answers req: it must come from our
// device (any device when addressed by the wildcard ID), carry every
// requested parameter and, for writes, echo the written value.
func (c *Client) matches(f *frame, entries []entry, req *pendingRequest) bool {
	if c.identity.DeviceID != DefaultDeviceID && f.deviceID != c.identity.DeviceID {
		return false
	}
	got := make(map[uint16]bool, len(entries))
	for _, e := range entries {
		got[e.id] = true
	}
	for _, id := range req.ids {
		if !got[id] {
			return false
		}
	}
	if req.echo != nil {
		for _, e := range entries {
			if e.id == req.ids[0] && !e.unsupported && !req.echo(e.value) {
				return false
			}
		}
	}
	return true
}

// echoMatcher returns the check a write acknowledgement must pass. The
// fan echoes the written value; reset triggers and toggle are echoed as
// whatever the fan did with them.
func echoMatcher(p *param, raw []byte) func([]byte) bool {
	switch {
	case p.trigger:
		return nil
	case p.key == KeyState && at(raw, 0) == 2:
		return func(v []byte) bool { return len(v) == 1 && v[0] <= 2 }
	}
	return func(v []byte) bool { return bytes.Equal(v, raw) }
}

func (c *Client) publish(snap *Snapshot) {
	c.mu.Lock()
	c.snapshot = snap
	c.updatedAt = time.Now()
	c.mu.Unlock()
}

func (c *Client) applyWrite(p *param, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return
	}
	next := c.snapshot.clone()
	switch {
	case p.apply != nil:
		p.apply(next, raw)
	case p.decode != nil:
		p.decode(next, raw)
	}
	c.snapshot = next
}

func (c *Client) current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func read[T any](c *Client, f func(*Snapshot) T) T {
	var zero T
	s := c.current()
	if s == nil {
		return zero
	}
	return f(s)
}

// Identity returns the connection parameters.
func (c *Client) Identity() Identity { return c.identity }

// ID returns the fan's device ID. For clients addressed by the wildcard
// ID it reports the ID the fan announced once a snapshot is available.
func (c *Client) ID() string {
	if c.identity.DeviceID == DefaultDeviceID {
		if s := c.current(); s != nil && s.DeviceID != "" {
			return s.DeviceID
		}
	}
	return c.identity.DeviceID
}

// Name returns the display name.
func (c *Client) Name() string { return c.identity.Name }

// Snapshot returns a copy of the last decoded snapshot and false if the
// fan has never been read.
func (c *Client) Snapshot() (Snapshot, bool) {
	s := c.current()
	if s == nil {
		return Snapshot{}, false
	}
	return *s.clone(), true
}

// Stats returns exchange counters.
func (c *Client) Stats() Stats {
	return Stats{
		Exchanges: c.exchanges.Load(),
		Attempts:  c.attempts.Load(),
		Failures:  c.failures.Load(),
		Malformed: c.malformed.Load(),
	}
}

// UpdatedAt returns when the last full snapshot was decoded.
func (c *Client) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

func (c *Client) State() string    { return read(c, func(s *Snapshot) string { return s.State }) }
func (c *Client) Speed() string    { return read(c, func(s *Snapshot) string { return s.Speed }) }
func (c *Client) Airflow() string  { return read(c, func(s *Snapshot) string { return s.Airflow }) }
func (c *Client) Humidity() int    { return read(c, func(s *Snapshot) int { return s.Humidity }) }
func (c *Client) BoostTime() int   { return read(c, func(s *Snapshot) int { return s.BoostTime }) }
func (c *Client) UnitType() string { return read(c, func(s *Snapshot) string { return s.UnitType }) }
func (c *Client) CurrentIP() string {
	return read(c, func(s *Snapshot) string { return s.CurrentIP })
}
func (c *Client) HumidityThreshold() int {
	return read(c, func(s *Snapshot) int { return s.HumidityThreshold })
}
func (c *Client) AnalogVoltageThreshold() int {
	return read(c, func(s *Snapshot) int { return s.AnalogVThreshold })
}

// BatteryVoltage returns the battery voltage in millivolts.
func (c *Client) BatteryVoltage() int {
	return read(c, func(s *Snapshot) int { return s.BatteryVoltage })
}

func (c *Client) Firmware() Firmware {
	return read(c, func(s *Snapshot) Firmware { return s.Firmware })
}

// ManSpeedPercent returns the manual speed setting as a percentage.
func (c *Client) ManSpeedPercent() int {
	return read(c, func(s *Snapshot) int { return s.ManSpeedPercent() })
}

func (c *Client) AlarmStatus() string {
	return read(c, func(s *Snapshot) string { return s.AlarmStatus })
}

// FilterTimer returns the time left until the filter needs replacing.
func (c *Client) FilterTimer() Countdown {
	return read(c, func(s *Snapshot) Countdown { return s.FilterTimer })
}

func (c *Client) FilterReplacement() string {
	return read(c, func(s *Snapshot) string { return s.FilterReplacement })
}
