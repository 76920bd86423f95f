package vento

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ecovent/pkg/device"
	"github.com/urmzd/ecovent/pkg/poller"
)

// Actions accepted by Controller.RunAction.
const (
	ActionRefresh          = "refresh"
	ActionResetAlarms      = "reset_alarms"
	ActionResetFilterTimer = "reset_filter_timer"
)

// Manufacturer is reported for every fan.
const Manufacturer = "Blauberg"

var (
	actions        = []string{ActionRefresh, ActionResetAlarms, ActionResetFilterTimer}
	fanStateSchema = StateSchema()
	writeOrder     = buildWriteOrder()
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Store persists registrations. Nil keeps them in memory only.
	Store          device.RegistrationStore
	RetryPolicy    RetryPolicy
	PollInterval   time.Duration
	SearchTarget   string
	SearchPassword string
	// Dial builds the client for a registration. It defaults to New with
	// RetryPolicy.
	Dial func(reg device.Registration) (*Client, error)
}

// FanStatus is a point-in-time view of one registered fan. Snapshot is nil
// until the fan has answered once.
type FanStatus struct {
	ID        string
	Name      string
	Address   string
	DeviceID  string
	Snapshot  *Snapshot
	UpdatedAt time.Time
	Stats     Stats
	Available bool
	Poll      poller.Status
}

type fan struct {
	reg    device.Registration
	client *Client
	entity *Entity
}

// Controller implements device.Controller and device.EventSubscriber for
// Vento Expert fans on the local network.
type Controller struct {
	cfg      ControllerConfig
	registry *Registry
	poller   *poller.Coordinator

	mu   sync.RWMutex
	fans map[string]*fan

	subscribers   []chan device.Event
	subscribersMu sync.Mutex

	closed atomic.Bool
}

// NewController restores persisted registrations and starts polling them.
// Fans that do not answer are kept and retried by the poller until their
// first successful read.
func NewController(ctx context.Context, cfg ControllerConfig) (*Controller, error) {
	if cfg.RetryPolicy.Attempts == 0 {
		cfg.RetryPolicy = DefaultRetryPolicy()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = poller.DefaultInterval
	}
	if cfg.Dial == nil {
		policy := cfg.RetryPolicy
		cfg.Dial = func(reg device.Registration) (*Client, error) {
			return New(reg.Address, reg.Port, reg.Password, reg.HardwareID, reg.Name, WithRetryPolicy(policy))
		}
	}

	c := &Controller{
		cfg:      cfg,
		registry: NewRegistry(),
		fans:     make(map[string]*fan),
	}
	c.poller = poller.New(c.onPoll)

	if cfg.Store == nil {
		return c, nil
	}
	regs, err := cfg.Store.ListRegistrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}
	for _, reg := range regs {
		c.restore(ctx, reg)
	}
	log.Info().Int("fans", c.registry.Len()).Msg("Fan controller ready")
	return c, nil
}

func (c *Controller) restore(ctx context.Context, reg device.Registration) {
	client, err := c.cfg.Dial(reg)
	if err != nil {
		log.Error().Err(err).Str("id", reg.ID).Msg("Skipping invalid registration")
		return
	}
	if err := client.InitDevice(ctx); err != nil {
		log.Warn().Err(err).Str("id", reg.ID).Str("address", reg.Address).Msg("Fan unreachable, will retry")
	}
	if err := c.register(reg, client); err != nil {
		log.Error().Err(err).Str("id", reg.ID).Msg("Failed to register fan")
		_ = client.Close()
	}
}

func (c *Controller) register(reg device.Registration, client *Client) error {
	if err := c.registry.Add(reg.ID, client); err != nil {
		return err
	}
	interval := reg.PollInterval
	if interval <= 0 {
		interval = c.cfg.PollInterval
	}
	if err := c.poller.Add(reg.ID, fanTarget{client}, interval); err != nil {
		c.registry.Remove(reg.ID)
		return err
	}

	c.mu.Lock()
	c.fans[reg.ID] = &fan{reg: reg, client: client, entity: NewEntity(client)}
	c.mu.Unlock()
	return nil
}

// fanTarget keeps retrying the initial read until a fan has answered once.
type fanTarget struct {
	client *Client
}

func (t fanTarget) Refresh(ctx context.Context) error {
	if t.client.current() == nil {
		return t.client.InitDevice(ctx)
	}
	return t.client.Refresh(ctx)
}

func (c *Controller) onPoll(u poller.Update) {
	f, ok := c.byID(u.ID)
	if !ok {
		return
	}
	if u.Err != nil {
		if u.Failures == 1 {
			d := c.toDevice(f)
			c.publishEvent(device.Event{Type: device.EventDeviceUnavailable, Device: &d, Error: u.Err.Error()})
		}
		return
	}
	d := c.toDevice(f)
	c.publishEvent(device.Event{Type: device.EventStateChanged, Device: &d, State: c.stateOf(f)})
}

// publishEvent sends an event to all subscribers.
func (c *Controller) publishEvent(evt device.Event) {
	evt.ID = uuid.NewString()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()

	for _, ch := range c.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (c *Controller) byID(id string) (*fan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fans[id]
	return f, ok
}

// lookup resolves a registration ID, a name or a hardware ID.
func (c *Controller) lookup(id string) (*fan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if f, ok := c.fans[id]; ok {
		return f, nil
	}
	for _, f := range c.fans {
		if strings.EqualFold(f.reg.Name, id) || strings.EqualFold(f.client.ID(), id) {
			return f, nil
		}
	}
	return nil, device.ErrNotFound
}

func (c *Controller) toDevice(f *fan) device.Device {
	c.mu.RLock()
	reg := f.reg
	c.mu.RUnlock()

	d := device.Device{
		ID:           reg.ID,
		Name:         reg.Name,
		Type:         device.DeviceTypeFan,
		Protocol:     device.ProtocolWiFi,
		Manufacturer: Manufacturer,
		Model:        "Vento Expert",
		Address:      reg.Address,
		HardwareID:   f.client.ID(),
		StateSchema:  fanStateSchema,
		Actions:      actions,
	}

	snap, ok := f.client.Snapshot()
	if !ok {
		return d
	}
	st, _ := c.poller.Status(reg.ID)
	d.Model = snap.UnitType
	d.Firmware = snap.Firmware.String()
	d.Available = !st.Stale
	d.LastSeen = f.client.UpdatedAt()
	d.Exposes, _ = json.Marshal(map[string]any{
		"writable":     WritableKeys(),
		"unsupported":  snap.Unsupported,
		"preset_modes": PresetModes,
	})
	return d
}

// stateOf returns the raw parameter map plus the fan entity view.
func (c *Controller) stateOf(f *fan) device.DeviceState {
	snap, ok := f.client.Snapshot()
	if !ok {
		return nil
	}
	state := device.DeviceState(snap.Map())
	state[EntityPresetMode] = f.entity.PresetMode()
	state[EntityPercentage] = f.entity.Percentage()
	state[EntityDirection] = f.entity.Direction()
	state[EntityOscillating] = f.entity.Oscillating()
	return state
}

// --- device.Controller interface ---

func (c *Controller) ListDevices(_ context.Context) ([]device.Device, error) {
	c.mu.RLock()
	fans := make([]*fan, 0, len(c.fans))
	for _, f := range c.fans {
		fans = append(fans, f)
	}
	c.mu.RUnlock()

	devices := make([]device.Device, 0, len(fans))
	for _, f := range fans {
		devices = append(devices, c.toDevice(f))
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func (c *Controller) GetDevice(_ context.Context, id string) (*device.Device, error) {
	f, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	d := c.toDevice(f)
	return &d, nil
}

// AddDevice reads the fan once and registers it only if it answers.
func (c *Controller) AddDevice(ctx context.Context, reg device.Registration) (*device.Device, error) {
	if c.closed.Load() {
		return nil, device.ErrNotConnected
	}
	if reg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", device.ErrValidation)
	}
	if reg.Port == 0 {
		reg.Port = DefaultPort
	}
	if reg.Password == "" {
		reg.Password = DefaultPassword
	}
	if reg.PollInterval <= 0 {
		reg.PollInterval = c.cfg.PollInterval
	}
	if c.hasAddress(reg.Address, reg.Port) {
		return nil, fmt.Errorf("%w: %s:%d", device.ErrAlreadyExists, reg.Address, reg.Port)
	}

	client, err := c.cfg.Dial(reg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrValidation, err)
	}
	if err := client.InitDevice(ctx); err != nil {
		_ = client.Close()
		return nil, translate(err)
	}

	if reg.HardwareID == "" || reg.HardwareID == DefaultDeviceID {
		reg.HardwareID = client.ID()
	}
	if reg.ID == "" {
		reg.ID = registrationID(reg.HardwareID)
	}
	if reg.Name == "" {
		reg.Name = client.Name()
	}
	reg.CreatedAt = time.Now().UTC()

	if _, ok := c.registry.Get(reg.ID); ok {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s", device.ErrAlreadyExists, reg.ID)
	}
	if c.cfg.Store != nil {
		if err := c.cfg.Store.CreateRegistration(ctx, &reg); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	if err := c.register(reg, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	f, _ := c.byID(reg.ID)
	d := c.toDevice(f)
	c.publishEvent(device.Event{Type: device.EventDeviceAdded, Device: &d, State: c.stateOf(f)})

	log.Info().Str("id", reg.ID).Str("address", reg.Address).Str("hardware_id", reg.HardwareID).Msg("Fan added")
	return &d, nil
}

func (c *Controller) hasAddress(address string, port int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.fans {
		if strings.EqualFold(f.reg.Address, address) && f.reg.Port == port {
			return true
		}
	}
	return false
}

// registrationID derives a stable ID from the hardware ID when the fan
// reported one.
func registrationID(hardwareID string) string {
	if hardwareID == "" || hardwareID == DefaultDeviceID {
		return uuid.NewString()
	}
	return strings.ToLower(hardwareID)
}

func (c *Controller) RenameDevice(ctx context.Context, id, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("%w: name is required", device.ErrValidation)
	}
	f, err := c.lookup(id)
	if err != nil {
		return err
	}
	if c.cfg.Store != nil {
		if err := c.cfg.Store.RenameRegistration(ctx, f.reg.ID, newName); err != nil {
			return err
		}
	}
	c.mu.Lock()
	f.reg.Name = newName
	c.mu.Unlock()
	return nil
}

func (c *Controller) RemoveDevice(ctx context.Context, id string) error {
	f, err := c.lookup(id)
	if err != nil {
		return err
	}
	regID := f.reg.ID
	if c.cfg.Store != nil {
		if err := c.cfg.Store.DeleteRegistration(ctx, regID); err != nil {
			return err
		}
	}

	d := c.toDevice(f)
	c.poller.Remove(regID)
	c.registry.Remove(regID)
	c.mu.Lock()
	delete(c.fans, regID)
	c.mu.Unlock()

	c.publishEvent(device.Event{Type: device.EventDeviceRemoved, Device: &d})
	log.Info().Str("id", regID).Msg("Fan removed")
	return nil
}

func (c *Controller) GetDeviceState(_ context.Context, id string) (device.DeviceState, error) {
	f, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	state := c.stateOf(f)
	if state == nil {
		return nil, fmt.Errorf("%w: %s has not answered yet", device.ErrUnreachable, f.reg.ID)
	}
	return state, nil
}

// SetDeviceState validates every key before writing any of them, then
// applies preset and percentage first, raw parameters in table order, and
// direction and oscillation last.
func (c *Controller) SetDeviceState(ctx context.Context, id string, state map[string]any) (device.DeviceState, error) {
	f, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	if len(state) == 0 {
		return nil, fmt.Errorf("%w: empty state", device.ErrValidation)
	}

	steps, err := planWrites(f.entity, state)
	if err != nil {
		return nil, translate(err)
	}

	for i, step := range steps {
		if err := step(ctx); err != nil {
			if i > 0 {
				c.poller.RequestRefresh(f.reg.ID)
			}
			return nil, translate(err)
		}
	}
	c.poller.RequestRefresh(f.reg.ID)

	result := c.stateOf(f)
	d := c.toDevice(f)
	c.publishEvent(device.Event{Type: device.EventStateChanged, Device: &d, State: result})
	return result, nil
}

type writeStep func(ctx context.Context) error

func planWrites(e *Entity, state map[string]any) ([]writeStep, error) {
	var steps []writeStep

	if v, ok := state[EntityPresetMode]; ok {
		mode, isString := v.(string)
		if !isString || !validPreset(mode) {
			return nil, fmt.Errorf("%w: %s=%v not in %v", ErrInvalidParameter, EntityPresetMode, v, PresetModes)
		}
		steps = append(steps, func(ctx context.Context) error { return e.SetPresetMode(ctx, mode) })
	}
	if v, ok := state[EntityPercentage]; ok {
		n, err := toInt(v)
		if err != nil || n < 0 || n > 100 {
			return nil, fmt.Errorf("%w: %s=%v outside [0,100]", ErrInvalidParameter, EntityPercentage, v)
		}
		steps = append(steps, func(ctx context.Context) error { return e.SetPercentage(ctx, int(n)) })
	}

	for _, key := range writeOrder {
		v, ok := state[key]
		if !ok {
			continue
		}
		if _, _, err := lookupWritable(key, v); err != nil {
			return nil, err
		}
		steps = append(steps, func(ctx context.Context) error { return e.client.SetParam(ctx, key, v) })
	}

	if v, ok := state[EntityDirection]; ok {
		dir, isString := v.(string)
		if !isString || (dir != DirectionForward && dir != DirectionReverse) {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidParameter, EntityDirection, v)
		}
		steps = append(steps, func(ctx context.Context) error { return e.SetDirection(ctx, dir) })
	}
	if v, ok := state[EntityOscillating]; ok {
		on, isBool := v.(bool)
		if !isBool {
			return nil, fmt.Errorf("%w: %s expects a boolean, got %T", ErrInvalidParameter, EntityOscillating, v)
		}
		steps = append(steps, func(ctx context.Context) error { return e.Oscillate(ctx, on) })
	}

	for key := range state {
		if !knownStateKey(key) {
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidParameter, key)
		}
	}
	return steps, nil
}

func knownStateKey(key string) bool {
	switch key {
	case EntityPresetMode, EntityPercentage, EntityDirection, EntityOscillating:
		return true
	}
	p, ok := paramsByKey[key]
	return ok && p.encode != nil
}

func buildWriteOrder() []string {
	var order []string
	for _, p := range params {
		if p.encode == nil {
			continue
		}
		order = append(order, p.key)
		if p.key == KeyManSpeed {
			order = append(order, KeyManSpeedPercent)
		}
	}
	return order
}

// RunAction triggers one of the fan's service actions.
func (c *Controller) RunAction(ctx context.Context, id, action string) (device.DeviceState, error) {
	f, err := c.lookup(id)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionResetFilterTimer:
		err = f.client.ResetFilterTimer(ctx)
	case ActionResetAlarms:
		err = f.client.ResetAlarms(ctx)
	case ActionRefresh:
		err = fanTarget{f.client}.Refresh(ctx)
	default:
		return nil, fmt.Errorf("%w: action %q", device.ErrUnsupported, action)
	}
	if err != nil {
		return nil, translate(err)
	}
	if action != ActionRefresh {
		c.poller.RequestRefresh(f.reg.ID)
	}

	log.Info().Str("id", f.reg.ID).Str("action", action).Msg("Action completed")
	return c.stateOf(f), nil
}

// Discover searches the LAN and returns fans that are not registered yet.
func (c *Controller) Discover(ctx context.Context, timeout time.Duration) ([]device.Device, error) {
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found, err := Discover(ctx, c.cfg.SearchTarget, c.cfg.SearchPassword)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	c.mu.RLock()
	for _, f := range c.fans {
		known[strings.ToUpper(f.reg.HardwareID)] = true
		known[strings.ToUpper(f.client.ID())] = true
	}
	c.mu.RUnlock()

	devices := make([]device.Device, 0, len(found))
	for _, fd := range found {
		if known[strings.ToUpper(fd.DeviceID)] {
			continue
		}
		d := device.Device{
			ID:           registrationID(fd.DeviceID),
			Name:         fd.DeviceID,
			Type:         device.DeviceTypeFan,
			Protocol:     device.ProtocolWiFi,
			Manufacturer: Manufacturer,
			Model:        fd.UnitType,
			Address:      fd.Address,
			HardwareID:   fd.DeviceID,
			StateSchema:  fanStateSchema,
		}
		devices = append(devices, d)
		c.publishEvent(device.Event{Type: device.EventDeviceFound, Device: &d})
	}
	return devices, nil
}

func (c *Controller) IsConnected() bool {
	return !c.closed.Load()
}

func (c *Controller) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.poller.Close()
	c.registry.Close()
	c.mu.Lock()
	c.fans = make(map[string]*fan)
	c.mu.Unlock()
	log.Info().Msg("Fan controller closed")
}

// Fans returns the status of every registered fan, sorted by ID.
func (c *Controller) Fans() []FanStatus {
	c.mu.RLock()
	out := make([]FanStatus, 0, len(c.fans))
	clients := make([]*Client, 0, len(c.fans))
	for id, f := range c.fans {
		out = append(out, FanStatus{ID: id, Name: f.reg.Name, Address: f.reg.Address})
		clients = append(clients, f.client)
	}
	c.mu.RUnlock()

	for i, client := range clients {
		st, _ := c.poller.Status(out[i].ID)
		out[i].Poll = st
		out[i].DeviceID = client.ID()
		out[i].Stats = client.Stats()
		out[i].UpdatedAt = client.UpdatedAt()
		if snap := client.current(); snap != nil {
			out[i].Snapshot = snap.clone()
			out[i].Available = !st.Stale
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- device.EventSubscriber interface ---

func (c *Controller) Subscribe() chan device.Event {
	ch := make(chan device.Event, 16)
	c.subscribersMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subscribersMu.Unlock()
	return ch
}

func (c *Controller) Unsubscribe(ch chan device.Event) {
	c.subscribersMu.Lock()
	defer c.subscribersMu.Unlock()

	for i, sub := range c.subscribers {
		if sub == ch {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// translate maps client errors onto the device error set.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidParameter):
		return fmt.Errorf("%w: %w", device.ErrValidation, err)
	case errors.Is(err, ErrDeviceUnreachable):
		return fmt.Errorf("%w: %w", device.ErrUnreachable, err)
	case errors.Is(err, ErrCommunication):
		return fmt.Errorf("%w: %w", device.ErrTimeout, err)
	}
	return err
}
