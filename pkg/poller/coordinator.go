// Package poller refreshes devices on a fixed interval and tracks which
// ones have gone stale.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval matches the update interval of the Home Assistant integration.
const DefaultInterval = 60 * time.Second

// ErrExists is returned when a target ID is already scheduled.
var ErrExists = errors.New("target already scheduled")

// Target is anything that can re-read its state on demand.
type Target interface {
	Refresh(ctx context.Context) error
}

// Update is delivered after every refresh attempt.
type Update struct {
	ID       string
	Err      error
	At       time.Time
	Failures int // consecutive failures including this one
}

// Status describes the polling health of one target. LastSuccess is zero
// until a scheduled refresh succeeds.
type Status struct {
	LastAttempt time.Time
	LastSuccess time.Time
	LastError   error
	Failures    int
	Stale       bool
}

type job struct {
	id       string
	target   Target
	interval time.Duration
	kick     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	status   Status
}

// Coordinator runs one polling loop per target.
type Coordinator struct {
	notify func(Update)

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
}

// New returns a coordinator that calls notify after every refresh. notify
// runs on the polling goroutine and must not block for long.
func New(notify func(Update)) *Coordinator {
	if notify == nil {
		notify = func(Update) {}
	}
	return &Coordinator{notify: notify, jobs: make(map[string]*job)}
}

// Add schedules t under id. The first refresh happens one interval from
// now; callers are expected to have read the device once already.
func (c *Coordinator) Add(id string, t Target, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("coordinator closed")
	}
	if _, ok := c.jobs[id]; ok {
		return ErrExists
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:       id,
		target:   t,
		interval: interval,
		kick:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.jobs[id] = j
	go c.run(ctx, j)

	log.Debug().Str("id", id).Dur("interval", interval).Msg("Polling scheduled")
	return nil
}

// Remove stops polling id and waits for an in-flight refresh to finish.
func (c *Coordinator) Remove(id string) bool {
	c.mu.Lock()
	j, ok := c.jobs[id]
	delete(c.jobs, id)
	c.mu.Unlock()

	if !ok {
		return false
	}
	j.cancel()
	<-j.done
	return true
}

// RequestRefresh asks for an out-of-schedule refresh of id. Requests made
// while one is already pending are merged.
func (c *Coordinator) RequestRefresh(id string) bool {
	c.mu.Lock()
	j, ok := c.jobs[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case j.kick <- struct{}{}:
	default:
	}
	return true
}

// Status returns the polling status of id.
func (c *Coordinator) Status(id string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return Status{}, false
	}
	return j.status, true
}

// Close stops every loop.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	jobs := make([]*job, 0, len(c.jobs))
	for id, j := range c.jobs {
		jobs = append(jobs, j)
		delete(c.jobs, id)
	}
	c.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		<-j.done
	}
}

func (c *Coordinator) run(ctx context.Context, j *job) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-j.kick:
			ticker.Reset(j.interval)
		}
		c.poll(ctx, j)
	}
}

func (c *Coordinator) poll(ctx context.Context, j *job) {
	err := j.target.Refresh(ctx)
	if ctx.Err() != nil {
		return
	}
	now := time.Now()

	c.mu.Lock()
	st := &j.status
	st.LastAttempt = now
	st.LastError = err
	wasStale := st.Stale
	if err != nil {
		st.Failures++
		st.Stale = true
	} else {
		st.Failures = 0
		st.Stale = false
		st.LastSuccess = now
	}
	failures := st.Failures
	c.mu.Unlock()

	switch {
	case err != nil:
		log.Warn().Err(err).Str("id", j.id).Int("failures", failures).Msg("Refresh failed, keeping last known state")
	case wasStale:
		log.Info().Str("id", j.id).Msg("Device reachable again")
	}

	c.notify(Update{ID: j.id, Err: err, At: now, Failures: failures})
}
