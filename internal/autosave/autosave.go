// Package autosave debounces edit notifications into single background
// writes and tracks what the editor shows as its save status.
//
// STATE MACHINE:
//
//	idle ──Notify──▶ pending ──timer──▶ saving ──ok──▶ idle    (status "saved")
//	                   ▲  │                  └──err──▶ pending (status "unsaved")
//	                   └──┘ Notify restarts the timer
//
// At most one write started by the timer is in flight at a time. A Notify
// that arrives while saving is remembered, and once the write settles the
// coordinator goes back to pending and re-arms the timer.
//
// The "saved" status decays back to "" after a short delay. That decay is
// display only; it never changes the state.
//
// Flush is the manual save path: it skips the timer and writes immediately.
// It does not wait for or block an autosave already in flight, so both may
// reach the store and the later one wins. An autosave that fails after a
// manual save succeeded is stale and leaves the status alone.
//
// A SaveFunc returns ErrSkipped when there is nothing it may write. That
// settles like no write happened at all: the status is not "saved".
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultDelay      = 2000 * time.Millisecond
	DefaultSavedDecay = 2000 * time.Millisecond
)

type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateSaving  State = "saving"
)

// Status is the indicator shown to the user. It is separate from State.
type Status string

const (
	StatusNone    Status = ""
	StatusSaving  Status = "saving"
	StatusSaved   Status = "saved"
	StatusUnsaved Status = "unsaved"
)

// ErrSkipped is returned by a SaveFunc that declined to write, for example
// because the draft has no title yet.
var ErrSkipped = errors.New("autosave: nothing to save")

// SaveFunc persists whatever the caller currently holds.
type SaveFunc func(ctx context.Context) error

// Snapshot is a consistent view of the coordinator.
type Snapshot struct {
	State     State  `json:"state"`
	Status    Status `json:"status"`
	Enabled   bool   `json:"enabled"`
	LastError string `json:"lastError,omitempty"`
}

type Option func(*Coordinator)

func WithDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.delay = d
		}
	}
}

func WithSavedDecay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.decay = d
		}
	}
}

func WithEnabled(enabled bool) Option {
	return func(c *Coordinator) { c.enabled = enabled }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithContext sets the context background writes run under. Cancelling it
// makes later writes fail fast; it never interrupts the coordinator itself.
func WithContext(ctx context.Context) Option {
	return func(c *Coordinator) { c.ctx = ctx }
}

// WithWriteCounter counts every write by trigger (auto, manual) and result
// (ok, error, skipped).
func WithWriteCounter(counter *prometheus.CounterVec) Option {
	return func(c *Coordinator) { c.writes = counter }
}

type Coordinator struct {
	save   SaveFunc
	delay  time.Duration
	decay  time.Duration
	ctx    context.Context
	logger *slog.Logger
	writes *prometheus.CounterVec

	mu       sync.Mutex
	enabled  bool
	closed   bool
	state    State
	status   Status
	lastErr  error
	dirty    bool // a change arrived while saving
	timer    *time.Timer
	timerGen uint64
	decayGen uint64
	decayT   *time.Timer
	// manualGen counts successful manual saves. An autosave that started
	// before one of them cannot mark the content unsaved.
	manualGen uint64
}

// New builds an idle, enabled coordinator around save.
func New(save SaveFunc, opts ...Option) *Coordinator {
	c := &Coordinator{
		save:    save,
		delay:   DefaultDelay,
		decay:   DefaultSavedDecay,
		ctx:     context.Background(),
		logger:  slog.Default(),
		enabled: true,
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify reports that tracked content changed. The caller decides whether
// the change qualifies (a snippet is selected or a title is present).
func (c *Coordinator) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.enabled {
		return
	}
	if c.state == StateSaving {
		c.dirty = true
		return
	}
	c.state = StatePending
	c.armLocked()
}

// Flush writes immediately, bypassing the debounce timer, and reports the
// result to the caller.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.stopTimerLocked()
	if c.state == StateSaving {
		// This write carries the newest content, so the in-flight autosave
		// does not need to re-arm for changes it missed.
		c.dirty = false
	}
	prev := c.status
	c.stopDecayLocked()
	c.status = StatusSaving
	c.mu.Unlock()

	err := c.save(ctx)
	c.count("manual", err)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case errors.Is(err, ErrSkipped):
		if c.status == StatusSaving && c.state != StateSaving {
			c.restoreStatusLocked(prev)
		}
		if c.state == StatePending && c.timer == nil {
			c.state = StateIdle
		}
		return err
	case err != nil:
		c.status = StatusUnsaved
		c.lastErr = err
		if c.state == StateIdle {
			c.state = StatePending
		}
		return err
	}

	c.manualGen++
	c.lastErr = nil
	c.markSavedLocked()
	// A Notify during the write re-armed the timer; leave that alone.
	if c.state == StatePending && c.timer == nil {
		c.state = StateIdle
	}
	return nil
}

// Cancel drops pending changes without writing them. The editor calls it
// when the draft stops qualifying for a save.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.dirty = false
	if c.state == StatePending {
		c.state = StateIdle
	}
}

// SetEnabled turns autosave on or off. Turning it off drops a pending
// timer but leaves a write already in flight alone.
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = enabled
	if !enabled && c.state == StatePending {
		c.stopTimerLocked()
		c.state = StateIdle
	}
}

// Pending reports whether there are changes no write has picked up yet.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StatePending || c.dirty
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{State: c.state, Status: c.status, Enabled: c.enabled}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Reset returns to idle with a neutral status, dropping any pending timer.
// Used when the editor switches to another snippet.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.stopDecayLocked()
	c.dirty = false
	c.lastErr = nil
	c.status = StatusNone
	if c.state != StateSaving {
		c.state = StateIdle
	}
}

// Close stops all timers. An in-flight write still completes.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopTimerLocked()
	c.stopDecayLocked()
}

func (c *Coordinator) armLocked() {
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = time.AfterFunc(c.delay, func() { c.fire(gen) })
}

// stopTimerLocked cancels the debounce timer. Bumping the generation also
// neutralises a timer whose callback has already started.
func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Coordinator) stopDecayLocked() {
	if c.decayT != nil {
		c.decayT.Stop()
		c.decayT = nil
	}
	c.decayGen++
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen || c.state != StatePending {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateSaving
	prev := c.status
	c.status = StatusSaving
	c.stopDecayLocked()
	manual := c.manualGen
	c.mu.Unlock()

	err := c.save(c.ctx)
	c.count("auto", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked(err, prev, manual != c.manualGen)
}

// settleLocked applies the result of an autosave. prev is the status shown
// before the write started; superseded is set when a manual save succeeded
// while the write was in flight.
func (c *Coordinator) settleLocked(err error, prev Status, superseded bool) {
	skipped := errors.Is(err, ErrSkipped)
	switch {
	case skipped:
		if c.status == StatusSaving {
			c.restoreStatusLocked(prev)
		}
	case err != nil && superseded:
		c.logger.Debug("stale autosave failed after manual save", slog.String("error", err.Error()))
	case err != nil:
		c.status = StatusUnsaved
		c.lastErr = err
		c.logger.Warn("autosave failed", slog.String("error", err.Error()))
	default:
		c.lastErr = nil
		c.markSavedLocked()
	}

	switch {
	case c.dirty && c.enabled && !c.closed:
		c.dirty = false
		c.state = StatePending
		c.armLocked()
	case err != nil && !skipped && !superseded:
		// No automatic retry: the next edit or a manual save re-triggers.
		c.dirty = false
		c.state = StatePending
	default:
		c.dirty = false
		c.state = StateIdle
	}
}

// restoreStatusLocked puts back the status a skipped write replaced. A
// "saved" status gets a fresh decay, and a "saving" one clears.
func (c *Coordinator) restoreStatusLocked(prev Status) {
	switch prev {
	case StatusSaved:
		c.markSavedLocked()
	case StatusSaving:
		c.status = StatusNone
	default:
		c.status = prev
	}
}

func (c *Coordinator) markSavedLocked() {
	c.stopDecayLocked()
	c.status = StatusSaved
	if c.closed {
		return
	}
	gen := c.decayGen
	c.decayT = time.AfterFunc(c.decay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen == c.decayGen && c.status == StatusSaved {
			c.status = StatusNone
			c.decayT = nil
		}
	})
}

func (c *Coordinator) count(trigger string, err error) {
	if c.writes == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrSkipped):
		result = "skipped"
	case err != nil:
		result = "error"
	}
	c.writes.WithLabelValues(trigger, result).Inc()
}
