package editor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/sakif/codeflow/internal/apperror"
)

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepSchedule = "@every 1m"
)

type ManagerOption func(*Manager)

// WithIdleTimeout sets how long a session may go untouched before a sweep
// evicts it.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.idle = d
		}
	}
}

// WithSessionGauge tracks the number of live sessions.
func WithSessionGauge(g prometheus.Gauge) ManagerOption {
	return func(m *Manager) { m.gauge = g }
}

func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager keeps one editor session per signed-in user.
type Manager struct {
	deps   Deps
	logger *slog.Logger
	idle   time.Duration
	gauge  prometheus.Gauge
	now    func() time.Time
	cron   *cron.Cron

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, opts ...ManagerOption) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	m := &Manager{
		deps:     deps,
		logger:   deps.Logger,
		idle:     DefaultIdleTimeout,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the owner's session, opening one on first use.
func (m *Manager) Session(owner string) (*Session, error) {
	if owner == "" {
		return nil, apperror.Unauthenticated()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[owner]
	if !ok {
		s = NewSession(owner, DefaultLanguage, m.deps)
		m.sessions[owner] = s
		m.logger.Debug("editor session opened", slog.String("owner", owner))
		m.report()
	}
	return s, nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start runs Sweep on schedule (cron syntax, "@every 1m" by default).
func (m *Manager) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m.Sweep(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	m.cron = c
	m.logger.Info("editor session sweeper started",
		slog.String("schedule", schedule),
		slog.Duration("idleTimeout", m.idle),
	)
	return nil
}

// Sweep evicts sessions idle for longer than the idle timeout. A session
// whose pending changes cannot be saved is kept for the next sweep.
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.LastUsed().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	evicted := 0
	for _, s := range idle {
		if err := s.flushPending(ctx); err != nil {
			m.logger.Warn("keeping idle session with unsaved changes",
				slog.String("owner", s.Owner()),
				slog.String("error", err.Error()),
			)
			continue
		}

		m.mu.Lock()
		// The owner may have come back while we were saving.
		if cur, ok := m.sessions[s.Owner()]; ok && cur == s && s.LastUsed().Before(cutoff) {
			delete(m.sessions, s.Owner())
			evicted++
			m.report()
			m.mu.Unlock()
			_ = s.Close(ctx)
			continue
		}
		m.mu.Unlock()
	}

	if evicted > 0 {
		m.logger.Info("evicted idle editor sessions", slog.Int("count", evicted))
	}
	if m.deps.Limiter != nil {
		if n := m.deps.Limiter.Prune(); n > 0 {
			m.logger.Debug("pruned refilled rate limit buckets", slog.Int("count", n))
		}
	}
	return evicted
}

// Stop halts the sweeper and closes every session, saving pending changes.
func (m *Manager) Stop(ctx context.Context) {
	if m.cron != nil {
		select {
		case <-m.cron.Stop().Done():
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.report()
	m.mu.Unlock()

	for owner, s := range sessions {
		if err := s.Close(ctx); err != nil {
			m.logger.Error("unsaved changes lost on shutdown",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (m *Manager) report() {
	if m.gauge != nil {
		m.gauge.Set(float64(len(m.sessions)))
	}
}
