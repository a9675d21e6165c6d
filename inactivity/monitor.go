package inactivity

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/indura/sessionkit/storage"
)

// DefaultActivityKey is the shared last-activity key.
const DefaultActivityKey = "indura:lastActivityAt"

// Config tunes a [Monitor]. Zero fields take the defaults.
type Config struct {
	IdleTimeout    time.Duration
	PollInterval   time.Duration
	Key            string
	ThrottleWindow time.Duration
	// WarnBefore enables the warning callback when positive.
	WarnBefore time.Duration
}

// DefaultConfig returns a 10 minute threshold polled every 2 seconds with a one
// second write window.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:    10 * time.Minute,
		PollInterval:   2 * time.Second,
		Key:            DefaultActivityKey,
		ThrottleWindow: time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if strings.TrimSpace(c.Key) == "" {
		c.Key = d.Key
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = d.ThrottleWindow
	}
	if c.WarnBefore < 0 {
		c.WarnBefore = 0
	}
	return c
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a [Monitor].
type Option func(*Monitor)

// WithClock replaces the wall clock. Tests drive [Monitor.Poll] by hand with it.
func WithClock(c Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithWarning registers fn to be called once per episode when the remaining idle time
// drops to Config.WarnBefore or less.
func WithWarning(fn func(remaining time.Duration)) Option {
	return func(m *Monitor) { m.onWarning = fn }
}

// WithoutPolling disables the background ticker; the owner calls [Monitor.Poll].
func WithoutPolling() Option {
	return func(m *Monitor) { m.manualPoll = true }
}

// Monitor tracks activity for one tab. It is safe for concurrent use.
type Monitor struct {
	cfg        Config
	port       storage.Port
	clock      Clock
	logger     *slog.Logger
	onExpire   func()
	onWarning  func(remaining time.Duration)
	manualPoll bool

	mu          sync.Mutex
	last        time.Time
	expired     bool
	warned      bool
	hidden      bool
	gate        *rate.Limiter
	started     bool
	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
}

// New creates a monitor. onExpire runs on the polling goroutine (or the caller of
// Poll) and must be idempotent in effect: every tab sharing the key expires on its own.
func New(port storage.Port, cfg Config, onExpire func(), opts ...Option) *Monitor {
	cfg = cfg.withDefaults()
	m := &Monitor{
		cfg:      cfg,
		port:     port,
		clock:    systemClock{},
		logger:   slog.Default(),
		onExpire: onExpire,
		gate:     rate.NewLimiter(rate.Every(cfg.ThrottleWindow), 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.last = m.clock.Now()
	return m
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Start seeds the last-activity time from storage (falling back to now), subscribes to
// other tabs' writes and starts polling. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	now := m.clock.Now()
	seed := now
	raw, ok, err := m.port.Get(ctx, m.cfg.Key)
	if err != nil {
		m.logger.Debug("inactivity: read activity key failed", "key", m.cfg.Key, "error", err)
	} else if ok {
		if ts, ok := ParseStamp(raw); ok && !ts.After(now) {
			seed = ts
		}
	}

	cancel := m.port.Subscribe(m.handleEvent, m.cfg.Key)

	m.mu.Lock()
	m.last = seed
	m.unsubscribe = cancel
	if !m.manualPoll {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.run(m.stop, m.done)
	}
	m.mu.Unlock()
	return nil
}

func (m *Monitor) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Poll()
		case <-stop:
			return
		}
	}
}

// Stop ends polling and unsubscribes. The monitor may be started again.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done, cancel := m.stop, m.done, m.unsubscribe
	m.stop, m.done, m.unsubscribe = nil, nil, nil
	m.started = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stop != nil {
		close(stop)
		<-done
	}
}

func (m *Monitor) handleEvent(ev storage.Event) {
	if ev.Key != m.cfg.Key || ev.Removed {
		return
	}
	ts, ok := ParseStamp(ev.Value)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired {
		return
	}
	if now := m.clock.Now(); ts.After(now) {
		ts = now
	}
	if ts.After(m.last) {
		m.last = ts
	}
}

// RecordActivity notes a local interaction. The shared key is written at most once per
// throttle window. Activity after expiry is ignored until [Monitor.Reset].
func (m *Monitor) RecordActivity(ctx context.Context, kind EventKind) {
	now := m.clock.Now()
	m.mu.Lock()
	if m.expired {
		m.mu.Unlock()
		return
	}
	m.last = now
	write := m.gate.AllowN(now, 1)
	m.mu.Unlock()

	if write {
		m.write(ctx, now, kind.String())
	}
}

// VisibilityChanged reports a tab visibility transition. Becoming visible after being
// hidden counts as activity and is written immediately.
func (m *Monitor) VisibilityChanged(ctx context.Context, visible bool) {
	now := m.clock.Now()
	m.mu.Lock()
	wasHidden := m.hidden
	m.hidden = !visible
	if !visible || !wasHidden || m.expired {
		m.mu.Unlock()
		return
	}
	m.last = now
	m.gate.AllowN(now, 1)
	m.mu.Unlock()

	m.write(ctx, now, "visibilitychange")
}

// Poll runs one check and reports whether the monitor is expired.
func (m *Monitor) Poll() bool {
	now := m.clock.Now()
	m.mu.Lock()
	if m.expired {
		m.mu.Unlock()
		return true
	}
	idle := now.Sub(m.last)
	remaining := m.cfg.IdleTimeout - idle

	fireExpire := idle > m.cfg.IdleTimeout
	fireWarn := false
	if fireExpire {
		m.expired = true
	} else if m.cfg.WarnBefore > 0 {
		if remaining <= m.cfg.WarnBefore {
			fireWarn = !m.warned
			m.warned = true
		} else {
			m.warned = false
		}
	}
	onExpire, onWarning := m.onExpire, m.onWarning
	m.mu.Unlock()

	if fireWarn && onWarning != nil {
		onWarning(remaining)
	}
	if fireExpire {
		m.logger.Info("inactivity: idle threshold exceeded", "idle", idle, "threshold", m.cfg.IdleTimeout)
		if onExpire != nil {
			onExpire()
		}
	}
	return fireExpire
}

// Reset starts a new episode from now and publishes the timestamp.
func (m *Monitor) Reset(ctx context.Context) {
	now := m.clock.Now()
	m.mu.Lock()
	m.expired = false
	m.warned = false
	m.last = now
	m.gate.AllowN(now, 1)
	m.mu.Unlock()

	m.write(ctx, now, "reset")
}

// IsExpired reports whether the current episode has expired.
func (m *Monitor) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// LastActivity returns the last known activity time across tabs.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Remaining returns the idle time left before expiry, never negative.
func (m *Monitor) Remaining() time.Duration {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired {
		return 0
	}
	if r := m.cfg.IdleTimeout - now.Sub(m.last); r > 0 {
		return r
	}
	return 0
}

func (m *Monitor) write(ctx context.Context, at time.Time, source string) {
	if err := Stamp(ctx, m.port, m.cfg.Key, at); err != nil {
		m.logger.Debug("inactivity: activity write failed", "key", m.cfg.Key, "source", source, "error", err)
	}
}

// Stamp writes t to key as epoch milliseconds.
func Stamp(ctx context.Context, port storage.Port, key string, t time.Time) error {
	return port.Set(ctx, key, FormatStamp(t))
}

// FormatStamp encodes t as decimal epoch milliseconds.
func FormatStamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseStamp decodes an epoch-millisecond timestamp.
func ParseStamp(raw string) (time.Time, bool) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
