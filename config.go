package sessionkit

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/indura/sessionkit/guard"
	"github.com/indura/sessionkit/inactivity"
	"github.com/indura/sessionkit/storage"
)

// Config defines a public type used by sessionkit APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Session    SessionConfig    `mapstructure:"session"`
	Inactivity InactivityConfig `mapstructure:"inactivity"`
	Routes     RoutesConfig     `mapstructure:"routes"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig points at the remote authentication API.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig selects the shared origin the tabs use.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"` // "memory" (default), "redis" or "file"
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	Dir         string `mapstructure:"dir"`
	// Namespace prefixes every session key; empty keeps the bare names.
	Namespace string `mapstructure:"namespace"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig defines a public type used by sessionkit APIs.
//
// SessionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SessionConfig struct {
	ClearAttempts       int           `mapstructure:"clear_attempts"`
	WriteLegacyFlag     bool          `mapstructure:"write_legacy_flag"`
	RejectExpiredTokens bool          `mapstructure:"reject_expired_tokens"`
	ExpiryLeeway        time.Duration `mapstructure:"expiry_leeway"`
}

/*
====================================
INACTIVITY CONFIG
====================================
*/

// InactivityConfig configures idle sign-out. The dashboard uses a five minute
// threshold; the monitor's own default is ten.
type InactivityConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ActivityKey    string        `mapstructure:"activity_key"`
	ThrottleWindow time.Duration `mapstructure:"throttle_window"`
	WarnBefore     time.Duration `mapstructure:"warn_before"`
}

func (c InactivityConfig) monitorConfig() inactivity.Config {
	return inactivity.Config{
		IdleTimeout:    c.IdleTimeout,
		PollInterval:   c.PollInterval,
		Key:            c.ActivityKey,
		ThrottleWindow: c.ThrottleWindow,
		WarnBefore:     c.WarnBefore,
	}
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig names the guard's special screens and home areas.
type RoutesConfig struct {
	SignIn         string `mapstructure:"sign_in"`
	ChangePassword string `mapstructure:"change_password"`
	AdminHome      string `mapstructure:"admin_home"`
	ProviderHome   string `mapstructure:"provider_home"`
}

// Table builds the dashboard's guard table on these routes.
func (c RoutesConfig) Table() (*guard.Table, error) {
	return guard.NewTable(
		guard.Routes{
			SignIn:         c.SignIn,
			ChangePassword: c.ChangePassword,
			AdminHome:      c.AdminHome,
			ProviderHome:   c.ProviderHome,
		},
		guard.Area{Path: c.AdminHome, Requirement: guard.AdminOnly},
		guard.Area{Path: c.ProviderHome, Requirement: guard.ProviderOnly},
	)
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by sessionkit APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig defines a public type used by sessionkit APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the dashboard configuration: in-memory storage, idle sign-out
// after five minutes, audit and metrics off.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	monitor := inactivity.DefaultConfig()
	routes := guard.DefaultRoutes()
	return Config{
		API: APIConfig{
			BaseURL:   "http://localhost:8080/api",
			Timeout:   15 * time.Second,
			UserAgent: "sessionkit",
		},
		Storage: StorageConfig{
			Backend:     storage.BackendMemory,
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "sessionkit",
		},
		Session: SessionConfig{
			ClearAttempts:       3,
			WriteLegacyFlag:     true,
			RejectExpiredTokens: false,
			ExpiryLeeway:        30 * time.Second,
		},
		Inactivity: InactivityConfig{
			Enabled:        true,
			IdleTimeout:    5 * time.Minute,
			PollInterval:   monitor.PollInterval,
			ActivityKey:    monitor.Key,
			ThrottleWindow: monitor.ThrottleWindow,
		},
		Routes: RoutesConfig{
			SignIn:         routes.SignIn,
			ChangePassword: routes.ChangePassword,
			AdminHome:      routes.AdminHome,
			ProviderHome:   routes.ProviderHome,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first problem found; it does not touch the network or storage.
func (c *Config) Validate() error {
	// API
	base := strings.TrimSpace(c.API.BaseURL)
	if base == "" {
		return errors.New("API BaseURL must be set")
	}
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API BaseURL %q must be an absolute http(s) url", base)
	}
	if c.API.Timeout <= 0 {
		return errors.New("API Timeout must be > 0")
	}

	// Storage
	switch c.Storage.Backend {
	case storage.BackendMemory:
	case storage.BackendRedis:
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return errors.New("Storage RedisAddr must be set for the redis backend")
		}
	case storage.BackendFile:
		if strings.TrimSpace(c.Storage.Dir) == "" {
			return errors.New("Storage Dir must be set for the file backend")
		}
	default:
		return fmt.Errorf("Storage Backend %q is not one of memory, redis, file", c.Storage.Backend)
	}

	// Session
	if c.Session.ClearAttempts < 1 {
		return errors.New("Session ClearAttempts must be >= 1")
	}
	if c.Session.ExpiryLeeway < 0 {
		return errors.New("Session ExpiryLeeway must be >= 0")
	}

	// Inactivity
	if c.Inactivity.Enabled {
		if c.Inactivity.IdleTimeout <= 0 {
			return errors.New("Inactivity IdleTimeout must be > 0")
		}
		if c.Inactivity.PollInterval <= 0 {
			return errors.New("Inactivity PollInterval must be > 0")
		}
		if c.Inactivity.PollInterval >= c.Inactivity.IdleTimeout {
			return errors.New("Inactivity PollInterval must be shorter than IdleTimeout")
		}
		if strings.TrimSpace(c.Inactivity.ActivityKey) == "" {
			return errors.New("Inactivity ActivityKey must be set")
		}
		if c.Inactivity.ThrottleWindow <= 0 {
			return errors.New("Inactivity ThrottleWindow must be > 0")
		}
		if c.Inactivity.WarnBefore < 0 || c.Inactivity.WarnBefore >= c.Inactivity.IdleTimeout {
			return errors.New("Inactivity WarnBefore must be >= 0 and shorter than IdleTimeout")
		}
	}

	// Routes
	if _, err := c.Routes.Table(); err != nil {
		return fmt.Errorf("Routes: %w", err)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintWarning is a configuration that is valid but probably unintended.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint reports settings that validate but weaken the session lifecycle.
func (c Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if !c.Inactivity.Enabled {
		add("idle_signout_disabled", "inactivity sign-out is disabled; sessions live until explicit sign-out")
	} else if c.Inactivity.IdleTimeout > 30*time.Minute {
		add("idle_timeout_long", "idle timeout above 30m")
	}
	if c.Inactivity.Enabled && c.Inactivity.ThrottleWindow > c.Inactivity.PollInterval*5 {
		add("throttle_window_wide", "activity throttle window is much wider than the poll interval; other tabs see activity late")
	}
	if c.Storage.Backend == storage.BackendMemory {
		add("memory_storage", "memory storage is shared only within one process")
	}
	if !c.Session.WriteLegacyFlag {
		add("legacy_flag_disabled", "older clients reading isLoggedIn will see every session as signed out")
	}
	if c.Session.ClearAttempts == 1 {
		add("clear_single_attempt", "token removal is not retried on sign-out")
	}
	if strings.HasPrefix(strings.TrimSpace(c.API.BaseURL), "http://") && !isLocalURL(c.API.BaseURL) {
		add("api_plaintext", "auth API is reached over plain http; tokens and passwords travel unencrypted")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", "audit events are not recorded")
	}
	return ws
}

func isLocalURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
