package sessionkit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/indura/sessionkit/authapi"
	"github.com/indura/sessionkit/session"
	"github.com/indura/sessionkit/storage"
)

// Builder assembles a [Controller]. A builder is single use.
type Builder struct {
	config    Config
	port      storage.Port
	client    AuthClient
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time
	tabID     string

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStorage shares an existing port. Without it Build opens one from
// Config.Storage and the controller closes it on Close.
func (b *Builder) WithStorage(port storage.Port) *Builder {
	b.port = port
	return b
}

// WithAuthClient replaces the HTTP client built from Config.API.
func (b *Builder) WithAuthClient(c AuthClient) *Builder {
	b.client = c
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock sets the time source for audit timestamps, latency and activity stamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithTabID fixes the tab id used in audit events; by default a uuid is generated.
func (b *Builder) WithTabID(id string) *Builder {
	b.tabID = id
	return b
}

// Build validates the configuration, derives the initial state from storage and
// subscribes to cross-tab changes.
func (b *Builder) Build() (*Controller, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := cfg.Routes.Table()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	tabID := b.tabID
	if tabID == "" {
		tabID = uuid.NewString()
	}

	// -------- STORAGE --------
	port, ownsPort := b.port, false
	if port == nil {
		port, err = storage.Open(context.Background(), storage.Options{
			Backend:     cfg.Storage.Backend,
			RedisAddr:   cfg.Storage.RedisAddr,
			RedisPrefix: cfg.Storage.RedisPrefix,
			Dir:         cfg.Storage.Dir,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		ownsPort = true
	}

	keys := session.DefaultKeys().WithNamespace(cfg.Storage.Namespace)
	store := session.NewStore(port,
		session.WithKeys(keys),
		session.WithLogger(logger),
		session.WithClearAttempts(cfg.Session.ClearAttempts),
		session.WithLegacyFlag(cfg.Session.WriteLegacyFlag),
		session.WithExpiredTokenRejection(cfg.Session.RejectExpiredTokens, cfg.Session.ExpiryLeeway),
		session.WithClock(now),
	)

	// -------- AUTH CLIENT --------
	client := b.client
	if client == nil {
		c, err := authapi.New(authapi.Config{
			BaseURL:   cfg.API.BaseURL,
			Timeout:   cfg.API.Timeout,
			UserAgent: cfg.API.UserAgent,
		})
		if err != nil {
			if ownsPort {
				_ = port.Close()
			}
			return nil, err
		}
		client = c
	}

	c := &Controller{
		cfg:       cfg,
		store:     store,
		port:      port,
		ownsPort:  ownsPort,
		client:    client,
		table:     table,
		logger:    logger.With("tab", tabID),
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
		now:       now,
		tabID:     tabID,
		listeners: make(map[uint64]func(AuthState)),
	}
	c.start(context.Background())

	b.built = true
	return c, nil
}
