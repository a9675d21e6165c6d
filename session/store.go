package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/indura/sessionkit/jwt"
	"github.com/indura/sessionkit/storage"
)

// ErrInvalidSession is returned by [Store.Write] for a session that could never read
// back as authenticated.
var ErrInvalidSession = errors.New("invalid session")

// ErrPersistFailed wraps storage failures while writing a session.
var ErrPersistFailed = errors.New("session persist failed")

// ErrClearFailed wraps storage failures while clearing a session.
var ErrClearFailed = errors.New("session clear failed")

const (
	flagTrue           = "true"
	defaultClearTries  = 3
	defaultTokenLeeway = 30 * time.Second
)

// Keys names the storage keys holding a session.
type Keys struct {
	Token          string
	User           string
	PasswordChange string
	LegacyLoggedIn string
}

// DefaultKeys returns the keys shared with every client of the dashboard origin.
func DefaultKeys() Keys {
	return Keys{
		Token:          "authToken",
		User:           "authUser",
		PasswordChange: "requiresPasswordChange",
		LegacyLoggedIn: "isLoggedIn",
	}
}

// WithNamespace prefixes every key with ns and a colon. An empty ns is a no-op.
func (k Keys) WithNamespace(ns string) Keys {
	if ns == "" {
		return k
	}
	return Keys{
		Token:          ns + ":" + k.Token,
		User:           ns + ":" + k.User,
		PasswordChange: ns + ":" + k.PasswordChange,
		LegacyLoggedIn: ns + ":" + k.LegacyLoggedIn,
	}
}

// Watched returns the keys whose changes invalidate a derived auth state.
func (k Keys) Watched() []string {
	return []string{k.Token, k.User, k.PasswordChange}
}

// Store persists sessions through a [storage.Port].
//
// All writes are whole-value replacements; the store never performs a
// read-modify-write against the session keys.
type Store struct {
	port          storage.Port
	keys          Keys
	logger        *slog.Logger
	clearAttempts int
	legacyFlag    bool
	rejectExpired bool
	tokenLeeway   time.Duration
	now           func() time.Time
}

// Option customizes a [Store].
type Option func(*Store)

// WithKeys overrides the storage keys.
func WithKeys(keys Keys) Option {
	return func(s *Store) { s.keys = keys }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClearAttempts sets how many times token removal is attempted on Clear.
func WithClearAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.clearAttempts = n
		}
	}
}

// WithLegacyFlag toggles writing the legacy logged-in flag.
func WithLegacyFlag(enabled bool) Option {
	return func(s *Store) { s.legacyFlag = enabled }
}

// WithExpiredTokenRejection makes Read treat a JWT bearer token whose exp has passed
// (beyond leeway) as absent. Opaque tokens are unaffected.
func WithExpiredTokenRejection(enabled bool, leeway time.Duration) Option {
	return func(s *Store) {
		s.rejectExpired = enabled
		if leeway >= 0 {
			s.tokenLeeway = leeway
		}
	}
}

// WithClock overrides the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a [Store] over port.
func NewStore(port storage.Port, opts ...Option) *Store {
	s := &Store{
		port:          port,
		keys:          DefaultKeys(),
		logger:        slog.Default(),
		clearAttempts: defaultClearTries,
		legacyFlag:    true,
		tokenLeeway:   defaultTokenLeeway,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keys returns the storage keys in use.
func (s *Store) Keys() Keys {
	return s.keys
}

// Port returns the underlying storage port.
func (s *Store) Port() storage.Port {
	return s.port
}

// Write persists a session. A previously stored token is removed first and the new
// token is written last, so a reader never pairs a token with another session's user. On any failure Write clears the session and
// returns an error wrapping [ErrPersistFailed]: a failed write leaves the origin
// signed out rather than half signed in.
func (s *Store) Write(ctx context.Context, token string, user User, requiresPasswordChange bool) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidSession)
	}
	encoded, err := EncodeUser(user)
	if err != nil {
		return fmt.Errorf("%w: encode user: %v", ErrInvalidSession, err)
	}

	if err := s.write(ctx, token, string(encoded), requiresPasswordChange); err != nil {
		s.logger.Error("sessionkit: session write failed, clearing", "error", err)
		if cerr := s.Clear(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, token, user string, requiresPasswordChange bool) error {
	if _, ok, err := s.port.Get(ctx, s.keys.Token); err != nil || ok {
		if err := s.port.Remove(ctx, s.keys.Token); err != nil {
			return fmt.Errorf("remove %s: %w", s.keys.Token, err)
		}
	}
	if err := s.port.Set(ctx, s.keys.User, user); err != nil {
		return fmt.Errorf("write %s: %w", s.keys.User, err)
	}
	if requiresPasswordChange {
		if err := s.port.Set(ctx, s.keys.PasswordChange, flagTrue); err != nil {
			return fmt.Errorf("write %s: %w", s.keys.PasswordChange, err)
		}
	} else if err := s.port.Remove(ctx, s.keys.PasswordChange); err != nil {
		return fmt.Errorf("remove %s: %w", s.keys.PasswordChange, err)
	}
	if s.legacyFlag {
		// Not authoritative; a failure here does not invalidate the session.
		if err := s.port.Set(ctx, s.keys.LegacyLoggedIn, flagTrue); err != nil {
			s.logger.Warn("sessionkit: legacy flag write failed", "key", s.keys.LegacyLoggedIn, "error", err)
		}
	}
	if err := s.port.Set(ctx, s.keys.Token, token); err != nil {
		return fmt.Errorf("write %s: %w", s.keys.Token, err)
	}
	return nil
}

// Read loads the persisted session. It never fails: unreadable keys and corrupt user
// records yield an unauthenticated session and are logged.
func (s *Store) Read(ctx context.Context) Session {
	var out Session

	token, ok, err := s.port.Get(ctx, s.keys.Token)
	if err != nil {
		s.logger.Warn("sessionkit: token read failed", "key", s.keys.Token, "error", err)
	} else if ok {
		out.Token = token
	}
	if out.Token != "" && s.rejectExpired && jwt.Expired(out.Token, s.now(), s.tokenLeeway) {
		s.logger.Info("sessionkit: stored token expired, treating session as signed out")
		out.Token = ""
	}

	raw, ok, err := s.port.Get(ctx, s.keys.User)
	switch {
	case err != nil:
		s.logger.Warn("sessionkit: user read failed", "key", s.keys.User, "error", err)
	case ok:
		user, derr := DecodeUser([]byte(raw))
		if derr != nil {
			s.logger.Warn("sessionkit: stored user record unreadable", "key", s.keys.User, "error", derr)
		} else {
			out.User = &user
		}
	}

	flag, ok, err := s.port.Get(ctx, s.keys.PasswordChange)
	if err != nil {
		s.logger.Warn("sessionkit: password-change flag read failed", "key", s.keys.PasswordChange, "error", err)
	} else if ok && flag == flagTrue {
		out.RequiresPasswordChange = true
	}

	return out
}

// Clear removes every session key. Token removal gates authentication, so it is
// attempted first and retried; if it still fails, removing the user record keeps
// Read reporting unauthenticated. Clear is idempotent.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error

	var tokenErr error
	for attempt := 0; attempt < s.clearAttempts; attempt++ {
		if tokenErr = s.port.Remove(ctx, s.keys.Token); tokenErr == nil {
			break
		}
	}
	if tokenErr != nil {
		errs = append(errs, fmt.Errorf("remove %s: %w", s.keys.Token, tokenErr))
		// Overwriting with an empty value also reads back as no token.
		if err := s.port.Set(ctx, s.keys.Token, ""); err == nil {
			errs = errs[:0]
		}
	}

	for _, key := range []string{s.keys.User, s.keys.PasswordChange, s.keys.LegacyLoggedIn} {
		if err := s.port.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.Error("sessionkit: session clear incomplete", "error", err)
		return fmt.Errorf("%w: %w", ErrClearFailed, err)
	}
	return nil
}

// ClearPasswordChange removes only the password-change flag. Token and user are left
// byte-for-byte unchanged.
func (s *Store) ClearPasswordChange(ctx context.Context) error {
	if err := s.port.Remove(ctx, s.keys.PasswordChange); err != nil {
		return fmt.Errorf("remove %s: %w", s.keys.PasswordChange, err)
	}
	return nil
}
