package sessionkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/indura/sessionkit/authapi"
	"github.com/indura/sessionkit/guard"
	"github.com/indura/sessionkit/inactivity"
	"github.com/indura/sessionkit/session"
	"github.com/indura/sessionkit/storage"
)

// Controller is the per-tab source of truth for who is signed in. All methods are safe
// for concurrent use; transitions are serialized and applied before the method
// returns, so a caller observing a result also observes the new state.
//
// Concurrent SignIn calls are not deduplicated. Callers disable resubmission while
// one is pending.
type Controller struct {
	cfg      Config
	store    *session.Store
	port     storage.Port
	ownsPort bool
	client   AuthClient
	table    *guard.Table
	logger   *slog.Logger
	audit    *auditDispatcher
	metrics  *Metrics
	now      func() time.Time
	tabID    string

	mu      sync.Mutex
	current session.Session
	state   AuthState
	epoch   uint64
	closed  bool
	monitor *inactivity.Monitor

	listenerMu   sync.Mutex
	listeners    map[uint64]func(AuthState)
	nextListener uint64
	notifyMu     sync.Mutex
	notified     uint64

	unsubscribe func()
	syncCh      chan struct{}
	stopSync    chan struct{}
	syncDone    chan struct{}
	closeOnce   sync.Once
}

func (c *Controller) start(ctx context.Context) {
	s := c.store.Read(ctx)
	c.current = s
	c.state = stateFromSession(s)

	c.syncCh = make(chan struct{}, 1)
	c.stopSync = make(chan struct{})
	c.syncDone = make(chan struct{})
	c.unsubscribe = c.port.Subscribe(c.onStorageEvent, c.store.Keys().Watched()...)
	go c.syncLoop()

	c.logger.Debug("sessionkit: controller ready", "state", c.state.State.String())
}

// onStorageEvent coalesces notifications; the loop re-reads everything, so which key
// changed does not matter.
func (c *Controller) onStorageEvent(storage.Event) {
	select {
	case c.syncCh <- struct{}{}:
	default:
	}
}

func (c *Controller) syncLoop() {
	defer close(c.syncDone)
	for {
		select {
		case <-c.syncCh:
			c.Sync(context.Background())
		case <-c.stopSync:
			return
		}
	}
}

// Sync re-derives the state from a fresh read of the store. It runs on every
// cross-tab notification and may be called directly when notifications are known to
// be lost.
func (c *Controller) Sync(ctx context.Context) AuthState {
	c.mu.Lock()
	if c.closed {
		st := c.state
		c.mu.Unlock()
		return st
	}
	prev := c.state
	next, changed := c.applyLocked(c.store.Read(ctx))
	epoch := c.epoch
	mon := c.monitor
	c.mu.Unlock()

	if !changed {
		return next
	}
	c.metrics.Inc(MetricCrossTabSync)
	c.logger.Info("sessionkit: state changed in another tab", "from", prev.State.String(), "to", next.State.String())
	c.emitAudit(ctx, auditEventCrossTabSync, true, next.User, "", func() map[string]string {
		return map[string]string{"from": prev.State.String(), "to": next.State.String()}
	})
	if mon != nil && !prev.IsAuthenticated() && next.IsAuthenticated() && mon.IsExpired() {
		mon.Reset(ctx)
	}
	c.notify(next, epoch)
	return next
}

// applyLocked installs s and reports whether anything observable changed. Every
// change advances the epoch. Callers hold c.mu.
func (c *Controller) applyLocked(s session.Session) (AuthState, bool) {
	next := stateFromSession(s)
	changed := effectiveToken(s) != effectiveToken(c.current) || !sameState(next, c.state)
	c.current = s
	c.state = next
	if changed {
		c.epoch++
	}
	return cloneState(next), changed
}

// SignIn authenticates against the auth API and persists the session. Failures never
// change state. A response that arrives after a later transition (sign-out, or a
// change seen from another tab) is discarded with [ErrSuperseded].
func (c *Controller) SignIn(ctx context.Context, email, password string) SignInResult {
	start := c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return SignInResult{Err: newError(KindClosed, 0, "", ErrClosed)}
	}
	epoch := c.epoch
	c.mu.Unlock()

	if strings.TrimSpace(email) == "" || password == "" {
		return c.signInFailed(ctx, newError(KindValidation, 0, "Email and password are required.", nil))
	}

	resp, err := c.callSignIn(ctx, email, password)
	c.metrics.Observe(MetricSignInLatency, c.now().Sub(start))
	if err != nil {
		return c.signInFailed(ctx, classify(opSignIn, err))
	}

	user, err := decodeSignIn(resp)
	if err != nil {
		return c.signInFailed(ctx, newError(KindProtocol, 0, "", err))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return SignInResult{Err: newError(KindClosed, 0, "", ErrClosed)}
	}
	if c.epoch != epoch {
		c.mu.Unlock()
		c.metrics.Inc(MetricSignInDiscarded)
		c.logger.Info("sessionkit: discarding sign-in result after a later session change")
		c.emitAudit(ctx, auditEventSignInDiscarded, false, &user, KindSuperseded.String(), nil)
		return SignInResult{Err: newError(KindSuperseded, 0, "", ErrSuperseded)}
	}
	if err := c.store.Write(ctx, resp.Token, user, resp.RequiresPasswordChange); err != nil {
		// Write already cleared storage; mirror that in memory.
		st, changed := c.applyLocked(session.Session{})
		c.epoch++
		epoch = c.epoch
		c.mu.Unlock()
		if changed {
			c.notify(st, epoch)
		}
		c.metrics.Inc(MetricPersistFailure)
		return c.signInFailed(ctx, newError(KindStorage, 0, "", err))
	}
	st, changed := c.applyLocked(session.Session{
		Token:                  resp.Token,
		User:                   &user,
		RequiresPasswordChange: resp.RequiresPasswordChange,
	})
	epoch = c.epoch
	mon := c.monitor
	c.mu.Unlock()

	c.markActive(ctx, mon)
	if changed {
		c.notify(st, epoch)
	}
	c.metrics.Inc(MetricSignInSuccess)
	c.logger.Info("sessionkit: signed in", "user", user.ID, "role", user.Role,
		"password_change_required", resp.RequiresPasswordChange)
	c.emitAudit(ctx, auditEventSignInSuccess, true, &user, "", func() map[string]string {
		if !resp.RequiresPasswordChange {
			return nil
		}
		return map[string]string{"password_change_required": "true"}
	})

	out := user.Clone()
	return SignInResult{Success: true, User: &out}
}

func (c *Controller) signInFailed(ctx context.Context, e *Error) SignInResult {
	c.metrics.Inc(MetricSignInFailure)
	switch e.Kind {
	case KindCredential:
		c.metrics.Inc(MetricSignInCredentialRejected)
	case KindTransient:
		c.metrics.Inc(MetricSignInTransientFailure)
	case KindProtocol:
		c.metrics.Inc(MetricSignInProtocolFailure)
	}
	c.logger.Warn("sessionkit: sign-in failed", "kind", e.Kind.String(), "status", e.Status, "error", e.Err)
	c.emitAudit(ctx, auditEventSignInFailure, false, nil, e.Kind.String(), nil)
	return SignInResult{Err: e}
}

// decodeSignIn enforces that a success response carries both a token and a user
// object. Anything else is a protocol error and nothing is persisted.
func decodeSignIn(resp authapi.SignInResponse) (session.User, error) {
	if resp.Token == "" {
		return session.User{}, fmt.Errorf("%w: token missing", ErrProtocol)
	}
	raw := bytes.TrimSpace(resp.User)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return session.User{}, fmt.Errorf("%w: user missing", ErrProtocol)
	}
	user, err := session.DecodeUser(raw)
	if err != nil {
		return session.User{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return user, nil
}

// ChangePassword changes the password remotely and, on success, clears the forced
// change requirement. Token and user are never touched. If the session changed while
// the request was in flight the requirement of the new session is left alone.
func (c *Controller) ChangePassword(ctx context.Context, oldPassword, newPassword string) ChangePasswordResult {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ChangePasswordResult{Err: newError(KindClosed, 0, "", ErrClosed)}
	}
	sess := c.current
	c.mu.Unlock()

	if !sess.IsAuthenticated() {
		return c.changePasswordFailed(ctx, sess.User, newError(KindNotAuthenticated, 0, "", ErrNotAuthenticated))
	}
	if oldPassword == "" || newPassword == "" {
		return c.changePasswordFailed(ctx, sess.User, newError(KindValidation, 0, "Current and new password are required.", nil))
	}

	if _, err := c.callChangePassword(ctx, sess.Token, oldPassword, newPassword); err != nil {
		return c.changePasswordFailed(ctx, sess.User, classify(opChangePassword, err))
	}

	c.mu.Lock()
	if !c.current.IsAuthenticated() || c.current.Token != sess.Token {
		c.mu.Unlock()
		c.metrics.Inc(MetricPasswordChangeSuccess)
		c.logger.Info("sessionkit: password changed but the session changed meanwhile; requirement left as stored")
		c.emitAudit(ctx, auditEventPasswordChangeSuccess, true, sess.User, "", func() map[string]string {
			return map[string]string{"session_changed": "true"}
		})
		return ChangePasswordResult{Success: true}
	}
	st, changed, _ := c.clearRequirementLocked(ctx)
	epoch := c.epoch
	c.mu.Unlock()

	if changed {
		c.notify(st, epoch)
	}
	c.metrics.Inc(MetricPasswordChangeSuccess)
	c.logger.Info("sessionkit: password changed", "user", sess.User.ID)
	c.emitAudit(ctx, auditEventPasswordChangeSuccess, true, sess.User, "", nil)
	return ChangePasswordResult{Success: true}
}

func (c *Controller) changePasswordFailed(ctx context.Context, user *session.User, e *Error) ChangePasswordResult {
	c.metrics.Inc(MetricPasswordChangeFailure)
	if e.Kind == KindWrongPassword {
		c.metrics.Inc(MetricPasswordChangeWrongPassword)
	}
	c.logger.Warn("sessionkit: password change failed", "kind", e.Kind.String(), "status", e.Status, "error", e.Err)
	c.emitAudit(ctx, auditEventPasswordChangeFailure, false, user, e.Kind.String(), nil)
	return ChangePasswordResult{Err: e}
}

// ClearPasswordChangeRequirement drops the forced password change without a network
// call. It is idempotent. The in-memory requirement is cleared even when removing the
// stored flag fails; the returned error reports that failure.
func (c *Controller) ClearPasswordChangeRequirement(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return newError(KindClosed, 0, "", ErrClosed)
	}
	st, changed, err := c.clearRequirementLocked(ctx)
	epoch := c.epoch
	c.mu.Unlock()

	if changed {
		c.notify(st, epoch)
		c.emitAudit(ctx, auditEventRequirementCleared, err == nil, st.User, "", nil)
	}
	if err != nil {
		return newError(KindStorage, 0, "", err)
	}
	return nil
}

func (c *Controller) clearRequirementLocked(ctx context.Context) (AuthState, bool, error) {
	err := c.store.ClearPasswordChange(ctx)
	if err != nil {
		c.metrics.Inc(MetricPersistFailure)
		c.logger.Error("sessionkit: clearing password-change flag failed", "error", err)
	}
	if !c.current.RequiresPasswordChange {
		return cloneState(c.state), false, err
	}
	next := c.current
	next.RequiresPasswordChange = false
	st, changed := c.applyLocked(next)
	if changed {
		c.metrics.Inc(MetricPasswordRequirementCleared)
	}
	return st, changed, err
}

// SignOut clears the stored session and becomes anonymous. It needs no network call,
// always succeeds locally and is idempotent. Storage failures are logged; token
// removal is attempted first so other tabs still read the origin as signed out.
func (c *Controller) SignOut(ctx context.Context) {
	c.signOut(ctx, auditEventSignOut)
}

func (c *Controller) signOut(ctx context.Context, eventType string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	prevUser := c.state.User
	err := c.store.Clear(ctx)
	st, changed := c.applyLocked(session.Session{})
	if !changed {
		// In-flight sign-ins must still be discarded.
		c.epoch++
	}
	epoch := c.epoch
	c.mu.Unlock()

	if err != nil {
		c.metrics.Inc(MetricClearFailure)
	}
	if !changed {
		return
	}
	c.notify(st, epoch)
	c.metrics.Inc(MetricSignOut)
	c.logger.Info("sessionkit: signed out", "reason", eventType)
	c.emitAudit(ctx, eventType, err == nil, prevUser, "", nil)
}

// State returns a snapshot of the current state.
func (c *Controller) State() AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneState(c.state)
}

// Subject returns the route-guard view of the current state.
func (c *Controller) Subject() guard.Subject {
	return c.State().Subject()
}

// Routes returns the guard table built from Config.Routes.
func (c *Controller) Routes() *guard.Table {
	return c.table
}

// TabID identifies this controller in audit events.
func (c *Controller) TabID() string {
	return c.tabID
}

// Subscribe registers fn to receive every new state. fn runs on the goroutine that
// made the transition and must not call back into the controller synchronously.
func (c *Controller) Subscribe(fn func(AuthState)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	c.listenerMu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenerMu.Lock()
			delete(c.listeners, id)
			c.listenerMu.Unlock()
		})
	}
}

// notify delivers st, the state installed at epoch. Transitions race to get here
// after c.mu is released; a state older than the last one delivered is dropped so
// listeners always end on the current state.
func (c *Controller) notify(st AuthState, epoch uint64) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if epoch <= c.notified {
		return
	}
	c.notified = epoch

	c.listenerMu.Lock()
	fns := make([]func(AuthState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range fns {
		fn(cloneState(st))
	}
}

// StartIdleSignOut starts an inactivity monitor on the shared activity key that signs
// this tab out when it expires. A second call returns the running monitor.
func (c *Controller) StartIdleSignOut(ctx context.Context, opts ...inactivity.Option) (*inactivity.Monitor, error) {
	if !c.cfg.Inactivity.Enabled {
		return nil, errors.New("sessionkit: inactivity sign-out disabled in config")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.monitor != nil {
		mon := c.monitor
		c.mu.Unlock()
		return mon, nil
	}
	base := []inactivity.Option{
		inactivity.WithLogger(c.logger),
		inactivity.WithWarning(func(remaining time.Duration) {
			c.metrics.Inc(MetricIdleWarning)
			c.logger.Info("sessionkit: idle sign-out approaching", "remaining", remaining)
		}),
	}
	mon := inactivity.New(c.port, c.cfg.Inactivity.monitorConfig(), c.onIdle, append(base, opts...)...)
	c.monitor = mon
	c.mu.Unlock()

	if err := mon.Start(ctx); err != nil {
		c.mu.Lock()
		c.monitor = nil
		c.mu.Unlock()
		return nil, err
	}
	return mon, nil
}

// Monitor returns the idle monitor, or nil before StartIdleSignOut.
func (c *Controller) Monitor() *inactivity.Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor
}

func (c *Controller) onIdle() {
	if !c.State().IsAuthenticated() {
		return
	}
	c.metrics.Inc(MetricIdleSignOut)
	c.signOut(context.Background(), auditEventIdleSignOut)
}

// markActive restarts the idle episode after sign-in so a stale shared timestamp from
// an earlier session cannot expire the new one.
func (c *Controller) markActive(ctx context.Context, mon *inactivity.Monitor) {
	if !c.cfg.Inactivity.Enabled {
		return
	}
	if mon != nil {
		mon.Reset(ctx)
		return
	}
	if err := inactivity.Stamp(ctx, c.port, c.cfg.Inactivity.ActivityKey, c.now()); err != nil {
		c.logger.Debug("sessionkit: activity stamp failed", "error", err)
	}
}

// MetricsSnapshot returns the controller's counters.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped reports audit events dropped because the buffer was full.
func (c *Controller) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Close stops cross-tab sync and idle monitoring, flushes audit events and closes
// storage the controller opened itself. The stored session is left as is.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		mon := c.monitor
		c.mu.Unlock()

		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		close(c.stopSync)
		<-c.syncDone
		if mon != nil {
			mon.Stop()
		}
		c.audit.Close()
		if c.ownsPort {
			err = c.port.Close()
		}
	})
	return err
}

func (c *Controller) callSignIn(ctx context.Context, email, password string) (resp authapi.SignInResponse, err error) {
	defer c.recoverClient("signin", &err)
	return c.client.SignIn(ctx, email, password)
}

func (c *Controller) callChangePassword(ctx context.Context, token, oldPassword, newPassword string) (resp authapi.ChangePasswordResponse, err error) {
	defer c.recoverClient("change-password", &err)
	return c.client.ChangePassword(ctx, token, oldPassword, newPassword)
}

func (c *Controller) recoverClient(op string, err *error) {
	if r := recover(); r != nil {
		c.metrics.Inc(MetricAuthClientPanic)
		c.logger.Error("sessionkit: auth client panicked", "op", op, "panic", r)
		*err = fmt.Errorf("%w: %v", errAuthClientPanic, r)
	}
}

type operation uint8

const (
	opSignIn operation = iota
	opChangePassword
)

// classify maps an auth client error onto the outcome taxonomy.
func classify(op operation, err error) *Error {
	var se *authapi.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized && op == opChangePassword:
			return newError(KindWrongPassword, se.StatusCode, "", err)
		case se.StatusCode == http.StatusUnauthorized:
			return newError(KindCredential, se.StatusCode, "", err)
		case se.StatusCode == http.StatusBadRequest:
			return newError(KindValidation, se.StatusCode, se.Message, err)
		case se.StatusCode >= 500:
			return newError(KindTransient, se.StatusCode, "", err)
		default:
			return newError(KindUnexpected, se.StatusCode, "", err)
		}
	}

	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, authapi.ErrMalformedResponse):
		return newError(KindProtocol, 0, "", err)
	case errors.Is(err, errAuthClientPanic), errors.Is(err, context.Canceled):
		return newError(KindUnexpected, 0, "", err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr), errors.As(err, &urlErr):
		return newError(KindTransient, 0, "", err)
	default:
		return newError(KindUnexpected, 0, "", err)
	}
}

func effectiveToken(s session.Session) string {
	if !s.IsAuthenticated() {
		return ""
	}
	return s.Token
}

func sameState(a, b AuthState) bool {
	if a.State != b.State {
		return false
	}
	if a.User == nil || b.User == nil {
		return a.User == nil && b.User == nil
	}
	ea, errA := session.EncodeUser(*a.User)
	eb, errB := session.EncodeUser(*b.User)
	return errA == nil && errB == nil && bytes.Equal(ea, eb)
}

func cloneState(a AuthState) AuthState {
	if a.User != nil {
		u := a.User.Clone()
		a.User = &u
	}
	return a
}
