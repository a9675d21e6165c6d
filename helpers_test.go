package sessionkit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/indura/sessionkit/authapi"
	"github.com/indura/sessionkit/storage"
)

type fakeAuth struct {
	signIn         func(ctx context.Context, email, password string) (authapi.SignInResponse, error)
	changePassword func(ctx context.Context, token, oldPassword, newPassword string) (authapi.ChangePasswordResponse, error)

	signInCalls atomic.Int32
	lastToken   atomic.Value
}

func (f *fakeAuth) SignIn(ctx context.Context, email, password string) (authapi.SignInResponse, error) {
	f.signInCalls.Add(1)
	if f.signIn == nil {
		return okSignIn("tok-1", "provider", false), nil
	}
	return f.signIn(ctx, email, password)
}

func (f *fakeAuth) ChangePassword(ctx context.Context, token, oldPassword, newPassword string) (authapi.ChangePasswordResponse, error) {
	f.lastToken.Store(token)
	if f.changePassword == nil {
		return authapi.ChangePasswordResponse{Message: "ok"}, nil
	}
	return f.changePassword(ctx, token, oldPassword, newPassword)
}

func okSignIn(token, role string, requiresPasswordChange bool) authapi.SignInResponse {
	user, _ := json.Marshal(map[string]any{
		"id":       "u-" + role,
		"email":    role + "@clinic.test",
		"role":     role,
		"clinicId": "c-7",
	})
	return authapi.SignInResponse{Token: token, User: user, RequiresPasswordChange: requiresPasswordChange}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.API.BaseURL = "http://localhost:1/api"
	return cfg
}

func newTestController(t *testing.T, port storage.Port, auth AuthClient, configure ...func(*Builder)) *Controller {
	t.Helper()
	b := New().
		WithConfig(testConfig()).
		WithStorage(port).
		WithAuthClient(auth).
		WithLogger(quietLogger())
	for _, fn := range configure {
		fn(b)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitForState(t *testing.T, c *Controller, want State) AuthState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := c.State()
		if st.State == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, still %s", want, st.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_750_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// storedKeys returns every session key currently present in port.
func storedKeys(t *testing.T, c *Controller) map[string]string {
	t.Helper()
	keys := c.store.Keys()
	out := map[string]string{}
	for _, k := range []string{keys.Token, keys.User, keys.PasswordChange, keys.LegacyLoggedIn} {
		v, ok, err := c.port.Get(context.Background(), k)
		if err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
		if ok {
			out[k] = v
		}
	}
	return out
}

func slogTo(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, nil))
}
