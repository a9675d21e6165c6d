package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/indura/sessionkit/jwt"
	"github.com/indura/sessionkit/storage"
)

func newSessionStoreTest(t *testing.T, opts ...Option) (*Store, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewStore(mem.Tab(), opts...), mem
}

func testUser(role string) User {
	return User{
		ID:    "u-1",
		Email: "pat@clinic.test",
		Role:  role,
		Extra: map[string]json.RawMessage{
			"clinicId": json.RawMessage(`"c-42"`),
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	users := []User{
		testUser("admin"),
		testUser("provider"),
		{ID: "u-2", Email: "x@y.test", Role: ""},
		{ID: "u-3", Email: "ünïcode@y.test", Role: "provider", Extra: map[string]json.RawMessage{"nested": json.RawMessage(`{"a":[1,2]}`)}},
	}

	for _, u := range users {
		store, _ := newSessionStoreTest(t)
		if err := store.Write(ctx, "tok-"+u.ID, u, false); err != nil {
			t.Fatalf("write %s: %v", u.ID, err)
		}
		got := store.Read(ctx)
		if !got.IsAuthenticated() {
			t.Fatalf("expected authenticated session for %s", u.ID)
		}
		if got.User.Role != u.Role || got.User.ID != u.ID || got.Token != "tok-"+u.ID {
			t.Fatalf("round trip mismatch: got %+v want %+v", got.User, u)
		}
		if got.RequiresPasswordChange {
			t.Fatalf("expected no password change requirement")
		}
	}
}

func TestPasswordChangeFlagPresenceDenotesTruth(t *testing.T) {
	ctx := context.Background()
	store, mem := newSessionStoreTest(t)

	if err := store.Write(ctx, "tok", testUser("provider"), true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if v, ok, _ := mem.Get(ctx, "requiresPasswordChange"); !ok || v != "true" {
		t.Fatalf("expected literal true flag, got %q ok=%v", v, ok)
	}
	if !store.Read(ctx).RequiresPasswordChange {
		t.Fatalf("expected flag read back")
	}

	if err := store.Write(ctx, "tok", testUser("provider"), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok, _ := mem.Get(ctx, "requiresPasswordChange"); ok {
		t.Fatalf("expected flag key removed when false")
	}

	mem.SetSilently("requiresPasswordChange", "false")
	if store.Read(ctx).RequiresPasswordChange {
		t.Fatalf("only the literal \"true\" denotes a requirement")
	}
}

func TestReadMalformedUserFailsClosed(t *testing.T) {
	ctx := context.Background()
	payloads := []string{
		"",
		"null",
		"not json",
		"[1,2,3]",
		`"a string"`,
		`{"id": 7}`,
		`{"role": {"name":"admin"}}`,
		`{"id":"u-1"`,
		`{}`,
		`{"email":"pat@clinic.test","role":"admin"}`,
	}

	for _, p := range payloads {
		store, mem := newSessionStoreTest(t)
		mem.SetSilently("authToken", "tok")
		mem.SetSilently("authUser", p)

		got := store.Read(ctx)
		if got.IsAuthenticated() {
			t.Fatalf("payload %q must read as unauthenticated", p)
		}
		if got.Token != "tok" {
			t.Fatalf("token should still be reported for payload %q", p)
		}
	}
}

func TestReadStorageFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	store, mem := newSessionStoreTest(t)
	if err := store.Write(ctx, "tok", testUser("admin"), false); err != nil {
		t.Fatalf("write: %v", err)
	}

	mem.SetFault(func(op storage.Op, key string) error {
		if op == storage.OpGet && key == "authUser" {
			return storage.ErrUnavailable
		}
		return nil
	})
	if store.Read(ctx).IsAuthenticated() {
		t.Fatalf("expected unreadable user to read as unauthenticated")
	}
}

func TestClearIdempotent(t *testing.T) {
	ctx := context.Background()
	store, mem := newSessionStoreTest(t)

	if err := store.Write(ctx, "tok", testUser("admin"), true); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.Clear(ctx); err != nil {
			t.Fatalf("clear %d: %v", i, err)
		}
		got := store.Read(ctx)
		if got.Token != "" || got.User != nil || got.RequiresPasswordChange {
			t.Fatalf("expected empty session after clear %d, got %+v", i, got)
		}
		for _, key := range []string{"authToken", "authUser", "requiresPasswordChange", "isLoggedIn"} {
			if _, ok, _ := mem.Get(ctx, key); ok {
				t.Fatalf("key %s still present after clear %d", key, i)
			}
		}
	}
}

func TestClearRetriesTokenRemoval(t *testing.T) {
	ctx := context.Background()
	store, mem := newSessionStoreTest(t, WithClearAttempts(3))
	if err := store.Write(ctx, "tok", testUser("admin"), false); err != nil {
		t.Fatalf("write: %v", err)
	}

	failures := 2
	mem.SetFault(func(op storage.Op, key string) error {
		if op == storage.OpRemove && key == "authToken" && failures > 0 {
			failures--
			return storage.ErrUnavailable
		}
		return nil
	})

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if store.Read(ctx).IsAuthenticated() {
		t.Fatalf("expected signed out after clear")
	}
}

func TestClearPartialFailureStillSignsOut(t *testing.T) {
	ctx := context.Background()
	store, mem := newSessionStoreTest(t)
	if err := store.Write(ctx, "tok", testUser("admin"), false); err != nil {
		t.Fatalf("write: %v", err)
	}

	mem.SetFault(func(op storage.Op, key string) error {
		if key == "authToken" && op != storage.OpGet {
			return storage.ErrUnavailable
		}
		return nil
	})

	err := store.Clear(ctx)
	if !errors.Is(err, ErrClearFailed) {
		t.Fatalf("expected ErrClearFailed, got %v", err)
	}
	if store.Read(ctx).IsAuthenticated() {
		t.Fatalf("user removal must keep the session unauthenticated")
	}
}

func TestWriteFailureLeavesSignedOut(t *testing.T) {
	ctx := context.Background()
	store, mem := newSessionStoreTest(t)

	mem.SetFault(func(op storage.Op, key string) error {
		if op == storage.OpSet && key == "authToken" {
			return storage.ErrUnavailable
		}
		return nil
	})

	err := store.Write(ctx, "tok", testUser("admin"), false)
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("expected ErrPersistFailed, got %v", err)
	}
	mem.SetFault(nil)

	got := store.Read(ctx)
	if got.IsAuthenticated() || got.User != nil {
		t.Fatalf("expected nothing persisted after failed write, got %+v", got)
	}
}

func TestOverwriteNeverPairsTokenWithOtherUser(t *testing.T) {
	ctx := context.Background()
	store, mem := newSessionStoreTest(t)
	other := NewStore(mem.Tab(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := store.Write(ctx, "tok-admin", User{ID: "u-admin", Role: "admin"}, false); err != nil {
		t.Fatalf("write admin: %v", err)
	}

	var observed []Session
	cancel := other.Port().Subscribe(func(storage.Event) {
		observed = append(observed, other.Read(ctx))
	})
	defer cancel()

	if err := store.Write(ctx, "tok-provider", User{ID: "u-provider", Role: "provider"}, true); err != nil {
		t.Fatalf("write provider: %v", err)
	}
	if len(observed) == 0 {
		t.Fatalf("expected the other tab to observe the overwrite")
	}

	for i, got := range observed {
		if !got.IsAuthenticated() {
			continue
		}
		admin := got.Token == "tok-admin" && got.User.Role == "admin" && !got.RequiresPasswordChange
		provider := got.Token == "tok-provider" && got.User.Role == "provider" && got.RequiresPasswordChange
		if !admin && !provider {
			t.Fatalf("read %d mixed sessions: token %q user %q flag %v", i, got.Token, got.User.ID, got.RequiresPasswordChange)
		}
	}
	if last := observed[len(observed)-1]; last.Token != "tok-provider" || last.User.Role != "provider" {
		t.Fatalf("expected final read to see the new session, got %+v", last)
	}
}

func TestWriteRejectsEmptyToken(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	if err := store.Write(context.Background(), "", testUser("admin"), false); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestClearPasswordChangeLeavesTokenAndUserUntouched(t *testing.T) {
	ctx := context.Background()
	store, mem := newSessionStoreTest(t)
	if err := store.Write(ctx, "tok", testUser("provider"), true); err != nil {
		t.Fatalf("write: %v", err)
	}
	beforeToken, _, _ := mem.Get(ctx, "authToken")
	beforeUser, _, _ := mem.Get(ctx, "authUser")

	if err := store.ClearPasswordChange(ctx); err != nil {
		t.Fatalf("clear flag: %v", err)
	}
	if err := store.ClearPasswordChange(ctx); err != nil {
		t.Fatalf("clear flag twice: %v", err)
	}

	afterToken, _, _ := mem.Get(ctx, "authToken")
	afterUser, _, _ := mem.Get(ctx, "authUser")
	if beforeToken != afterToken || beforeUser != afterUser {
		t.Fatalf("token/user changed: %q->%q %q->%q", beforeToken, afterToken, beforeUser, afterUser)
	}
	if store.Read(ctx).RequiresPasswordChange {
		t.Fatalf("expected flag cleared")
	}
}

func TestNamespacedKeys(t *testing.T) {
	ctx := context.Background()
	store, mem := newSessionStoreTest(t, WithKeys(DefaultKeys().WithNamespace("indura")))
	if err := store.Write(ctx, "tok", testUser("admin"), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok, _ := mem.Get(ctx, "indura:authToken"); !ok {
		t.Fatalf("expected namespaced token key")
	}
	if _, ok, _ := mem.Get(ctx, "authToken"); ok {
		t.Fatalf("expected bare key unused")
	}
}

func TestExpiredTokenRejection(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	key := []byte("0123456789abcdef0123456789abcdef")

	past := jwt.Claims{Role: "admin"}
	past.ExpiresAt = gojwt.NewNumericDate(now.Add(-time.Hour))
	expired, err := jwt.Mint(past, key)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	store, _ := newSessionStoreTest(t, WithExpiredTokenRejection(true, 0), WithClock(func() time.Time { return now }))
	if err := store.Write(ctx, expired, testUser("admin"), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if store.Read(ctx).IsAuthenticated() {
		t.Fatalf("expected expired jwt to read as unauthenticated")
	}

	lenient, _ := newSessionStoreTest(t)
	if err := lenient.Write(ctx, expired, testUser("admin"), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !lenient.Read(ctx).IsAuthenticated() {
		t.Fatalf("expected expiry ignored when rejection is disabled")
	}
}
