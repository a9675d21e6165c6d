package sessionkit

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/indura/sessionkit/session"
	"github.com/indura/sessionkit/storage"
)

func TestCrossTabSignInAndSignOut(t *testing.T) {
	mem := storage.NewMemory()
	auth := &fakeAuth{}
	a := newTestController(t, mem.Tab(), auth)
	b := newTestController(t, mem.Tab(), auth)
	ctx := context.Background()

	if res := a.SignIn(ctx, "a@b.c", "pw"); !res.Success {
		t.Fatalf("sign in: %+v", res.Err)
	}
	st := waitForState(t, b, StateAuthenticated)
	if st.Role() != "provider" {
		t.Fatalf("tab B role = %q", st.Role())
	}

	b.SignOut(ctx)
	waitForState(t, a, StateAnonymous)
}

func TestCrossTabPasswordChangeRequirementPropagates(t *testing.T) {
	mem := storage.NewMemory()
	auth := &fakeAuth{}
	a := newTestController(t, mem.Tab(), auth)
	b := newTestController(t, mem.Tab(), auth)
	ctx := context.Background()

	writer := session.NewStore(mem.Tab(), session.WithLogger(quietLogger()))
	if err := writer.Write(ctx, "tok", session.User{ID: "u-1", Role: "admin"}, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForState(t, a, StatePasswordChangeRequired)
	waitForState(t, b, StatePasswordChangeRequired)

	if err := a.ClearPasswordChangeRequirement(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	waitForState(t, b, StateAuthenticated)
}

func TestLostNotificationRecoveredByFullReread(t *testing.T) {
	mem := storage.NewMemory()
	c := newTestController(t, mem.Tab(), &fakeAuth{}, func(b *Builder) { b.WithMetricsEnabled(true) })

	user, err := session.EncodeUser(session.User{ID: "u-1", Role: "admin"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mem.SetSilently("authUser", string(user))
	mem.SetSilently("authToken", "tok")
	if c.State().IsAuthenticated() {
		t.Fatalf("silent writes must not be observed yet")
	}

	// A single late event for the flag key still re-reads every key.
	mem.SetSilently("requiresPasswordChange", "true")
	mem.Notify("requiresPasswordChange")

	st := waitForState(t, c, StatePasswordChangeRequired)
	if st.Role() != "admin" {
		t.Fatalf("role = %q", st.Role())
	}
	if c.MetricsSnapshot().Counters[MetricCrossTabSync] == 0 {
		t.Fatalf("expected cross-tab sync counted")
	}
}

func TestSyncIgnoresUnchangedState(t *testing.T) {
	mem := storage.NewMemory()
	c := newTestController(t, mem.Tab(), &fakeAuth{})
	ctx := context.Background()
	c.SignIn(ctx, "a@b.c", "pw")

	var calls atomic.Int32
	cancel := c.Subscribe(func(AuthState) { calls.Add(1) })
	defer cancel()
	mem.Notify("authToken")
	c.Sync(ctx)
	c.Sync(ctx)
	if n := calls.Load(); n != 0 {
		t.Fatalf("listeners notified %d times without a change", n)
	}
}

func TestCrossTabOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	portA := storage.NewRedis(client, "clinic", storage.WithRedisLogger(quietLogger()))
	portB := storage.NewRedis(client, "clinic", storage.WithRedisLogger(quietLogger()))
	t.Cleanup(func() { _ = portA.Close(); _ = portB.Close() })

	auth := &fakeAuth{}
	a := newTestController(t, portA, auth)
	b := newTestController(t, portB, auth)
	ctx := context.Background()

	if res := a.SignIn(ctx, "a@b.c", "pw"); !res.Success {
		t.Fatalf("sign in: %+v", res.Err)
	}
	if got := mr.Exists("clinic:authToken"); !got {
		t.Fatalf("token not stored under prefix")
	}
	waitForState(t, b, StateAuthenticated)

	b.SignOut(ctx)
	waitForState(t, a, StateAnonymous)
	if mr.Exists("clinic:authToken") || mr.Exists("clinic:authUser") {
		t.Fatalf("sign out left keys behind: %v", mr.Keys())
	}
}
