package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for storage event")
	}
	return Event{}
}

func TestRedisGetMissingKey(t *testing.T) {
	_, rdb := newTestRedis(t)
	port := NewRedis(rdb, "sk")
	defer port.Close()

	_, ok, err := port.Get(context.Background(), "authToken")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key")
	}
}

func TestRedisCrossPortNotification(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	a := NewRedis(rdb, "sk")
	b := NewRedis(rdb, "sk")
	defer a.Close()
	defer b.Close()

	selfEvents := make(chan Event, 4)
	otherEvents := make(chan Event, 4)
	a.Subscribe(func(ev Event) { selfEvents <- ev })
	b.Subscribe(func(ev Event) { otherEvents <- ev }, "authToken")

	if err := a.Set(ctx, "authToken", "tok"); err != nil {
		t.Fatalf("set: %v", err)
	}
	ev := waitEvent(t, otherEvents)
	if ev.Key != "authToken" || ev.Value != "tok" || ev.Removed || ev.Origin != a.Origin() {
		t.Fatalf("unexpected event: %+v", ev)
	}

	stored, err := mr.Get("sk:authToken")
	if err != nil || stored != "tok" {
		t.Fatalf("expected namespaced key, got %q err=%v", stored, err)
	}

	if err := a.Remove(ctx, "authToken"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ev = waitEvent(t, otherEvents)
	if !ev.Removed {
		t.Fatalf("expected removal event, got %+v", ev)
	}

	select {
	case ev := <-selfEvents:
		t.Fatalf("writer must not observe its own event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	a := NewRedis(rdb, "origin-a")
	b := NewRedis(rdb, "origin-b")
	defer a.Close()
	defer b.Close()

	if err := a.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Fatalf("expected prefixes to isolate origins")
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	port := NewRedis(rdb, "sk")
	defer port.Close()
	mr.Close()

	err := port.Set(context.Background(), "k", "v")
	if err == nil {
		t.Fatalf("expected error with redis down")
	}
}
