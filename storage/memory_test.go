package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryTabDoesNotNotifyWriter(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	a := mem.Tab()
	b := mem.Tab()

	var selfEvents, otherEvents []Event
	a.Subscribe(func(ev Event) { selfEvents = append(selfEvents, ev) })
	b.Subscribe(func(ev Event) { otherEvents = append(otherEvents, ev) })

	if err := a.Set(ctx, "authToken", "tok"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(selfEvents) != 0 {
		t.Fatalf("expected writer to receive no events, got %v", selfEvents)
	}
	if len(otherEvents) != 1 || otherEvents[0].Key != "authToken" || otherEvents[0].Value != "tok" {
		t.Fatalf("unexpected events on other tab: %v", otherEvents)
	}

	value, ok, err := b.Get(ctx, "authToken")
	if err != nil || !ok || value != "tok" {
		t.Fatalf("expected shared value, got %q ok=%v err=%v", value, ok, err)
	}
}

func TestMemoryExternalWriteNotifiesEveryTab(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	a := mem.Tab()
	b := mem.Tab()

	count := 0
	a.Subscribe(func(Event) { count++ }, "k")
	b.Subscribe(func(Event) { count++ }, "k")
	b.Subscribe(func(Event) { t.Fatalf("filtered subscriber must not see k") }, "other")

	if err := mem.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 deliveries, got %d", count)
	}
}

func TestMemoryRemoveAbsentKeyIsSilent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	a := mem.Tab()
	b := mem.Tab()

	events := 0
	b.Subscribe(func(Event) { events++ })

	if err := a.Remove(ctx, "missing"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if events != 0 {
		t.Fatalf("expected no events, got %d", events)
	}

	_ = a.Set(ctx, "k", "v")
	_ = a.Remove(ctx, "k")
	if events != 2 {
		t.Fatalf("expected set+remove events, got %d", events)
	}
}

func TestMemoryFaultInjection(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	tab := mem.Tab()

	quota := errors.New("quota exceeded")
	mem.SetFault(func(op Op, key string) error {
		if op == OpSet && key == "big" {
			return quota
		}
		return nil
	})

	if err := tab.Set(ctx, "big", "x"); !errors.Is(err, quota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if err := tab.Set(ctx, "small", "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mem.SetFault(nil)
	if err := tab.Set(ctx, "big", "x"); err != nil {
		t.Fatalf("expected fault cleared, got %v", err)
	}
}

func TestMemoryUnsubscribeAndClose(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	a := mem.Tab()
	b := mem.Tab()

	events := 0
	cancel := b.Subscribe(func(Event) { events++ })
	cancel()
	cancel()

	_ = a.Set(ctx, "k", "v")
	if events != 0 {
		t.Fatalf("expected no events after cancel, got %d", events)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := b.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemorySilentWriteThenNotify(t *testing.T) {
	mem := NewMemory()
	tab := mem.Tab()

	var got []Event
	tab.Subscribe(func(ev Event) { got = append(got, ev) })

	mem.SetSilently("k", "v")
	if len(got) != 0 {
		t.Fatalf("expected silent write, got %v", got)
	}
	mem.Notify("k")
	if len(got) != 1 || got[0].Value != "v" || got[0].Removed {
		t.Fatalf("unexpected notify delivery: %v", got)
	}
}
