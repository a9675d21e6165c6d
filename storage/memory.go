package storage

import (
	"context"
	"strconv"
	"sync"
)

// Op names a storage operation for fault injection.
type Op int

const (
	// OpGet is a read.
	OpGet Op = iota
	// OpSet is a write.
	OpSet
	// OpRemove is a delete.
	OpRemove
)

// FaultFunc decides whether an operation on key fails. Returning nil lets it proceed.
type FaultFunc func(op Op, key string) error

// Memory is an in-process origin shared by any number of tabs.
//
// Writes made through a tab notify every other tab but never the writer, which
// mirrors how browsers deliver storage events. Writes made through Memory itself
// behave like an external writer and notify every tab.
type Memory struct {
	mu      sync.Mutex
	data    map[string]string
	tabs    map[uint64]*MemoryTab
	nextTab uint64
	fault   FaultFunc
	root    *MemoryTab
}

// NewMemory creates an empty in-memory origin.
func NewMemory() *Memory {
	m := &Memory{
		data: make(map[string]string),
		tabs: make(map[uint64]*MemoryTab),
	}
	m.root = m.newTab()
	return m
}

// Tab opens a new tab view on the origin.
func (m *Memory) Tab() *MemoryTab {
	return m.newTab()
}

func (m *Memory) newTab() *MemoryTab {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTab++
	tab := &MemoryTab{
		mem:  m,
		id:   m.nextTab,
		subs: make(map[uint64]*subscriber),
	}
	m.tabs[tab.id] = tab
	return tab
}

// SetFault installs a fault hook used to simulate quota or disabled-storage errors.
// Passing nil removes it.
func (m *Memory) SetFault(f FaultFunc) {
	m.mu.Lock()
	m.fault = f
	m.mu.Unlock()
}

// Get reads key as an external observer.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	return m.root.Get(ctx, key)
}

// Set writes key as an external writer and notifies every tab.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	return m.root.Set(ctx, key, value)
}

// Remove deletes key as an external writer and notifies every tab.
func (m *Memory) Remove(ctx context.Context, key string) error {
	return m.root.Remove(ctx, key)
}

// Subscribe observes writes made by tabs.
func (m *Memory) Subscribe(fn func(Event), keys ...string) func() {
	return m.root.Subscribe(fn, keys...)
}

// Close is a no-op for the origin itself; tabs are closed individually.
func (m *Memory) Close() error {
	return nil
}

// SetSilently writes key without delivering any notification. Tests use it to model
// a lost or not-yet-delivered storage event.
func (m *Memory) SetSilently(key, value string) {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
}

// Notify delivers the current value of key to every tab, as a late storage event would.
func (m *Memory) Notify(key string) {
	m.mu.Lock()
	value, ok := m.data[key]
	m.mu.Unlock()
	m.dispatch(m.root, Event{Key: key, Value: value, Removed: !ok, Origin: m.root.origin()})
}

func (m *Memory) checkFault(op Op, key string) error {
	m.mu.Lock()
	f := m.fault
	m.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(op, key)
}

func (m *Memory) dispatch(from *MemoryTab, ev Event) {
	m.mu.Lock()
	targets := make([]*MemoryTab, 0, len(m.tabs))
	for id, tab := range m.tabs {
		if id == from.id {
			continue
		}
		targets = append(targets, tab)
	}
	m.mu.Unlock()

	for _, tab := range targets {
		tab.deliver(ev)
	}
}

// MemoryTab is one tab's [Port] on a [Memory] origin.
type MemoryTab struct {
	mem *Memory
	id  uint64

	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
	closed  bool
}

func (t *MemoryTab) origin() string {
	return "memory:" + strconv.FormatUint(t.id, 10)
}

// Get implements [Port].
func (t *MemoryTab) Get(_ context.Context, key string) (string, bool, error) {
	if t.isClosed() {
		return "", false, ErrClosed
	}
	if err := t.mem.checkFault(OpGet, key); err != nil {
		return "", false, err
	}
	t.mem.mu.Lock()
	value, ok := t.mem.data[key]
	t.mem.mu.Unlock()
	return value, ok, nil
}

// Set implements [Port].
func (t *MemoryTab) Set(_ context.Context, key, value string) error {
	if t.isClosed() {
		return ErrClosed
	}
	if err := t.mem.checkFault(OpSet, key); err != nil {
		return err
	}
	t.mem.mu.Lock()
	t.mem.data[key] = value
	t.mem.mu.Unlock()
	t.mem.dispatch(t, Event{Key: key, Value: value, Origin: t.origin()})
	return nil
}

// Remove implements [Port]. Removing an absent key is not an error and emits no event.
func (t *MemoryTab) Remove(_ context.Context, key string) error {
	if t.isClosed() {
		return ErrClosed
	}
	if err := t.mem.checkFault(OpRemove, key); err != nil {
		return err
	}
	t.mem.mu.Lock()
	_, existed := t.mem.data[key]
	delete(t.mem.data, key)
	t.mem.mu.Unlock()
	if existed {
		t.mem.dispatch(t, Event{Key: key, Removed: true, Origin: t.origin()})
	}
	return nil
}

// Subscribe implements [Port].
func (t *MemoryTab) Subscribe(fn func(Event), keys ...string) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn == nil || t.closed {
		return func() {}
	}
	t.nextSub++
	sub := newSubscriber(t.nextSub, fn, keys)
	t.subs[sub.id] = sub

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, sub.id)
			t.mu.Unlock()
		})
	}
}

// Close detaches the tab from the origin and drops its subscribers.
func (t *MemoryTab) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.subs = make(map[uint64]*subscriber)
	t.mu.Unlock()

	t.mem.mu.Lock()
	delete(t.mem.tabs, t.id)
	t.mem.mu.Unlock()
	return nil
}

func (t *MemoryTab) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *MemoryTab) deliver(ev Event) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	targets := make([]func(Event), 0, len(t.subs))
	for _, sub := range t.subs {
		if sub.wants(ev.Key) {
			targets = append(targets, sub.fn)
		}
	}
	t.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
}
