package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed port.
var ErrClosed = errors.New("storage closed")

// ErrUnavailable is returned when the backing store rejects an operation
// (quota exceeded, storage disabled, backend down).
var ErrUnavailable = errors.New("storage unavailable")

// Event is a change notification for a single key.
type Event struct {
	Key     string
	Value   string
	Removed bool
	// Origin identifies the writer when the backend knows it.
	Origin string
}

// Port is the storage contract consumed by the session store and the inactivity
// monitor. Implementations must be safe for concurrent use.
type Port interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Subscribe registers fn for changes to keys (all keys when none are given).
	// The returned cancel func is idempotent.
	Subscribe(fn func(Event), keys ...string) (cancel func())
	Close() error
}

type subscriber struct {
	id   uint64
	fn   func(Event)
	keys map[string]struct{}
}

func newSubscriber(id uint64, fn func(Event), keys []string) *subscriber {
	s := &subscriber{id: id, fn: fn}
	if len(keys) > 0 {
		s.keys = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			s.keys[k] = struct{}{}
		}
	}
	return s
}

func (s *subscriber) wants(key string) bool {
	if s.keys == nil {
		return true
	}
	_, ok := s.keys[key]
	return ok
}
