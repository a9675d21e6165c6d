package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const subscribeConfirmTimeout = 5 * time.Second

type envelope struct {
	Key     string `json:"k"`
	Value   string `json:"v,omitempty"`
	Removed bool   `json:"r,omitempty"`
	Origin  string `json:"o"`
}

// Redis is a [Port] whose origin is a Redis keyspace. Every mutation is published on
// "<prefix>:events" in the same MULTI/EXEC as the write, so tabs in other processes
// observe it. A Redis port drops envelopes carrying its own origin.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	channel string
	origin  string
	logger  *slog.Logger

	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
	pubsub  *redis.PubSub
	done    chan struct{}
	closed  bool
}

// RedisOption customizes a [Redis] port.
type RedisOption func(*Redis)

// WithRedisLogger sets the logger used for notification decode failures.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRedisOrigin overrides the generated origin id.
func WithRedisOrigin(origin string) RedisOption {
	return func(r *Redis) {
		if origin != "" {
			r.origin = origin
		}
	}
}

// NewRedis creates a Redis-backed port. prefix namespaces both the keys and the
// notification channel; one prefix is one origin.
func NewRedis(client redis.UniversalClient, prefix string, opts ...RedisOption) *Redis {
	if prefix == "" {
		prefix = "sk"
	}
	r := &Redis{
		client:  client,
		prefix:  prefix,
		channel: prefix + ":events",
		origin:  "redis:" + uuid.NewString(),
		logger:  slog.Default(),
		subs:    make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Origin returns the id stamped on this port's notifications.
func (r *Redis) Origin() string {
	return r.origin
}

func (r *Redis) key(key string) string {
	return r.prefix + ":" + key
}

// Get implements [Port].
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	if r.isClosed() {
		return "", false, ErrClosed
	}
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: redis get %s: %w", ErrUnavailable, key, err)
	}
	return value, true, nil
}

// Set implements [Port].
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if r.isClosed() {
		return ErrClosed
	}
	payload, err := json.Marshal(envelope{Key: key, Value: value, Origin: r.origin})
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(key), value, 0)
		pipe.Publish(ctx, r.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis set %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// Remove implements [Port].
func (r *Redis) Remove(ctx context.Context, key string) error {
	if r.isClosed() {
		return ErrClosed
	}
	payload, err := json.Marshal(envelope{Key: key, Removed: true, Origin: r.origin})
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(key))
		pipe.Publish(ctx, r.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis remove %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// Subscribe implements [Port]. The first subscription opens the pub/sub connection
// and waits for the server to confirm it, so writes issued after Subscribe returns
// are observed.
func (r *Redis) Subscribe(fn func(Event), keys ...string) func() {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return func() {}
	}
	r.nextSub++
	sub := newSubscriber(r.nextSub, fn, keys)
	r.subs[sub.id] = sub
	needListen := r.pubsub == nil
	if needListen {
		r.pubsub = r.client.Subscribe(context.Background(), r.channel)
		r.done = make(chan struct{})
	}
	ps := r.pubsub
	done := r.done
	r.mu.Unlock()

	if needListen {
		ctx, cancel := context.WithTimeout(context.Background(), subscribeConfirmTimeout)
		if _, err := ps.Receive(ctx); err != nil {
			r.logger.Warn("sessionkit: redis subscribe not confirmed", "channel", r.channel, "error", err)
		}
		cancel()
		go r.listen(ps, done)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, sub.id)
			r.mu.Unlock()
		})
	}
}

func (r *Redis) listen(ps *redis.PubSub, done chan struct{}) {
	defer close(done)
	for msg := range ps.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.logger.Debug("sessionkit: dropping malformed storage notification", "channel", msg.Channel, "error", err)
			continue
		}
		if env.Origin == r.origin {
			continue
		}
		r.deliver(Event{Key: env.Key, Value: env.Value, Removed: env.Removed, Origin: env.Origin})
	}
}

func (r *Redis) deliver(ev Event) {
	r.mu.Lock()
	targets := make([]func(Event), 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.wants(ev.Key) {
			targets = append(targets, sub.fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
}

// Close stops the notification listener. The Redis client is owned by the caller.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ps := r.pubsub
	done := r.done
	r.subs = make(map[uint64]*subscriber)
	r.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
