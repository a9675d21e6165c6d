package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by [Open].
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

// Options selects and configures a backend for [Open].
type Options struct {
	Backend     string
	RedisAddr   string
	RedisPrefix string
	Dir         string
	Logger      *slog.Logger
}

// Open builds a port from opts. For the redis backend the returned port owns the
// client it creates and closes it on Close.
func Open(ctx context.Context, opts Options) (Port, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory().Tab(), nil
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("storage: redis backend requires an address")
		}
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: redis ping: %w", ErrUnavailable, err)
		}
		return &ownedRedis{Redis: NewRedis(client, opts.RedisPrefix, WithRedisLogger(opts.Logger)), client: client}, nil
	case BackendFile:
		return NewFile(opts.Dir, WithFileLogger(opts.Logger))
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Backend)
	}
}

type ownedRedis struct {
	*Redis
	client *redis.Client
}

func (o *ownedRedis) Close() error {
	err := o.Redis.Close()
	if cerr := o.client.Close(); err == nil {
		err = cerr
	}
	return err
}
