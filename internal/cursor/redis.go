package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the cursor under a single key.
type Redis struct {
	client *redis.Client
	key    string
}

// OpenRedis connects to url and pings the server.
func OpenRedis(ctx context.Context, url, key string) (*Redis, error) {
	if url == "" {
		return nil, fmt.Errorf("cursor redis backend: url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, key), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) Get(ctx context.Context) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cursor key: %w", err)
	}
	return v, v != "", nil
}

func (r *Redis) Set(ctx context.Context, value string) error {
	var err error
	if value == "" {
		err = r.client.Del(ctx, r.key).Err()
	} else {
		err = r.client.Set(ctx, r.key, value, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("write cursor key: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
