// Package cursor persists the id of the newest notification the bot has
// already considered.
package cursor

import (
	"context"
	"fmt"
	"sync"
)

// Store is the key-value contract behind the polling cursor. Get reports
// ok=false when no cursor has been stored. Set with an empty value clears it.
type Store interface {
	Get(ctx context.Context) (value string, ok bool, err error)
	Set(ctx context.Context, value string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Path is the cursor file for "file" and the database file for "sqlite".
	Path string
	// RedisURL is a redis:// URL, e.g. redis://localhost:6379/0.
	RedisURL string
	// Key names the cursor inside shared stores (sqlite table row, redis key).
	Key string
}

// DefaultKey is used when Options.Key is empty.
const DefaultKey = "otomed:last_notification_id"

// Open builds the store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	switch opts.Backend {
	case "", BackendFile:
		if opts.Path == "" {
			return nil, fmt.Errorf("cursor file backend: path is required")
		}
		return NewFile(opts.Path), nil
	case BackendMemory:
		return NewMemory(""), nil
	case BackendSQLite:
		if opts.Path == "" {
			return nil, fmt.Errorf("cursor sqlite backend: path is required")
		}
		return OpenSQLite(ctx, opts.Path, key)
	case BackendRedis:
		return OpenRedis(ctx, opts.RedisURL, key)
	default:
		return nil, fmt.Errorf("unknown cursor backend %q", opts.Backend)
	}
}

// Memory keeps the cursor in process memory. Used by tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	value string
	sets  int
}

// NewMemory returns a memory store seeded with initial ("" for none).
func NewMemory(initial string) *Memory {
	return &Memory{value: initial}
}

func (m *Memory) Get(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.value != "", nil
}

func (m *Memory) Set(ctx context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
	m.sets++
	return nil
}

// Sets returns how many times Set was called.
func (m *Memory) Sets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

func (m *Memory) Close() error { return nil }
