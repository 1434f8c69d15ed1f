// Package kv is the durable key-value port behind the usage ledger, with
// in-memory, SQLite and Redis backends.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed         = errors.New("store is closed")
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Store is a string-keyed byte store. Get reports absence through its bool
// result, never through an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend    string
	SQLitePath string
	RedisURL   string
}

// Open returns the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite, "":
		s, err := NewSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		r, err := NewRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, opts.Backend)
	}
}
