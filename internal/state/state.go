// ABOUTME: Store interface over the shared associative state store
// ABOUTME: All coordination services depend on this interface, never on a concrete backend

package state

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key or hash field does not exist.
var ErrNotFound = errors.New("not found")

// Store is the shared mutable state every agent coordinates through.
// Implementations must make the conditional writes (SetNX, HSetNX,
// HCompareAndSet) atomic: two concurrent callers for the same key/field
// resolve to exactly one reported winner.
type Store interface {
	// Plain keys
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetNX writes value only if key is absent; reports whether the write took effect.
	SetNX(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, key string) error

	// Hashes
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error
	// HSetNX writes the field only if it is absent; reports whether the write took effect.
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	// HCompareAndSet replaces the field's value with next only if it currently
	// equals prev; reports whether the swap took effect. An absent field never
	// matches.
	HCompareAndSet(ctx context.Context, key, field, prev, next string) (bool, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Lists (index 0 is the most recently pushed entry)
	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
