package queue

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// Store is the key-value backend holding both queue tables.
// Take must be atomic: of two concurrent callers on the same key, only one gets the value.
type Store interface {
	Get(ctx context.Context, table Table, key string) ([]byte, error)
	Set(ctx context.Context, table Table, key string, value []byte) error
	SetNX(ctx context.Context, table Table, key string, value []byte) (bool, error)
	Take(ctx context.Context, table Table, key string) ([]byte, error)
	Delete(ctx context.Context, table Table, key string) error
	Scan(ctx context.Context, table Table, fn func(key string, value []byte) error) error
	Flush(ctx context.Context, table Table) error
	Close() error
}
