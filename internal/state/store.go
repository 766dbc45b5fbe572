// Package state persists plan audit records. In-flight plans are never resumed
// from it.
package state

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// HistoryStore is implemented by stores that keep an append-only log per key.
type HistoryStore interface {
	Store
	Append(ctx context.Context, key, value string, at time.Time) error
	History(ctx context.Context, key string, limit int) ([]string, error)
}
