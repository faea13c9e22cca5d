// Package store provides the durable tier of the media cache and its SQLite
// and Redis implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

// ErrNotFound is returned by Get when no entry exists for a URL.
var ErrNotFound = errors.New("media entry not found")

// ListParams holds parameters for listing entries.
type ListParams struct {
	Category string
	Limit    int
}

// Store defines the durable media storage interface. Entries are keyed by
// source URL; there is at most one entry per URL.
type Store interface {
	// Init prepares the backing store (schema, connectivity). It must
	// complete before any other method is used.
	Init(ctx context.Context) error

	// Get returns the entry for url, or ErrNotFound.
	Get(ctx context.Context, url string) (*model.MediaEntry, error)

	// Put inserts or replaces the entry keyed by e.URL.
	Put(ctx context.Context, e *model.MediaEntry) error

	// Touch sets last_accessed_at for url. Missing entries are ignored.
	Touch(ctx context.Context, url string, at time.Time) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// DeleteOldest removes the n least recently accessed entries and returns
	// their URLs.
	DeleteOldest(ctx context.Context, n int) ([]string, error)

	// DeleteCategory removes every entry of category and returns their URLs.
	DeleteCategory(ctx context.Context, category string) ([]string, error)

	// DeleteCreatedBefore removes entries created before t and returns their
	// URLs.
	DeleteCreatedBefore(ctx context.Context, t time.Time) ([]string, error)

	// List returns entry metadata (without data), most recently accessed
	// first.
	List(ctx context.Context, p ListParams) ([]model.MediaEntry, error)

	// Stats returns entry counts and sizes.
	Stats(ctx context.Context) (*Stats, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Close closes the store.
	Close() error
}
