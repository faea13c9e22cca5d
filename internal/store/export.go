package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

// ExportedEntry is a media entry with its bytes, as written by cache export.
type ExportedEntry struct {
	model.MediaEntry
	Data []byte `json:"data"`
}

// ExportAll returns every entry with data, optionally filtered by category,
// most recently accessed first.
func ExportAll(ctx context.Context, s Store, category string) ([]ExportedEntry, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	metas, err := s.List(ctx, ListParams{Category: category, Limit: n})
	if err != nil {
		return nil, err
	}

	out := make([]ExportedEntry, 0, len(metas))
	for _, meta := range metas {
		e, err := s.Get(ctx, meta.URL)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("export %s: %w", meta.URL, err)
		}
		data := e.Data
		e.Data = nil
		out = append(out, ExportedEntry{MediaEntry: *e, Data: data})
	}
	return out, nil
}

// Import stores entries from an export. URLs already present are skipped.
func Import(ctx context.Context, s Store, entries []ExportedEntry) (int, error) {
	imported := 0
	for _, x := range entries {
		if x.URL == "" {
			continue
		}
		if _, err := s.Get(ctx, x.URL); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return imported, err
		}
		e := x.MediaEntry
		e.Data = x.Data
		if err := s.Put(ctx, &e); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
