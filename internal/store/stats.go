package store

import (
	"context"
	"os"
)

// Stats holds media cache statistics.
type Stats struct {
	Backend      string          `json:"backend"`
	Location     string          `json:"location,omitempty"`
	DBSizeBytes  int64           `json:"db_size_bytes,omitempty"`
	TotalEntries int             `json:"total_entries"`
	TotalBytes   int64           `json:"total_bytes"`
	Categories   []CategoryStats `json:"categories"`
}

// CategoryStats holds per-category counts.
type CategoryStats struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
	Bytes    int64  `json:"bytes"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "sqlite", Location: s.path}

	// DB file size
	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM media_entries`).Scan(&st.TotalEntries, &st.TotalBytes); err != nil {
		return st, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) AS cnt, COALESCE(SUM(size), 0)
		FROM media_entries
		GROUP BY category ORDER BY cnt DESC, category`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var c CategoryStats
		if err := rows.Scan(&c.Category, &c.Count, &c.Bytes); err != nil {
			return st, err
		}
		st.Categories = append(st.Categories, c)
	}

	return st, rows.Err()
}
