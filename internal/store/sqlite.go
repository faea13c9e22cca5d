package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (but does not migrate) a SQLite database at the given
// path. Call Init before use.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: concurrent writers queue instead of hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Init creates the schema if it does not exist yet.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS media_entries (
		url              TEXT PRIMARY KEY,
		category         TEXT NOT NULL DEFAULT 'avatar',
		content_type     TEXT,
		data             BLOB NOT NULL,
		size             INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_media_last_accessed ON media_entries(last_accessed_at);
	CREATE INDEX IF NOT EXISTS idx_media_category ON media_entries(category);
	CREATE INDEX IF NOT EXISTS idx_media_created ON media_entries(created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, url string) (*model.MediaEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT url, category, content_type, data, size, created_at, last_accessed_at
		 FROM media_entries WHERE url = ?`, url)

	e, err := scanEntry(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e *model.MediaEntry) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = e.CreatedAt
	}
	if e.Category == "" {
		e.Category = model.MediaAvatar
	}
	e.Size = int64(len(e.Data))
	data := e.Data
	if data == nil {
		data = []byte{}
	}

	var contentType *string
	if e.ContentType != "" {
		contentType = &e.ContentType
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_entries (url, category, content_type, data, size, created_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
		   category = excluded.category,
		   content_type = excluded.content_type,
		   data = excluded.data,
		   size = excluded.size,
		   created_at = excluded.created_at,
		   last_accessed_at = excluded.last_accessed_at`,
		e.URL, e.Category, contentType, data, e.Size,
		e.CreatedAt.UnixNano(), e.LastAccessedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put media entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, url string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE media_entries SET last_accessed_at = ? WHERE url = ?`, at.UnixNano(), url)
	return err
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_entries`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) DeleteOldest(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.deleteWhere(ctx,
		`SELECT url FROM media_entries ORDER BY last_accessed_at ASC, url ASC LIMIT ?`, n)
}

func (s *SQLiteStore) DeleteCategory(ctx context.Context, category string) ([]string, error) {
	return s.deleteWhere(ctx, `SELECT url FROM media_entries WHERE category = ?`, category)
}

func (s *SQLiteStore) DeleteCreatedBefore(ctx context.Context, t time.Time) ([]string, error) {
	return s.deleteWhere(ctx, `SELECT url FROM media_entries WHERE created_at < ?`, t.UnixNano())
}

// deleteWhere selects the URLs matching query and deletes them in one
// transaction.
func (s *SQLiteStore) deleteWhere(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			rows.Close()
			return nil, err
		}
		urls = append(urls, url)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, url := range urls {
		if _, err := tx.ExecContext(ctx, `DELETE FROM media_entries WHERE url = ?`, url); err != nil {
			return nil, fmt.Errorf("delete %s: %w", url, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return urls, nil
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.MediaEntry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"1 = 1"}
	args := []interface{}{}
	if p.Category != "" {
		where = append(where, "category = ?")
		args = append(args, p.Category)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT url, category, content_type, NULL, size, created_at, last_accessed_at
		FROM media_entries
		WHERE %s
		ORDER BY last_accessed_at DESC
		LIMIT ?`, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.MediaEntry
	for rows.Next() {
		e, err := scanEntry(rows, false)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM media_entries`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner, withData bool) (model.MediaEntry, error) {
	var e model.MediaEntry
	var contentType sql.NullString
	var data []byte
	var createdAt, lastAccessed int64

	err := row.Scan(&e.URL, &e.Category, &contentType, &data, &e.Size, &createdAt, &lastAccessed)
	if err != nil {
		return e, err
	}

	if contentType.Valid {
		e.ContentType = contentType.String
	}
	if withData {
		e.Data = data
	}
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.LastAccessedAt = time.Unix(0, lastAccessed).UTC()
	return e, nil
}
