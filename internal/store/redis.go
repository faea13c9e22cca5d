package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	DB           int
	Prefix       string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements Store on Redis. Each entry is a hash; two sorted sets
// index entries by last access and creation time (milliseconds), and one set
// per category lists its URLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	addr   string
}

// NewRedisStore builds a client for cfg. No connection is made until Init.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "danmaku:media:"
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})
	return &RedisStore{client: client, prefix: prefix, addr: strings.Join(addrs, ",")}, nil
}

func (s *RedisStore) entryKey(url string) string { return s.prefix + "entry:" + url }
func (s *RedisStore) lruKey() string { return s.prefix + "lru" }
func (s *RedisStore) createdKey() string { return s.prefix + "created" }
func (s *RedisStore) categoriesKey() string { return s.prefix + "categories" }
func (s *RedisStore) categoryKey(category string) string { return s.prefix + "cat:" + category }

func millis(t time.Time) float64 { return float64(t.UnixMilli()) }

func fromMillis(v string) time.Time {
	ms, _ := strconv.ParseInt(v, 10, 64)
	return time.UnixMilli(ms).UTC()
}

// Init verifies connectivity.
func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, url string) (*model.MediaEntry, error) {
	fields, err := s.client.HGetAll(ctx, s.entryKey(url)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	e := entryFromHash(url, fields)
	e.Data = []byte(fields["data"])

	score, err := s.client.ZScore(ctx, s.lruKey(), url).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if err == nil {
		e.LastAccessedAt = time.UnixMilli(int64(score)).UTC()
	}
	return &e, nil
}

func entryFromHash(url string, fields map[string]string) model.MediaEntry {
	size, _ := strconv.ParseInt(fields["size"], 10, 64)
	return model.MediaEntry{
		URL:         url,
		Category:    fields["category"],
		ContentType: fields["content_type"],
		Size:        size,
		CreatedAt:   fromMillis(fields["created_at"]),
	}
}

func (s *RedisStore) Put(ctx context.Context, e *model.MediaEntry) error {
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

	previous, err := s.client.HGet(ctx, s.entryKey(e.URL), "category").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("put media entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" && previous != e.Category {
			pipe.SRem(ctx, s.categoryKey(previous), e.URL)
		}
		pipe.HSet(ctx, s.entryKey(e.URL),
			"category", e.Category,
			"content_type", e.ContentType,
			"data", e.Data,
			"size", e.Size,
			"created_at", e.CreatedAt.UnixMilli(),
		)
		pipe.ZAdd(ctx, s.lruKey(), redis.Z{Score: millis(e.LastAccessedAt), Member: e.URL})
		pipe.ZAdd(ctx, s.createdKey(), redis.Z{Score: millis(e.CreatedAt), Member: e.URL})
		pipe.SAdd(ctx, s.categoryKey(e.Category), e.URL)
		pipe.SAdd(ctx, s.categoriesKey(), e.Category)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put media entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, url string, at time.Time) error {
	return s.client.ZAddXX(ctx, s.lruKey(), redis.Z{Score: millis(at), Member: url}).Err()
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.lruKey()).Result()
	return int(n), err
}

func (s *RedisStore) DeleteOldest(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	urls, err := s.client.ZRange(ctx, s.lruKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	return urls, s.deleteURLs(ctx, urls)
}

func (s *RedisStore) DeleteCategory(ctx context.Context, category string) ([]string, error) {
	urls, err := s.client.SMembers(ctx, s.categoryKey(category)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(urls)
	return urls, s.deleteURLs(ctx, urls)
}

func (s *RedisStore) DeleteCreatedBefore(ctx context.Context, t time.Time) ([]string, error) {
	urls, err := s.client.ZRangeByScore(ctx, s.createdKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(t.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	return urls, s.deleteURLs(ctx, urls)
}

func (s *RedisStore) deleteURLs(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	cats := make([]*redis.StringCmd, len(urls))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, url := range urls {
			cats[i] = pipe.HGet(ctx, s.entryKey(url), "category")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, len(urls))
		for i, url := range urls {
			members[i] = url
			pipe.Del(ctx, s.entryKey(url))
			if cat, err := cats[i].Result(); err == nil && cat != "" {
				pipe.SRem(ctx, s.categoryKey(cat), url)
			}
		}
		pipe.ZRem(ctx, s.lruKey(), members...)
		pipe.ZRem(ctx, s.createdKey(), members...)
		return nil
	})
	return err
}

func (s *RedisStore) List(ctx context.Context, p ListParams) ([]model.MediaEntry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	var ranked []redis.Z
	if p.Category == "" {
		zs, err := s.client.ZRevRangeWithScores(ctx, s.lruKey(), 0, int64(limit-1)).Result()
		if err != nil {
			return nil, err
		}
		ranked = zs
	} else {
		urls, err := s.client.SMembers(ctx, s.categoryKey(p.Category)).Result()
		if err != nil {
			return nil, err
		}
		scores, err := s.client.ZMScore(ctx, s.lruKey(), urls...).Result()
		if err != nil && len(urls) > 0 {
			return nil, err
		}
		for i, url := range urls {
			ranked = append(ranked, redis.Z{Score: scores[i], Member: url})
		}
		sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}
	}

	cmds := make([]*redis.SliceCmd, len(ranked))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, z := range ranked {
			cmds[i] = pipe.HMGet(ctx, s.entryKey(z.Member.(string)), "category", "content_type", "size", "created_at")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]model.MediaEntry, 0, len(ranked))
	for i, z := range ranked {
		vals := cmds[i].Val()
		fields := map[string]string{}
		for j, name := range []string{"category", "content_type", "size", "created_at"} {
			if j < len(vals) {
				if v, ok := vals[j].(string); ok {
					fields[name] = v
				}
			}
		}
		e := entryFromHash(z.Member.(string), fields)
		e.LastAccessedAt = time.UnixMilli(int64(z.Score)).UTC()
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "redis", Location: s.addr}

	cats, err := s.client.SMembers(ctx, s.categoriesKey()).Result()
	if err != nil {
		return st, err
	}
	sort.Strings(cats)

	for _, cat := range cats {
		urls, err := s.client.SMembers(ctx, s.categoryKey(cat)).Result()
		if err != nil {
			return st, err
		}
		if len(urls) == 0 {
			continue
		}
		cs := CategoryStats{Category: cat, Count: len(urls)}
		for _, url := range urls {
			size, err := s.client.HGet(ctx, s.entryKey(url), "size").Int64()
			if err == nil {
				cs.Bytes += size
			}
		}
		st.TotalEntries += cs.Count
		st.TotalBytes += cs.Bytes
		st.Categories = append(st.Categories, cs)
	}
	sort.SliceStable(st.Categories, func(i, j int) bool {
		return st.Categories[i].Count > st.Categories[j].Count
	})
	return st, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	urls, err := s.client.ZRange(ctx, s.lruKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	if err := s.deleteURLs(ctx, urls); err != nil {
		return err
	}
	cats, err := s.client.SMembers(ctx, s.categoriesKey()).Result()
	if err != nil {
		return err
	}
	keys := []string{s.lruKey(), s.createdKey(), s.categoriesKey()}
	for _, cat := range cats {
		keys = append(keys, s.categoryKey(cat))
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
