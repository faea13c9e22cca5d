// Package mediacache resolves image URLs to local bytes through a memory tier
// and a durable store, coalescing concurrent fetches of the same URL.
package mediacache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/danmaku-monitor/internal/logging"
	"github.com/rcliao/danmaku-monitor/internal/model"
	"github.com/rcliao/danmaku-monitor/internal/store"
)

// ErrNotInitialized is returned by maintenance operations when the durable
// store could not be initialized.
var ErrNotInitialized = errors.New("media cache: durable store unavailable")

// ErrClosed is returned after Shutdown.
var ErrClosed = errors.New("media cache: closed")

const (
	DefaultMaxEntries   = 1000
	DefaultClearBuffer  = 50
	DefaultMemoryTTL    = 30 * time.Minute
	DefaultFetchTimeout = 10 * time.Second
	DefaultMaxAge       = 7 * 24 * time.Hour
)

// Config configures a Cache. Zero values take the defaults above; a nil
// Store runs the cache as a pass-through.
type Config struct {
	Store   store.Store
	Fetcher Fetcher

	MaxEntries   int
	ClearBuffer  int
	MemoryTTL    time.Duration
	FetchTimeout time.Duration

	// SingletonCategories hold at most one entry: saving a new one first
	// invalidates the category. Writes to one such category are serialized.
	SingletonCategories []string

	Logger *slog.Logger
	Now    func() time.Time
}

// Image is a resolved asset.
type Image struct {
	URL         string
	Category    string
	ContentType string
	Data        []byte
}

// Cache is the two-tier media cache.
type Cache struct {
	store      store.Store
	fetcher    Fetcher
	log        *slog.Logger
	now        func() time.Time
	mem        *gocache.Cache
	group      singleflight.Group
	singletons map[string]*sync.Mutex

	maxEntries   int
	clearBuffer  int
	fetchTimeout time.Duration

	initOnce sync.Once
	initErr  error

	lifeMu sync.RWMutex
	closed bool
	bg     sync.WaitGroup
}

// New builds a Cache. The durable store is initialized lazily on first use,
// or eagerly by Initialize.
func New(cfg Config) *Cache {
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher(nil)
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.ClearBuffer <= 0 {
		cfg.ClearBuffer = DefaultClearBuffer
	}
	if cfg.ClearBuffer >= cfg.MaxEntries {
		// Small quotas still evict below the ceiling.
		cfg.ClearBuffer = max(1, cfg.MaxEntries/20)
	}
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = DefaultMemoryTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	singletons := make(map[string]*sync.Mutex, len(cfg.SingletonCategories))
	for _, c := range cfg.SingletonCategories {
		singletons[c] = &sync.Mutex{}
	}

	return &Cache{
		store:   cfg.Store,
		fetcher: cfg.Fetcher,
		log:     logging.WithComponent(cfg.Logger, "mediacache"),
		now:     cfg.Now,
		// No janitor goroutine; expired items are dropped on quota passes.
		mem:          gocache.New(cfg.MemoryTTL, 0),
		singletons:   singletons,
		maxEntries:   cfg.MaxEntries,
		clearBuffer:  cfg.ClearBuffer,
		fetchTimeout: cfg.FetchTimeout,
	}
}

// Initialize prepares the durable store. A failure leaves the cache in
// pass-through mode and is returned for the caller to report; it is not
// retried.
func (c *Cache) Initialize(ctx context.Context) error {
	return c.ensureInit(ctx)
}

func (c *Cache) ensureInit(ctx context.Context) error {
	c.initOnce.Do(func() {
		if c.store == nil {
			c.initErr = ErrNotInitialized
			return
		}
		if err := c.store.Init(ctx); err != nil {
			c.initErr = fmt.Errorf("%w: %v", ErrNotInitialized, err)
			c.log.Warn("durable store unavailable, caching disabled", "error", err)
		}
	})
	return c.initErr
}

// Durable reports whether the durable tier is in use.
func (c *Cache) Durable(ctx context.Context) bool {
	return c.ensureInit(ctx) == nil
}

// Shutdown waits for in-flight loads and access-time updates, then closes the
// durable store. Further LoadImage calls return nil.
func (c *Cache) Shutdown(ctx context.Context) error {
	c.lifeMu.Lock()
	if c.closed {
		c.lifeMu.Unlock()
		return nil
	}
	c.closed = true
	c.lifeMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mem.Flush()
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// track registers background work; it fails once Shutdown has begun.
func (c *Cache) track() bool {
	c.lifeMu.RLock()
	defer c.lifeMu.RUnlock()
	if c.closed {
		return false
	}
	c.bg.Add(1)
	return true
}

// LoadImage resolves url to an image, or nil if it cannot be produced. Calls
// for the same url share one attempt. Cancelling ctx abandons the wait but not
// the shared attempt, which is bounded by the fetch timeout.
func (c *Cache) LoadImage(ctx context.Context, url, category string) *Image {
	if url == "" {
		return nil
	}
	if v, ok := c.mem.Get(url); ok {
		c.touchAsync(url)
		return v.(*Image)
	}
	if !c.track() {
		return nil
	}

	ch := make(chan *Image, 1)
	go func() {
		defer c.bg.Done()
		v, err, _ := c.group.Do(url, func() (interface{}, error) {
			shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
			defer cancel()
			return c.load(shared, url, category)
		})
		if err != nil {
			ch <- nil
			return
		}
		ch <- v.(*Image)
	}()

	select {
	case img := <-ch:
		return img
	case <-ctx.Done():
		return nil
	}
}

func (c *Cache) load(ctx context.Context, url, category string) (*Image, error) {
	log := logging.WithContext(ctx, c.log).With("url", url, "category", category)
	durable := c.ensureInit(ctx) == nil

	if durable {
		e, err := c.store.Get(ctx, url)
		switch {
		case err == nil:
			img := &Image{URL: e.URL, Category: e.Category, ContentType: e.ContentType, Data: e.Data}
			c.mem.SetDefault(url, img)
			c.touchAsync(url)
			return img, nil
		case !errors.Is(err, store.ErrNotFound):
			log.Warn("read cached media failed", "error", err)
			return nil, err
		}
	}

	data, contentType, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		log.Warn("fetch media failed", "error", err)
		return nil, err
	}
	img := &Image{URL: url, Category: category, ContentType: contentType, Data: data}
	if !durable {
		return img, nil
	}

	if mu, ok := c.singletons[category]; ok {
		mu.Lock()
		defer mu.Unlock()
		if _, err := c.invalidate(ctx, category); err != nil {
			log.Warn("invalidate singleton category failed", "error", err)
			return nil, err
		}
	}

	at := c.now().UTC()
	if err := c.store.Put(ctx, &model.MediaEntry{
		URL:            url,
		Category:       category,
		ContentType:    contentType,
		Data:           data,
		CreatedAt:      at,
		LastAccessedAt: at,
	}); err != nil {
		log.Warn("persist media failed", "error", err)
		return nil, err
	}
	c.mem.SetDefault(url, img)

	if _, err := c.enforceQuota(ctx); err != nil {
		log.Warn("enforce quota failed", "error", err)
	}
	return img, nil
}

func (c *Cache) touchAsync(url string) {
	if c.ensureInit(context.Background()) != nil || !c.track() {
		return
	}
	at := c.now().UTC()
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		defer cancel()
		if err := c.store.Touch(ctx, url, at); err != nil {
			c.log.Debug("touch media failed", "url", url, "error", err)
		}
	}()
}

// InvalidateCategory removes every entry of category from both tiers and
// returns how many durable entries were deleted.
func (c *Cache) InvalidateCategory(ctx context.Context, category string) (int, error) {
	if err := c.ensureInit(ctx); err != nil {
		c.dropMemory(func(img *Image) bool { return img.Category == category })
		return 0, err
	}
	return c.invalidate(ctx, category)
}

func (c *Cache) invalidate(ctx context.Context, category string) (int, error) {
	urls, err := c.store.DeleteCategory(ctx, category)
	c.dropURLs(urls)
	c.dropMemory(func(img *Image) bool { return img.Category == category })
	if err != nil {
		return len(urls), fmt.Errorf("invalidate %s: %w", category, err)
	}
	if len(urls) > 0 {
		c.log.Debug("invalidated category", "category", category, "deleted", len(urls))
	}
	return len(urls), nil
}

// EnforceQuota evicts the least recently accessed entries when the durable
// count exceeds MaxEntries, down to MaxEntries minus ClearBuffer.
func (c *Cache) EnforceQuota(ctx context.Context) (int, error) {
	if err := c.ensureInit(ctx); err != nil {
		return 0, err
	}
	return c.enforceQuota(ctx)
}

func (c *Cache) enforceQuota(ctx context.Context) (int, error) {
	c.mem.DeleteExpired()

	count, err := c.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	if count <= c.maxEntries {
		return 0, nil
	}

	urls, err := c.store.DeleteOldest(ctx, count-c.maxEntries+c.clearBuffer)
	c.dropURLs(urls)
	if err != nil {
		return len(urls), fmt.Errorf("evict oldest: %w", err)
	}
	c.log.Debug("evicted entries over quota", "count", count, "evicted", len(urls))
	return len(urls), nil
}

// ExpireOlderThan deletes entries created more than maxAge ago.
func (c *Cache) ExpireOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	if err := c.ensureInit(ctx); err != nil {
		return 0, err
	}
	urls, err := c.store.DeleteCreatedBefore(ctx, c.now().Add(-maxAge))
	c.dropURLs(urls)
	if err != nil {
		return len(urls), fmt.Errorf("expire entries: %w", err)
	}
	return len(urls), nil
}

// ClearAll empties both tiers.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.mem.Flush()
	if err := c.ensureInit(ctx); err != nil {
		return err
	}
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	return nil
}

// Stats describes both tiers.
type Stats struct {
	MemoryEntries int          `json:"memory_entries"`
	Durable       bool         `json:"durable"`
	Store         *store.Stats `json:"store,omitempty"`
}

// Stats returns tier statistics. In pass-through mode only the memory tier is
// reported.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{MemoryEntries: len(c.mem.Items())}
	if c.ensureInit(ctx) != nil {
		return st, nil
	}
	ds, err := c.store.Stats(ctx)
	if err != nil {
		return st, err
	}
	st.Durable = true
	st.Store = ds
	return st, nil
}

func (c *Cache) dropURLs(urls []string) {
	for _, u := range urls {
		c.mem.Delete(u)
	}
}

func (c *Cache) dropMemory(match func(*Image) bool) {
	for key, item := range c.mem.Items() {
		if img, ok := item.Object.(*Image); ok && match(img) {
			c.mem.Delete(key)
		}
	}
}
