package mediacache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rcliao/danmaku-monitor/internal/logging"
	"github.com/rcliao/danmaku-monitor/internal/model"
	"github.com/rcliao/danmaku-monitor/internal/store"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// clock advances one second per reading so access order is strict.
type clock struct {
	ticks  atomic.Int64
	offset atomic.Int64
}

func (c *clock) Now() time.Time {
	return base.Add(time.Duration(c.ticks.Add(1))*time.Second + time.Duration(c.offset.Load()))
}

func (c *clock) Advance(d time.Duration) { c.offset.Add(int64(d)) }

type fakeFetcher struct {
	mu     sync.Mutex
	counts map[string]int
	fail   map[string]bool
	gate   chan struct{}
	start  chan string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{counts: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	f.counts[url]++
	fail := f.fail[url]
	gate, start := f.gate, f.start
	f.mu.Unlock()

	if start != nil {
		start <- url
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	if fail {
		return nil, "", errors.New("connection reset")
	}
	return []byte("bytes:" + url), "image/png", nil
}

func (f *fakeFetcher) Count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

func (f *fakeFetcher) SetFail(url string, fail bool) {
	f.mu.Lock()
	f.fail[url] = fail
	f.mu.Unlock()
}

type harness struct {
	cache   *Cache
	store   *store.SQLiteStore
	fetcher *fakeFetcher
	clock   *clock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	leaks := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, leaks) })

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "media.db"))
	require.NoError(t, err)

	h := &harness{store: s, fetcher: newFakeFetcher(), clock: &clock{}}
	cfg.Store = s
	if cfg.Fetcher == nil {
		cfg.Fetcher = h.fetcher
	}
	cfg.Logger = logging.Discard()
	cfg.Now = h.clock.Now
	h.cache = New(cfg)
	require.NoError(t, h.cache.Initialize(context.Background()))
	t.Cleanup(func() { h.cache.Shutdown(context.Background()) })
	return h
}

func (h *harness) stored(t *testing.T, url string) bool {
	t.Helper()
	_, err := h.store.Get(context.Background(), url)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestLoadImageFetchesAndPersists(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	img := h.cache.LoadImage(ctx, "https://i0.hdslb.com/face.png", model.MediaAvatar)
	require.NotNil(t, img)
	require.Equal(t, "bytes:https://i0.hdslb.com/face.png", string(img.Data))
	require.Equal(t, "image/png", img.ContentType)
	require.Equal(t, model.MediaAvatar, img.Category)
	require.True(t, h.stored(t, "https://i0.hdslb.com/face.png"))

	again := h.cache.LoadImage(ctx, "https://i0.hdslb.com/face.png", model.MediaAvatar)
	require.Same(t, img, again)
	require.Equal(t, 1, h.fetcher.Count("https://i0.hdslb.com/face.png"))
}

func TestLoadImageCoalescesConcurrentCalls(t *testing.T) {
	h := newHarness(t, Config{})
	h.fetcher.gate = make(chan struct{})
	h.fetcher.start = make(chan string, 4)

	const url = "https://x/a.png"
	results := make([]*Image, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.cache.LoadImage(context.Background(), url, model.MediaAvatar)
		}(i)
	}

	<-h.fetcher.start
	close(h.fetcher.gate)
	wg.Wait()

	require.Equal(t, 1, h.fetcher.Count(url))
	require.NotNil(t, results[0])
	require.Same(t, results[0], results[1])
}

func TestLoadImageCoalescesOverHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("\x89PNG\r\n\x1a\nrest"))
	}))

	fetcher := &HTTPFetcher{Client: srv.Client()}
	h := newHarness(t, Config{Fetcher: fetcher})
	t.Cleanup(srv.Close)

	url := srv.URL + "/a.png"
	var wg sync.WaitGroup
	var got [2]*Image
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = h.cache.LoadImage(context.Background(), url, model.MediaAvatar)
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, hits.Load())
	require.NotNil(t, got[0])
	require.Same(t, got[0], got[1])
	require.Equal(t, "image/png", got[0].ContentType)
}

func TestLoadImageServesDurableHitAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media.db")
	fetcher := newFakeFetcher()
	ctx := context.Background()

	open := func() *Cache {
		s, err := store.NewSQLiteStore(path)
		require.NoError(t, err)
		return New(Config{Store: s, Fetcher: fetcher, Logger: logging.Discard()})
	}

	first := open()
	require.NotNil(t, first.LoadImage(ctx, "u", model.MediaGiftIcon))
	require.NoError(t, first.Shutdown(ctx))

	second := open()
	defer second.Shutdown(ctx)
	img := second.LoadImage(ctx, "u", model.MediaGiftIcon)
	require.NotNil(t, img)
	require.Equal(t, "bytes:u", string(img.Data))
	require.Equal(t, model.MediaGiftIcon, img.Category)
	require.Equal(t, 1, fetcher.Count("u"))
}

func TestQuotaKeepsMostRecent(t *testing.T) {
	h := newHarness(t, Config{MaxEntries: 10, ClearBuffer: 3})
	ctx := context.Background()

	for i := 0; i <= 10; i++ {
		require.NotNil(t, h.cache.LoadImage(ctx, fmt.Sprintf("u%d", i), model.MediaAvatar))
	}

	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	for i := 0; i <= 10; i++ {
		require.Equal(t, i >= 4, h.stored(t, fmt.Sprintf("u%d", i)), "u%d", i)
	}

	// evicted entries left the memory tier too
	h.cache.LoadImage(ctx, "u0", model.MediaAvatar)
	require.Equal(t, 2, h.fetcher.Count("u0"))
}

func TestQuotaDefaultsEvictBelowCeiling(t *testing.T) {
	require.Equal(t, DefaultClearBuffer, New(Config{}).clearBuffer)

	h := newHarness(t, Config{MaxEntries: 10})
	ctx := context.Background()

	for i := 0; i <= 10; i++ {
		require.NotNil(t, h.cache.LoadImage(ctx, fmt.Sprintf("u%d", i), model.MediaAvatar))
	}

	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	require.Less(t, n, 10)
	require.True(t, h.stored(t, "u10"))
	require.False(t, h.stored(t, "u0"))
}

func TestQuotaHonoursRecentAccess(t *testing.T) {
	h := newHarness(t, Config{MaxEntries: 10, ClearBuffer: 3})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		h.cache.LoadImage(ctx, fmt.Sprintf("u%d", i), model.MediaAvatar)
	}
	before, err := h.store.Get(ctx, "u9")
	require.NoError(t, err)

	// memory hit; the access time is bumped in the background
	h.cache.LoadImage(ctx, "u0", model.MediaAvatar)
	require.Eventually(t, func() bool {
		e, err := h.store.Get(ctx, "u0")
		return err == nil && e.LastAccessedAt.After(before.LastAccessedAt)
	}, 2*time.Second, 10*time.Millisecond)

	h.cache.LoadImage(ctx, "u10", model.MediaAvatar)
	require.True(t, h.stored(t, "u0"))
	for i := 1; i <= 4; i++ {
		require.False(t, h.stored(t, fmt.Sprintf("u%d", i)), "u%d", i)
	}
	require.True(t, h.stored(t, "u5"))
	require.Equal(t, 1, h.fetcher.Count("u0"))
}

func TestInvalidateCategory(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.cache.LoadImage(ctx, "a1", model.MediaAvatar)
	h.cache.LoadImage(ctx, "a2", model.MediaAvatar)
	h.cache.LoadImage(ctx, "q1", model.MediaQRCode)

	n, err := h.cache.InvalidateCategory(ctx, model.MediaQRCode)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entries, err := h.store.List(ctx, store.ListParams{Category: model.MediaQRCode})
	require.NoError(t, err)
	require.Empty(t, entries)
	require.True(t, h.stored(t, "a1"))
	require.True(t, h.stored(t, "a2"))

	h.cache.LoadImage(ctx, "q1", model.MediaQRCode)
	require.Equal(t, 2, h.fetcher.Count("q1"))
	h.cache.LoadImage(ctx, "a1", model.MediaAvatar)
	require.Equal(t, 1, h.fetcher.Count("a1"))
}

func TestSingletonCategoryKeepsLatest(t *testing.T) {
	h := newHarness(t, Config{SingletonCategories: []string{model.MediaQRCode}})
	ctx := context.Background()

	h.cache.LoadImage(ctx, "avatar", model.MediaAvatar)
	require.NotNil(t, h.cache.LoadImage(ctx, "qr-old", model.MediaQRCode))
	require.NotNil(t, h.cache.LoadImage(ctx, "qr-new", model.MediaQRCode))

	entries, err := h.store.List(ctx, store.ListParams{Category: model.MediaQRCode})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "qr-new", entries[0].URL)
	require.True(t, h.stored(t, "avatar"))
}

func TestSingletonCategoryConcurrentWrites(t *testing.T) {
	h := newHarness(t, Config{SingletonCategories: []string{model.MediaQRCode}})
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		h.fetcher.gate = make(chan struct{})
		h.fetcher.start = make(chan string, 2)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(url string) {
				defer wg.Done()
				h.cache.LoadImage(ctx, url, model.MediaQRCode)
			}(fmt.Sprintf("qr-%d-%d", round, i))
		}
		<-h.fetcher.start
		<-h.fetcher.start
		close(h.fetcher.gate)
		wg.Wait()

		entries, err := h.store.List(ctx, store.ListParams{Category: model.MediaQRCode})
		require.NoError(t, err)
		require.Len(t, entries, 1, "round %d", round)
	}
}

func TestExpireOlderThan(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.cache.LoadImage(ctx, "old", model.MediaAvatar)
	h.clock.Advance(8 * 24 * time.Hour)
	h.cache.LoadImage(ctx, "fresh", model.MediaAvatar)

	n, err := h.cache.ExpireOlderThan(ctx, DefaultMaxAge)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, h.stored(t, "old"))
	require.True(t, h.stored(t, "fresh"))

	h.cache.LoadImage(ctx, "old", model.MediaAvatar)
	require.Equal(t, 2, h.fetcher.Count("old"))
}

func TestClearAll(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.cache.LoadImage(ctx, "a", model.MediaAvatar)
	h.cache.LoadImage(ctx, "g", model.MediaGiftIcon)
	require.NoError(t, h.cache.ClearAll(ctx))

	st, err := h.cache.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, st.MemoryEntries)
	require.True(t, st.Durable)
	require.Zero(t, st.Store.TotalEntries)
}

func TestFetchFailureReturnsNil(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.fetcher.SetFail("broken", true)

	require.Nil(t, h.cache.LoadImage(ctx, "broken", model.MediaAvatar))
	require.False(t, h.stored(t, "broken"))

	// no negative caching: the next call tries again
	h.fetcher.SetFail("broken", false)
	require.NotNil(t, h.cache.LoadImage(ctx, "broken", model.MediaAvatar))
	require.Equal(t, 2, h.fetcher.Count("broken"))
}

func TestFetchTimeoutReleasesSlot(t *testing.T) {
	h := newHarness(t, Config{FetchTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	h.fetcher.gate = make(chan struct{})

	start := time.Now()
	require.Nil(t, h.cache.LoadImage(ctx, "hung", model.MediaAvatar))
	require.Less(t, time.Since(start), 2*time.Second)

	close(h.fetcher.gate)
	require.NotNil(t, h.cache.LoadImage(ctx, "hung", model.MediaAvatar))
	require.Equal(t, 2, h.fetcher.Count("hung"))
}

func TestCallerCancellationKeepsSharedFetch(t *testing.T) {
	h := newHarness(t, Config{})
	h.fetcher.gate = make(chan struct{})
	h.fetcher.start = make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Image)
	go func() { done <- h.cache.LoadImage(ctx, "slow", model.MediaAvatar) }()

	<-h.fetcher.start
	cancel()
	require.Nil(t, <-done)

	close(h.fetcher.gate)
	require.Eventually(t, func() bool { return h.stored(t, "slow") }, 2*time.Second, 10*time.Millisecond)
}

func TestLoadImageEmptyURL(t *testing.T) {
	h := newHarness(t, Config{})
	require.Nil(t, h.cache.LoadImage(context.Background(), "", model.MediaAvatar))
}

type brokenStore struct {
	store.Store
	closed atomic.Bool
}

func (b *brokenStore) Init(context.Context) error { return errors.New("disk I/O error") }
func (b *brokenStore) Close() error {
	b.closed.Store(true)
	return nil
}

func TestDegradedStoreIsPassThrough(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	fetcher := newFakeFetcher()
	bs := &brokenStore{}
	c := New(Config{Store: bs, Fetcher: fetcher, Logger: logging.Discard()})

	err := c.Initialize(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.False(t, c.Durable(ctx))

	require.NotNil(t, c.LoadImage(ctx, "u", model.MediaAvatar))
	require.NotNil(t, c.LoadImage(ctx, "u", model.MediaAvatar))
	require.Equal(t, 2, fetcher.Count("u"))

	_, err = c.EnforceQuota(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.ExpireOlderThan(ctx, time.Hour)
	require.ErrorIs(t, err, ErrNotInitialized)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	require.False(t, st.Durable)
	require.Zero(t, st.MemoryEntries)

	require.NoError(t, c.Shutdown(ctx))
	require.True(t, bs.closed.Load())
}

func TestNilStoreIsPassThrough(t *testing.T) {
	ctx := context.Background()
	c := New(Config{Fetcher: newFakeFetcher(), Logger: logging.Discard()})
	require.NotNil(t, c.LoadImage(ctx, "u", model.MediaAvatar))
	require.NoError(t, c.Shutdown(ctx))
}

func TestShutdownRejectsLoads(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.cache.Shutdown(ctx))
	require.Nil(t, h.cache.LoadImage(ctx, "late", model.MediaAvatar))
	require.Zero(t, h.fetcher.Count("late"))
	require.NoError(t, h.cache.Shutdown(ctx))
}
