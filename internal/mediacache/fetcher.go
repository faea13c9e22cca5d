package mediacache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxBytes caps a single fetched asset.
const DefaultMaxBytes = 8 << 20

// Fetcher retrieves the bytes behind a source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) ([]byte, string, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return f(ctx, url)
}

// HTTPFetcher fetches assets over HTTP. Rewrite, when set, maps the source URL
// to the URL actually requested (e.g. an image proxy); the cache still keys
// the entry by the source URL.
type HTTPFetcher struct {
	Client    *http.Client
	Rewrite   func(string) string
	MaxBytes  int64
	UserAgent string
}

// NewHTTPFetcher returns a fetcher with its own client.
func NewHTTPFetcher(rewrite func(string) string) *HTTPFetcher {
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: 30 * time.Second},
		Rewrite:  rewrite,
		MaxBytes: DefaultMaxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	target := url
	if f.Rewrite != nil {
		target = f.Rewrite(url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", target, err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("fetch %s: body exceeds %d bytes", target, limit)
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
