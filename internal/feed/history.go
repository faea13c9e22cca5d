package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

// DefaultHistoryLimit is the number of records requested per category.
const DefaultHistoryLimit = 100

// codeSuccess is the envelope code for a successful response.
const codeSuccess = 200

var historyPaths = map[model.Category]string{
	model.CategoryChat:      "danmaku",
	model.CategoryGift:      "gift",
	model.CategorySuperChat: "sc",
}

// APIError is a non-success envelope returned by the server.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// HistoryClient reads retained history from the server's HTTP API.
type HistoryClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHistoryClient returns a client for the API rooted at baseURL.
func NewHistoryClient(baseURL string) *HistoryClient {
	return &HistoryClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch returns up to limit of the most recent events of category for room,
// oldest first.
func (c *HistoryClient) Fetch(ctx context.Context, roomID string, category model.Category, limit int) ([]model.RawEvent, error) {
	path, ok := historyPaths[category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	q := url.Values{}
	q.Set("room_id", roomID)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/danmaku/history/" + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s history: %w", category, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s history: %w", category, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s history: unexpected status %d", category, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s history: %w", category, err)
	}
	if env.Code != codeSuccess {
		return nil, &APIError{Code: env.Code, Message: env.Message}
	}

	var events []model.RawEvent
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &events); err != nil {
			return nil, fmt.Errorf("decode %s history data: %w", category, err)
		}
	}
	return events, nil
}
