// Package feed talks to the monitor server: the live WebSocket feed, the
// history API and the image proxy routing rule.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rcliao/danmaku-monitor/internal/logging"
	"github.com/rcliao/danmaku-monitor/internal/model"
)

// DefaultReadLimit caps a single feed frame.
const DefaultReadLimit = 1 << 20

// Client subscribes to a room's live feed. Frames larger than ReadLimit end
// the subscription with an error.
type Client struct {
	BaseURL   string
	Dialer    *websocket.Dialer
	ReadLimit int64
	Logger    *slog.Logger
}

// NewClient returns a client for the API rooted at baseURL (http or https).
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:   baseURL,
		Dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		ReadLimit: DefaultReadLimit,
		Logger:    logging.WithComponent(logger, "feed"),
	}
}

// ListenURL builds the WebSocket URL for room.
func ListenURL(baseURL, roomID, userName string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/ws/listen/" + url.PathEscape(roomID)
	q := url.Values{}
	if userName != "" {
		q.Set("user_name", userName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Listen streams raw events for room to handle until ctx is cancelled or the
// server closes the connection. Frames that do not decode are skipped. A
// cancelled context or a normal close returns nil.
func (c *Client) Listen(ctx context.Context, roomID, userName string, handle func(model.RawEvent)) error {
	endpoint, err := ListenURL(c.BaseURL, roomID, userName)
	if err != nil {
		return err
	}
	log := logging.WithContext(ctx, c.Logger)
	if log == nil {
		log = slog.Default()
	}

	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	limit := c.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	log.Info("feed connected", "room_id", roomID)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Info("feed disconnected", "room_id", roomID, "error", err)
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read feed: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var raw model.RawEvent
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Debug("skip undecodable frame", "error", err)
			continue
		}
		handle(raw)
	}
}

// IsAPIError reports whether err is a non-success server envelope.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
