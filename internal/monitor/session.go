// Package monitor wires a room's live feed into per-category buffers and view
// windows, and warms the media cache for the avatars it sees.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/danmaku-monitor/internal/logging"
	"github.com/rcliao/danmaku-monitor/internal/mediacache"
	"github.com/rcliao/danmaku-monitor/internal/model"
	"github.com/rcliao/danmaku-monitor/internal/stream"
	"github.com/rcliao/danmaku-monitor/internal/view"
)

// HistorySource returns retained history for one category, oldest first.
type HistorySource interface {
	Fetch(ctx context.Context, roomID string, category model.Category, limit int) ([]model.RawEvent, error)
}

// FeedSource streams live raw events until ctx is done or the feed ends.
type FeedSource interface {
	Listen(ctx context.Context, roomID, userName string, handle func(model.RawEvent)) error
}

// Config configures a Session.
type Config struct {
	Limits       map[model.Category]stream.Limits
	Window       view.Config
	Normalizer   *model.Normalizer
	Cache        *mediacache.Cache
	HistoryLimit int
	// WarmConcurrency bounds concurrent avatar loads.
	WarmConcurrency int
	Logger          *slog.Logger
}

// Session is the monitor for one room at a time.
type Session struct {
	set     *stream.Set
	windows map[model.Category]*view.Window
	cache   *mediacache.Cache
	log     *slog.Logger

	historyLimit int
	warmLimit    int

	mu    sync.Mutex
	state State
}

// NewSession builds a session with empty buffers and windows in follow mode.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = 4
	}
	set := stream.NewSet(cfg.Normalizer, cfg.Limits)
	windows := make(map[model.Category]*view.Window, len(model.Categories))
	for _, cat := range model.Categories {
		windows[cat] = view.New(set.Buffer(cat), cfg.Window)
	}
	return &Session{
		set:          set,
		windows:      windows,
		cache:        cfg.Cache,
		log:          logging.WithComponent(cfg.Logger, "monitor"),
		historyLimit: cfg.HistoryLimit,
		warmLimit:    cfg.WarmConcurrency,
		state:        State{History: map[model.Category]bool{}},
	}
}

// State returns a copy of the room state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Buffer returns the buffer for cat.
func (s *Session) Buffer(cat model.Category) *stream.Buffer { return s.set.Buffer(cat) }

// Window returns the view window for cat.
func (s *Session) Window(cat model.Category) *view.Window { return s.windows[cat] }

// Apply runs t through Reduce and performs the resulting effects.
func (s *Session) Apply(t Transition) Effects {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, fx := Reduce(s.state, t)
	s.state = next
	if fx.Reset {
		s.set.Clear()
		for _, w := range s.windows {
			w.Reset()
		}
	}
	if fx.Merge {
		h := t.(HistoryLoaded)
		if err := s.set.IngestHistory(h.Category, h.Events); err != nil {
			s.log.Warn("merge history failed", "category", h.Category, "error", err)
		}
	}
	return fx
}

// Ingest normalizes and appends one live event.
func (s *Session) Ingest(raw model.RawEvent) (model.Event, error) {
	return s.set.Ingest(raw)
}

// Run connects the session to roomID: it selects the room, merges history
// from hist, then streams live events from feed until it ends. Avatars of
// history and live events are loaded through the media cache when one is
// configured. History failures are logged and do not stop the feed.
func (s *Session) Run(ctx context.Context, roomID, userName string, hist HistorySource, feed FeedSource) error {
	ctx = logging.ContextWithRoomID(ctx, roomID)
	log := logging.WithContext(ctx, s.log)

	s.Apply(RoomSelected{RoomID: roomID, UserName: userName})
	if hist != nil {
		s.loadHistory(ctx, roomID, hist)
	}
	s.Apply(Connected{RoomID: roomID})
	log.Info("room connected", "history", s.Buffer(model.CategoryChat).Len())

	warm := make(chan string, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(warm)
		return feed.Listen(gctx, roomID, userName, func(raw model.RawEvent) {
			e, err := s.Ingest(raw)
			if err != nil {
				log.Debug("drop event", "msg_type", raw.MsgType, "error", err)
				return
			}
			if s.cache != nil && e.Avatar != "" {
				select {
				case warm <- e.Avatar:
				default:
				}
			}
		})
	})
	if s.cache != nil {
		g.Go(func() error {
			s.WarmAvatars(gctx, s.historyEvents())
			for url := range warm {
				s.cache.LoadImage(gctx, url, model.MediaAvatar)
			}
			return nil
		})
	}

	err := g.Wait()
	s.Apply(Disconnected{RoomID: roomID, Err: err})
	if err != nil {
		log.Warn("room disconnected", "error", err)
	} else {
		log.Info("room disconnected")
	}
	return err
}

func (s *Session) loadHistory(ctx context.Context, roomID string, hist HistorySource) {
	results := make([][]model.RawEvent, len(model.Categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range model.Categories {
		i, cat := i, cat
		g.Go(func() error {
			events, err := hist.Fetch(gctx, roomID, cat, s.historyLimit)
			if err != nil {
				logging.WithContext(ctx, s.log).Warn("load history failed", "category", cat, "error", err)
				return nil
			}
			results[i] = events
			return nil
		})
	}
	g.Wait()

	for i, cat := range model.Categories {
		if results[i] != nil {
			s.Apply(HistoryLoaded{RoomID: roomID, Category: cat, Events: results[i]})
		}
	}
}

func (s *Session) historyEvents() []model.Event {
	var out []model.Event
	for _, cat := range model.Categories {
		out = append(out, s.Buffer(cat).Snapshot()...)
	}
	return out
}

// WarmAvatars loads the distinct avatars of events through the media cache
// with bounded concurrency and returns how many resolved.
func (s *Session) WarmAvatars(ctx context.Context, events []model.Event) int {
	if s.cache == nil {
		return 0
	}
	seen := make(map[string]bool)
	var loaded atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.warmLimit)
	for _, e := range events {
		url := e.Avatar
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		g.Go(func() error {
			if s.cache.LoadImage(gctx, url, model.MediaAvatar) != nil {
				loaded.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return int(loaded.Load())
}
