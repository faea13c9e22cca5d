// Package view decides which slice of a buffer is materialized for display
// and how the scroll position is kept stable when that slice changes.
package view

import (
	"sync"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

// Source is the read-only view of a buffer a Window needs.
type Source interface {
	Len() int
	Slice(start, end int) []model.Event
}

// Config tunes a Window.
type Config struct {
	// MaxRender is the number of tail elements shown while following.
	MaxRender int
	// Batch is how many older elements one top-scroll backfill brings in.
	Batch int
	// BottomTolerance is the distance in pixels from the bottom that still
	// counts as "at bottom".
	BottomTolerance int
}

// DefaultConfig returns the monitor's list settings.
func DefaultConfig() Config {
	return Config{MaxRender: 200, Batch: 30, BottomTolerance: 10}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRender <= 0 {
		c.MaxRender = d.MaxRender
	}
	if c.Batch <= 0 {
		c.Batch = d.Batch
	}
	if c.BottomTolerance <= 0 {
		c.BottomTolerance = d.BottomTolerance
	}
	return c
}

// Slice is the materialized range [Start, Start+Count) of the buffer.
type Slice struct {
	Start int
	Count int
}

// End returns the exclusive end index.
func (s Slice) End() int { return s.Start + s.Count }

// Metrics are the raw scroll measurements of the list viewport.
type Metrics struct {
	ScrollTop    int
	ScrollHeight int
	ClientHeight int
}

// ScrollResult reports what OnScroll did.
type ScrollResult struct {
	AtBottom   bool
	Following  bool
	Backfilled bool
	Start      int
}

// AdjustKind says how the presentation layer should move the viewport after
// rendering a new slice.
type AdjustKind int

const (
	AdjustNone AdjustKind = iota
	// AdjustRestore keeps the previously visible content anchored after
	// older elements were inserted above it.
	AdjustRestore
	// AdjustBottom scrolls to the newest element.
	AdjustBottom
)

// Adjustment is the scroll instruction produced by AfterRender.
type Adjustment struct {
	Kind      AdjustKind
	ScrollTop int
}

// Window is the virtualization controller for one buffer.
type Window struct {
	src Source
	cfg Config

	mu      sync.Mutex
	start   int
	follow  bool
	pending int
	restore bool
}

// New returns a Window over src in follow mode.
func New(src Source, cfg Config) *Window {
	return &Window{src: src, cfg: cfg.withDefaults(), follow: true}
}

// Config returns the effective configuration.
func (w *Window) Config() Config { return w.cfg }

// Following reports whether the window tracks the tail.
func (w *Window) Following() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.follow
}

// ComputeSlice returns the range to materialize for a buffer of length n.
// It never mutates state.
func (w *Window) ComputeSlice(n int) Slice {
	w.mu.Lock()
	start := w.startLocked(n)
	w.mu.Unlock()
	return Slice{Start: start, Count: n - start}
}

// Current computes the slice against the source's current length.
func (w *Window) Current() Slice {
	return w.ComputeSlice(w.src.Len())
}

// Visible returns the events of the current slice.
func (w *Window) Visible() []model.Event {
	s := w.Current()
	return w.src.Slice(s.Start, s.End())
}

func (w *Window) tailStart(n int) int {
	return max(0, n-w.cfg.MaxRender)
}

// startLocked derives the effective start: the tail while following,
// otherwise the explicit start clamped against the current length.
func (w *Window) startLocked(n int) int {
	upper := w.tailStart(n)
	if w.follow {
		return upper
	}
	return min(max(0, w.start), upper)
}

// OnScroll classifies the viewport position and updates follow mode. Reaching
// the top while paging through history pulls in one more batch of older
// elements and records the current scroll height for AfterRender.
func (w *Window) OnScroll(m Metrics) ScrollResult {
	n := w.src.Len()

	w.mu.Lock()
	defer w.mu.Unlock()

	effective := w.startLocked(n)
	atBottom := m.ScrollHeight-m.ScrollTop-m.ClientHeight < w.cfg.BottomTolerance

	if atBottom {
		w.follow = true
	} else if w.follow {
		// The explicit start is stale while following; snapshot the tail.
		w.start = effective
		w.follow = false
	}

	res := ScrollResult{AtBottom: atBottom}
	if m.ScrollTop == 0 && effective > 0 && !w.follow {
		w.pending = m.ScrollHeight
		w.restore = true
		w.start = max(0, effective-w.cfg.Batch)
		res.Backfilled = true
	}

	res.Following = w.follow
	res.Start = w.startLocked(n)
	return res
}

// Seek leaves follow mode and pins the window at start, clamped to the
// current buffer length.
func (w *Window) Seek(start int) Slice {
	n := w.src.Len()

	w.mu.Lock()
	w.follow = false
	w.start = min(max(0, start), w.tailStart(n))
	s := w.startLocked(n)
	w.mu.Unlock()

	return Slice{Start: s, Count: n - s}
}

// AfterRender is called once the presentation layer has painted a new slice.
// newScrollHeight is the viewport's content height after painting.
func (w *Window) AfterRender(newScrollHeight int) Adjustment {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.restore {
		delta := newScrollHeight - w.pending
		w.restore = false
		w.pending = 0
		if delta > 0 {
			return Adjustment{Kind: AdjustRestore, ScrollTop: delta}
		}
		return Adjustment{Kind: AdjustNone}
	}
	if w.follow {
		return Adjustment{Kind: AdjustBottom, ScrollTop: newScrollHeight}
	}
	return Adjustment{Kind: AdjustNone}
}

// PendingRestore reports whether a backfill is waiting for AfterRender.
func (w *Window) PendingRestore() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restore
}

// Reset returns the window to follow mode and drops any pending restore.
func (w *Window) Reset() {
	w.mu.Lock()
	w.start = 0
	w.follow = true
	w.pending = 0
	w.restore = false
	w.mu.Unlock()
}
