// Package stream holds the bounded per-category event buffers.
package stream

import (
	"sync"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

// ChangeKind identifies the mutation that produced a Change.
type ChangeKind string

const (
	ChangeAppend  ChangeKind = "append"
	ChangePrepend ChangeKind = "prepend"
	ChangeClear   ChangeKind = "clear"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind    ChangeKind
	Len     int
	Dropped int // entries evicted from the head by this mutation
}

// Buffer is an append-only log of events for one category, capped at a
// maximum length. Subscribers observe each mutation only after it has been
// fully applied.
type Buffer struct {
	category     model.Category
	limit        int
	historyLimit int

	// notifyMu serialises mutations with their notifications so observers see
	// changes in the order they were applied.
	notifyMu sync.Mutex

	mu       sync.RWMutex
	items    []model.Event
	capacity int

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

// NewBuffer creates a buffer holding at most limit live events, raised to
// historyLimit once history has been merged. historyLimit below limit is
// treated as limit.
func NewBuffer(category model.Category, limit, historyLimit int) *Buffer {
	if limit <= 0 {
		limit = 1
	}
	if historyLimit < limit {
		historyLimit = limit
	}
	return &Buffer{
		category:     category,
		limit:        limit,
		historyLimit: historyLimit,
		capacity:     limit,
		subs:         make(map[int]func(Change)),
	}
}

// Category returns the category this buffer holds.
func (b *Buffer) Category() model.Category { return b.category }

// Capacity returns the current cap: the live limit, or the history limit once
// history has been merged.
func (b *Buffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// Append adds e to the tail, dropping from the head when over capacity.
func (b *Buffer) Append(e model.Event) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	b.items = append(b.items, e)
	dropped := b.trimLocked()
	n := len(b.items)
	b.mu.Unlock()

	b.notify(Change{Kind: ChangeAppend, Len: n, Dropped: dropped})
}

// PrependHistory merges events before the current content, preserving their
// order, and caps the result at the history limit.
func (b *Buffer) PrependHistory(events []model.Event) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	merged := make([]model.Event, 0, len(events)+len(b.items))
	merged = append(merged, events...)
	merged = append(merged, b.items...)
	b.items = merged
	b.capacity = b.historyLimit
	dropped := b.trimLocked()
	n := len(b.items)
	b.mu.Unlock()

	b.notify(Change{Kind: ChangePrepend, Len: n, Dropped: dropped})
}

// Clear empties the buffer and restores the live limit.
func (b *Buffer) Clear() {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	dropped := len(b.items)
	b.items = nil
	b.capacity = b.limit
	b.mu.Unlock()

	b.notify(Change{Kind: ChangeClear, Len: 0, Dropped: dropped})
}

// trimLocked drops the oldest entries until len(items) <= capacity.
func (b *Buffer) trimLocked() int {
	over := len(b.items) - b.capacity
	if over <= 0 {
		return 0
	}
	clear(b.items[:over])
	b.items = b.items[over:]
	return over
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Slice returns a copy of events in [start, end), clamped to the buffer.
func (b *Buffer) Slice(start, end int) []model.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if start < 0 {
		start = 0
	}
	if end > len(b.items) {
		end = len(b.items)
	}
	if start >= end {
		return nil
	}
	out := make([]model.Event, end-start)
	copy(out, b.items[start:end])
	return out
}

// Snapshot returns a copy of all retained events, oldest first.
func (b *Buffer) Snapshot() []model.Event {
	return b.Slice(0, b.Len())
}

// Subscribe registers fn to be called after every mutation. fn runs on the
// mutating goroutine and may read the buffer but must not mutate it. The
// returned function removes the subscription.
func (b *Buffer) Subscribe(fn func(Change)) func() {
	b.subMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
		})
	}
}

func (b *Buffer) notify(c Change) {
	b.subMu.Lock()
	fns := make([]func(Change), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
