package stream

import (
	"fmt"

	"github.com/rcliao/danmaku-monitor/internal/model"
)

// Limits are the live and history caps for one category.
type Limits struct {
	Live    int
	History int
}

// Defaults are the caps used by the monitor.
var Defaults = map[model.Category]Limits{
	model.CategoryChat:      {Live: 200, History: 5000},
	model.CategoryGift:      {Live: 200, History: 2000},
	model.CategorySuperChat: {Live: 100, History: 1000},
}

// Set holds one Buffer per category and routes normalized events to them.
type Set struct {
	normalizer *model.Normalizer
	buffers    map[model.Category]*Buffer
}

// NewSet creates buffers for every category using limits, falling back to
// Defaults for categories limits does not mention.
func NewSet(normalizer *model.Normalizer, limits map[model.Category]Limits) *Set {
	if normalizer == nil {
		normalizer = model.NewNormalizer()
	}
	s := &Set{
		normalizer: normalizer,
		buffers:    make(map[model.Category]*Buffer, len(model.Categories)),
	}
	for _, cat := range model.Categories {
		l, ok := limits[cat]
		if !ok {
			l = Defaults[cat]
		}
		s.buffers[cat] = NewBuffer(cat, l.Live, l.History)
	}
	return s
}

// Buffer returns the buffer for cat, or nil for an unknown category.
func (s *Set) Buffer(cat model.Category) *Buffer {
	return s.buffers[cat]
}

// Ingest normalizes one raw live event and appends it to its category.
func (s *Set) Ingest(raw model.RawEvent) (model.Event, error) {
	e, err := s.normalizer.Normalize(raw)
	if err != nil {
		return model.Event{}, err
	}
	s.buffers[e.Category].Append(e)
	return e, nil
}

// IngestHistory normalizes a history batch for cat and prepends it.
func (s *Set) IngestHistory(cat model.Category, raws []model.RawEvent) error {
	buf, ok := s.buffers[cat]
	if !ok {
		return fmt.Errorf("unknown category %q", cat)
	}
	events := make([]model.Event, 0, len(raws))
	for _, raw := range raws {
		events = append(events, s.normalizer.NormalizeAs(cat, raw))
	}
	buf.PrependHistory(events)
	return nil
}

// Clear empties every buffer.
func (s *Set) Clear() {
	for _, cat := range model.Categories {
		s.buffers[cat].Clear()
	}
}
