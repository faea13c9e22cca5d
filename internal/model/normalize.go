package model

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Normalizer projects raw server events onto Event records.
type Normalizer struct {
	// Now returns the capture time used when a raw event carries no
	// timestamp. Defaults to time.Now.
	Now func() time.Time
	// Location is used for DisplayTime. Defaults to time.Local.
	Location *time.Location

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewNormalizer returns a Normalizer using the wall clock.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		Now:      time.Now,
		Location: time.Local,
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// newID falls back to a time-ordered random identifier. Collisions only
// affect list-key stability.
func (n *Normalizer) newID(at time.Time) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.entropy == nil {
		n.entropy = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return ulid.MustNew(ulid.Timestamp(at), n.entropy).String()
}

// Normalize converts one raw event. The category is derived from msg_type.
func (n *Normalizer) Normalize(raw RawEvent) (Event, error) {
	cat, ok := CategoryFor(raw.MsgType)
	if !ok {
		return Event{}, fmt.Errorf("unknown msg_type %q", raw.MsgType)
	}
	return n.NormalizeAs(cat, raw), nil
}

// NormalizeAs converts one raw event into the given category's shape. History
// responses use it since their category is implied by the endpoint.
func (n *Normalizer) NormalizeAs(cat Category, raw RawEvent) Event {
	captured := n.now()
	ts := captured
	if raw.Timestamp > 0 {
		sec := int64(raw.Timestamp)
		nsec := int64((raw.Timestamp - float64(sec)) * float64(time.Second))
		ts = time.Unix(sec, nsec)
	}
	loc := n.Location
	if loc == nil {
		loc = time.Local
	}

	e := Event{
		ID:          strings.TrimSpace(raw.ID),
		Category:    cat,
		MsgType:     raw.MsgType,
		Username:    raw.UserName,
		Level:       raw.Level,
		Privilege:   raw.PrivilegeName,
		GuardLevel:  GuardLevel(raw.PrivilegeName),
		Identity:    raw.Identity,
		Price:       raw.Price,
		Timestamp:   ts,
		DisplayTime: ts.In(loc).Format(DisplayTimeLayout),
	}
	if raw.UID != nil {
		e.UID = *raw.UID
	}
	if raw.FaceImg != nil {
		e.Avatar = *raw.FaceImg
	}
	if e.ID == "" {
		e.ID = n.newID(captured)
	}

	switch cat {
	case CategoryGift:
		e.GiftName = raw.GiftType
		e.Count = raw.Num
	default:
		e.Content = raw.DmText
	}
	return e
}
