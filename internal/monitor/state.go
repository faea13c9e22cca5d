package monitor

import "github.com/rcliao/danmaku-monitor/internal/model"

// Phase is the connection phase of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseLive
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseLive:
		return "live"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "idle"
	}
}

// State is the room state of a session.
type State struct {
	RoomID   string
	UserName string
	Phase    Phase
	// History records which categories already merged their history for
	// RoomID.
	History map[model.Category]bool
	LastErr error
}

func (s State) clone() State {
	h := make(map[model.Category]bool, len(s.History))
	for k, v := range s.History {
		h[k] = v
	}
	s.History = h
	return s
}

// Transition is an input to Reduce.
type Transition interface {
	transition()
}

// RoomSelected switches the session to a room.
type RoomSelected struct {
	RoomID   string
	UserName string
}

// HistoryLoaded carries retained history for one category of a room.
type HistoryLoaded struct {
	RoomID   string
	Category model.Category
	Events   []model.RawEvent
}

// Connected marks the live feed as established.
type Connected struct {
	RoomID string
}

// Disconnected marks the live feed as gone.
type Disconnected struct {
	RoomID string
	Err    error
}

func (RoomSelected) transition()  {}
func (HistoryLoaded) transition() {}
func (Connected) transition()     {}
func (Disconnected) transition()  {}

// Effects are the side effects a transition asks the session to perform.
type Effects struct {
	// Reset clears every buffer and returns every window to follow mode.
	Reset bool
	// Merge prepends the transition's history to its category buffer.
	Merge bool
}

// Reduce returns the state after t and the effects to apply. Transitions for
// a room other than the current one are ignored.
func Reduce(s State, t Transition) (State, Effects) {
	next := s.clone()
	switch t := t.(type) {
	case RoomSelected:
		if t.RoomID != s.RoomID {
			return State{
				RoomID:   t.RoomID,
				UserName: t.UserName,
				Phase:    PhaseConnecting,
				History:  map[model.Category]bool{},
			}, Effects{Reset: true}
		}
		next.UserName = t.UserName
		next.Phase = PhaseConnecting
		next.LastErr = nil
		return next, Effects{}

	case HistoryLoaded:
		if t.RoomID != s.RoomID || s.Phase == PhaseIdle || s.History[t.Category] || !model.ValidCategory(t.Category) {
			return s, Effects{}
		}
		next.History[t.Category] = true
		return next, Effects{Merge: true}

	case Connected:
		if t.RoomID != s.RoomID || s.Phase == PhaseIdle {
			return s, Effects{}
		}
		next.Phase = PhaseLive
		next.LastErr = nil
		return next, Effects{}

	case Disconnected:
		if t.RoomID != s.RoomID || s.Phase == PhaseIdle {
			return s, Effects{}
		}
		next.Phase = PhaseDisconnected
		next.LastErr = t.Err
		return next, Effects{}
	}
	return s, Effects{}
}
