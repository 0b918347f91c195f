package mill

import "fmt"

// MoveKind distinguishes the three sub-move shapes.
type MoveKind string

const (
	KindPlace  MoveKind = "place"
	KindSlide  MoveKind = "move"
	KindRemove MoveKind = "remove"
)

// Move is one sub-move. Place and Remove use To; Slide uses From and To.
type Move struct {
	Kind MoveKind `json:"kind"`
	From int      `json:"from,omitempty"`
	To   int      `json:"to"`
}

func Place(p int) Move        { return Move{Kind: KindPlace, To: p} }
func Slide(from, to int) Move { return Move{Kind: KindSlide, From: from, To: to} }
func Remove(p int) Move       { return Move{Kind: KindRemove, To: p} }

func (m Move) String() string {
	switch m.Kind {
	case KindPlace:
		return fmt.Sprintf("P%d", m.To)
	case KindSlide:
		return fmt.Sprintf("%d-%d", m.From, m.To)
	case KindRemove:
		return fmt.Sprintf("x%d", m.To)
	default:
		return fmt.Sprintf("?%s", string(m.Kind))
	}
}

// EventKind tags the engine events produced by Apply.
type EventKind string

const (
	EventPlaced          EventKind = "placed"
	EventMoved           EventKind = "moved"
	EventMillFormed      EventKind = "mill_formed"
	EventRemovalRequired EventKind = "removal_required"
	EventRemoved         EventKind = "removed"
	EventPhaseChanged    EventKind = "phase_changed"
	EventFlyingEnabled   EventKind = "flying_enabled"
	EventGameOver        EventKind = "game_over"
)

// Event describes one consequence of an accepted move.
type Event struct {
	Kind  EventKind `json:"kind"`
	Side  Side      `json:"side,omitempty"`
	Point int       `json:"point,omitempty"`
	Phase Phase     `json:"phase,omitempty"`
}
