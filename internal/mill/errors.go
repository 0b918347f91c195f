package mill

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable code carried by IllegalMove.
type Reason string

const (
	ReasonWrongPhase          Reason = "wrong_phase"
	ReasonNotAdjacent         Reason = "not_adjacent"
	ReasonOccupiedDestination Reason = "occupied_destination"
	ReasonInvalidRemoval      Reason = "invalid_removal"
	ReasonNotYourTurn         Reason = "not_your_turn"
	ReasonNotYourPiece        Reason = "not_your_piece"
	ReasonInvalidPosition     Reason = "invalid_position"
	ReasonRemovalRequired     Reason = "removal_required"
	ReasonGameFinished        Reason = "game_finished"
)

// IllegalMove is returned by Apply when a move is rejected. The state passed
// to Apply is left unchanged.
type IllegalMove struct {
	Reason Reason
	Move   Move
}

func (e *IllegalMove) Error() string {
	return fmt.Sprintf("illegal move %s: %s", e.Move, e.Reason)
}

func illegal(r Reason, mv Move) error { return &IllegalMove{Reason: r, Move: mv} }

// ReasonOf extracts the reason code when err wraps an IllegalMove.
func ReasonOf(err error) (Reason, bool) {
	var im *IllegalMove
	if errors.As(err, &im) {
		return im.Reason, true
	}
	return "", false
}
