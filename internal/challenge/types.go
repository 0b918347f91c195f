package challenge

import (
	"strings"
	"time"

	"github.com/park285/mill-arena/internal/rating"
)

// Seat is the challenger's requested seat. Seat A moves first.
type Seat string

const (
	SeatA      Seat = "a"
	SeatB      Seat = "b"
	SeatRandom Seat = "random"
)

func ParseSeat(s string) Seat {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "a", "first", "white", "w":
		return SeatA
	case "b", "second", "black":
		return SeatB
	default:
		return SeatRandom
	}
}

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusDeclined Status = "DECLINED"
	StatusExpired  Status = "EXPIRED"
	StatusCanceled Status = "CANCELED"
)

type Challenge struct {
	ID           string          `json:"id"`
	ChallengerID string          `json:"challenger_id"`
	TargetID     string          `json:"target_id"`
	Category     rating.Category `json:"category"`
	Seat         Seat            `json:"seat"`
	Rated        bool            `json:"rated"`
	RematchOf    string          `json:"rematch_of,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Status       Status          `json:"status"`
	SessionID    string          `json:"session_id,omitempty"`
}

// Players returns (A, B) for the challenge. coin decides random seats.
func (c Challenge) Players(coin bool) (string, string) {
	switch c.Seat {
	case SeatA:
		return c.ChallengerID, c.TargetID
	case SeatB:
		return c.TargetID, c.ChallengerID
	}
	if coin {
		return c.ChallengerID, c.TargetID
	}
	return c.TargetID, c.ChallengerID
}
