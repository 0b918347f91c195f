package game

import (
	"time"

	"github.com/park285/mill-arena/internal/gameclock"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/rating"
)

// Snapshot is a consistent read-only copy of a session.
type Snapshot struct {
	ID          string             `json:"id"`
	ArenaID     string             `json:"arena_id,omitempty"`
	Category    rating.Category    `json:"category"`
	Players     [2]string          `json:"players"`
	Seq         int                `json:"seq"`
	Board       mill.State         `json:"board"`
	Clock       gameclock.Snapshot `json:"clock"`
	Berserk     [2]bool            `json:"berserk"`
	DrawOffer   mill.Side          `json:"draw_offer,omitempty"`
	Suspended   bool               `json:"suspended,omitempty"`
	Rated       bool               `json:"rated"`
	Outcome     mill.Outcome       `json:"outcome"`
	Termination mill.Termination   `json:"termination,omitempty"`
	Moves       []LoggedMove       `json:"moves"`
	StartedAt   time.Time          `json:"started_at"`
	EndedAt     *time.Time         `json:"ended_at,omitempty"`
}

func (s Snapshot) Finished() bool { return s.Outcome != mill.OutcomePending }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Finished reports whether the session has a result.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Session) snapshotLocked() Snapshot {
	moves := make([]LoggedMove, len(s.log))
	copy(moves, s.log)
	snap := Snapshot{
		ID:          s.id,
		ArenaID:     s.arenaID,
		Category:    s.category,
		Players:     s.players,
		Seq:         len(s.log),
		Board:       s.publicState(),
		Clock:       s.clock.Snapshot(),
		Berserk:     s.berserk,
		DrawOffer:   s.drawOffer,
		Suspended:   s.suspended,
		Rated:       s.rated,
		Outcome:     s.outcome,
		Termination: s.termination,
		Moves:       moves,
		StartedAt:   s.startedAt,
	}
	if s.finished {
		end := s.endedAt
		snap.EndedAt = &end
	}
	return snap
}
