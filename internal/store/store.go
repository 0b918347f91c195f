// Package store persists ratings, finished games and final arena standings.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/rating"
)

var (
	ErrDuplicateGame = errors.New("game summary already exists")
	ErrNotFound      = errors.New("not found")
)

// GameSummary is the durable record of one finished session.
type GameSummary struct {
	SessionID   string               `json:"session_id"`
	ArenaID     string               `json:"arena_id,omitempty"`
	Category    rating.Category      `json:"category"`
	PlayerA     string               `json:"player_a"`
	PlayerB     string               `json:"player_b"`
	Outcome     mill.Outcome         `json:"outcome"`
	Termination mill.Termination     `json:"termination"`
	Moves       int                  `json:"moves"`
	Berserk     [2]bool              `json:"berserk"`
	Rated       bool                 `json:"rated"`
	Ratings     []events.RatingDelta `json:"ratings,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	EndedAt     time.Time            `json:"ended_at"`
}

type Repository interface {
	rating.Store
	SaveGameSummary(ctx context.Context, g *GameSummary) error
	RecentGames(ctx context.Context, playerID string, limit int) ([]GameSummary, error)
	// TopRatings orders by rating, then games played, then player id.
	TopRatings(ctx context.Context, cat rating.Category, limit int) ([]rating.Record, error)
	SaveArenaSnapshot(ctx context.Context, snap arena.Snapshot) error
	ArenaSnapshot(ctx context.Context, arenaID string) (*arena.Snapshot, error)
	Close() error
}
