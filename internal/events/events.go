// Package events defines the outbound events of the core and the in-process
// bus that carries them to transports.
package events

import (
	"context"
	"time"

	"github.com/park285/mill-arena/internal/gameclock"
	"github.com/park285/mill-arena/internal/mill"
)

type Type string

const (
	TypeGameStateChanged      Type = "game_state_changed"
	TypeGameFinished          Type = "game_finished"
	TypeArenaStandingsChanged Type = "arena_standings_changed"
	TypeArenaPhaseChanged     Type = "arena_phase_changed"
	TypePlayerPaired          Type = "player_paired"
)

// Event is implemented by every payload below.
type Event interface {
	EventType() Type
	// Scope is the session or arena id the event belongs to.
	Scope() string
}

// Publisher is the narrow interface the core publishes through.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// GameStateChanged is emitted once per accepted action on a session.
type GameStateChanged struct {
	SessionID string             `json:"session_id"`
	ArenaID   string             `json:"arena_id,omitempty"`
	Seq       int                `json:"seq"`
	Reason    string             `json:"reason"`
	Players   [2]string          `json:"players"`
	Board     mill.State         `json:"board"`
	Clock     gameclock.Snapshot `json:"clock"`
	LastMove  *mill.Move         `json:"last_move,omitempty"`
	Berserk   [2]bool            `json:"berserk"`
	DrawOffer mill.Side          `json:"draw_offer,omitempty"`
	Suspended bool               `json:"suspended,omitempty"`
}

func (GameStateChanged) EventType() Type { return TypeGameStateChanged }
func (e GameStateChanged) Scope() string { return e.SessionID }

// RatingDelta is one player's rating movement after a game.
type RatingDelta struct {
	PlayerID string `json:"player_id"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
	Change   int    `json:"change"`
}

// GameFinished is emitted once per session after the result is routed.
type GameFinished struct {
	SessionID   string           `json:"session_id"`
	ArenaID     string           `json:"arena_id,omitempty"`
	Category    string           `json:"category"`
	PlayerA     string           `json:"player_a"`
	PlayerB     string           `json:"player_b"`
	Outcome     mill.Outcome     `json:"outcome"`
	Termination mill.Termination `json:"termination"`
	Moves       int              `json:"moves"`
	Berserk     [2]bool          `json:"berserk"`
	Rated       bool             `json:"rated"`
	Ratings     []RatingDelta    `json:"ratings,omitempty"`
	EndedAt     time.Time        `json:"ended_at"`
}

func (GameFinished) EventType() Type { return TypeGameFinished }
func (e GameFinished) Scope() string { return e.SessionID }

// StandingRow is one ranked arena entry.
type StandingRow struct {
	Rank     int     `json:"rank"`
	PlayerID string  `json:"player_id"`
	Score    int     `json:"score"`
	Games    int     `json:"games"`
	Streak   int     `json:"streak"`
	OnFire   bool    `json:"on_fire"`
	AvgOpp   float64 `json:"avg_opponent_score"`
	Paused   bool    `json:"paused,omitempty"`
	Sheet    []int   `json:"sheet"`
}

type ArenaStandingsChanged struct {
	ArenaID   string        `json:"arena_id"`
	Standings []StandingRow `json:"standings"`
	Final     bool          `json:"final,omitempty"`
}

func (ArenaStandingsChanged) EventType() Type { return TypeArenaStandingsChanged }
func (e ArenaStandingsChanged) Scope() string { return e.ArenaID }

type ArenaPhaseChanged struct {
	ArenaID string    `json:"arena_id"`
	Name    string    `json:"name"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
}

func (ArenaPhaseChanged) EventType() Type { return TypeArenaPhaseChanged }
func (e ArenaPhaseChanged) Scope() string { return e.ArenaID }

type PlayerPaired struct {
	ArenaID   string `json:"arena_id"`
	SessionID string `json:"session_id"`
	PlayerA   string `json:"player_a"`
	PlayerB   string `json:"player_b"`
}

func (PlayerPaired) EventType() Type { return TypePlayerPaired }
func (e PlayerPaired) Scope() string { return e.ArenaID }
