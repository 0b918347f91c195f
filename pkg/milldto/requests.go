package milldto

import "time"

// Move mirrors the engine's sub-move: kind is place, move or remove.
type Move struct {
	Kind string `json:"kind"`
	From int    `json:"from,omitempty"`
	To   int    `json:"to"`
}

type MoveRequest struct {
	Move Move `json:"move"`
	// Seq is the sequence number the move was computed against.
	Seq *int `json:"seq,omitempty"`
}

type DrawAnswer struct {
	Accept bool `json:"accept"`
}

type CreateChallengeRequest struct {
	TargetID   string `json:"target_id"`
	Category   string `json:"category"`
	Seat       string `json:"seat,omitempty"`
	Rated      bool   `json:"rated"`
	AutoAccept bool   `json:"auto_accept,omitempty"`
}

type ChallengeResponse struct {
	ID           string    `json:"id"`
	ChallengerID string    `json:"challenger_id"`
	TargetID     string    `json:"target_id"`
	Category     string    `json:"category"`
	Seat         string    `json:"seat"`
	Rated        bool      `json:"rated"`
	Status       string    `json:"status"`
	SessionID    string    `json:"session_id,omitempty"`
	RematchOf    string    `json:"rematch_of,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type SeekRequest struct {
	Category string `json:"category"`
	Rated    bool   `json:"rated"`
}

type SeekResponse struct {
	Matched   bool      `json:"matched"`
	SessionID string    `json:"session_id,omitempty"`
	Category  string    `json:"category"`
	Rated     bool      `json:"rated"`
	Since     time.Time `json:"since"`
}

type CreateArenaRequest struct {
	ID              string     `json:"id,omitempty"`
	Name            string     `json:"name"`
	Category        string     `json:"category"`
	StartsAt        *time.Time `json:"starts_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Rated           bool       `json:"rated"`
}

type RatingResponse struct {
	PlayerID string `json:"player_id"`
	Category string `json:"category"`
	Rating   int    `json:"rating"`
	Peak     int    `json:"peak"`
	Title    string `json:"title"`
	Games    int    `json:"games"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Draws    int    `json:"draws"`
}

type LeaderboardEntry struct {
	Rank int `json:"rank"`
	RatingResponse
}

type LeaderboardResponse struct {
	Category string             `json:"category"`
	Entries  []LeaderboardEntry `json:"entries"`
}

type LiveGamesResponse struct {
	PlayerID string   `json:"player_id"`
	Games    []string `json:"games"`
}
