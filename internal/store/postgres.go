package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/rating"
)

//go:embed schema.sql
var schema string

type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) LoadRating(ctx context.Context, playerID string, cat rating.Category) (*rating.Record, error) {
	const query = `
		SELECT rating, peak, games, wins, losses, draws, updated_at
		FROM mill_ratings
		WHERE player_id = $1 AND category = $2`

	rec := rating.Record{PlayerID: playerID, Category: cat}
	err := p.db.QueryRowContext(ctx, query, playerID, string(cat)).Scan(
		&rec.Rating, &rec.Peak, &rec.Games, &rec.Wins, &rec.Losses, &rec.Draws, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select rating: %w", err)
	}
	return &rec, nil
}

func (p *Postgres) SaveRating(ctx context.Context, rec *rating.Record) error {
	if rec == nil {
		return fmt.Errorf("nil rating record")
	}
	const query = `
		INSERT INTO mill_ratings (player_id, category, rating, peak, games, wins, losses, draws, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (player_id, category) DO UPDATE SET
			rating = EXCLUDED.rating,
			peak = EXCLUDED.peak,
			games = EXCLUDED.games,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			updated_at = EXCLUDED.updated_at`

	_, err := p.db.ExecContext(ctx, query,
		rec.PlayerID, string(rec.Category),
		rec.Rating, rec.Peak, rec.Games, rec.Wins, rec.Losses, rec.Draws,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

func (p *Postgres) SaveGameSummary(ctx context.Context, g *GameSummary) error {
	if g == nil {
		return fmt.Errorf("nil game summary")
	}
	ratings, err := json.Marshal(g.Ratings)
	if err != nil {
		return fmt.Errorf("marshal ratings: %w", err)
	}
	const query = `
		INSERT INTO mill_games (
			session_id, arena_id, category, player_a, player_b,
			outcome, termination, moves, berserk_a, berserk_b,
			rated, ratings, started_at, ended_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14)
		ON CONFLICT (session_id) DO NOTHING`

	res, err := p.db.ExecContext(ctx, query,
		g.SessionID, g.ArenaID, string(g.Category), g.PlayerA, g.PlayerB,
		string(g.Outcome), string(g.Termination), g.Moves, g.Berserk[0], g.Berserk[1],
		g.Rated, string(ratings), g.StartedAt, g.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert game summary: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateGame
	}
	return nil
}

func (p *Postgres) RecentGames(ctx context.Context, playerID string, limit int) ([]GameSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT
			session_id, arena_id, category, player_a, player_b,
			outcome, termination, moves, berserk_a, berserk_b,
			rated, ratings, started_at, ended_at
		FROM mill_games
		WHERE player_a = $1 OR player_b = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}
	defer rows.Close()

	out := make([]GameSummary, 0, limit)
	for rows.Next() {
		var (
			g           GameSummary
			category    string
			outcome     string
			termination string
			ratingsJSON []byte
		)
		if err := rows.Scan(
			&g.SessionID, &g.ArenaID, &category, &g.PlayerA, &g.PlayerB,
			&outcome, &termination, &g.Moves, &g.Berserk[0], &g.Berserk[1],
			&g.Rated, &ratingsJSON, &g.StartedAt, &g.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		g.Category = rating.Category(category)
		g.Outcome = mill.Outcome(outcome)
		g.Termination = mill.Termination(termination)
		if len(ratingsJSON) > 0 {
			var deltas []events.RatingDelta
			if err := json.Unmarshal(ratingsJSON, &deltas); err != nil {
				return nil, fmt.Errorf("unmarshal ratings: %w", err)
			}
			g.Ratings = deltas
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate games: %w", err)
	}
	return out, nil
}

func (p *Postgres) TopRatings(ctx context.Context, cat rating.Category, limit int) ([]rating.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT player_id, rating, peak, games, wins, losses, draws, updated_at
		FROM mill_ratings
		WHERE category = $1
		ORDER BY rating DESC, games DESC, player_id ASC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, string(cat), limit)
	if err != nil {
		return nil, fmt.Errorf("select top ratings: %w", err)
	}
	defer rows.Close()

	out := make([]rating.Record, 0, limit)
	for rows.Next() {
		rec := rating.Record{Category: cat}
		if err := rows.Scan(
			&rec.PlayerID, &rec.Rating, &rec.Peak, &rec.Games, &rec.Wins, &rec.Losses, &rec.Draws, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ratings: %w", err)
	}
	return out, nil
}

func (p *Postgres) SaveArenaSnapshot(ctx context.Context, snap arena.Snapshot) error {
	standings, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal standings: %w", err)
	}
	const query = `
		INSERT INTO mill_arena_snapshots (arena_id, name, category, starts_at, ends_at, standings)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		ON CONFLICT (arena_id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			standings = EXCLUDED.standings,
			saved_at = now()`

	if _, err := p.db.ExecContext(ctx, query,
		snap.ArenaID, snap.Name, string(snap.Category), snap.StartsAt, snap.EndsAt, string(standings),
	); err != nil {
		return fmt.Errorf("upsert arena snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) ArenaSnapshot(ctx context.Context, arenaID string) (*arena.Snapshot, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT standings FROM mill_arena_snapshots WHERE arena_id = $1`, arenaID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select arena snapshot: %w", err)
	}
	var snap arena.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal arena snapshot: %w", err)
	}
	return &snap, nil
}
