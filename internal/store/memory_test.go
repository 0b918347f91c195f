package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/rating"
)

func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	rec, err := repo.LoadRating(ctx, "u1", rating.Blitz)
	if err != nil || rec != nil {
		t.Fatalf("expected no record, got %+v %v", rec, err)
	}
	want := &rating.Record{PlayerID: "u1", Category: rating.Blitz, Rating: 1512, Peak: 1512, Games: 1, Wins: 1, UpdatedAt: base}
	if err := repo.SaveRating(ctx, want); err != nil {
		t.Fatalf("save rating: %v", err)
	}
	got, err := repo.LoadRating(ctx, "u1", rating.Blitz)
	if err != nil || got == nil || got.Rating != 1512 || got.Wins != 1 {
		t.Fatalf("load rating: %+v %v", got, err)
	}

	for _, r := range []rating.Record{
		{PlayerID: "u2", Category: rating.Blitz, Rating: 1488, Peak: 1500, Games: 1, Losses: 1, UpdatedAt: base},
		{PlayerID: "u3", Category: rating.Blitz, Rating: 1512, Peak: 1512, Games: 4, Wins: 2, Losses: 2, UpdatedAt: base},
		{PlayerID: "u4", Category: rating.Bullet, Rating: 1900, Peak: 1900, Games: 9, UpdatedAt: base},
	} {
		if err := repo.SaveRating(ctx, &r); err != nil {
			t.Fatalf("save rating %s: %v", r.PlayerID, err)
		}
	}
	top, err := repo.TopRatings(ctx, rating.Blitz, 2)
	if err != nil {
		t.Fatalf("top ratings: %v", err)
	}
	var order []string
	for _, r := range top {
		order = append(order, r.PlayerID)
	}
	// equal ratings fall back to games played
	if len(order) != 2 || order[0] != "u3" || order[1] != "u1" {
		t.Fatalf("top blitz = %v, want [u3 u1]", order)
	}
	if top[0].Category != rating.Blitz || top[0].Wins != 2 {
		t.Fatalf("record not kept: %+v", top[0])
	}

	for i, id := range []string{"g1", "g2"} {
		g := &GameSummary{
			SessionID:   id,
			Category:    rating.Blitz,
			PlayerA:     "u1",
			PlayerB:     "u2",
			Outcome:     mill.OutcomeWinA,
			Termination: mill.TermPieces,
			Moves:       40,
			Rated:       true,
			Ratings:     []events.RatingDelta{{PlayerID: "u1", Before: 1500, After: 1512, Change: 12}},
			StartedAt:   base,
			EndedAt:     base.Add(time.Duration(i+1) * time.Minute),
		}
		if err := repo.SaveGameSummary(ctx, g); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := repo.SaveGameSummary(ctx, &GameSummary{SessionID: "g1", PlayerA: "u1", PlayerB: "u2", StartedAt: base, EndedAt: base}); !errors.Is(err, ErrDuplicateGame) {
		t.Fatalf("expected ErrDuplicateGame, got %v", err)
	}
	games, err := repo.RecentGames(ctx, "u2", 1)
	if err != nil || len(games) != 1 || games[0].SessionID != "g2" {
		t.Fatalf("recent games: %+v %v", games, err)
	}
	if len(games[0].Ratings) != 1 || games[0].Ratings[0].Change != 12 {
		t.Fatalf("ratings not kept: %+v", games[0].Ratings)
	}

	if _, err := repo.ArenaSnapshot(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	snap := arena.Snapshot{
		ArenaID: "a1", Name: "Daily", Category: rating.Blitz, Phase: arena.PhaseFinished, Final: true,
		StartsAt: base, EndsAt: base.Add(time.Hour),
		Standings: []events.StandingRow{{Rank: 1, PlayerID: "u1", Score: 8, Sheet: []int{2, 2, 4}}},
	}
	snap.Podium = snap.Standings
	if err := repo.SaveArenaSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	loaded, err := repo.ArenaSnapshot(ctx, "a1")
	if err != nil || loaded.Standings[0].Score != 8 || len(loaded.Podium) != 1 {
		t.Fatalf("load snapshot: %+v %v", loaded, err)
	}
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemory())
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("MILL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MILL_TEST_DATABASE_URL not set")
	}
	repo, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()
	for _, q := range []string{"DELETE FROM mill_ratings", "DELETE FROM mill_games", "DELETE FROM mill_arena_snapshots"} {
		if _, err := repo.db.Exec(q); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}
	exerciseRepository(t, repo)
}
