package livestate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/mill"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	s, err := Open(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()), time.Hour)
	if err != nil {
		t.Fatalf("livestate.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func state(id string, seq int) events.GameStateChanged {
	return events.GameStateChanged{
		SessionID: id,
		Seq:       seq,
		Reason:    "move_applied",
		Players:   [2]string{"alice", "bob"},
		Board:     mill.NewGame(mill.DefaultRules()),
	}
}

func TestSaveKeepsHighestSeq(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for _, seq := range []int{1, 3, 2} {
		if err := s.Save(ctx, state("g1", seq)); err != nil {
			t.Fatalf("Save seq=%d: %v", seq, err)
		}
	}
	got, err := s.Load(ctx, "g1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Seq != 3 {
		t.Fatalf("stored seq = %d, want 3", got.Seq)
	}
	if ttl := mr.TTL(gameKey("g1")); ttl != time.Hour {
		t.Fatalf("game key ttl = %v, want 1h", ttl)
	}

	ids, err := s.ActiveGames(ctx, "bob")
	if err != nil {
		t.Fatalf("ActiveGames: %v", err)
	}
	if len(ids) != 1 || ids[0] != "g1" {
		t.Fatalf("ActiveGames(bob) = %v", ids)
	}
}

func TestFinishRemovesAndBlocksLateStates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, state("g1", 4)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Finish(ctx, events.GameFinished{SessionID: "g1", PlayerA: "alice", PlayerB: "bob", Outcome: mill.OutcomeDraw}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := s.Load(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after finish: err=%v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, state("g1", 5)); err != nil {
		t.Fatalf("late Save: %v", err)
	}
	if _, err := s.Load(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("late state resurrected the game: %v", err)
	}
	ids, _ := s.ActiveGames(ctx, "alice")
	if len(ids) != 0 {
		t.Fatalf("index still lists %v", ids)
	}
}

func TestRunConsumesEnvelopes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	src := make(chan events.Envelope, 4)
	for _, ev := range []events.Event{
		state("g1", 1),
		state("g2", 1),
		events.GameFinished{SessionID: "g1", PlayerA: "alice", PlayerB: "bob", Outcome: mill.OutcomeWinA},
		events.PlayerPaired{ArenaID: "a1", SessionID: "g3"},
	} {
		env, err := events.Wrap(ev)
		if err != nil {
			t.Fatalf("Wrap: %v", err)
		}
		src <- env
	}
	close(src)
	if err := s.Run(ctx, src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ids, err := s.ActiveGames(ctx, "alice")
	if err != nil {
		t.Fatalf("ActiveGames: %v", err)
	}
	if len(ids) != 1 || ids[0] != "g2" {
		t.Fatalf("ActiveGames(alice) = %v, want [g2]", ids)
	}
}

func TestParseRedisURL(t *testing.T) {
	cases := []struct {
		raw     string
		addr    string
		db      int
		wantErr bool
	}{
		{raw: "redis://localhost:6379/2", addr: "localhost:6379", db: 2},
		{raw: "redis://:secret@cache:6380", addr: "cache:6380"},
		{raw: "http://localhost:6379", wantErr: true},
		{raw: "redis://localhost:6379/x", wantErr: true},
	}
	for _, tc := range cases {
		opts, err := parseRedisURL(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseRedisURL(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseRedisURL(%q): %v", tc.raw, err)
		}
		if opts.Addr != tc.addr || opts.DB != tc.db {
			t.Fatalf("parseRedisURL(%q) = %s/%d", tc.raw, opts.Addr, opts.DB)
		}
	}
}
