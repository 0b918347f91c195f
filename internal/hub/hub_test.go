package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/mill-arena/internal/challenge"
	"github.com/park285/mill-arena/internal/config"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/game"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/rating"
	"github.com/park285/mill-arena/internal/store"
)

type testHub struct {
	*Hub
	clk  *clock.Mock
	rec  *events.Recorder
	repo *store.Memory
}

func newTestHub(t *testing.T, mutate func(*config.GameConfig)) *testHub {
	t.Helper()
	gc, err := config.LoadGame("")
	require.NoError(t, err)
	gc.Schedule = nil
	if mutate != nil {
		mutate(gc)
	}
	th := &testHub{clk: clock.NewMock(), rec: &events.Recorder{}, repo: store.NewMemory()}
	th.clk.Set(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	h, err := New(Options{Game: gc, SessionRetention: time.Minute, ChallengeTTL: time.Minute, SeekTTL: time.Minute}, Deps{
		Clock:     th.clk,
		Publisher: th.rec,
		Repo:      th.repo,
	})
	require.NoError(t, err)
	th.Hub = h
	return th
}

func TestChallengeLifecycleRoutesResult(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)

	ch, err := th.CreateChallenge(ctx, challenge.Request{
		ChallengerID: "alice", TargetID: "bob", Category: rating.Blitz, Seat: challenge.SeatA, Rated: true,
	})
	require.NoError(t, err)
	assert.Equal(t, challenge.StatusPending, ch.Status)

	_, err = th.AcceptChallenge(ctx, "missing", "bob")
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	ch, err = th.AcceptChallenge(ctx, ch.ID, "bob")
	require.NoError(t, err)
	require.NotEmpty(t, ch.SessionID)

	sid, busy := th.ActiveGame("alice")
	require.True(t, busy)
	assert.Equal(t, ch.SessionID, sid)

	_, err = th.CreateChallenge(ctx, challenge.Request{ChallengerID: "alice", TargetID: "carol", Category: rating.Blitz})
	assert.ErrorIs(t, err, ErrPlayerBusy)

	snap, err := th.Game(sid)
	require.NoError(t, err)
	assert.Equal(t, [2]string{"alice", "bob"}, snap.Players)

	_, err = th.Resign(ctx, sid, "bob")
	require.NoError(t, err)

	_, busy = th.ActiveGame("alice")
	assert.False(t, busy)

	finished := th.rec.OfType(events.TypeGameFinished)
	require.Len(t, finished, 1)
	gf := finished[0].(events.GameFinished)
	assert.Equal(t, mill.OutcomeWinA, gf.Outcome)
	assert.Equal(t, mill.TermResign, gf.Termination)
	assert.True(t, gf.Rated)
	require.Len(t, gf.Ratings, 2)
	assert.Equal(t, 1512, gf.Ratings[0].After)
	assert.Equal(t, 1488, gf.Ratings[1].After)

	rec, err := th.Rating(ctx, "alice", rating.Blitz)
	require.NoError(t, err)
	assert.Equal(t, 1512, rec.Rating)
	assert.Equal(t, 1, rec.Wins)

	games, err := th.RecentGames(ctx, "bob", 5)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, sid, games[0].SessionID)
}

func TestFailedAutoAcceptKeepsOtherPendingChallenge(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)

	live, err := th.CreateChallenge(ctx, challenge.Request{
		ChallengerID: "carol", TargetID: "bob", Category: rating.Blitz, AutoAccept: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, live.SessionID)

	waiting, err := th.CreateChallenge(ctx, challenge.Request{ChallengerID: "alice", TargetID: "bob", Category: rating.Blitz})
	require.NoError(t, err)

	failed, err := th.CreateChallenge(ctx, challenge.Request{
		ChallengerID: "dave", TargetID: "bob", Category: rating.Blitz, AutoAccept: true,
	})
	require.ErrorIs(t, err, ErrPlayerBusy)
	assert.Equal(t, challenge.StatusCanceled, failed.Status)

	got, err := th.Challenge(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.StatusCanceled, got.Status)

	pending, ok := th.challenges.PendingFor("bob")
	require.True(t, ok)
	assert.Equal(t, waiting.ID, pending.ID)

	_, err = th.AcceptChallenge(ctx, failed.ID, "bob")
	assert.ErrorIs(t, err, challenge.ErrNotPending)

	_, err = th.Resign(ctx, live.SessionID, "bob")
	require.NoError(t, err)
	_, busy := th.ActiveGame("bob")
	require.False(t, busy)

	accepted, err := th.AcceptChallenge(ctx, waiting.ID, "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, accepted.SessionID)
}

func TestUnknownReferences(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)
	_, err := th.SubmitMove(ctx, "nope", "alice", mill.Place(0), nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, th.JoinArena(ctx, "nope", "alice"), ErrArenaNotFound)
	_, err = th.ArenaStandings(ctx, "nope")
	assert.ErrorIs(t, err, ErrArenaNotFound)
	_, err = th.CreateArena(ctx, ArenaRequest{Name: "x", Category: "classical", Duration: time.Hour})
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestConcurrentMovesThroughHub(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)
	ch, err := th.CreateChallenge(ctx, challenge.Request{
		ChallengerID: "alice", TargetID: "bob", Category: rating.Bullet, Seat: challenge.SeatA, AutoAccept: true,
	})
	require.NoError(t, err)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for p := 0; p < 24; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			zero := 0
			if _, err := th.SubmitMove(ctx, ch.SessionID, "alice", mill.Place(p), &zero); err == nil {
				accepted.Add(1)
			} else if !errors.Is(err, game.ErrStaleTurn) {
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	wg.Wait()
	assert.EqualValues(t, 1, accepted.Load())
}

func TestArenaEndToEnd(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, func(gc *config.GameConfig) { gc.FirstMoveTimeout = 0 })

	snap, err := th.CreateArena(ctx, ArenaRequest{Name: "Test Arena", Category: rating.Blitz, Duration: 10 * time.Minute, Rated: true})
	require.NoError(t, err)
	require.NoError(t, th.JoinArena(ctx, snap.ArenaID, "alice"))
	require.NoError(t, th.JoinArena(ctx, snap.ArenaID, "bob"))

	th.Tick(ctx)
	th.clk.Add(20 * time.Second)
	th.Tick(ctx)

	paired := th.rec.OfType(events.TypePlayerPaired)
	require.Len(t, paired, 1)
	pp := paired[0].(events.PlayerPaired)
	sid := pp.SessionID

	_, err = th.RequestBerserk(ctx, sid, pp.PlayerA)
	require.NoError(t, err)
	_, err = th.Resign(ctx, sid, pp.PlayerB)
	require.NoError(t, err)

	st, err := th.ArenaStandings(ctx, snap.ArenaID)
	require.NoError(t, err)
	require.Len(t, st.Standings, 2)
	assert.Equal(t, pp.PlayerA, st.Standings[0].PlayerID)
	assert.Equal(t, 4, st.Standings[0].Score)

	// both requeued and paired again on the next tick
	th.Tick(ctx)
	assert.Len(t, th.rec.OfType(events.TypePlayerPaired), 2)

	// the window closes with a game in flight; grace expiry adjudicates it
	th.clk.Add(10 * time.Minute)
	th.Tick(ctx)
	th.clk.Add(30 * time.Second)
	th.Tick(ctx)

	st, err = th.ArenaStandings(ctx, snap.ArenaID)
	require.NoError(t, err)
	assert.True(t, st.Final)
	saved, err := th.repo.ArenaSnapshot(ctx, snap.ArenaID)
	require.NoError(t, err)
	assert.Len(t, saved.Podium, 2)

	// after retention the arena is served from storage
	th.clk.Add(5 * time.Minute)
	th.Tick(ctx)
	assert.Empty(t, th.Arenas())
	st, err = th.ArenaStandings(ctx, snap.ArenaID)
	require.NoError(t, err)
	assert.True(t, st.Final)
}

func TestPairingSkipsPlayerBusyElsewhere(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, func(gc *config.GameConfig) { gc.FirstMoveTimeout = 0 })

	_, err := th.CreateChallenge(ctx, challenge.Request{
		ChallengerID: "alice", TargetID: "dave", Category: rating.Rapid, AutoAccept: true,
	})
	require.NoError(t, err)

	snap, err := th.CreateArena(ctx, ArenaRequest{Name: "A", Category: rating.Blitz, Duration: time.Hour})
	require.NoError(t, err)
	for _, p := range []string{"alice", "bob", "carol"} {
		require.NoError(t, th.JoinArena(ctx, snap.ArenaID, p))
	}
	th.Tick(ctx)
	th.clk.Add(20 * time.Second)
	th.Tick(ctx)

	paired := th.rec.OfType(events.TypePlayerPaired)
	require.Len(t, paired, 1)
	pp := paired[0].(events.PlayerPaired)
	assert.ElementsMatch(t, []string{"bob", "carol"}, []string{pp.PlayerA, pp.PlayerB})
}

func TestSpawnScheduled(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, func(gc *config.GameConfig) {
		gc.Schedule = []config.ArenaSchedule{{
			Name: "Hourly Bullet", Category: rating.Bullet,
			Start: "2026-04-01T09:30:00Z", Every: time.Hour, Duration: 30 * time.Minute, Lead: 10 * time.Minute,
		}}
	})
	require.NoError(t, th.game.Schedule[0].Resolve())

	assert.Equal(t, 0, th.SpawnScheduled(ctx))
	th.clk.Add(20 * time.Minute)
	assert.Equal(t, 1, th.SpawnScheduled(ctx))
	assert.Equal(t, 0, th.SpawnScheduled(ctx))

	arenas := th.Arenas()
	require.Len(t, arenas, 1)
	assert.Equal(t, "hourly-bullet-20260401T0930", arenas[0].ArenaID)
	assert.Equal(t, time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC), arenas[0].StartsAt)
}

func TestSessionsArchivedAfterRetention(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)
	ch, err := th.CreateChallenge(ctx, challenge.Request{ChallengerID: "a", TargetID: "b", Category: rating.Blitz, AutoAccept: true})
	require.NoError(t, err)
	_, err = th.Resign(ctx, ch.SessionID, "a")
	require.NoError(t, err)

	th.Tick(ctx)
	_, err = th.Game(ch.SessionID)
	require.NoError(t, err)

	th.clk.Add(time.Minute)
	th.Tick(ctx)
	_, err = th.Game(ch.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestShutdownAbortsLiveGames(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)
	ch, err := th.CreateChallenge(ctx, challenge.Request{ChallengerID: "a", TargetID: "b", Category: rating.Blitz, AutoAccept: true, Rated: true})
	require.NoError(t, err)

	th.Shutdown(ctx)

	snap, err := th.Game(ch.SessionID)
	require.NoError(t, err)
	assert.Equal(t, mill.OutcomeAbandoned, snap.Outcome)
	rec, err := th.Rating(ctx, "a", rating.Blitz)
	require.NoError(t, err)
	assert.Equal(t, 1500, rec.Rating)
	assert.Equal(t, 0, rec.Games)
}
