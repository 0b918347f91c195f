package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/challenge"
	"github.com/park285/mill-arena/internal/game"
	"github.com/park285/mill-arena/internal/rating"
)

func seekers(th *testHub) []string {
	var out []string
	for _, s := range th.Seeks() {
		out = append(out, s.PlayerID)
	}
	return out
}

func TestSeekQueuesUntilCompatibleSeeker(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)

	res, err := th.Seek(ctx, "alice", rating.Blitz, true)
	require.NoError(t, err)
	assert.False(t, res.Matched)

	res, err = th.Seek(ctx, "bob", rating.Bullet, true)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	res, err = th.Seek(ctx, "carol", rating.Blitz, false)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, []string{"alice", "bob", "carol"}, seekers(th))

	res, err = th.Seek(ctx, "dave", rating.Blitz, true)
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.NotEmpty(t, res.SessionID)
	assert.Equal(t, []string{"bob", "carol"}, seekers(th))

	snap, err := th.Game(res.SessionID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "dave"}, snap.Players[:])
	assert.Equal(t, rating.Blitz, snap.Category)
	assert.True(t, snap.Rated)

	_, err = th.Seek(ctx, "alice", rating.Bullet, true)
	assert.ErrorIs(t, err, ErrPlayerBusy)
	_, err = th.Seek(ctx, "erin", "classical", true)
	assert.ErrorIs(t, err, ErrUnknownCategory)
	_, err = th.Seek(ctx, " ", rating.Blitz, true)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSeekDropsSeekerWhoStartedElsewhere(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)

	_, err := th.Seek(ctx, "alice", rating.Blitz, false)
	require.NoError(t, err)
	_, err = th.CreateChallenge(ctx, challenge.Request{ChallengerID: "carol", TargetID: "alice", Category: rating.Bullet, AutoAccept: true})
	require.NoError(t, err)

	res, err := th.Seek(ctx, "bob", rating.Blitz, false)
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, []string{"bob"}, seekers(th))
}

func TestSeekReplaceCancelAndExpire(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)

	_, err := th.Seek(ctx, "alice", rating.Blitz, true)
	require.NoError(t, err)
	_, err = th.Seek(ctx, "alice", rating.Bullet, false)
	require.NoError(t, err)
	seeks := th.Seeks()
	require.Len(t, seeks, 1)
	assert.Equal(t, rating.Bullet, seeks[0].Category)

	assert.True(t, th.CancelSeek("alice"))
	assert.False(t, th.CancelSeek("alice"))

	_, err = th.Seek(ctx, "alice", rating.Blitz, true)
	require.NoError(t, err)
	th.clk.Add(30 * time.Second)
	_, err = th.Seek(ctx, "bob", rating.Bullet, true)
	require.NoError(t, err)

	th.clk.Add(30 * time.Second)
	th.Tick(ctx)
	assert.Equal(t, []string{"bob"}, seekers(th))
}

func finishedGame(t *testing.T, th *testHub, rated bool) string {
	t.Helper()
	ch, err := th.CreateChallenge(context.Background(), challenge.Request{
		ChallengerID: "alice", TargetID: "bob", Category: rating.Blitz, Seat: challenge.SeatA, Rated: rated, AutoAccept: true,
	})
	require.NoError(t, err)
	_, err = th.Resign(context.Background(), ch.SessionID, "bob")
	require.NoError(t, err)
	return ch.SessionID
}

func TestRematchSwapsSeatsAndCrossingOffersStartOneGame(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)

	live, err := th.CreateChallenge(ctx, challenge.Request{
		ChallengerID: "alice", TargetID: "bob", Category: rating.Blitz, Seat: challenge.SeatA, AutoAccept: true,
	})
	require.NoError(t, err)
	_, err = th.OfferRematch(ctx, live.SessionID, "alice")
	assert.ErrorIs(t, err, ErrGameNotFinished)
	_, err = th.Resign(ctx, live.SessionID, "bob")
	require.NoError(t, err)

	sid := finishedGame(t, th, true)
	_, err = th.OfferRematch(ctx, sid, "carol")
	assert.ErrorIs(t, err, game.ErrNotParticipant)

	offer, err := th.OfferRematch(ctx, sid, "alice")
	require.NoError(t, err)
	assert.Equal(t, challenge.StatusPending, offer.Status)
	assert.Equal(t, "bob", offer.TargetID)
	assert.Equal(t, challenge.SeatB, offer.Seat)
	assert.Equal(t, sid, offer.RematchOf)
	assert.True(t, offer.Rated)
	assert.Equal(t, rating.Blitz, offer.Category)

	again, err := th.OfferRematch(ctx, sid, "alice")
	require.NoError(t, err)
	assert.Equal(t, offer.ID, again.ID)

	accepted, err := th.OfferRematch(ctx, sid, "bob")
	require.NoError(t, err)
	assert.Equal(t, offer.ID, accepted.ID)
	require.NotEmpty(t, accepted.SessionID)

	snap, err := th.Game(accepted.SessionID)
	require.NoError(t, err)
	assert.Equal(t, [2]string{"bob", "alice"}, snap.Players)
	assert.True(t, snap.Rated)

	late, err := th.OfferRematch(ctx, sid, "alice")
	require.NoError(t, err)
	assert.Equal(t, accepted.SessionID, late.SessionID)
}

func TestRematchOfferedAgainAfterDecline(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)
	sid := finishedGame(t, th, false)

	offer, err := th.OfferRematch(ctx, sid, "bob")
	require.NoError(t, err)
	assert.Equal(t, challenge.SeatA, offer.Seat)
	_, err = th.DeclineChallenge(ctx, offer.ID, "alice")
	require.NoError(t, err)

	next, err := th.OfferRematch(ctx, sid, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, offer.ID, next.ID)
	assert.Equal(t, challenge.StatusPending, next.Status)
}

func TestRematchRejectedForArenaGames(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)
	sid, err := th.StartGame(ctx, arena.Pairing{
		ArenaID: "arena-x", PlayerA: "alice", PlayerB: "bob", Category: rating.Bullet, Initial: time.Minute,
	})
	require.NoError(t, err)
	_, err = th.Resign(ctx, sid, "alice")
	require.NoError(t, err)

	_, err = th.OfferRematch(ctx, sid, "bob")
	assert.ErrorIs(t, err, ErrNoRematch)
}

func TestLeaderboardOrdersCategory(t *testing.T) {
	ctx := context.Background()
	th := newTestHub(t, nil)
	for _, r := range []rating.Record{
		{PlayerID: "low", Category: rating.Blitz, Rating: 1400, Games: 8},
		{PlayerID: "busy", Category: rating.Blitz, Rating: 1600, Games: 30},
		{PlayerID: "fresh", Category: rating.Blitz, Rating: 1600, Games: 3},
		{PlayerID: "other", Category: rating.Bullet, Rating: 2000, Games: 50},
	} {
		require.NoError(t, th.repo.SaveRating(ctx, &r))
	}

	top, err := th.Leaderboard(ctx, rating.Blitz, 0)
	require.NoError(t, err)
	var order []string
	for _, r := range top {
		order = append(order, r.PlayerID)
	}
	assert.Equal(t, []string{"busy", "fresh", "low"}, order)

	top, err = th.Leaderboard(ctx, rating.Blitz, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "busy", top[0].PlayerID)

	_, err = th.Leaderboard(ctx, "classical", 10)
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
