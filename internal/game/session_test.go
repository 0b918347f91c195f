package game

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

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/rating"
)

type fixture struct {
	s       *Session
	clk     *clock.Mock
	rec     *events.Recorder
	reports []Report
	mu      sync.Mutex
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{clk: clock.NewMock(), rec: &events.Recorder{}}
	opts := Options{
		ID:               "g1",
		PlayerA:          "alice",
		PlayerB:          "bob",
		Category:         rating.Blitz,
		Initial:          time.Minute,
		Increment:        2 * time.Second,
		Rules:            mill.DefaultRules(),
		Rated:            true,
		FirstMoveTimeout: 20 * time.Second,
		Clock:            f.clk,
		Publisher:        f.rec,
		OnFinish: func(r Report) {
			f.mu.Lock()
			f.reports = append(f.reports, r)
			f.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.s = New(opts)
	return f
}

func (f *fixture) move(t *testing.T, player string, mv mill.Move) Snapshot {
	t.Helper()
	snap, err := f.s.SubmitMove(context.Background(), Action{Player: player, Move: mv})
	require.NoError(t, err, "move %s by %s", mv, player)
	return snap
}

func (f *fixture) Reports() []Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Report(nil), f.reports...)
}

func seq(n int) *int { return &n }

func TestSession_ClockStartsAfterBothFirstTurns(t *testing.T) {
	f := newFixture(t, nil)

	f.clk.Add(5 * time.Second)
	snap := f.move(t, "alice", mill.Place(0))
	assert.False(t, snap.Clock.Running)
	assert.Equal(t, time.Minute.Milliseconds(), snap.Clock.RemainingA)

	f.clk.Add(5 * time.Second)
	snap = f.move(t, "bob", mill.Place(1))
	assert.True(t, snap.Clock.Running)
	assert.Equal(t, mill.SideA, snap.Clock.Active)
	assert.Equal(t, time.Minute.Milliseconds(), snap.Clock.RemainingB)

	f.clk.Add(10 * time.Second)
	snap = f.move(t, "alice", mill.Place(2))
	assert.Equal(t, (52 * time.Second).Milliseconds(), snap.Clock.RemainingA)
	assert.Equal(t, mill.SideB, snap.Clock.Active)
}

func TestSession_RejectsStaleSeqAndStrangers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.s.SubmitMove(ctx, Action{Player: "mallory", Move: mill.Place(0)})
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.s.SubmitMove(ctx, Action{Player: "alice", Move: mill.Place(0), Seq: seq(0)})
	require.NoError(t, err)

	_, err = f.s.SubmitMove(ctx, Action{Player: "bob", Move: mill.Place(1), Seq: seq(0)})
	assert.ErrorIs(t, err, ErrStaleTurn)

	_, err = f.s.SubmitMove(ctx, Action{Player: "alice", Move: mill.Place(1)})
	reason, ok := mill.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, mill.ReasonNotYourTurn, reason)

	assert.Len(t, f.rec.OfType(events.TypeGameStateChanged), 1)
}

func TestSession_ConcurrentSubmissionsAcceptOne(t *testing.T) {
	f := newFixture(t, nil)
	var accepted, stale atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_, err := f.s.SubmitMove(context.Background(), Action{Player: "alice", Move: mill.Place(p), Seq: seq(0)})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrStaleTurn):
				stale.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, accepted.Load())
	assert.EqualValues(t, 15, stale.Load())
	assert.Equal(t, 1, f.s.Snapshot().Seq)
}

func TestSession_FirstMoveTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.move(t, "alice", mill.Place(0))

	f.clk.Add(19 * time.Second)
	f.s.Tick(context.Background())
	require.False(t, f.s.Finished())

	f.clk.Add(time.Second)
	f.s.Tick(context.Background())
	f.s.Tick(context.Background())

	reps := f.Reports()
	require.Len(t, reps, 1)
	assert.Equal(t, mill.OutcomeWinA, reps[0].Outcome)
	assert.Equal(t, mill.TermFirstMove, reps[0].Termination)

	_, err := f.s.SubmitMove(context.Background(), Action{Player: "bob", Move: mill.Place(1)})
	assert.ErrorIs(t, err, ErrFinished)
}

func TestSession_ClockExpiryOnMoveReceipt(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.FirstMoveTimeout = 0 })
	f.move(t, "alice", mill.Place(0))
	f.move(t, "bob", mill.Place(1))

	f.clk.Add(61 * time.Second)
	_, err := f.s.SubmitMove(context.Background(), Action{Player: "alice", Move: mill.Place(2)})
	assert.ErrorIs(t, err, ErrFinished)

	reps := f.Reports()
	require.Len(t, reps, 1)
	assert.Equal(t, mill.OutcomeWinB, reps[0].Outcome)
	assert.Equal(t, mill.TermTimeout, reps[0].Termination)

	snap := f.s.Snapshot()
	assert.Equal(t, mill.PhaseFinished, snap.Board.Phase)
	assert.Equal(t, 2, snap.Seq)
	require.NotNil(t, snap.EndedAt)
}

func TestSession_Berserk(t *testing.T) {
	ctx := context.Background()

	casual := newFixture(t, nil)
	_, err := casual.s.RequestBerserk(ctx, "alice")
	assert.ErrorIs(t, err, ErrBerserkUnavailable)

	f := newFixture(t, func(o *Options) { o.ArenaID = "arena-1" })
	snap, err := f.s.RequestBerserk(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, [2]bool{false, true}, snap.Berserk)
	assert.Equal(t, (30 * time.Second).Milliseconds(), snap.Clock.RemainingB)
	assert.Equal(t, 0, snap.Seq)

	_, err = f.s.RequestBerserk(ctx, "bob")
	assert.ErrorIs(t, err, ErrBerserkUnavailable)

	f.move(t, "alice", mill.Place(0))
	_, err = f.s.RequestBerserk(ctx, "alice")
	assert.ErrorIs(t, err, ErrBerserkUnavailable)

	_, err = f.s.Resign(ctx, "alice")
	require.NoError(t, err)
	reps := f.Reports()
	require.Len(t, reps, 1)
	assert.Equal(t, [2]bool{false, true}, reps[0].Berserk)
	assert.Equal(t, "arena-1", reps[0].ArenaID)
}

func TestSession_DrawOffers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.s.RespondDraw(ctx, "bob", true)
	assert.ErrorIs(t, err, ErrNoDrawOffer)

	snap, err := f.s.OfferDraw(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, mill.SideA, snap.DrawOffer)

	// the opponent moving instead of answering declines
	f.move(t, "alice", mill.Place(0))
	snap = f.move(t, "bob", mill.Place(1))
	assert.Equal(t, mill.NoSide, snap.DrawOffer)

	_, err = f.s.OfferDraw(ctx, "bob")
	require.NoError(t, err)
	_, err = f.s.RespondDraw(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, mill.NoSide, f.s.Snapshot().DrawOffer)

	_, err = f.s.OfferDraw(ctx, "bob")
	require.NoError(t, err)
	_, err = f.s.OfferDraw(ctx, "alice")
	require.NoError(t, err)

	reps := f.Reports()
	require.Len(t, reps, 1)
	assert.Equal(t, mill.OutcomeDraw, reps[0].Outcome)
	assert.Equal(t, mill.TermAgreement, reps[0].Termination)

	var reasons []string
	for _, ev := range f.rec.OfType(events.TypeGameStateChanged) {
		reasons = append(reasons, ev.(events.GameStateChanged).Reason)
	}
	assert.Equal(t, []string{
		ReasonDrawOffered, ReasonMoveApplied, ReasonMoveApplied,
		ReasonDrawOffered, ReasonDrawDeclined, ReasonDrawOffered, ReasonGameFinished,
	}, reasons)
}

func TestSession_SuspendFreezesClockAndMoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.move(t, "alice", mill.Place(0))
	f.move(t, "bob", mill.Place(1))

	f.clk.Add(10 * time.Second)
	require.NoError(t, f.s.Suspend(ctx))
	f.clk.Add(5 * time.Minute)
	f.s.Tick(ctx)
	require.False(t, f.s.Finished())

	_, err := f.s.SubmitMove(ctx, Action{Player: "alice", Move: mill.Place(2)})
	assert.ErrorIs(t, err, ErrSuspended)

	require.NoError(t, f.s.Resume(ctx))
	snap := f.move(t, "alice", mill.Place(2))
	assert.Equal(t, (52 * time.Second).Milliseconds(), snap.Clock.RemainingA)
}

func TestSession_SuspendKeepsFirstMoveWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.clk.Add(15 * time.Second)
	require.NoError(t, f.s.Suspend(ctx))
	f.clk.Add(time.Hour)
	require.NoError(t, f.s.Resume(ctx))

	f.clk.Add(4 * time.Second)
	f.s.Tick(ctx)
	assert.False(t, f.s.Finished())

	f.clk.Add(time.Second)
	f.s.Tick(ctx)
	assert.True(t, f.s.Finished())
}

func TestSession_AbortReportsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.s.Abort(ctx)
	f.s.Abort(ctx)
	_, err := f.s.Resign(ctx, "alice")
	assert.ErrorIs(t, err, ErrFinished)

	reps := f.Reports()
	require.Len(t, reps, 1)
	assert.Equal(t, mill.OutcomeAbandoned, reps[0].Outcome)
	assert.Equal(t, mill.TermAborted, reps[0].Termination)
	o, berserk := f.s.Adjudication()
	assert.Equal(t, mill.OutcomeAbandoned, o)
	assert.Equal(t, [2]bool{}, berserk)
}

func TestSession_RemovalKeepsTurnAndReason(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.FirstMoveTimeout = 0 })
	// A builds 0-1-2 while B plays elsewhere
	f.move(t, "alice", mill.Place(0))
	f.move(t, "bob", mill.Place(9))
	f.move(t, "alice", mill.Place(1))
	f.move(t, "bob", mill.Place(10))
	snap := f.move(t, "alice", mill.Place(2))
	require.True(t, snap.Board.PendingRemoval)
	assert.Equal(t, mill.SideA, snap.Board.Turn)

	evs := f.rec.OfType(events.TypeGameStateChanged)
	last := evs[len(evs)-1].(events.GameStateChanged)
	assert.Equal(t, ReasonRemovalRequired, last.Reason)

	snap = f.move(t, "alice", mill.Remove(9))
	assert.Equal(t, mill.SideB, snap.Board.Turn)
	assert.Equal(t, 6, snap.Seq)
}
