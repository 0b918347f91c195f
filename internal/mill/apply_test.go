package mill

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustApply(t *testing.T, st State, mv Move, by Side) State {
	t.Helper()
	next, _, err := Apply(st, mv, by)
	if err != nil {
		t.Fatalf("Apply(%s by %s): %v", mv, by, err)
	}
	return next
}

func expectReason(t *testing.T, err error, want Reason) {
	t.Helper()
	got, ok := ReasonOf(err)
	if !ok {
		t.Fatalf("expected IllegalMove(%s), got %v", want, err)
	}
	if got != want {
		t.Fatalf("reason = %s, want %s", got, want)
	}
}

// boardState builds a mid-game position. Pieces not listed are in hand.
func boardState(turn Side, phase Phase, a, b []int, inHandA, inHandB int) State {
	st := NewGame(DefaultRules())
	st.Turn = turn
	st.Phase = phase
	for _, p := range a {
		st.Board[p] = SideA
	}
	for _, p := range b {
		st.Board[p] = SideB
	}
	st.InHand = [2]int{inHandA, inHandB}
	st.OnBoard = [2]int{len(a), len(b)}
	st.Captured = [2]int{PiecesPerSide - inHandA - len(a), PiecesPerSide - inHandB - len(b)}
	if phase != PhasePlacement {
		st.Flying = [2]bool{len(a) == 3, len(b) == 3}
	}
	return st
}

func TestApply_PlacementBasics(t *testing.T) {
	st := NewGame(DefaultRules())
	st = mustApply(t, st, Place(0), SideA)
	if st.Turn != SideB || st.InHandOf(SideA) != 8 || st.OnBoardOf(SideA) != 1 {
		t.Fatalf("unexpected state after first placement: %+v", st)
	}

	_, _, err := Apply(st, Place(1), SideA)
	expectReason(t, err, ReasonNotYourTurn)

	_, _, err = Apply(st, Place(0), SideB)
	expectReason(t, err, ReasonOccupiedDestination)

	_, _, err = Apply(st, Slide(0, 1), SideB)
	expectReason(t, err, ReasonWrongPhase)

	_, _, err = Apply(st, Place(24), SideB)
	expectReason(t, err, ReasonInvalidPosition)

	_, _, err = Apply(st, Remove(0), SideB)
	expectReason(t, err, ReasonInvalidRemoval)
}

func TestApply_NinthPlacementMillRequiresRemoval(t *testing.T) {
	// A: 0,1 waiting for 2; B owns the mill 3-4-5.
	a := []int{0, 1, 9, 11, 16, 18, 20, 23}
	b := []int{3, 4, 5, 6, 8, 13, 15, 22}
	st := boardState(SideA, PhasePlacement, a, b, 1, 1)
	if !st.Conserved() {
		t.Fatalf("fixture not conserved")
	}

	next, events, err := Apply(st, Place(2), SideA)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !next.PendingRemoval || next.Turn != SideA {
		t.Fatalf("expected pending removal for A, got pending=%v turn=%s", next.PendingRemoval, next.Turn)
	}
	var sawRequired bool
	for _, ev := range events {
		if ev.Kind == EventRemovalRequired {
			sawRequired = true
		}
	}
	if !sawRequired {
		t.Fatalf("expected removal_required event, got %+v", events)
	}

	_, _, err = Apply(next, Place(7), SideA)
	expectReason(t, err, ReasonRemovalRequired)

	_, _, err = Apply(next, Remove(4), SideA)
	expectReason(t, err, ReasonInvalidRemoval)

	_, _, err = Apply(next, Remove(0), SideA)
	expectReason(t, err, ReasonInvalidRemoval)

	after := mustApply(t, next, Remove(13), SideA)
	if after.Turn != SideB || after.PendingRemoval {
		t.Fatalf("turn should pass after removal")
	}
	if after.CapturedOf(SideB) != 1 || after.OnBoardOf(SideB) != 7 || !after.Conserved() {
		t.Fatalf("bad counts after removal: %+v", after)
	}
}

func TestApply_RemovalFromMillAllowedWhenAllInMills(t *testing.T) {
	// Every B piece sits in the mill 3-4-5, so any of them may be taken.
	st := boardState(SideA, PhaseMovement, []int{0, 9, 22, 14}, []int{3, 4, 5}, 0, 0)
	next, _, err := Apply(st, Slide(22, 21), SideA)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !next.PendingRemoval {
		t.Fatalf("expected 0-9-21 to form a mill")
	}
	after := mustApply(t, next, Remove(4), SideA)
	if !after.Finished() || after.Outcome != OutcomeWinA || after.Termination != TermPieces {
		t.Fatalf("expected A to win on pieces, got outcome=%s term=%s", after.Outcome, after.Termination)
	}
}

func TestApply_MovementAdjacency(t *testing.T) {
	st := boardState(SideA, PhaseMovement, []int{0, 4, 8, 12}, []int{1, 9, 20, 22}, 0, 0)
	_, _, err := Apply(st, Slide(0, 2), SideA)
	expectReason(t, err, ReasonNotAdjacent)

	_, _, err = Apply(st, Slide(0, 1), SideA)
	expectReason(t, err, ReasonOccupiedDestination)

	_, _, err = Apply(st, Slide(1, 2), SideA)
	expectReason(t, err, ReasonNotYourPiece)

	_, _, err = Apply(st, Place(5), SideA)
	expectReason(t, err, ReasonWrongPhase)

	next := mustApply(t, st, Slide(4, 5), SideA)
	if next.Board[4] != NoSide || next.Board[5] != SideA || next.Turn != SideB {
		t.Fatalf("slide not applied: %+v", next.Board)
	}
}

func TestApply_FlyingOnlyAtThree(t *testing.T) {
	st := boardState(SideA, PhaseFlying, []int{0, 4, 8}, []int{1, 9, 20, 22}, 0, 0)
	if !st.IsFlying(SideA) || st.IsFlying(SideB) {
		t.Fatalf("fixture flags wrong")
	}
	next := mustApply(t, st, Slide(0, 23), SideA)
	if next.Board[23] != SideA {
		t.Fatalf("flying move not applied")
	}
	_, _, err := Apply(next, Slide(1, 14), SideB)
	expectReason(t, err, ReasonNotAdjacent)
}

func TestApply_BlockedLoses(t *testing.T) {
	// After 4->1 every B piece is boxed in.
	st := boardState(SideA, PhaseMovement, []int{4, 9, 14, 22}, []int{0, 2, 21, 23}, 0, 0)
	next := mustApply(t, st, Slide(4, 1), SideA)
	if next.Outcome != OutcomeWinA || next.Termination != TermBlocked {
		t.Fatalf("expected blocked win, got %s/%s", next.Outcome, next.Termination)
	}
}

func TestApply_NoProgressDraw(t *testing.T) {
	st := boardState(SideA, PhaseMovement, []int{0, 4, 8, 12}, []int{1, 9, 20, 22}, 0, 0)
	st.Rules = Rules{NoProgressCap: 4}
	moves := []struct {
		mv Move
		by Side
	}{
		{Slide(4, 5), SideA},
		{Slide(20, 19), SideB},
		{Slide(5, 4), SideA},
		{Slide(19, 20), SideB},
	}
	for i, m := range moves {
		var err error
		st, _, err = Apply(st, m.mv, m.by)
		if err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
	}
	if st.Outcome != OutcomeDraw || st.Termination != TermNoProgress {
		t.Fatalf("expected no-progress draw, got %s/%s", st.Outcome, st.Termination)
	}
}

func TestApply_RepetitionDraw(t *testing.T) {
	st := boardState(SideA, PhaseMovement, []int{0, 4, 8, 12}, []int{1, 9, 20, 22}, 0, 0)
	st.Rules = Rules{RepetitionLimit: 3}
	cycle := []struct {
		mv Move
		by Side
	}{
		{Slide(4, 5), SideA},
		{Slide(20, 19), SideB},
		{Slide(5, 4), SideA},
		{Slide(19, 20), SideB},
	}
	for round := 0; round < 3 && !st.Finished(); round++ {
		for _, m := range cycle {
			if st.Finished() {
				break
			}
			st = mustApply(t, st, m.mv, m.by)
		}
	}
	if st.Outcome != OutcomeDraw || st.Termination != TermRepetition {
		t.Fatalf("expected repetition draw, got %s/%s", st.Outcome, st.Termination)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	st := NewGame(DefaultRules())
	st = mustApply(t, st, Place(0), SideA)
	before := st.clone()
	_, _, _ = Apply(st, Place(1), SideB)
	_, _, _ = Apply(st, Place(0), SideB)
	if diff := cmp.Diff(before, st, cmp.AllowUnexported(State{})); diff != "" {
		t.Fatalf("input mutated (-before +after):\n%s", diff)
	}
}

func TestApply_FinishedRejects(t *testing.T) {
	st := NewGame(DefaultRules())
	st.finish(OutcomeDraw, TermAgreement)
	_, _, err := Apply(st, Place(0), SideA)
	expectReason(t, err, ReasonGameFinished)
	if moves := LegalMoves(st); len(moves) != 0 {
		t.Fatalf("finished state should have no legal moves")
	}
}

// Random playouts: every legal move is accepted and the invariants hold after
// each one.
func TestApply_RandomPlayoutInvariants(t *testing.T) {
	for seed := int64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewSource(seed))
		st := NewGame(DefaultRules())
		var wasFlying [2]bool
		for step := 0; step < 400 && !st.Finished(); step++ {
			moves := LegalMoves(st)
			if len(moves) == 0 {
				t.Fatalf("seed %d: no legal moves in unfinished state %+v", seed, st)
			}
			mv := moves[rng.Intn(len(moves))]
			before := st.clone()
			next, _, err := Apply(st, mv, st.Turn)
			if err != nil {
				t.Fatalf("seed %d step %d: legal move %s rejected: %v", seed, step, mv, err)
			}
			if diff := cmp.Diff(before, st, cmp.AllowUnexported(State{})); diff != "" {
				t.Fatalf("seed %d: input mutated:\n%s", seed, diff)
			}
			st = next
			checkInvariants(t, seed, st, &wasFlying)
		}
	}
}

func checkInvariants(t *testing.T, seed int64, st State, wasFlying *[2]bool) {
	t.Helper()
	if !st.Conserved() {
		t.Fatalf("seed %d: conservation broken: %+v", seed, st)
	}
	var counts [2]int
	for _, s := range st.Board {
		if s != NoSide {
			counts[s.idx()]++
		}
	}
	if counts != st.OnBoard {
		t.Fatalf("seed %d: board counts %v != on-board %v", seed, counts, st.OnBoard)
	}
	for _, side := range []Side{SideA, SideB} {
		i := side.idx()
		if wasFlying[i] && !st.Flying[i] {
			t.Fatalf("seed %d: flying flag for %s cleared", seed, side)
		}
		wasFlying[i] = st.Flying[i]
		if st.Finished() || st.Phase == PhasePlacement {
			continue
		}
		if st.Flying[i] != (st.OnBoard[i] == 3) {
			t.Fatalf("seed %d: flying=%v with %d on board for %s", seed, st.Flying[i], st.OnBoard[i], side)
		}
	}
}

func TestAdjudicate(t *testing.T) {
	st := boardState(SideA, PhaseMovement, []int{0, 4, 8, 12}, []int{1, 9, 20}, 0, 0)
	if got := Adjudicate(st); got != OutcomeWinA {
		t.Fatalf("Adjudicate = %s, want win_a", got)
	}
	st = boardState(SideA, PhaseMovement, []int{0, 4, 8}, []int{1, 9, 20}, 0, 0)
	if got := Adjudicate(st); got != OutcomeDraw {
		t.Fatalf("Adjudicate = %s, want draw", got)
	}
}
