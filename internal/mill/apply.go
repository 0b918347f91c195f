package mill

// Apply validates mv for player by and returns the resulting state together
// with the events it produced. On error the returned state is the input state.
//
// Check order: turn and phase legality, geometry of the sub-move, mill
// detection, the removal obligation, phase transitions, terminal detection.
func Apply(st State, mv Move, by Side) (State, []Event, error) {
	if st.Phase == PhaseFinished {
		return st, nil, illegal(ReasonGameFinished, mv)
	}
	if by != st.Turn {
		return st, nil, illegal(ReasonNotYourTurn, mv)
	}
	if st.PendingRemoval {
		if mv.Kind != KindRemove {
			return st, nil, illegal(ReasonRemovalRequired, mv)
		}
		return applyRemoval(st, mv, by)
	}

	next := st.clone()
	var events []Event
	switch mv.Kind {
	case KindPlace:
		if next.Phase != PhasePlacement || next.InHandOf(by) == 0 {
			return st, nil, illegal(ReasonWrongPhase, mv)
		}
		if !validPoint(mv.To) {
			return st, nil, illegal(ReasonInvalidPosition, mv)
		}
		if next.Board[mv.To] != NoSide {
			return st, nil, illegal(ReasonOccupiedDestination, mv)
		}
		next.Board[mv.To] = by
		next.InHand[by.idx()]--
		next.OnBoard[by.idx()]++
		events = append(events, Event{Kind: EventPlaced, Side: by, Point: mv.To})
	case KindSlide:
		if next.Phase == PhasePlacement {
			return st, nil, illegal(ReasonWrongPhase, mv)
		}
		if !validPoint(mv.From) || !validPoint(mv.To) {
			return st, nil, illegal(ReasonInvalidPosition, mv)
		}
		if next.Board[mv.From] != by {
			return st, nil, illegal(ReasonNotYourPiece, mv)
		}
		if next.Board[mv.To] != NoSide {
			return st, nil, illegal(ReasonOccupiedDestination, mv)
		}
		if !next.IsFlying(by) && !Adjacent(mv.From, mv.To) {
			return st, nil, illegal(ReasonNotAdjacent, mv)
		}
		next.Board[mv.From] = NoSide
		next.Board[mv.To] = by
		events = append(events, Event{Kind: EventMoved, Side: by, Point: mv.To})
	case KindRemove:
		// no mill was formed this turn
		return st, nil, illegal(ReasonInvalidRemoval, mv)
	default:
		return st, nil, illegal(ReasonWrongPhase, mv)
	}

	next.Ply++
	next.NoProgress++

	opp := by.Opponent()
	if inMill(&next.Board, mv.To) {
		events = append(events, Event{Kind: EventMillFormed, Side: by, Point: mv.To})
		if next.OnBoardOf(opp) > 0 {
			next.PendingRemoval = true
			events = append(events, Event{Kind: EventRemovalRequired, Side: by})
			return next, events, nil
		}
	}
	events = next.endTurn(by, events)
	return next, events, nil
}

func applyRemoval(st State, mv Move, by Side) (State, []Event, error) {
	opp := by.Opponent()
	if !validPoint(mv.To) {
		return st, nil, illegal(ReasonInvalidPosition, mv)
	}
	if st.Board[mv.To] != opp {
		return st, nil, illegal(ReasonInvalidRemoval, mv)
	}
	if inMill(&st.Board, mv.To) && !allInMills(&st.Board, opp) {
		return st, nil, illegal(ReasonInvalidRemoval, mv)
	}

	next := st.clone()
	next.Board[mv.To] = NoSide
	next.OnBoard[opp.idx()]--
	next.Captured[opp.idx()]++
	next.PendingRemoval = false
	next.NoProgress = 0
	// positions before a capture can never recur
	next.seen = nil

	events := []Event{{Kind: EventRemoved, Side: by, Point: mv.To}}
	events = next.endTurn(by, events)
	return next, events, nil
}

// endTurn passes the turn to the opponent and evaluates phase changes and
// terminal conditions.
func (s *State) endTurn(mover Side, events []Event) []Event {
	opp := mover.Opponent()
	s.Turn = opp

	if s.Phase == PhasePlacement && s.InHand[0] == 0 && s.InHand[1] == 0 {
		s.Phase = PhaseMovement
		events = append(events, Event{Kind: EventPhaseChanged, Phase: PhaseMovement})
	}
	if s.Phase != PhasePlacement {
		for _, side := range []Side{SideA, SideB} {
			if !s.IsFlying(side) && s.OnBoardOf(side) == 3 {
				s.Flying[side.idx()] = true
				events = append(events, Event{Kind: EventFlyingEnabled, Side: side})
			}
		}
		if s.Flying[0] || s.Flying[1] {
			if s.Phase != PhaseFlying {
				events = append(events, Event{Kind: EventPhaseChanged, Phase: PhaseFlying})
			}
			s.Phase = PhaseFlying
		}
	}

	switch {
	case s.Remaining(opp) < 3:
		s.finish(WinFor(mover), TermPieces)
	case !hasLegalMove(s, opp):
		s.finish(WinFor(mover), TermBlocked)
	case s.Rules.NoProgressCap > 0 && s.NoProgress >= s.Rules.NoProgressCap:
		s.finish(OutcomeDraw, TermNoProgress)
	case s.repeated():
		s.finish(OutcomeDraw, TermRepetition)
	}
	if s.Phase == PhaseFinished {
		events = append(events, Event{Kind: EventGameOver, Side: s.Outcome.Winner(), Phase: PhaseFinished})
	}
	return events
}

func (s *State) repeated() bool {
	if s.Rules.RepetitionLimit <= 0 || s.Phase == PhasePlacement {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]int)
	}
	key := s.positionKey()
	s.seen[key]++
	return s.seen[key] >= s.Rules.RepetitionLimit
}

func (s *State) finish(o Outcome, t Termination) {
	s.Phase = PhaseFinished
	s.Outcome = o
	s.Termination = t
	s.PendingRemoval = false
}

func hasLegalMove(s *State, side Side) bool {
	if s.Phase == PhasePlacement && s.InHandOf(side) > 0 {
		for p := 0; p < Points; p++ {
			if s.Board[p] == NoSide {
				return true
			}
		}
		return false
	}
	flying := s.IsFlying(side)
	for p := 0; p < Points; p++ {
		if s.Board[p] != side {
			continue
		}
		if flying {
			// 24 points, at most 18 pieces
			return true
		}
		for _, n := range adjacency[p] {
			if s.Board[n] == NoSide {
				return true
			}
		}
	}
	return false
}

// LegalMoves enumerates every sub-move the side to move may submit.
func LegalMoves(st State) []Move {
	if st.Phase == PhaseFinished || st.Turn == NoSide {
		return nil
	}
	side := st.Turn
	var out []Move
	if st.PendingRemoval {
		opp := side.Opponent()
		protected := !allInMills(&st.Board, opp)
		for p := 0; p < Points; p++ {
			if st.Board[p] != opp {
				continue
			}
			if protected && inMill(&st.Board, p) {
				continue
			}
			out = append(out, Remove(p))
		}
		return out
	}
	if st.Phase == PhasePlacement {
		if st.InHandOf(side) == 0 {
			return nil
		}
		for p := 0; p < Points; p++ {
			if st.Board[p] == NoSide {
				out = append(out, Place(p))
			}
		}
		return out
	}
	flying := st.IsFlying(side)
	for from := 0; from < Points; from++ {
		if st.Board[from] != side {
			continue
		}
		if flying {
			for to := 0; to < Points; to++ {
				if st.Board[to] == NoSide {
					out = append(out, Slide(from, to))
				}
			}
			continue
		}
		for _, to := range adjacency[from] {
			if st.Board[to] == NoSide {
				out = append(out, Slide(from, to))
			}
		}
	}
	return out
}

// Adjudicate scores an unfinished position by material: the side with more
// pieces remaining wins, equal material is a draw. Finished states return
// their recorded outcome.
func Adjudicate(st State) Outcome {
	if st.Phase == PhaseFinished {
		return st.Outcome
	}
	a, b := st.Remaining(SideA), st.Remaining(SideB)
	switch {
	case a > b:
		return OutcomeWinA
	case b > a:
		return OutcomeWinB
	default:
		return OutcomeDraw
	}
}
