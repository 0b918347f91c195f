package mill

import (
	"fmt"
	"strings"
)

// Side identifies a player seat. A always moves first.
type Side int8

const (
	NoSide Side = iota
	SideA
	SideB
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "a"
	case SideB:
		return "b"
	default:
		return ""
	}
}

// Opponent returns the other seat; NoSide maps to itself.
func (s Side) Opponent() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	default:
		return NoSide
	}
}

func (s Side) idx() int { return int(s) - 1 }

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "a":
		*s = SideA
	case "b":
		*s = SideB
	case "":
		*s = NoSide
	default:
		return fmt.Errorf("unknown side %q", string(b))
	}
	return nil
}

// Phase is the game phase.
type Phase string

const (
	PhasePlacement Phase = "placement"
	PhaseMovement  Phase = "movement"
	PhaseFlying    Phase = "flying"
	PhaseFinished  Phase = "finished"
)

// Outcome of a game.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeWinA      Outcome = "win_a"
	OutcomeWinB      Outcome = "win_b"
	OutcomeDraw      Outcome = "draw"
	OutcomeAbandoned Outcome = "abandoned"
)

// WinFor returns the outcome where s wins.
func WinFor(s Side) Outcome {
	if s == SideA {
		return OutcomeWinA
	}
	return OutcomeWinB
}

// Winner returns the winning seat, or NoSide for draws and unfinished games.
func (o Outcome) Winner() Side {
	switch o {
	case OutcomeWinA:
		return SideA
	case OutcomeWinB:
		return SideB
	default:
		return NoSide
	}
}

// Termination explains why a game ended.
type Termination string

const (
	TermNone        Termination = ""
	TermPieces      Termination = "pieces"
	TermBlocked     Termination = "blocked"
	TermNoProgress  Termination = "no_progress"
	TermRepetition  Termination = "repetition"
	TermTimeout     Termination = "timeout"
	TermResign      Termination = "resign"
	TermAgreement   Termination = "agreement"
	TermFirstMove   Termination = "first_move_timeout"
	TermAborted     Termination = "aborted"
	TermAdjudicated Termination = "adjudicated"
)

// Rules holds the configurable draw limits. Zero disables a limit.
type Rules struct {
	NoProgressCap   int `json:"no_progress_cap" yaml:"no_progress_cap"`
	RepetitionLimit int `json:"repetition_limit" yaml:"repetition_limit"`
}

func DefaultRules() Rules {
	return Rules{NoProgressCap: 50, RepetitionLimit: 3}
}

// State is an immutable-by-convention snapshot of one game. Apply never
// mutates its input.
type State struct {
	Board          [Points]Side `json:"board"`
	Turn           Side         `json:"turn"`
	Phase          Phase        `json:"phase"`
	InHand         [2]int       `json:"in_hand"`
	OnBoard        [2]int       `json:"on_board"`
	Captured       [2]int       `json:"captured"`
	Flying         [2]bool      `json:"flying"`
	PendingRemoval bool         `json:"pending_removal"`
	NoProgress     int          `json:"no_progress"`
	Ply            int          `json:"ply"`
	Outcome        Outcome      `json:"outcome"`
	Termination    Termination  `json:"termination,omitempty"`

	Rules Rules `json:"-"`

	// position key -> occurrences since the last removal
	seen map[string]int
}

// NewGame returns the initial state: empty board, nine in hand each, A to move.
func NewGame(r Rules) State {
	return State{
		Turn:    SideA,
		Phase:   PhasePlacement,
		InHand:  [2]int{PiecesPerSide, PiecesPerSide},
		Outcome: OutcomePending,
		Rules:   r,
	}
}

func (s State) InHandOf(side Side) int   { return s.InHand[side.idx()] }
func (s State) OnBoardOf(side Side) int  { return s.OnBoard[side.idx()] }
func (s State) CapturedOf(side Side) int { return s.Captured[side.idx()] }
func (s State) IsFlying(side Side) bool  { return s.Flying[side.idx()] }
func (s State) Finished() bool           { return s.Phase == PhaseFinished }

// Remaining is pieces in hand plus pieces on the board.
func (s State) Remaining(side Side) int { return s.InHandOf(side) + s.OnBoardOf(side) }

// Conserved reports whether in hand + on board + captured equals the starting
// piece count for both sides.
func (s State) Conserved() bool {
	for _, side := range []Side{SideA, SideB} {
		if s.InHandOf(side)+s.OnBoardOf(side)+s.CapturedOf(side) != PiecesPerSide {
			return false
		}
	}
	return true
}

// InMill reports whether the piece on p is part of a completed mill.
func (s State) InMill(p int) bool {
	if !validPoint(p) {
		return false
	}
	return inMill(&s.Board, p)
}

func (s State) clone() State {
	next := s
	if s.seen != nil {
		next.seen = make(map[string]int, len(s.seen))
		for k, v := range s.seen {
			next.seen[k] = v
		}
	}
	return next
}

func (s *State) positionKey() string {
	var b strings.Builder
	b.Grow(Points + 1)
	for _, side := range s.Board {
		switch side {
		case SideA:
			b.WriteByte('a')
		case SideB:
			b.WriteByte('b')
		default:
			b.WriteByte('.')
		}
	}
	b.WriteString(s.Turn.String())
	return b.String()
}
