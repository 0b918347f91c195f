// Package game runs one live match: it owns the board state and the clocks,
// serializes player actions and reports the result exactly once.
package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/gameclock"
	"github.com/park285/mill-arena/internal/metrics"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/internal/rating"
)

var (
	ErrStaleTurn          = errors.New("stale turn")
	ErrNotParticipant     = errors.New("not a participant")
	ErrFinished           = errors.New("game finished")
	ErrBerserkUnavailable = errors.New("berserk unavailable")
	ErrNoDrawOffer        = errors.New("no draw offer to answer")
	ErrSuspended          = errors.New("game suspended")
)

// State-change reasons carried by events.GameStateChanged.
const (
	ReasonStarted         = "started"
	ReasonMoveApplied     = "move_applied"
	ReasonRemovalRequired = "removal_required"
	ReasonGameFinished    = "game_finished"
	ReasonBerserk         = "berserk"
	ReasonDrawOffered     = "draw_offered"
	ReasonDrawDeclined    = "draw_declined"
	ReasonSuspended       = "suspended"
	ReasonResumed         = "resumed"
)

// Options configures a new Session.
type Options struct {
	ID       string
	PlayerA  string
	PlayerB  string
	Category rating.Category
	Initial  time.Duration
	// added to the mover's clock after every completed turn
	Increment time.Duration
	Rules     mill.Rules
	ArenaID   string
	Rated     bool
	// each player must complete a first turn within this window; zero disables
	FirstMoveTimeout time.Duration

	Clock     clock.Clock
	Publisher events.Publisher
	// called once, outside the session lock, when the game ends
	OnFinish func(Report)
}

// Report is what a finished session hands to the result router.
type Report struct {
	SessionID   string
	ArenaID     string
	Category    rating.Category
	PlayerA     string
	PlayerB     string
	Outcome     mill.Outcome
	Termination mill.Termination
	Berserk     [2]bool
	Moves       int
	Rated       bool
	StartedAt   time.Time
	EndedAt     time.Time
}

// Action is one move submission. Seq, when set, must equal the session
// sequence the client computed the move against.
type Action struct {
	Player string
	Move   mill.Move
	Seq    *int
}

// LoggedMove is one entry of the append-only move log.
type LoggedMove struct {
	Side mill.Side `json:"side"`
	Move mill.Move `json:"move"`
	At   time.Time `json:"at"`
}

type Session struct {
	mu sync.Mutex

	id       string
	players  [2]string
	category rating.Category
	arenaID  string
	rated    bool

	state mill.State
	log   []LoggedMove
	clock *gameclock.Clock
	clk   clock.Clock

	berserk   [2]bool
	moved     [2]bool
	drawOffer mill.Side
	suspended bool

	firstMoveTimeout  time.Duration
	firstMoveDeadline time.Time
	firstMoveLeft     time.Duration

	outcome     mill.Outcome
	termination mill.Termination
	finished    bool

	startedAt time.Time
	endedAt   time.Time

	pub      events.Publisher
	onFinish func(Report)
}

func New(opts Options) *Session {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	now := clk.Now()
	s := &Session{
		id:               strings.TrimSpace(opts.ID),
		players:          [2]string{strings.TrimSpace(opts.PlayerA), strings.TrimSpace(opts.PlayerB)},
		category:         opts.Category,
		arenaID:          opts.ArenaID,
		rated:            opts.Rated,
		state:            mill.NewGame(opts.Rules),
		clock:            gameclock.New(clk, opts.Initial, opts.Increment),
		clk:              clk,
		firstMoveTimeout: opts.FirstMoveTimeout,
		outcome:          mill.OutcomePending,
		startedAt:        now,
		pub:              pub,
		onFinish:         opts.OnFinish,
	}
	if s.firstMoveTimeout > 0 {
		s.firstMoveDeadline = now.Add(s.firstMoveTimeout)
	}
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) ArenaID() string    { return s.arenaID }
func (s *Session) Players() [2]string { return s.players }

func sideIdx(s mill.Side) int {
	if s == mill.SideB {
		return 1
	}
	return 0
}

func (s *Session) sideOf(player string) mill.Side {
	switch strings.TrimSpace(player) {
	case "":
		return mill.NoSide
	case s.players[0]:
		return mill.SideA
	case s.players[1]:
		return mill.SideB
	}
	return mill.NoSide
}

// Announce publishes the initial state.
func (s *Session) Announce(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(ctx, ReasonStarted, nil)
}

// SubmitMove validates and applies one sub-move.
func (s *Session) SubmitMove(ctx context.Context, a Action) (Snapshot, error) {
	s.mu.Lock()
	snap, rep, err := s.submitLocked(ctx, a)
	s.mu.Unlock()
	s.report(rep)
	if err != nil {
		metrics.MovesRejected.WithLabelValues(rejectLabel(err)).Inc()
		return snap, err
	}
	metrics.MovesAccepted.Inc()
	return snap, nil
}

func (s *Session) submitLocked(ctx context.Context, a Action) (Snapshot, *Report, error) {
	if s.finished {
		return s.snapshotLocked(), nil, ErrFinished
	}
	side := s.sideOf(a.Player)
	if side == mill.NoSide {
		return s.snapshotLocked(), nil, ErrNotParticipant
	}
	if a.Seq != nil && *a.Seq != len(s.log) {
		return s.snapshotLocked(), nil, ErrStaleTurn
	}
	if s.suspended {
		return s.snapshotLocked(), nil, ErrSuspended
	}
	// a flag that fell between ticks still decides the game
	if rep := s.checkTimeLocked(ctx); rep != nil {
		return s.snapshotLocked(), rep, ErrFinished
	}

	next, _, err := mill.Apply(s.state, a.Move, side)
	if err != nil {
		return s.snapshotLocked(), nil, err
	}
	s.state = next
	s.log = append(s.log, LoggedMove{Side: side, Move: a.Move, At: s.clk.Now()})
	s.moved[sideIdx(side)] = true

	turnPassed := next.Finished() || next.Turn != side
	if turnPassed && !next.Finished() {
		s.passTurnLocked(side)
	}
	if s.drawOffer != mill.NoSide && s.drawOffer != side {
		s.drawOffer = mill.NoSide
	}

	obslog.L().Debug("game_move",
		zap.String("game_id", s.id),
		zap.String("side", side.String()),
		zap.String("move", a.Move.String()),
		zap.Int("seq", len(s.log)),
	)

	mv := a.Move
	if next.Finished() {
		rep := s.finishLocked(next.Outcome, next.Termination)
		s.emit(ctx, ReasonGameFinished, &mv)
		return s.snapshotLocked(), rep, nil
	}
	reason := ReasonMoveApplied
	if next.PendingRemoval {
		reason = ReasonRemovalRequired
	}
	s.emit(ctx, reason, &mv)
	return s.snapshotLocked(), nil, nil
}

// passTurnLocked handles clock and first-move bookkeeping after side
// completes a turn. Clocks start once both players have moved.
func (s *Session) passTurnLocked(side mill.Side) {
	if s.clock.Started() {
		s.clock.OnMove(side)
		return
	}
	if side == mill.SideB {
		s.firstMoveDeadline = time.Time{}
		s.clock.Start(mill.SideA)
		return
	}
	if s.firstMoveTimeout > 0 {
		s.firstMoveDeadline = s.clk.Now().Add(s.firstMoveTimeout)
	}
}

// Tick checks clock expiry and the first-move deadline. It is driven by the
// scheduler and may race with SubmitMove.
func (s *Session) Tick(ctx context.Context) {
	s.mu.Lock()
	var rep *Report
	if !s.finished && !s.suspended {
		rep = s.checkTimeLocked(ctx)
	}
	s.mu.Unlock()
	s.report(rep)
}

func (s *Session) checkTimeLocked(ctx context.Context) *Report {
	if !s.firstMoveDeadline.IsZero() && !s.clk.Now().Before(s.firstMoveDeadline) {
		loser := s.state.Turn
		rep := s.finishLocked(mill.WinFor(loser.Opponent()), mill.TermFirstMove)
		s.emit(ctx, ReasonGameFinished, nil)
		return rep
	}
	if side, expired := s.clock.CheckExpiry(); expired {
		rep := s.finishLocked(mill.WinFor(side.Opponent()), mill.TermTimeout)
		s.emit(ctx, ReasonGameFinished, nil)
		return rep
	}
	return nil
}

// RequestBerserk halves the requester's clock in exchange for doubled win
// points. Arena games only, before the requester's first move, once.
func (s *Session) RequestBerserk(ctx context.Context, player string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return s.snapshotLocked(), ErrFinished
	}
	side := s.sideOf(player)
	if side == mill.NoSide {
		return s.snapshotLocked(), ErrNotParticipant
	}
	if s.arenaID == "" || s.moved[sideIdx(side)] || s.berserk[sideIdx(side)] {
		return s.snapshotLocked(), ErrBerserkUnavailable
	}
	s.berserk[sideIdx(side)] = true
	s.clock.Halve(side)
	obslog.L().Info("game_berserk", zap.String("game_id", s.id), zap.String("player_id", player))
	s.emit(ctx, ReasonBerserk, nil)
	return s.snapshotLocked(), nil
}

// Resign ends the game in the opponent's favour.
func (s *Session) Resign(ctx context.Context, player string) (Snapshot, error) {
	s.mu.Lock()
	if s.finished {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrFinished
	}
	side := s.sideOf(player)
	if side == mill.NoSide {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrNotParticipant
	}
	rep := s.finishLocked(mill.WinFor(side.Opponent()), mill.TermResign)
	s.emit(ctx, ReasonGameFinished, nil)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.report(rep)
	return snap, nil
}

// OfferDraw records a draw offer; an offer against a standing offer from the
// opponent is an agreement.
func (s *Session) OfferDraw(ctx context.Context, player string) (Snapshot, error) {
	s.mu.Lock()
	if s.finished {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrFinished
	}
	side := s.sideOf(player)
	if side == mill.NoSide {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrNotParticipant
	}
	var rep *Report
	switch s.drawOffer {
	case side.Opponent():
		rep = s.finishLocked(mill.OutcomeDraw, mill.TermAgreement)
		s.emit(ctx, ReasonGameFinished, nil)
	case mill.NoSide:
		s.drawOffer = side
		s.emit(ctx, ReasonDrawOffered, nil)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.report(rep)
	return snap, nil
}

// RespondDraw accepts or declines the opponent's standing offer.
func (s *Session) RespondDraw(ctx context.Context, player string, accept bool) (Snapshot, error) {
	s.mu.Lock()
	if s.finished {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrFinished
	}
	side := s.sideOf(player)
	if side == mill.NoSide {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrNotParticipant
	}
	if s.drawOffer != side.Opponent() {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrNoDrawOffer
	}
	var rep *Report
	if accept {
		rep = s.finishLocked(mill.OutcomeDraw, mill.TermAgreement)
		s.emit(ctx, ReasonGameFinished, nil)
	} else {
		s.drawOffer = mill.NoSide
		s.emit(ctx, ReasonDrawDeclined, nil)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.report(rep)
	return snap, nil
}

// Suspend freezes both clocks and rejects moves until Resume.
func (s *Session) Suspend(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrFinished
	}
	if s.suspended {
		return nil
	}
	s.suspended = true
	s.clock.Pause()
	if !s.firstMoveDeadline.IsZero() {
		s.firstMoveLeft = s.firstMoveDeadline.Sub(s.clk.Now())
		s.firstMoveDeadline = time.Time{}
	}
	s.emit(ctx, ReasonSuspended, nil)
	return nil
}

// Resume continues a suspended game.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrFinished
	}
	if !s.suspended {
		return nil
	}
	s.suspended = false
	s.clock.Resume()
	if s.firstMoveLeft > 0 {
		s.firstMoveDeadline = s.clk.Now().Add(s.firstMoveLeft)
		s.firstMoveLeft = 0
	}
	s.emit(ctx, ReasonResumed, nil)
	return nil
}

// Abort ends an unfinished game without a winner.
func (s *Session) Abort(ctx context.Context) {
	s.mu.Lock()
	var rep *Report
	if !s.finished {
		rep = s.finishLocked(mill.OutcomeAbandoned, mill.TermAborted)
		s.emit(ctx, ReasonGameFinished, nil)
	}
	s.mu.Unlock()
	s.report(rep)
}

// Adjudication scores the current position by material; finished games
// return their result. The berserk flags are returned alongside.
func (s *Session) Adjudication() (mill.Outcome, [2]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return s.outcome, s.berserk
	}
	return mill.Adjudicate(s.state), s.berserk
}

// finishLocked transitions to finished exactly once and returns the report
// for the caller to deliver after unlocking.
func (s *Session) finishLocked(o mill.Outcome, t mill.Termination) *Report {
	if s.finished {
		return nil
	}
	s.finished = true
	s.outcome = o
	s.termination = t
	s.endedAt = s.clk.Now()
	s.drawOffer = mill.NoSide
	s.clock.Stop()
	s.firstMoveDeadline = time.Time{}

	metrics.GamesFinished.WithLabelValues(string(o), string(t)).Inc()
	obslog.L().Info("game_finished",
		zap.String("game_id", s.id),
		zap.String("arena_id", s.arenaID),
		zap.String("outcome", string(o)),
		zap.String("termination", string(t)),
		zap.Int("moves", len(s.log)),
	)
	return &Report{
		SessionID:   s.id,
		ArenaID:     s.arenaID,
		Category:    s.category,
		PlayerA:     s.players[0],
		PlayerB:     s.players[1],
		Outcome:     o,
		Termination: t,
		Berserk:     s.berserk,
		Moves:       len(s.log),
		Rated:       s.rated,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
	}
}

func (s *Session) report(rep *Report) {
	if rep == nil || s.onFinish == nil {
		return
	}
	s.onFinish(*rep)
}

func (s *Session) emit(ctx context.Context, reason string, last *mill.Move) {
	s.pub.Publish(ctx, events.GameStateChanged{
		SessionID: s.id,
		ArenaID:   s.arenaID,
		Seq:       len(s.log),
		Reason:    reason,
		Players:   s.players,
		Board:     s.publicState(),
		Clock:     s.clock.Snapshot(),
		LastMove:  last,
		Berserk:   s.berserk,
		DrawOffer: s.drawOffer,
		Suspended: s.suspended,
	})
}

func (s *Session) publicState() mill.State {
	st := s.state
	if s.finished {
		st.Phase = mill.PhaseFinished
		st.Outcome = s.outcome
		st.Termination = s.termination
		st.PendingRemoval = false
	}
	return st
}

func rejectLabel(err error) string {
	if r, ok := mill.ReasonOf(err); ok {
		return string(r)
	}
	switch {
	case errors.Is(err, ErrStaleTurn):
		return "stale_turn"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrFinished):
		return "finished"
	case errors.Is(err, ErrSuspended):
		return "suspended"
	}
	return "other"
}
