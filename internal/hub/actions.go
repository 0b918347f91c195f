package hub

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/challenge"
	"github.com/park285/mill-arena/internal/game"
	"github.com/park285/mill-arena/internal/metrics"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/internal/rating"
	"github.com/park285/mill-arena/internal/store"
)

func (h *Hub) SubmitMove(ctx context.Context, sessionID, player string, mv mill.Move, seq *int) (game.Snapshot, error) {
	s, err := h.session(sessionID)
	if err != nil {
		return game.Snapshot{}, err
	}
	return s.SubmitMove(ctx, game.Action{Player: player, Move: mv, Seq: seq})
}

func (h *Hub) RequestBerserk(ctx context.Context, sessionID, player string) (game.Snapshot, error) {
	s, err := h.session(sessionID)
	if err != nil {
		return game.Snapshot{}, err
	}
	return s.RequestBerserk(ctx, player)
}

func (h *Hub) Resign(ctx context.Context, sessionID, player string) (game.Snapshot, error) {
	s, err := h.session(sessionID)
	if err != nil {
		return game.Snapshot{}, err
	}
	return s.Resign(ctx, player)
}

func (h *Hub) OfferDraw(ctx context.Context, sessionID, player string) (game.Snapshot, error) {
	s, err := h.session(sessionID)
	if err != nil {
		return game.Snapshot{}, err
	}
	return s.OfferDraw(ctx, player)
}

func (h *Hub) RespondDraw(ctx context.Context, sessionID, player string, accept bool) (game.Snapshot, error) {
	s, err := h.session(sessionID)
	if err != nil {
		return game.Snapshot{}, err
	}
	return s.RespondDraw(ctx, player, accept)
}

// SuspendGame freezes a game's clocks. Callers are expected to have checked
// admin rights.
func (h *Hub) SuspendGame(ctx context.Context, sessionID string) error {
	s, err := h.session(sessionID)
	if err != nil {
		return err
	}
	return s.Suspend(ctx)
}

func (h *Hub) ResumeGame(ctx context.Context, sessionID string) error {
	s, err := h.session(sessionID)
	if err != nil {
		return err
	}
	return s.Resume(ctx)
}

func (h *Hub) Game(sessionID string) (game.Snapshot, error) {
	s, err := h.session(sessionID)
	if err != nil {
		return game.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// ArenaRequest creates an arena. Zero fields take the configured defaults.
type ArenaRequest struct {
	ID       string
	Name     string
	Category rating.Category
	StartsAt time.Time
	Duration time.Duration
	Rated    bool
}

func (h *Hub) CreateArena(ctx context.Context, req ArenaRequest) (arena.Snapshot, error) {
	preset, err := h.preset(req.Category)
	if err != nil {
		return arena.Snapshot{}, err
	}
	if req.Duration <= 0 {
		return arena.Snapshot{}, fmt.Errorf("%w: arena duration must be positive", ErrInvalidRequest)
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	startsAt := req.StartsAt
	if startsAt.IsZero() {
		startsAt = h.clk.Now()
	}
	d := h.game.Arena
	a := arena.New(arena.Config{
		ID:                id,
		Name:              strings.TrimSpace(req.Name),
		Category:          req.Category,
		Initial:           preset.Initial,
		Increment:         preset.Increment,
		Rated:             req.Rated,
		StartsAt:          startsAt,
		Duration:          req.Duration,
		Countdown:         d.Countdown,
		Grace:             d.Grace,
		WinPoints:         d.WinPoints,
		DrawPoints:        d.DrawPoints,
		BerserkMultiplier: d.BerserkMultiplier,
		StreakBonus:       d.StreakBonus,
		StreakThreshold:   d.StreakThreshold,
	}, arena.Deps{
		Factory:     h,
		Adjudicator: h,
		Publisher:   h.pub,
		Clock:       h.clk,
		OnSettled:   h.onArenaSettled,
	})

	h.mu.Lock()
	if _, exists := h.arenas[id]; exists {
		h.mu.Unlock()
		return arena.Snapshot{}, fmt.Errorf("%w: %s", ErrArenaExists, id)
	}
	h.arenas[id] = a
	metrics.LiveArenas.Set(float64(len(h.arenas)))
	h.mu.Unlock()

	obslog.L().Info("arena_created",
		zap.String("arena_id", id),
		zap.String("name", req.Name),
		zap.String("category", string(req.Category)),
		zap.Time("starts_at", startsAt),
	)
	return a.Snapshot(), nil
}

func (h *Hub) JoinArena(ctx context.Context, arenaID, player string) error {
	a, err := h.arena(arenaID)
	if err != nil {
		return err
	}
	return a.Join(ctx, player)
}

func (h *Hub) WithdrawArena(ctx context.Context, arenaID, player string) error {
	a, err := h.arena(arenaID)
	if err != nil {
		return err
	}
	return a.Withdraw(ctx, player)
}

func (h *Hub) PauseArena(ctx context.Context, arenaID, player string) error {
	a, err := h.arena(arenaID)
	if err != nil {
		return err
	}
	return a.Pause(ctx, player)
}

func (h *Hub) ResumeArena(ctx context.Context, arenaID, player string) error {
	a, err := h.arena(arenaID)
	if err != nil {
		return err
	}
	return a.Resume(ctx, player)
}

// ArenaStandings serves live arenas from memory and archived ones from the
// repository.
func (h *Hub) ArenaStandings(ctx context.Context, arenaID string) (arena.Snapshot, error) {
	if a, err := h.arena(arenaID); err == nil {
		return a.Snapshot(), nil
	}
	snap, err := h.repo.ArenaSnapshot(ctx, arenaID)
	if errors.Is(err, store.ErrNotFound) {
		return arena.Snapshot{}, ErrArenaNotFound
	}
	if err != nil {
		return arena.Snapshot{}, err
	}
	return *snap, nil
}

// Arenas lists live arenas.
func (h *Hub) Arenas() []arena.Snapshot {
	h.mu.RLock()
	list := make([]*arena.Arena, 0, len(h.arenas))
	for _, a := range h.arenas {
		list = append(list, a)
	}
	h.mu.RUnlock()
	out := make([]arena.Snapshot, 0, len(list))
	for _, a := range list {
		out = append(out, a.Snapshot())
	}
	return out
}

// CreateChallenge records a challenge and, when auto-accepted, starts the
// game right away.
func (h *Hub) CreateChallenge(ctx context.Context, req challenge.Request) (challenge.Challenge, error) {
	if _, err := h.preset(req.Category); err != nil {
		return challenge.Challenge{}, err
	}
	if _, busy := h.ActiveGame(req.ChallengerID); busy {
		return challenge.Challenge{}, ErrPlayerBusy
	}
	ch, err := h.challenges.Create(req)
	if err != nil {
		return challenge.Challenge{}, err
	}
	obslog.L().Info("challenge_created",
		zap.String("challenge_id", ch.ID),
		zap.String("challenger_id", ch.ChallengerID),
		zap.String("target_id", ch.TargetID),
		zap.Bool("auto_accept", req.AutoAccept),
	)
	if ch.Status != challenge.StatusAccepted {
		return ch, nil
	}
	return h.startChallenge(ctx, ch, h.challenges.Cancel)
}

func (h *Hub) AcceptChallenge(ctx context.Context, id, by string) (challenge.Challenge, error) {
	ch, err := h.challenges.Accept(id, by)
	if err != nil {
		return ch, challengeErr(err)
	}
	return h.startChallenge(ctx, ch, h.challenges.Revert)
}

func (h *Hub) DeclineChallenge(ctx context.Context, id, by string) (challenge.Challenge, error) {
	ch, err := h.challenges.Decline(id, by)
	if err != nil {
		return ch, challengeErr(err)
	}
	obslog.L().Info("challenge_declined", zap.String("challenge_id", id))
	return ch, nil
}

func (h *Hub) Challenge(id string) (challenge.Challenge, error) {
	ch, err := h.challenges.Get(id)
	return ch, challengeErr(err)
}

func challengeErr(err error) error {
	if errors.Is(err, challenge.ErrNotFound) {
		return ErrChallengeNotFound
	}
	return err
}

// startChallenge starts the game for an accepted challenge. undo settles
// the challenge when no game could be started.
func (h *Hub) startChallenge(ctx context.Context, ch challenge.Challenge, undo func(id string) (challenge.Challenge, bool)) (challenge.Challenge, error) {
	preset, err := h.preset(ch.Category)
	if err != nil {
		return ch, err
	}
	a, b := ch.Players(rand.IntN(2) == 0)
	s, err := h.startSession(ctx, sessionSpec{
		playerA:  a,
		playerB:  b,
		category: ch.Category,
		initial:  preset.Initial,
		incr:     preset.Increment,
		rated:    ch.Rated,
	})
	if err != nil {
		if undone, ok := undo(ch.ID); ok {
			ch = undone
		}
		if errors.Is(err, ErrPlayerBusy) {
			return ch, ErrPlayerBusy
		}
		return ch, err
	}
	h.challenges.Attach(ch.ID, s.ID())
	ch.SessionID = s.ID()
	return ch, nil
}

// OfferRematch asks the opponent of a finished game for another game with
// seats swapped. An offer made while the opponent's offer is pending
// accepts it. Arena games are re-paired by their arena instead.
func (h *Hub) OfferRematch(ctx context.Context, sessionID, player string) (challenge.Challenge, error) {
	s, err := h.session(sessionID)
	if err != nil {
		return challenge.Challenge{}, err
	}
	snap := s.Snapshot()
	player = strings.TrimSpace(player)
	var seat challenge.Seat
	var opponent string
	switch player {
	case snap.Players[0]:
		seat, opponent = challenge.SeatB, snap.Players[1]
	case snap.Players[1]:
		seat, opponent = challenge.SeatA, snap.Players[0]
	default:
		return challenge.Challenge{}, game.ErrNotParticipant
	}
	if !snap.Finished() {
		return challenge.Challenge{}, ErrGameNotFinished
	}
	if snap.ArenaID != "" {
		return challenge.Challenge{}, ErrNoRematch
	}

	h.rematchMu.Lock()
	defer h.rematchMu.Unlock()

	h.mu.RLock()
	prevID, offered := h.rematches[snap.ID]
	h.mu.RUnlock()
	if offered {
		prev, err := h.challenges.Get(prevID)
		if err == nil {
			switch {
			case prev.Status == challenge.StatusPending && prev.TargetID == player:
				return h.AcceptChallenge(ctx, prev.ID, player)
			case prev.Status == challenge.StatusPending, prev.SessionID != "":
				return prev, nil
			}
		}
	}

	ch, err := h.CreateChallenge(ctx, challenge.Request{
		ChallengerID: player,
		TargetID:     opponent,
		Category:     snap.Category,
		Seat:         seat,
		Rated:        snap.Rated,
		RematchOf:    snap.ID,
	})
	if err != nil {
		return ch, err
	}
	h.mu.Lock()
	h.rematches[snap.ID] = ch.ID
	h.mu.Unlock()
	return ch, nil
}

// Leaderboard returns the best rated players of a category, at most 100.
func (h *Hub) Leaderboard(ctx context.Context, cat rating.Category, limit int) ([]rating.Record, error) {
	if _, err := h.preset(cat); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return h.repo.TopRatings(ctx, cat, limit)
}

func (h *Hub) Rating(ctx context.Context, player string, cat rating.Category) (rating.Record, error) {
	return h.book.Get(ctx, player, cat)
}

func (h *Hub) RecentGames(ctx context.Context, player string, limit int) ([]store.GameSummary, error) {
	return h.repo.RecentGames(ctx, player, limit)
}
