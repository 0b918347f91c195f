package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/game"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/internal/rating"
	"github.com/park285/mill-arena/internal/store"
)

const persistTimeout = 5 * time.Second

func ratingOutcome(o mill.Outcome) (rating.Outcome, bool) {
	switch o {
	case mill.OutcomeWinA:
		return rating.WinA, true
	case mill.OutcomeWinB:
		return rating.WinB, true
	case mill.OutcomeDraw:
		return rating.Draw, true
	}
	return 0, false
}

// onFinish routes a finished game: rating book, then arena, then storage,
// then the GameFinished event. It runs outside every session lock.
func (h *Hub) onFinish(rep game.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var deltas []events.RatingDelta
	rated := false
	if o, ok := ratingOutcome(rep.Outcome); ok {
		ch, err := h.book.Apply(ctx, rating.Game{
			PlayerA:  rep.PlayerA,
			PlayerB:  rep.PlayerB,
			Category: rep.Category,
			Outcome:  o,
			Rated:    rep.Rated,
		})
		if err != nil {
			obslog.L().Error("result_rating_error", zap.String("game_id", rep.SessionID), zap.Error(err))
		} else {
			rated = ch.Rated
			for _, d := range []rating.Delta{ch.A, ch.B} {
				deltas = append(deltas, events.RatingDelta{PlayerID: d.PlayerID, Before: d.Before, After: d.After, Change: d.Change})
			}
		}
	}

	if rep.ArenaID != "" {
		h.recordArenaResult(ctx, rep)
	}

	summary := &store.GameSummary{
		SessionID:   rep.SessionID,
		ArenaID:     rep.ArenaID,
		Category:    rep.Category,
		PlayerA:     rep.PlayerA,
		PlayerB:     rep.PlayerB,
		Outcome:     rep.Outcome,
		Termination: rep.Termination,
		Moves:       rep.Moves,
		Berserk:     rep.Berserk,
		Rated:       rated,
		Ratings:     deltas,
		StartedAt:   rep.StartedAt,
		EndedAt:     rep.EndedAt,
	}
	if err := h.repo.SaveGameSummary(ctx, summary); err != nil && !errors.Is(err, store.ErrDuplicateGame) {
		obslog.L().Error("result_persist_error", zap.String("game_id", rep.SessionID), zap.Error(err))
	}

	h.mu.Lock()
	for _, p := range []string{rep.PlayerA, rep.PlayerB} {
		if h.busy[p] == rep.SessionID {
			delete(h.busy, p)
		}
	}
	if ls, ok := h.sessions[rep.SessionID]; ok {
		ls.finishedAt = h.clk.Now()
	}
	h.mu.Unlock()

	h.pub.Publish(ctx, events.GameFinished{
		SessionID:   rep.SessionID,
		ArenaID:     rep.ArenaID,
		Category:    string(rep.Category),
		PlayerA:     rep.PlayerA,
		PlayerB:     rep.PlayerB,
		Outcome:     rep.Outcome,
		Termination: rep.Termination,
		Moves:       rep.Moves,
		Berserk:     rep.Berserk,
		Rated:       rated,
		Ratings:     deltas,
		EndedAt:     rep.EndedAt,
	})
}

func (h *Hub) recordArenaResult(ctx context.Context, rep game.Report) {
	a, err := h.arena(rep.ArenaID)
	if err != nil {
		obslog.L().Warn("result_arena_missing", zap.String("game_id", rep.SessionID), zap.String("arena_id", rep.ArenaID))
		return
	}
	pts, err := a.RecordResult(ctx, arena.Result{
		SessionID: rep.SessionID,
		Outcome:   rep.Outcome,
		Berserk:   rep.Berserk,
	})
	switch {
	case errors.Is(err, arena.ErrLateResult):
		obslog.L().Info("result_after_cutoff", zap.String("game_id", rep.SessionID), zap.String("arena_id", rep.ArenaID))
	case err != nil:
		obslog.L().Warn("result_arena_error", zap.String("game_id", rep.SessionID), zap.Error(err))
	default:
		obslog.L().Debug("result_arena_scored",
			zap.String("game_id", rep.SessionID),
			zap.Int("points_a", pts.A),
			zap.Int("points_b", pts.B),
		)
	}
}

func (h *Hub) onArenaSettled(snap arena.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := h.repo.SaveArenaSnapshot(ctx, snap); err != nil {
		obslog.L().Error("arena_persist_error", zap.String("arena_id", snap.ArenaID), zap.Error(err))
		return
	}
	fields := []zap.Field{zap.String("arena_id", snap.ArenaID), zap.Int("players", len(snap.Standings))}
	if len(snap.Podium) > 0 {
		fields = append(fields, zap.String("winner", snap.Podium[0].PlayerID))
	}
	obslog.L().Info("arena_settled", fields...)
}
