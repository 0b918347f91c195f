package hub

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/internal/rating"
)

// Seek is an open request for a game against anyone with the same time
// control and rated flag.
type Seek struct {
	PlayerID string          `json:"player_id"`
	Category rating.Category `json:"category"`
	Rated    bool            `json:"rated"`
	Since    time.Time       `json:"since"`
}

func (s Seek) matches(o Seek) bool {
	return s.Category == o.Category && s.Rated == o.Rated && s.PlayerID != o.PlayerID
}

// SeekResult tells a seeker whether they were paired at once.
type SeekResult struct {
	Matched   bool   `json:"matched"`
	SessionID string `json:"session_id,omitempty"`
	Seek      Seek   `json:"seek"`
}

// Seek pairs player with the oldest compatible seeker, seats drawn at
// random, or queues them. A player holds at most one seek; a new one
// replaces the old.
func (h *Hub) Seek(ctx context.Context, player string, cat rating.Category, rated bool) (SeekResult, error) {
	player = strings.TrimSpace(player)
	if player == "" {
		return SeekResult{}, ErrInvalidRequest
	}
	preset, err := h.preset(cat)
	if err != nil {
		return SeekResult{}, err
	}
	if _, busy := h.ActiveGame(player); busy {
		return SeekResult{}, ErrPlayerBusy
	}
	mine := Seek{PlayerID: player, Category: cat, Rated: rated, Since: h.clk.Now()}

	h.seekMu.Lock()
	defer h.seekMu.Unlock()
	h.dropSeekLocked(player)

	for i := 0; i < len(h.seeks); {
		other := h.seeks[i]
		if !mine.matches(other) {
			i++
			continue
		}
		a, b := player, other.PlayerID
		if rand.IntN(2) == 0 {
			a, b = b, a
		}
		s, err := h.startSession(ctx, sessionSpec{
			playerA:  a,
			playerB:  b,
			category: cat,
			initial:  preset.Initial,
			incr:     preset.Increment,
			rated:    rated,
		})
		if err != nil {
			var be *busyError
			if errors.As(err, &be) && be.playerID == other.PlayerID {
				// the other seeker found a game elsewhere
				h.seeks = slices.Delete(h.seeks, i, i+1)
				continue
			}
			return SeekResult{}, err
		}
		h.seeks = slices.Delete(h.seeks, i, i+1)
		obslog.L().Info("seek_matched",
			zap.String("game_id", s.ID()),
			zap.String("player_a", a),
			zap.String("player_b", b),
			zap.String("category", string(cat)),
		)
		return SeekResult{Matched: true, SessionID: s.ID(), Seek: mine}, nil
	}

	h.seeks = append(h.seeks, mine)
	obslog.L().Info("seek_waiting",
		zap.String("player_id", player),
		zap.String("category", string(cat)),
		zap.Bool("rated", rated),
	)
	return SeekResult{Seek: mine}, nil
}

// CancelSeek withdraws the player's open seek.
func (h *Hub) CancelSeek(player string) bool {
	h.seekMu.Lock()
	defer h.seekMu.Unlock()
	return h.dropSeekLocked(strings.TrimSpace(player))
}

// Seeks lists open seeks, oldest first.
func (h *Hub) Seeks() []Seek {
	h.seekMu.Lock()
	defer h.seekMu.Unlock()
	return slices.Clone(h.seeks)
}

func (h *Hub) dropSeekLocked(player string) bool {
	n := len(h.seeks)
	h.seeks = slices.DeleteFunc(h.seeks, func(s Seek) bool { return s.PlayerID == player })
	return len(h.seeks) != n
}

// sweepSeeks drops seeks that expired or whose player started a game
// some other way.
func (h *Hub) sweepSeeks() {
	now := h.clk.Now()
	h.seekMu.Lock()
	defer h.seekMu.Unlock()
	h.seeks = slices.DeleteFunc(h.seeks, func(s Seek) bool {
		if h.opts.SeekTTL > 0 && now.Sub(s.Since) >= h.opts.SeekTTL {
			return true
		}
		_, busy := h.ActiveGame(s.PlayerID)
		return busy
	})
}
