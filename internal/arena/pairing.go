package arena

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/metrics"
	"github.com/park285/mill-arena/internal/obslog"
)

// waitingLocked returns the pairable entries ordered by score desc, then
// longest wait, then player id.
func (a *Arena) waitingLocked() []*entry {
	out := make([]*entry, 0, len(a.entries))
	for _, e := range a.entries {
		if e.state == stateWaiting {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.score != y.score {
			return x.score > y.score
		}
		if !x.waitingSince.Equal(y.waitingSince) {
			return x.waitingSince.Before(y.waitingSince)
		}
		return x.playerID < y.playerID
	})
	return out
}

// activeCountLocked counts entries that are playing or waiting.
func (a *Arena) activeCountLocked() int {
	n := 0
	for _, e := range a.entries {
		if e.state != statePaused {
			n++
		}
	}
	return n
}

// pairLocked pairs adjacent waiting entries. An entry is never paired
// twice per call, and rematches are skipped unless the two players are
// the only active ones left.
func (a *Arena) pairLocked(ctx context.Context) int {
	if a.deps.Factory == nil {
		return 0
	}
	waiting := a.waitingLocked()
	if len(waiting) < 2 {
		return 0
	}
	rematchOK := a.activeCountLocked() <= 2
	used := make([]bool, len(waiting))
	paired := 0

	for i := range waiting {
		for j := i + 1; j < len(waiting) && !used[i]; j++ {
			if used[j] {
				continue
			}
			x, y := waiting[i], waiting[j]
			if !rematchOK && (x.lastOpponent == y.playerID || y.lastOpponent == x.playerID) {
				continue
			}
			first, second := x, y
			if y.colorBalance < x.colorBalance {
				first, second = y, x
			}
			sid, err := a.deps.Factory.StartGame(ctx, Pairing{
				ArenaID:   a.cfg.ID,
				PlayerA:   first.playerID,
				PlayerB:   second.playerID,
				Category:  a.cfg.Category,
				Initial:   a.cfg.Initial,
				Increment: a.cfg.Increment,
				Rated:     a.cfg.Rated,
			})
			if err != nil {
				var pc *PairingConflict
				if !errors.As(err, &pc) {
					obslog.L().Error("arena_pairing_error", zap.String("arena_id", a.cfg.ID), zap.Error(err))
					return paired
				}
				obslog.L().Debug("arena_pairing_conflict",
					zap.String("arena_id", a.cfg.ID),
					zap.String("player_id", pc.PlayerID),
				)
				// the busy player sits out this tick; the other keeps looking
				switch pc.PlayerID {
				case x.playerID:
					used[i] = true
				case y.playerID:
					used[j] = true
				default:
					used[i], used[j] = true, true
				}
				continue
			}

			used[i], used[j] = true, true
			a.startLocked(sid, first, second)
			paired++
			metrics.Pairings.Inc()
			obslog.L().Info("arena_paired",
				zap.String("arena_id", a.cfg.ID),
				zap.String("game_id", sid),
				zap.String("player_a", first.playerID),
				zap.String("player_b", second.playerID),
			)
			a.deps.Publisher.Publish(ctx, events.PlayerPaired{
				ArenaID:   a.cfg.ID,
				SessionID: sid,
				PlayerA:   first.playerID,
				PlayerB:   second.playerID,
			})
		}
	}
	return paired
}

func (a *Arena) startLocked(sid string, first, second *entry) {
	for _, e := range []*entry{first, second} {
		e.state = statePlaying
		e.sessionID = sid
	}
	first.colorBalance++
	second.colorBalance--
	a.games[sid] = &inflight{sessionID: sid, players: [2]string{first.playerID, second.playerID}}
}
