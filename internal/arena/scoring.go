package arena

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/obslog"
)

// Result is a finished arena game as reported by its session.
type Result struct {
	SessionID string
	Outcome   mill.Outcome
	Berserk   [2]bool
}

// Points awarded to each seat for one game.
type Points struct {
	A int `json:"a"`
	B int `json:"b"`
}

// RecordResult scores a finished game and requeues both players. Results
// for games this arena does not track, or arriving after settlement, are
// rejected without side effects.
func (a *Arena) RecordResult(ctx context.Context, r Result) (Points, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return Points{}, ErrLateResult
	}
	g, ok := a.games[r.SessionID]
	if !ok {
		return Points{}, ErrUnknownGame
	}
	pts := a.scoreLocked(g, r.Outcome, r.Berserk, a.deps.Clock.Now())
	a.publishStandingsLocked(ctx)
	return pts, nil
}

func (a *Arena) scoreLocked(g *inflight, o mill.Outcome, berserk [2]bool, now time.Time) Points {
	delete(a.games, g.sessionID)
	ea, eb := a.entries[g.players[0]], a.entries[g.players[1]]
	if ea == nil || eb == nil {
		return Points{}
	}

	var pts Points
	switch o {
	case mill.OutcomeWinA:
		pts.A = a.winLocked(ea, berserk[0])
		a.lossLocked(eb)
	case mill.OutcomeWinB:
		pts.B = a.winLocked(eb, berserk[1])
		a.lossLocked(ea)
	case mill.OutcomeDraw:
		pts.A, pts.B = a.cfg.DrawPoints, a.cfg.DrawPoints
		ea.streak, eb.streak = 0, 0
		ea.draws++
		eb.draws++
	}

	if o == mill.OutcomeWinA || o == mill.OutcomeWinB || o == mill.OutcomeDraw {
		scoreA, scoreB := ea.score, eb.score
		a.creditLocked(ea, pts.A, scoreB, eb.playerID)
		a.creditLocked(eb, pts.B, scoreA, ea.playerID)
	}

	a.releaseLocked(ea, now)
	a.releaseLocked(eb, now)
	// both scores moved, so take both out before searching for slots
	a.removeLocked(ea)
	a.removeLocked(eb)
	a.insertLocked(ea)
	a.insertLocked(eb)

	obslog.L().Info("arena_result",
		zap.String("arena_id", a.cfg.ID),
		zap.String("game_id", g.sessionID),
		zap.String("outcome", string(o)),
		zap.Int("points_a", pts.A),
		zap.Int("points_b", pts.B),
	)
	return pts
}

// winLocked extends the winner's streak and returns the points for the win.
func (a *Arena) winLocked(e *entry, berserk bool) int {
	e.streak++
	e.wins++
	p := a.cfg.WinPoints
	if berserk {
		p *= a.cfg.BerserkMultiplier
	}
	if e.streak >= a.cfg.StreakThreshold {
		p += a.cfg.StreakBonus
	}
	return p
}

func (a *Arena) lossLocked(e *entry) {
	e.streak = 0
	e.losses++
}

func (a *Arena) creditLocked(e *entry, points, oppScore int, opponent string) {
	e.score += points
	e.games++
	e.oppScoreSum += oppScore
	e.sheet = append(e.sheet, points)
	e.lastOpponent = opponent
}

func (a *Arena) releaseLocked(e *entry, now time.Time) {
	e.sessionID = ""
	if e.parkAfterGame {
		e.parkAfterGame = false
		e.state = statePaused
		return
	}
	e.state = stateWaiting
	e.waitingSince = now
}
