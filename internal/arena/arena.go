// Package arena runs Lichess-style arena tournaments: a continuous pairing
// loop over waiting players, streak and berserk scoring, incremental
// standings and an explicit cutoff at the end of the window.
package arena

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/internal/rating"
)

var (
	ErrArenaClosed   = errors.New("arena closed")
	ErrNotRegistered = errors.New("player not registered in arena")
	ErrUnknownGame   = errors.New("game does not belong to arena")
	ErrLateResult    = errors.New("result arrived after arena settlement")
)

// PairingConflict is returned by a SessionFactory when one of the paired
// players cannot start a game right now. The pairing loop skips that player
// for the rest of the tick.
type PairingConflict struct {
	PlayerID string
}

func (e *PairingConflict) Error() string {
	return fmt.Sprintf("pairing conflict: player %s busy", e.PlayerID)
}

type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseCountdown Phase = "countdown"
	PhaseRunning   Phase = "running"
	PhaseFinished  Phase = "finished"
)

// Config describes one arena. Zero scoring fields take the defaults.
type Config struct {
	ID        string
	Name      string
	Category  rating.Category
	Initial   time.Duration
	Increment time.Duration
	Rated     bool

	StartsAt  time.Time
	Duration  time.Duration
	Countdown time.Duration
	Grace     time.Duration

	WinPoints         int
	DrawPoints        int
	BerserkMultiplier int
	StreakBonus       int
	StreakThreshold   int
}

func (c *Config) normalize() {
	c.ID = strings.TrimSpace(c.ID)
	if c.WinPoints == 0 {
		c.WinPoints = 2
	}
	if c.DrawPoints == 0 {
		c.DrawPoints = 1
	}
	if c.BerserkMultiplier == 0 {
		c.BerserkMultiplier = 2
	}
	if c.StreakBonus == 0 {
		c.StreakBonus = 2
	}
	if c.StreakThreshold == 0 {
		c.StreakThreshold = 3
	}
}

func (c Config) EndsAt() time.Time { return c.StartsAt.Add(c.Duration) }

// Pairing asks the factory for a new game between two arena players.
type Pairing struct {
	ArenaID   string
	PlayerA   string
	PlayerB   string
	Category  rating.Category
	Initial   time.Duration
	Increment time.Duration
	Rated     bool
}

// SessionFactory starts games for the pairing loop. It is called with the
// arena lock held and must not call back into the arena.
type SessionFactory interface {
	StartGame(ctx context.Context, p Pairing) (sessionID string, err error)
}

// Adjudication is the material verdict on a live game at the cutoff,
// together with the berserk flags needed to score it.
type Adjudication struct {
	Outcome mill.Outcome
	Berserk [2]bool
}

// Adjudicator scores a live game at the cutoff.
type Adjudicator interface {
	Adjudicate(sessionID string) (Adjudication, bool)
}

// Deps are the collaborators of an Arena.
type Deps struct {
	Factory     SessionFactory
	Adjudicator Adjudicator
	Publisher   events.Publisher
	Clock       clock.Clock
	// called once, outside the lock, with the final snapshot
	OnSettled func(Snapshot)
}

type Arena struct {
	mu sync.Mutex

	cfg  Config
	deps Deps

	phase        Phase
	countdownEnd time.Time
	graceUntil   time.Time
	settled      bool
	settledAt    time.Time

	entries map[string]*entry
	ranked  []*entry
	games   map[string]*inflight
}

type inflight struct {
	sessionID string
	players   [2]string
	cutoff    Adjudication
}

func New(cfg Config, deps Deps) *Arena {
	cfg.normalize()
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Arena{
		cfg:     cfg,
		deps:    deps,
		phase:   PhaseScheduled,
		entries: make(map[string]*entry),
		games:   make(map[string]*inflight),
	}
}

func (a *Arena) ID() string     { return a.cfg.ID }
func (a *Arena) Config() Config { return a.cfg }

func (a *Arena) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Settled reports when the final standings were fixed.
func (a *Arena) Settled() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settledAt, a.settled
}

// Tick advances the phase machine and, while running, pairs waiting players.
func (a *Arena) Tick(ctx context.Context) {
	a.mu.Lock()
	now := a.deps.Clock.Now()
	a.advanceLocked(ctx, now)
	if a.phase == PhaseRunning {
		a.pairLocked(ctx)
	}
	var final *Snapshot
	if a.phase == PhaseFinished && !a.settled && (len(a.games) == 0 || !now.Before(a.graceUntil)) {
		snap := a.settleLocked(ctx, now)
		final = &snap
	}
	a.mu.Unlock()

	if final != nil && a.deps.OnSettled != nil {
		a.deps.OnSettled(*final)
	}
}

func (a *Arena) advanceLocked(ctx context.Context, now time.Time) {
	for {
		switch {
		case a.phase == PhaseScheduled && !now.Before(a.cfg.StartsAt):
			a.countdownEnd = a.cfg.StartsAt.Add(a.cfg.Countdown)
			a.transitionLocked(ctx, PhaseCountdown, now)
		case a.phase == PhaseCountdown && !now.Before(a.countdownEnd):
			a.transitionLocked(ctx, PhaseRunning, now)
		case (a.phase == PhaseRunning || a.phase == PhaseCountdown) && !now.Before(a.cfg.EndsAt()):
			a.cutoffLocked(now)
			a.transitionLocked(ctx, PhaseFinished, now)
		default:
			return
		}
	}
}

func (a *Arena) transitionLocked(ctx context.Context, to Phase, now time.Time) {
	from := a.phase
	a.phase = to
	obslog.L().Info("arena_phase",
		zap.String("arena_id", a.cfg.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	a.deps.Publisher.Publish(ctx, events.ArenaPhaseChanged{
		ArenaID: a.cfg.ID,
		Name:    a.cfg.Name,
		From:    string(from),
		To:      string(to),
		At:      now,
	})
}

// cutoffLocked records a material adjudication for every game still in
// flight. Real results arriving within the grace window replace it.
func (a *Arena) cutoffLocked(now time.Time) {
	a.graceUntil = now.Add(a.cfg.Grace)
	for _, g := range a.games {
		g.cutoff = Adjudication{Outcome: mill.OutcomeDraw}
		if a.deps.Adjudicator == nil {
			continue
		}
		if adj, ok := a.deps.Adjudicator.Adjudicate(g.sessionID); ok {
			g.cutoff = adj
		}
	}
	obslog.L().Info("arena_cutoff",
		zap.String("arena_id", a.cfg.ID),
		zap.Int("in_flight", len(a.games)),
		zap.Time("grace_until", a.graceUntil),
	)
}

func (a *Arena) settleLocked(ctx context.Context, now time.Time) Snapshot {
	for id, g := range a.games {
		obslog.L().Info("arena_adjudicated",
			zap.String("arena_id", a.cfg.ID),
			zap.String("game_id", id),
			zap.String("outcome", string(g.cutoff.Outcome)),
		)
		a.scoreLocked(g, g.cutoff.Outcome, g.cutoff.Berserk, now)
	}
	a.settled = true
	a.settledAt = now
	snap := a.snapshotLocked()
	a.deps.Publisher.Publish(ctx, events.ArenaStandingsChanged{
		ArenaID:   a.cfg.ID,
		Standings: snap.Standings,
		Final:     true,
	})
	return snap
}

// Join registers a player, or re-activates a paused one.
func (a *Arena) Join(ctx context.Context, playerID string) error {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return ErrNotRegistered
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.phase == PhaseFinished {
		return ErrArenaClosed
	}
	now := a.deps.Clock.Now()
	if e, ok := a.entries[playerID]; ok {
		a.resumeLocked(e, now)
		return nil
	}
	e := &entry{playerID: playerID, state: stateWaiting, waitingSince: now, joinedAt: now}
	a.entries[playerID] = e
	a.insertLocked(e)
	obslog.L().Info("arena_join", zap.String("arena_id", a.cfg.ID), zap.String("player_id", playerID))
	a.publishStandingsLocked(ctx)
	return nil
}

// Withdraw takes a player out of the arena. Players without games are
// removed; the others keep their score and stop being paired.
func (a *Arena) Withdraw(ctx context.Context, playerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[strings.TrimSpace(playerID)]
	if !ok {
		return ErrNotRegistered
	}
	if e.games == 0 && e.state != statePlaying {
		delete(a.entries, e.playerID)
		a.removeLocked(e)
		a.publishStandingsLocked(ctx)
		return nil
	}
	a.pauseLocked(e)
	return nil
}

// Pause removes a player from pairing without touching their score. A
// player in a game is parked once it ends.
func (a *Arena) Pause(ctx context.Context, playerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[strings.TrimSpace(playerID)]
	if !ok {
		return ErrNotRegistered
	}
	a.pauseLocked(e)
	a.publishStandingsLocked(ctx)
	return nil
}

func (a *Arena) Resume(ctx context.Context, playerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.phase == PhaseFinished {
		return ErrArenaClosed
	}
	e, ok := a.entries[strings.TrimSpace(playerID)]
	if !ok {
		return ErrNotRegistered
	}
	a.resumeLocked(e, a.deps.Clock.Now())
	a.publishStandingsLocked(ctx)
	return nil
}

func (a *Arena) pauseLocked(e *entry) {
	switch e.state {
	case stateWaiting:
		e.state = statePaused
	case statePlaying:
		e.parkAfterGame = true
	}
}

func (a *Arena) resumeLocked(e *entry, now time.Time) {
	switch e.state {
	case statePaused:
		e.state = stateWaiting
		e.waitingSince = now
	case statePlaying:
		e.parkAfterGame = false
	}
}

// InGame returns the session a player is currently playing in this arena.
func (a *Arena) InGame(playerID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[playerID]
	if !ok || e.state != statePlaying {
		return "", false
	}
	return e.sessionID, true
}

func (a *Arena) publishStandingsLocked(ctx context.Context) {
	a.deps.Publisher.Publish(ctx, events.ArenaStandingsChanged{
		ArenaID:   a.cfg.ID,
		Standings: a.rowsLocked(),
	})
}
