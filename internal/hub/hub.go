// Package hub is the process-wide registry of live games and arenas. It
// exposes the inbound action API used by transports, starts sessions for
// challenges and arena pairings, and routes finished games to ratings,
// arenas and storage.
package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/challenge"
	"github.com/park285/mill-arena/internal/config"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/game"
	"github.com/park285/mill-arena/internal/metrics"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/internal/rating"
	"github.com/park285/mill-arena/internal/sched"
	"github.com/park285/mill-arena/internal/store"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrArenaNotFound     = errors.New("arena not found")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrPlayerBusy        = errors.New("player already in a game")
	ErrUnknownCategory   = errors.New("no time control for category")
	ErrArenaExists       = errors.New("arena already exists")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrGameNotFinished   = errors.New("game is not finished")
	ErrNoRematch         = errors.New("rematch not available")
)

// Options tunes lifecycle and retention.
type Options struct {
	Game             *config.GameConfig
	SessionRetention time.Duration
	ChallengeTTL     time.Duration

	// unmatched seeks are dropped after SeekTTL; zero keeps them
	SeekTTL time.Duration
}

type Deps struct {
	Clock     clock.Clock
	Publisher events.Publisher
	Book      *rating.Book
	Repo      store.Repository
}

type liveSession struct {
	s          *game.Session
	finishedAt time.Time
}

type Hub struct {
	opts Options
	game *config.GameConfig
	clk  clock.Clock
	pub  events.Publisher
	book *rating.Book
	repo store.Repository

	challenges *challenge.Manager

	mu       sync.RWMutex
	sessions map[string]*liveSession
	// playerID -> session id of the unfinished game they are in
	busy   map[string]string
	arenas map[string]*arena.Arena
	// schedule name|start -> spawned arena id
	spawned map[string]string
	// finished session id -> rematch challenge id
	rematches map[string]string

	// seekMu is taken before mu.
	seekMu sync.Mutex
	seeks  []Seek

	// serializes rematch offers so crossing offers meet in one challenge
	rematchMu sync.Mutex
}

func New(opts Options, deps Deps) (*Hub, error) {
	if opts.Game == nil {
		return nil, fmt.Errorf("hub: game config is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Repo == nil {
		deps.Repo = store.NewMemory()
	}
	if deps.Book == nil {
		deps.Book = rating.NewBook(deps.Repo, opts.Game.RatingPolicy())
	}
	if opts.SessionRetention <= 0 {
		opts.SessionRetention = 5 * time.Minute
	}
	return &Hub{
		opts:       opts,
		game:       opts.Game,
		clk:        deps.Clock,
		pub:        deps.Publisher,
		book:       deps.Book,
		repo:       deps.Repo,
		challenges: challenge.NewManager(deps.Clock, opts.ChallengeTTL),
		sessions:   make(map[string]*liveSession),
		busy:       make(map[string]string),
		arenas:     make(map[string]*arena.Arena),
		spawned:    make(map[string]string),
		rematches:  make(map[string]string),
	}, nil
}

// sessionSpec is everything needed to start one game.
type sessionSpec struct {
	playerA  string
	playerB  string
	category rating.Category
	initial  time.Duration
	incr     time.Duration
	arenaID  string
	rated    bool
}

// busyError names the player that blocked a new session.
type busyError struct {
	playerID string
}

func (e *busyError) Error() string { return fmt.Sprintf("player %s already in a game", e.playerID) }
func (e *busyError) Is(target error) bool { return target == ErrPlayerBusy }

// startSession registers and announces a new session. Both players are
// marked busy until the game reports its result.
func (h *Hub) startSession(ctx context.Context, spec sessionSpec) (*game.Session, error) {
	id := uuid.NewString()
	s := game.New(game.Options{
		ID:               id,
		PlayerA:          spec.playerA,
		PlayerB:          spec.playerB,
		Category:         spec.category,
		Initial:          spec.initial,
		Increment:        spec.incr,
		Rules:            h.game.Rules,
		ArenaID:          spec.arenaID,
		Rated:            spec.rated,
		FirstMoveTimeout: h.game.FirstMoveTimeout,
		Clock:            h.clk,
		Publisher:        h.pub,
		OnFinish:         h.onFinish,
	})

	h.mu.Lock()
	for _, p := range []string{spec.playerA, spec.playerB} {
		if _, ok := h.busy[p]; ok {
			h.mu.Unlock()
			return nil, &busyError{playerID: p}
		}
	}
	h.sessions[id] = &liveSession{s: s}
	h.busy[spec.playerA] = id
	h.busy[spec.playerB] = id
	metrics.LiveSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	obslog.L().Info("game_started",
		zap.String("game_id", id),
		zap.String("arena_id", spec.arenaID),
		zap.String("player_a", spec.playerA),
		zap.String("player_b", spec.playerB),
		zap.String("category", string(spec.category)),
	)
	s.Announce(ctx)
	return s, nil
}

func (h *Hub) preset(cat rating.Category) (config.Preset, error) {
	p, ok := h.game.Presets[cat]
	if !ok {
		return config.Preset{}, fmt.Errorf("%w: %s", ErrUnknownCategory, cat)
	}
	return p, nil
}

// StartGame implements arena.SessionFactory. It takes the registry lock
// only, never an arena lock.
func (h *Hub) StartGame(ctx context.Context, p arena.Pairing) (string, error) {
	s, err := h.startSession(ctx, sessionSpec{
		playerA:  p.PlayerA,
		playerB:  p.PlayerB,
		category: p.Category,
		initial:  p.Initial,
		incr:     p.Increment,
		arenaID:  p.ArenaID,
		rated:    p.Rated,
	})
	if err != nil {
		var be *busyError
		if errors.As(err, &be) {
			return "", &arena.PairingConflict{PlayerID: be.playerID}
		}
		return "", err
	}
	return s.ID(), nil
}

// Adjudicate implements arena.Adjudicator.
func (h *Hub) Adjudicate(sessionID string) (arena.Adjudication, bool) {
	s, err := h.session(sessionID)
	if err != nil {
		return arena.Adjudication{}, false
	}
	o, berserk := s.Adjudication()
	return arena.Adjudication{Outcome: o, Berserk: berserk}, true
}

func (h *Hub) session(id string) (*game.Session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ls, ok := h.sessions[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls.s, nil
}

func (h *Hub) arena(id string) (*arena.Arena, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.arenas[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrArenaNotFound
	}
	return a, nil
}

// ActiveGame returns the unfinished session a player is in.
func (h *Hub) ActiveGame(playerID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.busy[strings.TrimSpace(playerID)]
	return id, ok
}

// Tick drives clocks, arena phases and pairing, challenge expiry and the
// archiving of finished entities. Every session and arena is ticked under
// its own panic guard.
func (h *Hub) Tick(ctx context.Context) {
	h.mu.RLock()
	sessions := make([]*game.Session, 0, len(h.sessions))
	for _, ls := range h.sessions {
		sessions = append(sessions, ls.s)
	}
	arenas := make([]*arena.Arena, 0, len(h.arenas))
	for _, a := range h.arenas {
		arenas = append(arenas, a)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		sched.Once(ctx, "session_tick", s.Tick)
	}
	for _, a := range arenas {
		sched.Once(ctx, "arena_tick", a.Tick)
	}
	h.challenges.Sweep()
	h.sweepSeeks()
	h.archive()
}

func (h *Hub) archive() {
	now := h.clk.Now()
	retention := h.game.Arena.Retention

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ls := range h.sessions {
		if !ls.finishedAt.IsZero() && now.Sub(ls.finishedAt) >= h.opts.SessionRetention {
			delete(h.sessions, id)
			delete(h.rematches, id)
		}
	}
	for id, a := range h.arenas {
		at, ok := a.Settled()
		if ok && now.Sub(at) >= retention {
			delete(h.arenas, id)
			obslog.L().Info("arena_archived", zap.String("arena_id", id))
		}
	}
	metrics.LiveSessions.Set(float64(len(h.sessions)))
	metrics.LiveArenas.Set(float64(len(h.arenas)))
}

// Shutdown aborts every unfinished game.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	sessions := make([]*game.Session, 0, len(h.sessions))
	for _, ls := range h.sessions {
		sessions = append(sessions, ls.s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.Abort(ctx)
	}
	obslog.L().Info("hub_shutdown", zap.Int("sessions", len(sessions)))
}
