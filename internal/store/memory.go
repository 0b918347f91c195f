package store

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/rating"
)

// Memory is the repository used when no database is configured.
type Memory struct {
	mu sync.RWMutex

	ratings map[string]rating.Record
	games   map[string]GameSummary
	// playerID -> session ids, latest last
	byPlayer map[string][]string
	arenas   map[string]arena.Snapshot
}

func NewMemory() *Memory {
	return &Memory{
		ratings:  make(map[string]rating.Record),
		games:    make(map[string]GameSummary),
		byPlayer: make(map[string][]string),
		arenas:   make(map[string]arena.Snapshot),
	}
}

func ratingKey(playerID string, cat rating.Category) string { return playerID + "|" + string(cat) }

func (m *Memory) LoadRating(_ context.Context, playerID string, cat rating.Category) (*rating.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.ratings[ratingKey(playerID, cat)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) SaveRating(_ context.Context, rec *rating.Record) error {
	if rec == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[ratingKey(rec.PlayerID, rec.Category)] = *rec
	return nil
}

func (m *Memory) SaveGameSummary(_ context.Context, g *GameSummary) error {
	if g == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[g.SessionID]; exists {
		return ErrDuplicateGame
	}
	cp := *g
	cp.Ratings = append([]events.RatingDelta(nil), g.Ratings...)
	m.games[g.SessionID] = cp
	m.byPlayer[g.PlayerA] = append(m.byPlayer[g.PlayerA], g.SessionID)
	m.byPlayer[g.PlayerB] = append(m.byPlayer[g.PlayerB], g.SessionID)
	return nil
}

func (m *Memory) RecentGames(_ context.Context, playerID string, limit int) ([]GameSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byPlayer[playerID]
	items := make([]GameSummary, 0, len(ids))
	for _, id := range ids {
		items = append(items, m.games[id])
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].EndedAt.After(items[j].EndedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *Memory) TopRatings(_ context.Context, cat rating.Category, limit int) ([]rating.Record, error) {
	m.mu.RLock()
	items := make([]rating.Record, 0, len(m.ratings))
	for _, rec := range m.ratings {
		if rec.Category == cat {
			items = append(items, rec)
		}
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.Games != b.Games {
			return a.Games > b.Games
		}
		return a.PlayerID < b.PlayerID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *Memory) SaveArenaSnapshot(_ context.Context, snap arena.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arenas[snap.ArenaID] = snap
	return nil
}

func (m *Memory) ArenaSnapshot(_ context.Context, arenaID string) (*arena.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.arenas[arenaID]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}

func (m *Memory) Close() error { return nil }
