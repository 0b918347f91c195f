package hub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/obslog"
)

// SpawnScheduled creates the arenas of the configured schedule whose lead
// time has been reached. Each occurrence is spawned once.
func (h *Hub) SpawnScheduled(ctx context.Context) int {
	now := h.clk.Now()
	n := 0
	for _, s := range h.game.Schedule {
		start, ok := s.Next(now)
		if !ok || now.Before(start.Add(-s.Lead)) {
			continue
		}
		key := s.Name + "|" + start.UTC().Format(time.RFC3339)

		h.mu.RLock()
		_, done := h.spawned[key]
		h.mu.RUnlock()
		if done {
			continue
		}

		id := fmt.Sprintf("%s-%s", slug(s.Name), start.UTC().Format("20060102T1504"))
		duration := s.Duration
		if now.After(start) {
			// created late; keep the scheduled end
			duration = start.Add(s.Duration).Sub(now)
			start = now
		}
		snap, err := h.CreateArena(ctx, ArenaRequest{
			ID:       id,
			Name:     s.Name,
			Category: s.Category,
			StartsAt: start,
			Duration: duration,
			Rated:    s.Rated,
		})
		if err != nil {
			obslog.L().Error("schedule_spawn_error", zap.String("schedule", s.Name), zap.Error(err))
			continue
		}
		h.mu.Lock()
		h.spawned[key] = snap.ArenaID
		h.mu.Unlock()
		n++
	}
	return n
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
