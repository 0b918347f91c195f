package arena

import (
	"sort"
	"time"

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/rating"
)

type entryState int

const (
	stateWaiting entryState = iota
	statePlaying
	statePaused
)

type entry struct {
	playerID string
	state    entryState

	score       int
	games       int
	wins        int
	draws       int
	losses      int
	streak      int
	oppScoreSum int
	sheet       []int
	// games as A minus games as B
	colorBalance int

	lastOpponent  string
	sessionID     string
	parkAfterGame bool
	waitingSince  time.Time
	joinedAt      time.Time
}

func (e *entry) avgOpponent() float64 {
	if e.games == 0 {
		return 0
	}
	return float64(e.oppScoreSum) / float64(e.games)
}

// ranksBefore orders standings: score desc, fewer games, stronger
// opposition, then player id.
func ranksBefore(x, y *entry) bool {
	if x.score != y.score {
		return x.score > y.score
	}
	if x.games != y.games {
		return x.games < y.games
	}
	if x.oppScoreSum != y.oppScoreSum {
		// equal game counts, so the sums order like the averages
		return x.oppScoreSum > y.oppScoreSum
	}
	return x.playerID < y.playerID
}

func (a *Arena) insertLocked(e *entry) {
	i := sort.Search(len(a.ranked), func(i int) bool { return ranksBefore(e, a.ranked[i]) })
	a.ranked = append(a.ranked, nil)
	copy(a.ranked[i+1:], a.ranked[i:])
	a.ranked[i] = e
}

func (a *Arena) removeLocked(e *entry) {
	for i, r := range a.ranked {
		if r == e {
			a.ranked = append(a.ranked[:i], a.ranked[i+1:]...)
			return
		}
	}
}

func (a *Arena) rowsLocked() []events.StandingRow {
	rows := make([]events.StandingRow, 0, len(a.ranked))
	for i, e := range a.ranked {
		sheet := make([]int, len(e.sheet))
		copy(sheet, e.sheet)
		rows = append(rows, events.StandingRow{
			Rank:     i + 1,
			PlayerID: e.playerID,
			Score:    e.score,
			Games:    e.games,
			Streak:   e.streak,
			OnFire:   e.streak > 0 && e.streak+1 >= a.cfg.StreakThreshold,
			AvgOpp:   e.avgOpponent(),
			Paused:   e.state == statePaused || (e.state == statePlaying && e.parkAfterGame),
			Sheet:    sheet,
		})
	}
	return rows
}

// Snapshot is the persisted and served view of an arena.
type Snapshot struct {
	ArenaID   string               `json:"arena_id"`
	Name      string               `json:"name"`
	Category  rating.Category      `json:"category"`
	Phase     Phase                `json:"phase"`
	StartsAt  time.Time            `json:"starts_at"`
	EndsAt    time.Time            `json:"ends_at"`
	InFlight  int                  `json:"in_flight"`
	Final     bool                 `json:"final"`
	Standings []events.StandingRow `json:"standings"`
	Podium    []events.StandingRow `json:"podium,omitempty"`
}

func (a *Arena) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Arena) snapshotLocked() Snapshot {
	snap := Snapshot{
		ArenaID:   a.cfg.ID,
		Name:      a.cfg.Name,
		Category:  a.cfg.Category,
		Phase:     a.phase,
		StartsAt:  a.cfg.StartsAt,
		EndsAt:    a.cfg.EndsAt(),
		InFlight:  len(a.games),
		Final:     a.settled,
		Standings: a.rowsLocked(),
	}
	if a.settled {
		n := min(3, len(snap.Standings))
		snap.Podium = append([]events.StandingRow(nil), snap.Standings[:n]...)
	}
	return snap
}
