package rating

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/obslog"
)

// Record is the persisted rating of one player in one category. Titles are
// derived on read from Rating and Peak.
type Record struct {
	PlayerID  string    `json:"player_id"`
	Category  Category  `json:"category"`
	Rating    int       `json:"rating"`
	Peak      int       `json:"peak"`
	Games     int       `json:"games"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Draws     int       `json:"draws"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r Record) Title() (Title, bool)        { return TitleFor(r.Rating) }
func (r Record) HighestTitle() (Title, bool) { return TitleFor(r.Peak) }

// Store persists rating records. LoadRating returns (nil, nil) when the
// player has no record in the category yet.
type Store interface {
	LoadRating(ctx context.Context, playerID string, cat Category) (*Record, error)
	SaveRating(ctx context.Context, rec *Record) error
}

// Policy carries the update rules applied on top of Update.
type Policy struct {
	DefaultRating int
	Floor         int
	// a winner rated this much higher than the loser gains nothing
	GapProtection int
	// categories whose games move ratings; others only count statistics
	Rated map[Category]bool
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultRating: 1500,
		Floor:         50,
		GapProtection: 400,
		Rated:         map[Category]bool{Bullet: true, Blitz: true},
	}
}

// Game is the input to Book.Apply.
type Game struct {
	PlayerA  string
	PlayerB  string
	Category Category
	Outcome  Outcome
	// false for friendly games; statistics still update
	Rated bool
}

// Delta is the rating movement of one player.
type Delta struct {
	PlayerID string `json:"player_id"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
	Change   int    `json:"change"`
}

type Change struct {
	A     Delta `json:"a"`
	B     Delta `json:"b"`
	Rated bool  `json:"rated"`
}

// Book caches records in front of a Store and applies game results.
type Book struct {
	mu     sync.Mutex
	store  Store
	policy Policy
	cache  map[string]*Record
	now    func() time.Time
}

func NewBook(store Store, policy Policy) *Book {
	if policy.Rated == nil {
		policy.Rated = DefaultPolicy().Rated
	}
	return &Book{store: store, policy: policy, cache: make(map[string]*Record), now: time.Now}
}

func cacheKey(playerID string, cat Category) string {
	return strings.TrimSpace(playerID) + "|" + string(cat)
}

// Get returns a copy of the player's record, creating a default one in memory
// when none exists.
func (b *Book) Get(ctx context.Context, playerID string, cat Category) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, err := b.load(ctx, playerID, cat)
	if err != nil {
		return Record{}, err
	}
	return *rec, nil
}

func (b *Book) load(ctx context.Context, playerID string, cat Category) (*Record, error) {
	key := cacheKey(playerID, cat)
	if rec, ok := b.cache[key]; ok {
		return rec, nil
	}
	var rec *Record
	if b.store != nil {
		r, err := b.store.LoadRating(ctx, playerID, cat)
		if err != nil {
			return nil, fmt.Errorf("load rating %s/%s: %w", playerID, cat, err)
		}
		rec = r
	}
	if rec == nil {
		rec = &Record{PlayerID: playerID, Category: cat, Rating: b.policy.DefaultRating, Peak: b.policy.DefaultRating}
	}
	b.cache[key] = rec
	return rec, nil
}

// IsRated reports whether games in cat move ratings under the policy.
func (b *Book) IsRated(cat Category) bool { return b.policy.Rated[cat] }

// Apply records one finished game for both players.
func (b *Book) Apply(ctx context.Context, g Game) (Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ra, err := b.load(ctx, g.PlayerA, g.Category)
	if err != nil {
		return Change{}, err
	}
	rb, err := b.load(ctx, g.PlayerB, g.Category)
	if err != nil {
		return Change{}, err
	}

	ch := Change{
		A:     Delta{PlayerID: g.PlayerA, Before: ra.Rating, After: ra.Rating},
		B:     Delta{PlayerID: g.PlayerB, Before: rb.Rating, After: rb.Rating},
		Rated: g.Rated && b.policy.Rated[g.Category],
	}
	if ch.Rated {
		da, db := b.changes(ra.Rating, rb.Rating, g.Outcome)
		ch.A.Change, ch.B.Change = da, db
		ch.A.After = max(b.policy.Floor, ra.Rating+da)
		ch.B.After = max(b.policy.Floor, rb.Rating+db)
	}

	now := b.now()
	next := []*Record{applyTo(*ra, ch.A.After, g.Outcome, true, now), applyTo(*rb, ch.B.After, g.Outcome, false, now)}
	if b.store != nil {
		for _, rec := range next {
			if err := b.store.SaveRating(ctx, rec); err != nil {
				obslog.L().Error("rating_persist_error", zap.String("player_id", rec.PlayerID), zap.String("category", string(rec.Category)), zap.Error(err))
				return Change{}, fmt.Errorf("save rating: %w", err)
			}
		}
	}
	b.cache[cacheKey(g.PlayerA, g.Category)] = next[0]
	b.cache[cacheKey(g.PlayerB, g.Category)] = next[1]

	obslog.L().Info("rating_update",
		zap.String("category", string(g.Category)),
		zap.Bool("rated", ch.Rated),
		zap.String("player_a", g.PlayerA),
		zap.Int("a_change", ch.A.Change),
		zap.String("player_b", g.PlayerB),
		zap.Int("b_change", ch.B.Change),
	)
	return ch, nil
}

// changes applies per-player K, the minimum decisive move and the gap rule.
func (b *Book) changes(a, bRating int, o Outcome) (int, int) {
	sa := o.scoreA()
	ea := Expected(a, bRating)
	da := roundHalfAway(KFactor(a) * (sa - ea))
	db := roundHalfAway(KFactor(bRating) * ((1 - sa) - (1 - ea)))

	if o != Draw {
		if da == 0 {
			da = sign(sa - 0.5)
		}
		if db == 0 {
			db = sign(0.5 - sa)
		}
		if gap := b.policy.GapProtection; gap > 0 {
			if o == WinA && a-bRating >= gap {
				da = 0
			}
			if o == WinB && bRating-a >= gap {
				db = 0
			}
		}
	}
	return da, db
}

func applyTo(rec Record, after int, o Outcome, isA bool, now time.Time) *Record {
	rec.Rating = after
	if after > rec.Peak {
		rec.Peak = after
	}
	rec.Games++
	switch {
	case o == Draw:
		rec.Draws++
	case (o == WinA) == isA:
		rec.Wins++
	default:
		rec.Losses++
	}
	rec.UpdatedAt = now
	return &rec
}

func roundHalfAway(f float64) int {
	if f < 0 {
		return -int(-f + 0.5)
	}
	return int(f + 0.5)
}

func sign(f float64) int {
	if f < 0 {
		return -1
	}
	return 1
}
