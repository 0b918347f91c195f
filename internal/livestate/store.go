// Package livestate mirrors the latest state of every live game into Redis,
// together with a player to active games index, so viewers can recover a
// game after reconnecting to any instance.
package livestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/obslog"
)

var ErrNotFound = errors.New("live state not found")

const (
	defaultTTL = 24 * time.Hour
	maxRetries = 3
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// Open connects to REDIS_URL and pings it.
func Open(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for live state")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, ttl), nil
}

func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func gameKey(id string) string        { return "mill:game:" + strings.TrimSpace(id) }
func idxUserKey(userID string) string { return "mill:index:user:" + strings.TrimSpace(userID) }
func finishedKey(id string) string    { return gameKey(id) + ":finished" }

// Save stores st unless a state with a higher sequence is already recorded.
// Concurrent writers are serialised with WATCH on the game key.
func (s *Store) Save(ctx context.Context, st events.GameStateChanged) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	key := gameKey(st.SessionID)
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			done, err := tx.Exists(ctx, finishedKey(st.SessionID)).Result()
			if err != nil {
				return err
			}
			if done > 0 {
				return nil
			}
			cur, err := loadTx(ctx, tx, key)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if cur != nil && cur.Seq > st.Seq {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, raw, s.ttl)
				for _, player := range st.Players {
					if strings.TrimSpace(player) == "" {
						continue
					}
					p.SAdd(ctx, idxUserKey(player), st.SessionID)
					p.Expire(ctx, idxUserKey(player), s.ttl)
				}
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("live state %s: %w", st.SessionID, err)
}

func loadTx(ctx context.Context, tx *redis.Tx, key string) (*events.GameStateChanged, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var st events.GameStateChanged
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Load returns the latest mirrored state of a game.
func (s *Store) Load(ctx context.Context, sessionID string) (*events.GameStateChanged, error) {
	raw, err := s.rdb.Get(ctx, gameKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var st events.GameStateChanged
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ActiveGames lists the live game ids a player takes part in.
func (s *Store) ActiveGames(ctx context.Context, player string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, idxUserKey(player)).Result()
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Finish drops a game from the mirror and the player index. A tombstone keeps
// late state events from resurrecting it.
func (s *Store) Finish(ctx context.Context, ev events.GameFinished) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, finishedKey(ev.SessionID), string(ev.Outcome), s.ttl)
		p.Del(ctx, gameKey(ev.SessionID))
		for _, player := range []string{ev.PlayerA, ev.PlayerB} {
			if strings.TrimSpace(player) != "" {
				p.SRem(ctx, idxUserKey(player), ev.SessionID)
			}
		}
		return nil
	})
	return err
}

// Run applies bus envelopes until src is closed or ctx is done.
func (s *Store) Run(ctx context.Context, src <-chan events.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-src:
			if !ok {
				return nil
			}
			if err := s.apply(ctx, env); err != nil {
				obslog.L().Warn("livestate_apply_error",
					zap.String("type", string(env.Type)),
					zap.String("game_id", env.Scope),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *Store) apply(ctx context.Context, env events.Envelope) error {
	switch env.Type {
	case events.TypeGameStateChanged:
		var st events.GameStateChanged
		if err := env.Decode(&st); err != nil {
			return err
		}
		return s.Save(ctx, st)
	case events.TypeGameFinished:
		var ev events.GameFinished
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return s.Finish(ctx, ev)
	}
	return nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
