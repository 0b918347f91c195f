// Package ws is the websocket gateway. Each connection identifies one
// player, forwards their game actions to the hub and streams bus events for
// the games and arenas the connection follows.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/mill-arena/internal/apierr"
	"github.com/park285/mill-arena/internal/challenge"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/game"
	"github.com/park285/mill-arena/internal/hub"
	"github.com/park285/mill-arena/internal/metrics"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/msgcat"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/internal/rating"
	"github.com/park285/mill-arena/pkg/milldto"
)

const PlayerHeader = "X-Player-Id"

// Actions is the slice of the hub the gateway drives.
type Actions interface {
	SubmitMove(ctx context.Context, sessionID, player string, mv mill.Move, seq *int) (game.Snapshot, error)
	RequestBerserk(ctx context.Context, sessionID, player string) (game.Snapshot, error)
	Resign(ctx context.Context, sessionID, player string) (game.Snapshot, error)
	OfferDraw(ctx context.Context, sessionID, player string) (game.Snapshot, error)
	RespondDraw(ctx context.Context, sessionID, player string, accept bool) (game.Snapshot, error)
	Game(sessionID string) (game.Snapshot, error)
	ActiveGame(player string) (string, bool)
	Seek(ctx context.Context, player string, cat rating.Category, rated bool) (hub.SeekResult, error)
	CancelSeek(player string) bool
	OfferRematch(ctx context.Context, sessionID, player string) (challenge.Challenge, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, buffer int, types ...events.Type) (<-chan events.Envelope, error)
}

type Options struct {
	// RateLimit is inbound frames per second per connection.
	RateLimit      float64
	Burst          int
	Buffer         int
	WriteTimeout   time.Duration
	OriginPatterns []string
	Catalog        *msgcat.Catalog
}

type Gateway struct {
	actions Actions
	bus     Subscriber
	opts    Options
}

func New(actions Actions, bus Subscriber, opts Options) *Gateway {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	if opts.Catalog == nil {
		opts.Catalog = msgcat.MustDefault()
	}
	return &Gateway{actions: actions, bus: bus, opts: opts}
}

func playerID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(PlayerHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("player"))
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	player := playerID(r)
	if player == "" {
		http.Error(w, "missing player id", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.opts.OriginPatterns})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.String("player_id", player), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub, err := g.bus.Subscribe(ctx, g.opts.Buffer)
	if err != nil {
		obslog.L().Error("ws_subscribe_error", zap.String("player_id", player), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	c := &client{
		gw:      g,
		conn:    conn,
		player:  player,
		out:     make(chan milldto.ServerMessage, g.opts.Buffer),
		follows: make(map[string]bool),
		limiter: rate.NewLimiter(rate.Limit(g.opts.RateLimit), g.opts.Burst),
	}
	obslog.L().Debug("ws_connected", zap.String("player_id", player))
	err = c.run(ctx, sub)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
	default:
		if err != nil && !errors.Is(err, context.Canceled) {
			obslog.L().Debug("ws_closed", zap.String("player_id", player), zap.Error(err))
		}
	}
}

type client struct {
	gw      *Gateway
	conn    *websocket.Conn
	player  string
	out     chan milldto.ServerMessage
	limiter *rate.Limiter

	mu      sync.Mutex
	follows map[string]bool
}

func (c *client) run(ctx context.Context, sub <-chan events.Envelope) error {
	c.hello()
	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return c.writeLoop(ctx, sub) })
	grp.Go(func() error { return c.readLoop(ctx) })
	return grp.Wait()
}

// hello follows and describes the player's unfinished game, if any.
func (c *client) hello() {
	msg := milldto.ServerMessage{Type: milldto.MsgHello}
	if sid, ok := c.gw.actions.ActiveGame(c.player); ok {
		c.follow(sid)
		if snap, err := c.gw.actions.Game(sid); err == nil {
			msg.Scope = sid
			msg.Payload, _ = json.Marshal(snap)
		}
	}
	c.out <- msg
}

func (c *client) follow(scope string) {
	c.mu.Lock()
	c.follows[scope] = true
	c.mu.Unlock()
}

func (c *client) unfollow(scope string) {
	c.mu.Lock()
	delete(c.follows, scope)
	c.mu.Unlock()
}

// participants is decoded from any payload to route per-player events.
type participants struct {
	Players [2]string `json:"players"`
	PlayerA string    `json:"player_a"`
	PlayerB string    `json:"player_b"`
	Session string    `json:"session_id"`
}

func (c *client) wants(env events.Envelope) bool {
	c.mu.Lock()
	following := c.follows[env.Scope]
	c.mu.Unlock()
	if following {
		return true
	}
	var p participants
	if err := env.Decode(&p); err != nil {
		return false
	}
	mine := p.Players[0] == c.player || p.Players[1] == c.player || p.PlayerA == c.player || p.PlayerB == c.player
	if mine && env.Type == events.TypePlayerPaired {
		c.follow(p.Session)
	}
	return mine
}

func (c *client) writeLoop(ctx context.Context, sub <-chan events.Envelope) error {
	for {
		var msg milldto.ServerMessage
		select {
		case <-ctx.Done():
			return nil
		case m := <-c.out:
			msg = m
		case env, ok := <-sub:
			if !ok {
				return errors.New("event stream closed")
			}
			if !c.wants(env) {
				continue
			}
			msg = milldto.ServerMessage{
				Type:      milldto.MsgEvent,
				EventType: string(env.Type),
				Scope:     env.Scope,
				At:        env.At,
				Payload:   env.Payload,
			}
		}
		wctx, cancel := context.WithTimeout(ctx, c.gw.opts.WriteTimeout)
		err := wsjson.Write(wctx, c.conn, msg)
		cancel()
		if err != nil {
			return err
		}
	}
}

func (c *client) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		var cm milldto.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.fail(ctx, "", apierr.New(c.gw.opts.Catalog, milldto.CodeBadRequest))
			continue
		}
		if !c.limiter.Allow() {
			c.fail(ctx, cm.RequestID, apierr.New(c.gw.opts.Catalog, milldto.CodeRateLimited))
			continue
		}
		c.dispatch(ctx, cm)
	}
}

func (c *client) dispatch(ctx context.Context, cm milldto.ClientMessage) {
	var (
		snap game.Snapshot
		err  error
	)
	switch cm.Type {
	case milldto.ActionPing:
		c.send(ctx, milldto.ServerMessage{Type: milldto.MsgPong, RequestID: cm.RequestID})
		return
	case milldto.ActionSubscribe, milldto.ActionUnsubscribe:
		scope := cm.ArenaID
		if scope == "" {
			scope = cm.SessionID
		}
		if scope == "" {
			c.fail(ctx, cm.RequestID, apierr.New(c.gw.opts.Catalog, milldto.CodeBadRequest))
			return
		}
		if cm.Type == milldto.ActionSubscribe {
			c.follow(scope)
		} else {
			c.unfollow(scope)
		}
		c.send(ctx, milldto.ServerMessage{Type: milldto.MsgAck, RequestID: cm.RequestID, Scope: scope})
		return
	case milldto.ActionSeek, milldto.ActionCancelSeek, milldto.ActionRematch:
		c.lobby(ctx, cm)
		return
	case milldto.ActionMove:
		if cm.Move == nil {
			c.fail(ctx, cm.RequestID, apierr.New(c.gw.opts.Catalog, milldto.CodeBadRequest))
			return
		}
		mv := mill.Move{Kind: mill.MoveKind(cm.Move.Kind), From: cm.Move.From, To: cm.Move.To}
		snap, err = c.gw.actions.SubmitMove(ctx, cm.SessionID, c.player, mv, cm.Seq)
	case milldto.ActionBerserk:
		snap, err = c.gw.actions.RequestBerserk(ctx, cm.SessionID, c.player)
	case milldto.ActionResign:
		snap, err = c.gw.actions.Resign(ctx, cm.SessionID, c.player)
	case milldto.ActionOfferDraw:
		snap, err = c.gw.actions.OfferDraw(ctx, cm.SessionID, c.player)
	case milldto.ActionAnswerDraw:
		snap, err = c.gw.actions.RespondDraw(ctx, cm.SessionID, c.player, cm.Accept)
	default:
		c.fail(ctx, cm.RequestID, apierr.New(c.gw.opts.Catalog, milldto.CodeBadRequest))
		return
	}
	if err != nil {
		de := apierr.From(c.gw.opts.Catalog, err)
		if de.Code == milldto.CodeInternal {
			obslog.L().Error("ws_action_error", zap.String("player_id", c.player), zap.String("action", cm.Type), zap.Error(err))
		}
		c.fail(ctx, cm.RequestID, de)
		return
	}
	c.follow(snap.ID)
	payload, _ := json.Marshal(snap)
	c.send(ctx, milldto.ServerMessage{Type: milldto.MsgAck, RequestID: cm.RequestID, Scope: snap.ID, Payload: payload})
}

// lobby handles the actions that lead to a new game. The ack is scoped to
// the new game once one has started.
func (c *client) lobby(ctx context.Context, cm milldto.ClientMessage) {
	var (
		result  any
		started string
		err     error
	)
	switch cm.Type {
	case milldto.ActionSeek:
		cat, ok := rating.ParseCategory(cm.Category)
		if !ok {
			c.fail(ctx, cm.RequestID, apierr.New(c.gw.opts.Catalog, milldto.CodeUnknownCategory))
			return
		}
		var res hub.SeekResult
		res, err = c.gw.actions.Seek(ctx, c.player, cat, cm.Rated)
		result, started = res, res.SessionID
	case milldto.ActionCancelSeek:
		result = map[string]bool{"canceled": c.gw.actions.CancelSeek(c.player)}
	case milldto.ActionRematch:
		var ch challenge.Challenge
		ch, err = c.gw.actions.OfferRematch(ctx, cm.SessionID, c.player)
		result, started = ch, ch.SessionID
	}
	if err != nil {
		c.fail(ctx, cm.RequestID, apierr.From(c.gw.opts.Catalog, err))
		return
	}
	if started != "" {
		c.follow(started)
	}
	payload, _ := json.Marshal(result)
	c.send(ctx, milldto.ServerMessage{Type: milldto.MsgAck, RequestID: cm.RequestID, Scope: started, Payload: payload})
}

func (c *client) fail(ctx context.Context, requestID string, de milldto.DomainError) {
	c.send(ctx, milldto.ServerMessage{Type: milldto.MsgError, RequestID: requestID, Error: &de})
}

func (c *client) send(ctx context.Context, msg milldto.ServerMessage) {
	select {
	case c.out <- msg:
	case <-ctx.Done():
	}
}
