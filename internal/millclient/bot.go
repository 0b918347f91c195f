package millclient

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/pkg/milldto"
)

// Bot plays random legal moves for one player over a Stream.
type Bot struct {
	Player string
	Rand   *rand.Rand
	// BerserkChance is the probability of going berserk at the start of an
	// arena game.
	BerserkChance float64
	MoveDelay     time.Duration

	OnFinished   func(events.GameFinished)
	OnArenaPhase func(events.ArenaPhaseChanged)

	last map[string]events.GameStateChanged
}

func (b *Bot) side(ev events.GameStateChanged) mill.Side {
	switch b.Player {
	case ev.Players[0]:
		return mill.SideA
	case ev.Players[1]:
		return mill.SideB
	}
	return mill.NoSide
}

// Run reacts to server frames until ctx is done or the stream fails.
func (b *Bot) Run(ctx context.Context, s *Stream) error {
	if b.Rand == nil {
		b.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	b.last = make(map[string]events.GameStateChanged)
	for {
		msg, err := s.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch msg.Type {
		case milldto.MsgEvent:
			b.onEvent(ctx, s, msg)
		case milldto.MsgError:
			b.onError(ctx, s, msg)
		}
	}
}

func (b *Bot) onEvent(ctx context.Context, s *Stream, msg milldto.ServerMessage) {
	switch events.Type(msg.EventType) {
	case events.TypeGameStateChanged:
		var ev events.GameStateChanged
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return
		}
		if prev, ok := b.last[ev.SessionID]; ok && prev.Seq > ev.Seq {
			return
		}
		b.last[ev.SessionID] = ev
		b.act(ctx, s, ev)
	case events.TypeGameFinished:
		var ev events.GameFinished
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return
		}
		delete(b.last, ev.SessionID)
		if b.OnFinished != nil && (ev.PlayerA == b.Player || ev.PlayerB == b.Player) {
			b.OnFinished(ev)
		}
	case events.TypeArenaPhaseChanged:
		var ev events.ArenaPhaseChanged
		if err := json.Unmarshal(msg.Payload, &ev); err == nil && b.OnArenaPhase != nil {
			b.OnArenaPhase(ev)
		}
	}
}

// onError replays the last known state after being rate limited. Stale
// moves need nothing: the newer state is already on its way.
func (b *Bot) onError(ctx context.Context, s *Stream, msg milldto.ServerMessage) {
	if msg.Error == nil || msg.Error.Code != milldto.CodeRateLimited || msg.RequestID == "" {
		return
	}
	ev, ok := b.last[msg.RequestID]
	if !ok {
		return
	}
	time.Sleep(100 * time.Millisecond)
	b.act(ctx, s, ev)
}

func (b *Bot) act(ctx context.Context, s *Stream, ev events.GameStateChanged) {
	side := b.side(ev)
	if side == mill.NoSide || ev.Board.Finished() || ev.Suspended {
		return
	}
	if ev.Reason == "started" && ev.ArenaID != "" && b.Rand.Float64() < b.BerserkChance {
		_ = s.Send(ctx, milldto.ClientMessage{Type: milldto.ActionBerserk, SessionID: ev.SessionID})
	}
	if ev.Board.Turn != side {
		return
	}
	moves := mill.LegalMoves(ev.Board)
	if len(moves) == 0 {
		return
	}
	mv := moves[b.Rand.IntN(len(moves))]
	if b.MoveDelay > 0 {
		time.Sleep(b.MoveDelay)
	}
	seq := ev.Seq
	err := s.Send(ctx, milldto.ClientMessage{
		Type:      milldto.ActionMove,
		RequestID: ev.SessionID,
		SessionID: ev.SessionID,
		Move:      &milldto.Move{Kind: string(mv.Kind), From: mv.From, To: mv.To},
		Seq:       &seq,
	})
	if err != nil {
		obslog.L().Warn("bot_send_error", zap.String("player_id", b.Player), zap.String("game_id", ev.SessionID), zap.Error(err))
	}
}
