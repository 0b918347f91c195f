package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/park285/mill-arena/internal/metrics"
	"github.com/park285/mill-arena/internal/obslog"
)

// all events share one topic so subscribers see them in publish order
const topic = "mill.events"

const metaType = "event_type"

// Envelope is the wire form of an event.
type Envelope struct {
	ID      string          `json:"id"`
	Type    Type            `json:"type"`
	Scope   string          `json:"scope"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

// Bus is an in-process pub/sub backed by watermill's go channel transport.
type Bus struct {
	ps *gochannel.GoChannel
}

func NewBus(buffer int64) *Bus {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            buffer,
		BlockPublishUntilSubscriberAck: true,
	}, obslog.Watermill())
	return &Bus{ps: ps}
}

// Publish never fails the caller; marshal and transport errors are logged.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	env, err := Wrap(ev)
	if err != nil {
		obslog.L().Error("bus_marshal_error", zap.String("type", string(ev.EventType())), zap.Error(err))
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		obslog.L().Error("bus_marshal_error", zap.String("type", string(ev.EventType())), zap.Error(err))
		return
	}
	msg := message.NewMessage(env.ID, raw)
	msg.Metadata.Set(metaType, string(env.Type))
	msg.SetContext(ctx)
	if err := b.ps.Publish(topic, msg); err != nil {
		obslog.L().Warn("bus_publish_error", zap.String("type", string(env.Type)), zap.Error(err))
	}
}

// Wrap builds the envelope for ev.
func Wrap(ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	return Envelope{
		ID:      watermill.NewUUID(),
		Type:    ev.EventType(),
		Scope:   ev.Scope(),
		At:      time.Now().UTC(),
		Payload: payload,
	}, nil
}

// Subscribe streams envelopes of the given types (all when none given) until
// ctx is done. A slow consumer loses events instead of stalling publishers.
func (b *Bus) Subscribe(ctx context.Context, buffer int, types ...Type) (<-chan Envelope, error) {
	msgs, err := b.ps.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	want := make(map[Type]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	out := make(chan Envelope, buffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			if len(want) > 0 && !want[Type(msg.Metadata.Get(metaType))] {
				msg.Ack()
				continue
			}
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				obslog.L().Warn("bus_decode_error", zap.Error(err))
				msg.Ack()
				continue
			}
			select {
			case out <- env:
			default:
				metrics.EventsDropped.Inc()
				obslog.L().Warn("bus_subscriber_overflow", zap.String("type", string(env.Type)), zap.String("scope", env.Scope))
			}
			msg.Ack()
		}
	}()
	return out, nil
}

func (b *Bus) Close() error { return b.ps.Close() }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type, oldest first.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.EventType() == t {
			out = append(out, ev)
		}
	}
	return out
}
