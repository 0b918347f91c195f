package milldto

import (
	"encoding/json"
	"time"
)

// Client to server message types.
const (
	ActionMove        = "move"
	ActionBerserk     = "berserk"
	ActionResign      = "resign"
	ActionOfferDraw   = "draw_offer"
	ActionAnswerDraw  = "draw_answer"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionSeek        = "seek"
	ActionCancelSeek  = "cancel_seek"
	ActionRematch     = "rematch"
	ActionPing        = "ping"
)

// Server to client message types.
const (
	MsgHello = "hello"
	MsgEvent = "event"
	MsgAck   = "ack"
	MsgError = "error"
	MsgPong  = "pong"
)

// ClientMessage is one inbound websocket frame.
type ClientMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// ArenaID scopes subscribe and unsubscribe.
	ArenaID string `json:"arena_id,omitempty"`
	Move    *Move  `json:"move,omitempty"`
	Seq     *int   `json:"seq,omitempty"`
	Accept  bool   `json:"accept,omitempty"`
	// Category and Rated describe a seek.
	Category string `json:"category,omitempty"`
	Rated    bool   `json:"rated,omitempty"`
}

// ServerMessage is one outbound websocket frame. Event frames carry the bus
// envelope fields; ack and error frames echo the request id.
type ServerMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Scope     string          `json:"scope,omitempty"`
	At        time.Time       `json:"at,omitzero"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *DomainError    `json:"error,omitempty"`
}
