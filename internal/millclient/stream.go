package millclient

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/mill-arena/pkg/milldto"
)

// Stream is one websocket connection to the gateway. Send is safe for
// concurrent use; Recv must be called from a single goroutine.
type Stream struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Dial opens the websocket for the client's player.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	wsURL := c.baseURL + "/ws"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      http.Header{playerHeader: []string{c.player}},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return &Stream{conn: conn}, nil
}

func (s *Stream) Send(ctx context.Context, msg milldto.ClientMessage) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, s.conn, msg)
}

func (s *Stream) Recv(ctx context.Context) (milldto.ServerMessage, error) {
	var msg milldto.ServerMessage
	err := wsjson.Read(ctx, s.conn, &msg)
	return msg, err
}

func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}
