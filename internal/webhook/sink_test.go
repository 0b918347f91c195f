package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/mill"
)

type receiver struct {
	mu       sync.Mutex
	failures int
	got      []Delivery
	sigs     []string
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.failures > 0 {
		rc.failures--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rc.got = append(rc.got, d)
	rc.sigs = append(rc.sigs, strings.TrimPrefix(r.Header.Get(SignatureHeader), "sha256=")+"|"+Sign([]byte("s3cret"), body))
	w.WriteHeader(http.StatusNoContent)
}

func wrap(t *testing.T, ev events.Event) events.Envelope {
	t.Helper()
	env, err := events.Wrap(ev)
	require.NoError(t, err)
	return env
}

func TestRunForwardsWantedWithRetry(t *testing.T) {
	rc := &receiver{failures: 2}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	s := New(srv.URL, "s3cret", WithBackoff(func(int) time.Duration { return time.Millisecond }))
	src := make(chan events.Envelope, 4)
	src <- wrap(t, events.GameFinished{SessionID: "g1", PlayerA: "a", PlayerB: "b", Outcome: mill.OutcomeWinA})
	src <- wrap(t, events.ArenaStandingsChanged{ArenaID: "ar1"})
	src <- wrap(t, events.ArenaStandingsChanged{ArenaID: "ar1", Final: true})
	src <- wrap(t, events.PlayerPaired{ArenaID: "ar1", SessionID: "g2"})
	close(src)

	require.NoError(t, s.Run(context.Background(), src))

	rc.mu.Lock()
	defer rc.mu.Unlock()
	require.Len(t, rc.got, 2)
	assert.Equal(t, events.TypeGameFinished, rc.got[0].Type)
	assert.Equal(t, "g1", rc.got[0].Scope)
	assert.Equal(t, events.TypeArenaStandingsChanged, rc.got[1].Type)
	for _, pair := range rc.sigs {
		parts := strings.Split(pair, "|")
		assert.Equal(t, parts[1], parts[0], "signature mismatch")
	}
}

func TestSendGivesUpOnClientError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := New(srv.URL, "", WithBackoff(func(int) time.Duration { return time.Millisecond }))
	err := s.Send(context.Background(), wrap(t, events.GameFinished{SessionID: "g1"}))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
