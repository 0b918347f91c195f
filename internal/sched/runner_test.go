package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnceRecoversPanics(t *testing.T) {
	assert.NotPanics(t, func() {
		Once(context.Background(), "boom", func(context.Context) { panic("boom") })
	})
}

func TestRunnerTicksUntilCancelled(t *testing.T) {
	clk := clock.NewMock()
	r := New(clk)
	var n atomic.Int32
	r.Add("count", time.Second, func(context.Context) { n.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return n.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerRejectsBadInterval(t *testing.T) {
	r := New(clock.NewMock())
	r.Add("bad", 0, func(context.Context) {})
	assert.Error(t, r.Run(context.Background()))
}
