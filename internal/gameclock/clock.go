// Package gameclock keeps the two countdown clocks of one game.
//
// A Clock is not safe for concurrent use; the owning game session serializes
// every call. Time always comes from the injected clock.Clock so tests can
// drive it with clock.NewMock().
package gameclock

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/park285/mill-arena/internal/mill"
)

type Clock struct {
	clk       clock.Clock
	remaining [2]time.Duration
	increment time.Duration
	active    mill.Side
	running   bool
	started   bool
	lastTick  time.Time
}

// Snapshot is the serializable view of a Clock.
type Snapshot struct {
	RemainingA int64     `json:"remaining_a_ms"`
	RemainingB int64     `json:"remaining_b_ms"`
	Increment  int64     `json:"increment_ms"`
	Active     mill.Side `json:"active,omitempty"`
	Running    bool      `json:"running"`
}

func New(clk clock.Clock, initial, increment time.Duration) *Clock {
	if clk == nil {
		clk = clock.New()
	}
	return &Clock{
		clk:       clk,
		remaining: [2]time.Duration{initial, initial},
		increment: increment,
	}
}

func idx(s mill.Side) int {
	if s == mill.SideB {
		return 1
	}
	return 0
}

// Start runs the clock of turn. Calling Start on a started clock is a no-op.
func (c *Clock) Start(turn mill.Side) {
	if c.started {
		return
	}
	c.started = true
	c.active = turn
	c.running = true
	c.lastTick = c.clk.Now()
}

func (c *Clock) Started() bool { return c.started }

// settle charges the time elapsed since the last tick to the active side.
func (c *Clock) settle() {
	if !c.running {
		return
	}
	now := c.clk.Now()
	elapsed := now.Sub(c.lastTick)
	if elapsed > 0 {
		i := idx(c.active)
		c.remaining[i] -= elapsed
		if c.remaining[i] < 0 {
			c.remaining[i] = 0
		}
	}
	c.lastTick = now
}

// OnMove stops the mover's clock, credits the increment and starts the
// opponent's clock. It is a no-op before Start.
func (c *Clock) OnMove(mover mill.Side) {
	if !c.started {
		return
	}
	c.settle()
	c.remaining[idx(mover)] += c.increment
	c.active = mover.Opponent()
	c.lastTick = c.clk.Now()
}

// Pause freezes both clocks keeping the remaining time.
func (c *Clock) Pause() {
	c.settle()
	c.running = false
}

// Resume continues a paused clock from the remaining time.
func (c *Clock) Resume() {
	if !c.started || c.running {
		return
	}
	c.running = true
	c.lastTick = c.clk.Now()
}

// Stop settles and freezes the clock for good.
func (c *Clock) Stop() {
	c.settle()
	c.running = false
}

// Halve cuts side's remaining time in half (berserk).
func (c *Clock) Halve(side mill.Side) {
	c.settle()
	c.remaining[idx(side)] /= 2
}

// Remaining reports side's time as of now without mutating the clock.
func (c *Clock) Remaining(side mill.Side) time.Duration {
	r := c.remaining[idx(side)]
	if c.running && c.active == side {
		r -= c.clk.Now().Sub(c.lastTick)
	}
	if r < 0 {
		return 0
	}
	return r
}

// CheckExpiry reports the side whose running clock has hit zero.
func (c *Clock) CheckExpiry() (mill.Side, bool) {
	if !c.running {
		return mill.NoSide, false
	}
	if c.Remaining(c.active) <= 0 {
		c.settle()
		return c.active, true
	}
	return mill.NoSide, false
}

func (c *Clock) Snapshot() Snapshot {
	s := Snapshot{
		RemainingA: c.Remaining(mill.SideA).Milliseconds(),
		RemainingB: c.Remaining(mill.SideB).Milliseconds(),
		Increment:  c.increment.Milliseconds(),
		Running:    c.running,
	}
	if c.started {
		s.Active = c.active
	}
	return s
}
