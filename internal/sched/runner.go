// Package sched runs named periodic tasks off an injectable clock.
package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/mill-arena/internal/metrics"
	"github.com/park285/mill-arena/internal/obslog"
)

type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)
}

type Runner struct {
	clk   clock.Clock
	tasks []Task
}

func New(clk clock.Clock) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{clk: clk}
}

// Add registers a task. Tasks added after Run starts are ignored.
func (r *Runner) Add(name string, every time.Duration, fn func(ctx context.Context)) {
	r.tasks = append(r.tasks, Task{Name: name, Every: every, Run: fn})
}

// Run drives every task on its own ticker until ctx is cancelled. A tick
// is skipped while the previous run of the same task is still going.
func (r *Runner) Run(ctx context.Context) error {
	for _, t := range r.tasks {
		if t.Every <= 0 {
			return fmt.Errorf("task %s: non-positive interval %s", t.Name, t.Every)
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range r.tasks {
		g.Go(func() error {
			tk := r.clk.Ticker(t.Every)
			defer tk.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-tk.C:
					Once(ctx, t.Name, t.Run)
				}
			}
		})
	}
	obslog.L().Info("sched_started", zap.Int("tasks", len(r.tasks)))
	return g.Wait()
}

// Once runs fn with panic recovery and records its duration.
func Once(ctx context.Context, name string, fn func(ctx context.Context)) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if rec := recover(); rec != nil {
			metrics.TaskPanics.WithLabelValues(name).Inc()
			obslog.L().Error("sched_task_panic",
				zap.String("task", name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	fn(ctx)
}
