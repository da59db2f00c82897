package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrLoopStopped is returned by Do once the loop has exited.
var ErrLoopStopped = errors.New("service: loop stopped")

// Executor runs closures on the driving loop.
type Executor interface {
	Submit(fn func())
}

// Dispatcher runs a closure on the driving loop and waits for it.
type Dispatcher interface {
	Do(ctx context.Context, fn func()) error
}

type job struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// Loop is the single goroutine owning connector state and the meter store.
// Periodic jobs and submitted closures run one at a time.
type Loop struct {
	commands chan func()
	stopped  chan struct{}
	stopOnce sync.Once
	jobs     []job
	logger   *zap.Logger
}

// NewLoop ctor.
func NewLoop(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		commands: make(chan func(), 64),
		stopped:  make(chan struct{}),
		logger:   logger,
	}
}

// Every registers fn to run on the loop at interval. Call before Run.
func (l *Loop) Every(name string, interval time.Duration, fn func(ctx context.Context)) {
	l.jobs = append(l.jobs, job{name: name, interval: interval, fn: fn})
}

// Submit implements Executor. It drops fn once the loop has stopped.
func (l *Loop) Submit(fn func()) {
	select {
	case l.commands <- fn:
	case <-l.stopped:
		l.logger.Debug("loop stopped, dropping command")
	}
}

// Do implements Dispatcher.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case l.commands <- func() { defer close(done); fn() }:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes jobs and commands until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stopOnce.Do(func() { close(l.stopped) })

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range l.jobs {
		j := j
		if j.interval <= 0 {
			continue
		}
		g.Go(func() error {
			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					select {
					case l.commands <- func() { j.fn(gctx) }:
					case <-gctx.Done():
						return nil
					}
				}
			}
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case fn := <-l.commands:
				fn()
			}
		}
	})

	l.logger.Info("driving loop started", zap.Int("jobs", len(l.jobs)))
	err := g.Wait()
	l.logger.Info("driving loop stopped")
	return err
}
