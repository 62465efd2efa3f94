package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sweepsync/internal/timeutil"
)

// Drainer is satisfied by *Pipeline.
type Drainer interface {
	Drain()
}

// Runner calls Drain every Period until its context ends.
type Runner struct {
	Drainer Drainer
	Period  time.Duration
	Clock   timeutil.Clock
}

// Run blocks until ctx is done and returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	if r.Period <= 0 {
		return errors.New("pipeline: runner period must be positive")
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(r.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			r.Drainer.Drain()
		}
	}
}

// Inbox is a bounded hand-off between a transport goroutine and the
// normaliser. When full, the oldest message is discarded to make room.
type Inbox[M any] struct {
	ch      chan M
	handle  func(M) error
	dropped atomic.Uint64
}

// NewInbox returns an Inbox holding at most depth messages.
func NewInbox[M any](depth int, handle func(M) error) *Inbox[M] {
	if depth < 1 {
		depth = 1
	}
	return &Inbox[M]{ch: make(chan M, depth), handle: handle}
}

// Offer enqueues m without blocking. It must not be called after Close.
func (in *Inbox[M]) Offer(m M) {
	select {
	case in.ch <- m:
		return
	default:
	}
	select {
	case <-in.ch:
		in.dropped.Add(1)
		opsf("inbox full (%d), discarding oldest message", cap(in.ch))
	default:
	}
	select {
	case in.ch <- m:
	default:
		in.dropped.Add(1)
	}
}

// Close stops accepting messages; Run returns once the backlog is handled.
func (in *Inbox[M]) Close() { close(in.ch) }

// Dropped counts messages discarded because the inbox was full.
func (in *Inbox[M]) Dropped() uint64 { return in.dropped.Load() }

// Run hands messages to the handler until the inbox is closed and empty, or
// ctx is done.
func (in *Inbox[M]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-in.ch:
			if !ok {
				return nil
			}
			// Rejections are already logged by the handler.
			_ = in.handle(m)
		}
	}
}
