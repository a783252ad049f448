// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cardauth

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/metrics"
)

// DefaultQueueSize bounds the number of waiting attempts.
const DefaultQueueSize = 16

type job struct {
	ctx  context.Context
	run  func(context.Context) error
	done chan error
}

// Queue runs jobs one at a time in submission order. Jobs whose context ends
// while waiting are skipped.
type Queue struct {
	jobs    chan *job
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	pending atomic.Int64
	logger  logger.Logger
}

// NewQueue creates a queue and starts its worker.
func NewQueue(size int, log logger.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = logger.Nop()
	}
	q := &Queue{
		jobs:   make(chan *job, size),
		stop:   make(chan struct{}),
		logger: log,
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case j := <-q.jobs:
			metrics.SetQueueDepth(int(q.pending.Add(-1)))
			if err := j.ctx.Err(); err != nil {
				j.done <- errcodes.New(errcodes.Cancelled).WithCause(err)
				continue
			}
			j.done <- j.run(j.ctx)
		}
	}
}

// Do enqueues fn and waits for it to finish or for ctx to end. A job that
// already started keeps running with ctx, so it observes the cancellation
// itself.
func (q *Queue) Do(ctx context.Context, fn func(context.Context) error) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	j := &job{ctx: ctx, run: fn, done: make(chan error, 1)}

	select {
	case q.jobs <- j:
		metrics.SetQueueDepth(int(q.pending.Add(1)))
	case <-q.stop:
		return ErrQueueClosed
	case <-ctx.Done():
		return errcodes.New(errcodes.Cancelled).WithCause(ctx.Err())
	}

	select {
	case err := <-j.done:
		return err
	case <-q.stop:
		return ErrQueueClosed
	case <-ctx.Done():
		return errcodes.New(errcodes.Cancelled).WithCause(ctx.Err())
	}
}

// Len returns the number of waiting jobs.
func (q *Queue) Len() int {
	return int(q.pending.Load())
}

// Close stops the worker after the running job. Waiting jobs fail with
// ErrQueueClosed.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.closed.Store(true)
		close(q.stop)
	})
	q.wg.Wait()
	q.logger.Debug("authentication queue stopped")
}

// QueuedAuthenticator serializes Authenticate calls through a Queue.
type QueuedAuthenticator struct {
	*Authenticator
	queue *Queue
}

// NewQueued wraps a with q.
func NewQueued(a *Authenticator, q *Queue) *QueuedAuthenticator {
	return &QueuedAuthenticator{Authenticator: a, queue: q}
}

// Authenticate runs the attempt on the queue.
func (qa *QueuedAuthenticator) Authenticate(ctx context.Context, req Request) ([]Result, error) {
	var results []Result
	err := qa.queue.Do(ctx, func(ctx context.Context) error {
		var err error
		results, err = qa.Authenticator.Authenticate(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
