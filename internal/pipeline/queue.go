package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// ErrQueueClosed is returned when submitting to a closed queue.
var ErrQueueClosed = errors.New("queue is closed")

// Tracker is notified of queued work so an idle detector can tell when
// every job has drained.
type Tracker interface {
	Add(delta int)
	Done()
}

// KeyedQueue runs jobs sequentially per key and concurrently across keys.
// A worker goroutine exists for a key only while it has pending jobs.
type KeyedQueue struct {
	mu      sync.Mutex
	pending map[string][]func()
	closed  bool
	wg      sync.WaitGroup
	tracker Tracker
}

// NewKeyedQueue creates an empty queue. tracker may be nil.
func NewKeyedQueue(tracker Tracker) *KeyedQueue {
	return &KeyedQueue{
		pending: make(map[string][]func()),
		tracker: tracker,
	}
}

// Submit appends job to the queue of key.
func (q *KeyedQueue) Submit(key string, job func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.wg.Add(1)
	if q.tracker != nil {
		q.tracker.Add(1)
	}

	jobs, running := q.pending[key]
	q.pending[key] = append(jobs, job)
	if !running {
		go q.drain(key)
	}
	return nil
}

func (q *KeyedQueue) drain(key string) {
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[key] = jobs[1:]
		q.mu.Unlock()

		job()

		if q.tracker != nil {
			q.tracker.Done()
		}
		q.wg.Done()
	}
}

// Wait blocks until every submitted job has run.
func (q *KeyedQueue) Wait() {
	q.wg.Wait()
}

// Close rejects further submissions. Queued jobs still run.
func (q *KeyedQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// ErrorHandler receives failures of one file's processing.
type ErrorHandler func(ctx context.Context, file *vfile.File, err error)

// Runner feeds events through a Stage, one KeyedQueue lane per package.
type Runner struct {
	stage   Stage
	queue   *KeyedQueue
	onError ErrorHandler
}

// NewRunner creates a Runner on queue. Stage errors go to onError.
func NewRunner(stage Stage, queue *KeyedQueue, onError ErrorHandler) *Runner {
	return &Runner{stage: stage, queue: queue, onError: onError}
}

// Submit schedules file on its package lane. Jobs still queued when ctx is
// cancelled are skipped; a job already running completes.
func (r *Runner) Submit(ctx context.Context, file *vfile.File) error {
	return r.queue.Submit(file.Package(), func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.stage.Process(context.WithoutCancel(ctx), file); err != nil && r.onError != nil {
			r.onError(ctx, file, err)
		}
	})
}

// Do schedules an arbitrary job on the lane of pkg, ordered with the
// file events of that package.
func (r *Runner) Do(ctx context.Context, pkg string, job func(ctx context.Context) error) error {
	return r.queue.Submit(pkg, func() {
		if ctx.Err() != nil {
			return
		}
		if err := job(context.WithoutCancel(ctx)); err != nil && r.onError != nil {
			r.onError(ctx, &vfile.File{RelativePath: pkg}, err)
		}
	})
}

// Run submits every event from in until it closes or ctx is done, then
// waits for the submitted work to finish.
func (r *Runner) Run(ctx context.Context, in <-chan *vfile.File) error {
	defer r.queue.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case file, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.Submit(ctx, file); err != nil {
				return err
			}
		}
	}
}

// Wait blocks until the lanes are empty.
func (r *Runner) Wait() {
	r.queue.Wait()
}
