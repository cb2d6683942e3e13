package realize

import (
	"context"
	"sync"
)

// Queue is a FIFO of callbacks run by a single goroutine, the cooperative
// host loop a Realizer yields to between quanta. Post may be called from any
// goroutine; everything else must be called by the goroutine running the
// queue.
type Queue struct {
	mu   sync.Mutex
	jobs []func()
	wake chan struct{}
}

var _ Dispatcher = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Post appends fn to the queue.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.jobs = append(q.jobs, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len is the number of callbacks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// RunOnce runs the oldest callback, if any, and reports whether it ran one.
func (q *Queue) RunOnce() bool {
	q.mu.Lock()
	if len(q.jobs) == 0 {
		q.mu.Unlock()
		return false
	}
	fn := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	q.mu.Unlock()
	fn()
	return true
}

// Drain runs callbacks, including ones posted while draining, until the
// queue is empty. It returns how many it ran.
func (q *Queue) Drain() int {
	n := 0
	for q.RunOnce() {
		n++
	}
	return n
}

// Run runs callbacks as they are posted until ctx is done, and returns the
// cause.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for q.RunOnce() {
			if err := context.Cause(ctx); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-q.wake:
		}
	}
}
