// Package jobqueue holds jobs between the dispatcher and the mining loop.
package jobqueue

import (
	"context"
	"sync"

	"github.com/bardlex/gompminer/internal/stratum"
)

// DefaultCapacity bounds the number of queued non-clean jobs.
const DefaultCapacity = 16

// Queue is a FIFO of jobs with clean-job preemption. Push may be called from
// any goroutine; Pop has a single consumer.
type Queue struct {
	mu       sync.Mutex
	jobs     []*stratum.Job
	capacity int
	ready    chan struct{}

	// cancels the context handed out by the last Pop
	cancelCurrent context.CancelFunc
}

// New creates a queue holding at most capacity jobs.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues job. A clean job first discards every queued job and cancels
// the in-flight job's context. When the queue is full the oldest job is
// dropped. It returns how many jobs were discarded.
func (q *Queue) Push(job *stratum.Job) int {
	q.mu.Lock()
	discarded := 0
	if job.CleanJobs {
		discarded = len(q.jobs)
		clear(q.jobs)
		q.jobs = q.jobs[:0]
		q.cancelLocked()
	}
	if len(q.jobs) >= q.capacity {
		n := len(q.jobs) - q.capacity + 1
		discarded += n
		q.jobs = append(q.jobs[:0], q.jobs[n:]...)
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return discarded
}

// Pop blocks until a job is available and returns it with a context that is
// cancelled when a clean job is pushed, when Pop is called again, or when
// ctx ends.
func (q *Queue) Pop(ctx context.Context) (*stratum.Job, context.Context, error) {
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs[0] = nil
			q.jobs = q.jobs[1:]

			q.cancelLocked()
			jobCtx, cancel := context.WithCancel(ctx)
			q.cancelCurrent = cancel
			q.mu.Unlock()
			return job, jobCtx, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Clear drops every queued job and cancels the in-flight one.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.jobs)
	q.jobs = q.jobs[:0]
	q.cancelLocked()
}

func (q *Queue) cancelLocked() {
	if q.cancelCurrent != nil {
		q.cancelCurrent()
		q.cancelCurrent = nil
	}
}
