package dispatch

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue records submitted jobs in process. Jobs run only when a
// caller takes them with Next.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []Job
	retries []Delayed
	// FailSubmit, when set, is returned by Submit.
	FailSubmit error
	submits    int
}

// Delayed is a retry and the countdown it was requested with.
type Delayed struct {
	Job       Job
	Countdown time.Duration
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Submit(_ context.Context, job Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.FailSubmit != nil {
		return "", q.FailSubmit
	}
	job = prepare(job, time.Now().UTC())
	q.ready = append(q.ready, job)
	q.submits++
	return job.ID, nil
}

// Retry makes the next attempt ready immediately; the countdown is recorded.
func (q *MemoryQueue) Retry(_ context.Context, job Job, countdown time.Duration) error {
	next, err := job.next()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retries = append(q.retries, Delayed{Job: next, Countdown: countdown})
	q.ready = append(q.ready, next)
	return nil
}

// Next pops the oldest ready job.
func (q *MemoryQueue) Next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return Job{}, false
	}
	j := q.ready[0]
	q.ready = q.ready[1:]
	return j, true
}

// Len is the number of ready jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Submits counts successful Submit calls.
func (q *MemoryQueue) Submits() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits
}

func (q *MemoryQueue) Retries() []Delayed {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Delayed(nil), q.retries...)
}
