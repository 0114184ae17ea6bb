// Package dispatch is the boundary between the engine and the task
// substrate. Jobs are submitted to a Queue; workers run them through a
// Lifecycle whose callbacks receive the job and target explicitly.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindProcess  Kind = "process"
	KindDownload Kind = "download"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	// ErrStaleJob is returned by a start callback when the target no longer
	// belongs to the job. The job is dropped without running.
	ErrStaleJob = errors.New("stale job")
)

type Job struct {
	ID       string            `json:"id"`
	Kind     Kind              `json:"kind"`
	Function string            `json:"function,omitempty"`
	TargetID uuid.UUID         `json:"target_id"`
	Kwargs   map[string]string `json:"kwargs,omitempty"`
	// Attempt is 1 for the first run and grows with every Retry.
	Attempt int `json:"attempt"`
	// MaxAttempts bounds Retry. Zero means the job is never retried.
	MaxAttempts int       `json:"max_attempts"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// next returns the job for its following attempt.
func (j Job) next() (Job, error) {
	if j.Attempt >= j.MaxAttempts {
		return j, ErrMaxRetriesExceeded
	}
	j.Attempt++
	return j, nil
}

// Queue hands jobs to workers.
type Queue interface {
	// Submit enqueues a job and returns its handle. An empty ID is assigned.
	Submit(ctx context.Context, job Job) (string, error)
	// Retry re-enqueues the job after countdown with its attempt counter
	// advanced, or returns ErrMaxRetriesExceeded once the budget is spent.
	Retry(ctx context.Context, job Job, countdown time.Duration) error
}

func prepare(job Job, now time.Time) Job {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = now
	}
	return job
}
