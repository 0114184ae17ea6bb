package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"
)

// Lifecycle receives the callbacks of one job run. Every callback gets the
// job and its target explicitly.
type Lifecycle interface {
	OnStart(ctx context.Context, job Job, target uuid.UUID) error
	OnSuccess(ctx context.Context, job Job, target uuid.UUID) error
	OnFailure(ctx context.Context, job Job, target uuid.UUID, cause error) error
}

// Func is the body of a job.
type Func func(ctx context.Context, job Job) error

// Run executes fn between the lifecycle callbacks. A job rejected by OnStart
// with ErrStaleJob is skipped and reported as nil. Errors and panics from fn
// go to OnFailure and are not returned.
func Run(ctx context.Context, job Job, lc Lifecycle, fn Func) error {
	if err := lc.OnStart(ctx, job, job.TargetID); err != nil {
		if errors.Is(err, ErrStaleJob) {
			return nil
		}
		return fmt.Errorf("start job %s: %w", job.ID, err)
	}
	if err := safeCall(ctx, job, fn); err != nil {
		if ferr := lc.OnFailure(ctx, job, job.TargetID, err); ferr != nil {
			return fmt.Errorf("record failure of job %s: %w", job.ID, ferr)
		}
		return nil
	}
	if err := lc.OnSuccess(ctx, job, job.TargetID); err != nil {
		return fmt.Errorf("record success of job %s: %w", job.ID, err)
	}
	return nil
}

func safeCall(ctx context.Context, job Job, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, job)
}

type route struct {
	lc Lifecycle
	fn Func
}

// Runner routes decoded jobs to the lifecycle registered for their kind.
type Runner struct {
	routes  map[Kind]route
	observe func(kind Kind, err error)
	logger  *slog.Logger
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{routes: make(map[Kind]route), logger: logger}
}

func (r *Runner) Register(kind Kind, lc Lifecycle, fn Func) {
	r.routes[kind] = route{lc: lc, fn: fn}
}

// Observe installs a hook called after every job run.
func (r *Runner) Observe(fn func(kind Kind, err error)) {
	r.observe = fn
}

// Run executes one job.
func (r *Runner) Run(ctx context.Context, job Job) error {
	rt, ok := r.routes[job.Kind]
	if !ok {
		return fmt.Errorf("no runner for job kind %q", job.Kind)
	}
	r.logger.Info("running job",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("target_id", job.TargetID.String()),
		slog.Int("attempt", job.Attempt))
	err := Run(ctx, job, rt.lc, rt.fn)
	if r.observe != nil {
		r.observe(job.Kind, err)
	}
	return err
}

// Handle decodes a stream payload and runs it. It satisfies queue.Handler.
func (r *Runner) Handle(ctx context.Context, data []byte) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		r.logger.Error("dropping undecodable job", slog.String("error", err.Error()))
		return nil
	}
	return r.Run(ctx, job)
}
