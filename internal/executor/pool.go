package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/vk/pretransform/internal/ctxlog"
)

// Pool runs jobs with at most Workers goroutines.
type Pool struct {
	workers int
	timeout time.Duration
}

// New creates a pool. workers <= 0 means one worker per CPU; timeout <= 0
// means no deadline beyond the caller's context.
func New(workers int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers, timeout: timeout}
}

// Workers reports the pool size.
func (p *Pool) Workers() int { return p.workers }

// run holds the bookkeeping of a single Run call.
type run struct {
	ready     chan *Job
	done      chan struct{}
	remaining atomic.Int64
}

// retire counts a job as finished. The last retirement closes done.
func (r *run) retire() {
	if r.remaining.Add(-1) == 0 {
		close(r.done)
	}
}

// Run executes jobs in dependency order. Jobs must be fresh and every
// dependency must itself be in jobs. It returns nil once every job is Done,
// Failed or Skipped, and the context error if the deadline passes first; in
// that case every unfinished job is Abandoned. Individual job failures are
// reported through the jobs themselves.
func (p *Pool) Run(ctx context.Context, jobs []*Job) error {
	logger := ctxlog.FromContext(ctx)
	if len(jobs) == 0 {
		return nil
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if p.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	r := &run{
		ready: make(chan *Job, len(jobs)),
		done:  make(chan struct{}),
	}
	r.remaining.Store(int64(len(jobs)))

	for _, j := range jobs {
		j.depCount.Store(int32(len(j.Deps)))
		for _, dep := range j.Deps {
			dep.dependents = append(dep.dependents, j)
		}
	}

	roots := 0
	for _, j := range jobs {
		if len(j.Deps) == 0 {
			r.ready <- j
			roots++
		}
	}
	logger.Debug("Run: Found root jobs.", "count", roots, "jobs", len(jobs), "workers", p.workers)
	if roots == 0 {
		return errors.New("no job is ready to run: dependencies form a cycle")
	}

	for i := 0; i < p.workers; i++ {
		go p.worker(runCtx, r, i)
	}

	select {
	case <-r.done:
		logger.Debug("Run: All jobs completed.")
		return nil
	case <-runCtx.Done():
	}
	select {
	case <-r.done:
		return nil
	default:
	}

	err := runCtx.Err()
	abandoned := 0
	for _, j := range jobs {
		if j.abandon(err) {
			abandoned++
		}
	}
	logger.Warn("Run: Deadline reached, abandoning unfinished jobs.", "abandoned", abandoned, "error", err)
	return err
}

func (p *Pool) worker(ctx context.Context, r *run, workerID int) {
	logger := ctxlog.FromContext(ctx).With("workerID", workerID)
	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case j := <-r.ready:
			p.process(ctx, r, j, logger)
		}
	}
}

func (p *Pool) process(ctx context.Context, r *run, j *Job, logger *slog.Logger) {
	if !j.transition(Pending, Running, nil) {
		return
	}
	logger.Debug("Worker picked up job.", "jobID", j.ID)

	if err := j.Run(ctx); err != nil {
		if ctx.Err() != nil {
			// Run abandons it.
			return
		}
		if j.transition(Running, Failed, err) {
			logger.Debug("Job failed.", "jobID", j.ID, "error", err)
			r.retire()
			p.skipDependents(r, j)
		}
		return
	}
	if !j.transition(Running, Done, nil) {
		return
	}
	for _, dependent := range j.dependents {
		if dependent.depCount.Add(-1) == 0 {
			r.ready <- dependent
		}
	}
	r.retire()
}

// skipDependents marks everything downstream of a failed job as Skipped.
func (p *Pool) skipDependents(r *run, failed *Job) {
	for _, dependent := range failed.dependents {
		cause := fmt.Errorf("skipped due to upstream failure of '%s'", failed.ID)
		if dependent.transition(Pending, Skipped, cause) {
			r.retire()
			p.skipDependents(r, dependent)
		}
	}
}
