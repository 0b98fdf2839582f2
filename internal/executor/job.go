// Package executor runs a set of dependent jobs on a bounded worker pool.
//
// A job becomes ready once every job it depends on is Done. A failed job
// marks everything downstream of it as Skipped but does not stop unrelated
// jobs. When the run's deadline passes, unfinished jobs are Abandoned and Run
// returns immediately with whatever has completed.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of a Job.
type State int

const (
	Pending State = iota
	Running
	Done
	Failed
	Skipped
	Abandoned
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Abandoned:
		return "abandoned"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Job is a unit of work. Deps must all belong to the same Run call.
type Job struct {
	ID   string
	Deps []*Job
	Run  func(ctx context.Context) error

	dependents []*Job
	depCount   atomic.Int32

	mu    sync.Mutex
	state State
	err   error
}

// NewJob creates a pending job.
func NewJob(id string, run func(ctx context.Context) error, deps ...*Job) *Job {
	return &Job{ID: id, Run: run, Deps: deps}
}

// State reports the job's current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err is the failure, skip or abandonment cause; nil for Done jobs.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// transition moves the job from `from` to `to`. It reports false, leaving the
// job untouched, when the job is in any other state.
func (j *Job) transition(from, to State, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != from {
		return false
	}
	j.state = to
	j.err = err
	return true
}

// abandon moves an unfinished job to Abandoned.
func (j *Job) abandon(cause error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Pending && j.state != Running {
		return false
	}
	j.state = Abandoned
	j.err = cause
	return true
}
