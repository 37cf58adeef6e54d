package worker

import (
	"context"
	"errors"
	"time"
)

// Job is one unit of work bound to a user. Jobs of the same user run one at
// a time in submission order; jobs of different users run concurrently.
type Job struct {
	UserID string
	Run    func(ctx context.Context)
}

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	IdleTimeout time.Duration
}

var ErrDispatcherClosed = errors.New("dispatcher closed")

// task is what travels to a worker: either a job or a stop signal.
type task struct {
	ctx  context.Context
	job  Job
	done func()
	stop bool
}
