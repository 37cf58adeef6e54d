package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"chatbridge/internal/logger"
)

type userQueue struct {
	jobs     []Job
	enqueued bool // waiting in the ready list
	busy     bool // one job in flight
}

// Dispatcher runs jobs on a bounded worker pool, one job per user at a time.
type Dispatcher struct {
	pool   *workerPool
	logger *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	queues    map[string]*userQueue // pending jobs for each user
	ready     *list.List            // users with a runnable job, oldest first
	positions map[string]*list.Element
	pending   int           // submitted jobs not yet finished
	idle      chan struct{} // closed when pending drops to zero
	closed    bool

	wake chan struct{}
	done chan struct{}
}

func NewDispatcher(cfg Config, log *zap.SugaredLogger) *Dispatcher {
	l := logger.Or(log).With("component", "dispatcher")
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	d := &Dispatcher{
		pool:      newWorkerPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, l),
		logger:    l,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		idle:      idle,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	// Warm up workers.
	for i := 0; i < d.pool.min; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job behind the user's earlier jobs. It never blocks on job
// execution.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run function")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
	d.markReadyLocked(job.UserID, q)
	d.signal()
	return nil
}

// Wait blocks until every submitted job has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new jobs, waits for queued ones until ctx is done, then
// cancels whatever still runs and stops the workers.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.Wait(ctx)
	d.cancel()
	d.pool.close()
	<-d.done
	return err
}

// Pending reports jobs submitted and not yet finished.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if d.dispatchOne() {
			continue
		}
		select {
		case <-d.wake:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) markReadyLocked(userID string, q *userQueue) {
	if q.busy || q.enqueued || len(q.jobs) == 0 {
		return
	}
	q.enqueued = true
	d.positions[userID] = d.ready.PushBack(userID)
}

// dispatchOne hands the next job of the first ready user to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(string)
	d.ready.Remove(elem)
	delete(d.positions, userID)

	q := d.queues[userID]
	q.enqueued = false
	job := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	q.busy = true
	d.mu.Unlock()

	ch, ok := d.pool.acquire()
	if !ok {
		d.complete(userID)
		return false
	}
	d.logger.Debugw("assign job", "user_id", userID, "worker", d.pool.workerID(ch))
	ch <- task{ctx: d.ctx, job: job, done: func() { d.complete(userID) }}
	return true
}

// complete marks the user's in-flight job finished and schedules the next one.
func (d *Dispatcher) complete(userID string) {
	d.mu.Lock()
	if q := d.queues[userID]; q != nil {
		q.busy = false
		if len(q.jobs) == 0 {
			delete(d.queues, userID)
		} else {
			d.markReadyLocked(userID, q)
		}
	}
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
	d.mu.Unlock()
	d.signal()
}
