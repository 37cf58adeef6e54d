package worker

import "go.uber.org/zap"

type worker struct {
	id     int
	pool   *workerPool
	tasks  chan task
	logger *zap.SugaredLogger
}

func (w *worker) start() {
	go func() {
		for {
			if !w.pool.release(w.tasks) {
				w.pool.retire(w.tasks)
				return
			}
			t := <-w.tasks
			if t.stop {
				w.pool.retire(w.tasks)
				return
			}
			w.run(t)
		}
	}()
}

// run executes one job; a panicking job must not take the worker down.
func (w *worker) run(t task) {
	defer t.done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorw("job panicked", "worker", w.id, "user_id", t.job.UserID, "panic", r)
		}
	}()
	t.job.Run(t.ctx)
}
