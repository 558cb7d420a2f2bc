package worker

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
	quit       chan struct{}
	logger     *slog.Logger
}

func NewWorker(id int, pool *jobChannelPool, logger *slog.Logger) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
		quit:       pool.quit,
		logger:     logger,
	}
}

func (w *Worker) Start() {
	go func() {
		defer w.pool.retire(w.jobChannel)
		for {
			// announce idle, then wait for the next job
			w.pool.Release(w.jobChannel)
			select {
			case job := <-w.jobChannel:
				if job.Type == Stop {
					debugLog(w.logger, "worker stopped", "worker", w.id)
					return
				}
				w.execute(job)
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *Worker) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", "worker", w.id, "key", job.Key, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		if job.done != nil {
			close(job.done)
		}
	}()
	if job.Fn != nil {
		job.Fn()
	}
}
