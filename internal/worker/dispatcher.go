package worker

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"videoinsight/internal/logging"
)

type keyQueue struct {
	jobs     []Job
	enqueued bool
}

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Dispatcher hands jobs to a bounded worker pool, round-robin across keys.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // intake for outer jobs
	logger   *slog.Logger

	mu        sync.Mutex
	queues    map[string]*keyQueue
	ready     *list.List // LRU queue of keys with pending jobs
	positions map[string]*list.Element

	// intake guards JobQueue sends against Close
	intake    sync.RWMutex
	closed    bool
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logging.WithComponent(logger, "dispatcher")
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}

	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, logger),
		JobQueue:  make(chan Job, queueSize),
		logger:    logger,
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues fn under key without blocking. The returned channel is
// closed once fn has returned.
func (d *Dispatcher) Submit(key string, fn func()) (<-chan struct{}, error) {
	d.intake.RLock()
	defer d.intake.RUnlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}
	job := Job{Type: Run, Key: key, Fn: fn, done: make(chan struct{})}
	select {
	case d.JobQueue <- job:
		return job.done, nil
	default:
		return nil, ErrDispatcherBusy
	}
}

// Do submits fn and waits for it, or for ctx to end. fn keeps running when
// ctx ends first.
func (d *Dispatcher) Do(ctx context.Context, key string, fn func()) error {
	done, err := d.Submit(key, fn)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs. Running jobs finish; queued ones are dropped
// and their done channels closed without running fn.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.intake.Lock()
		d.closed = true
		close(d.quit)
		d.intake.Unlock()

		d.pool.close()
		<-d.stopped
		d.dropPending()
	})
}

func (d *Dispatcher) dropPending() {
	dropped := 0
	for drained := false; !drained; {
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
			drained = true
		}
	}
	d.mu.Lock()
	for key, q := range d.queues {
		for _, job := range q.jobs {
			closeDone(job)
			dropped++
		}
		delete(d.queues, key)
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()
	if dropped > 0 {
		d.logger.Warn("dropped queued jobs on close", "count", dropped)
	}
}

func closeDone(job Job) {
	if job.done != nil {
		close(job.done)
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the head job of the least recently served key to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	meta := d.pool.acquire()
	if meta == nil {
		closeDone(job)
		return false
	}
	debugLog(d.logger, "assign job", "type", job.Type, "key", key, "worker", meta.id)
	select {
	case meta.ch <- job:
		return true
	case <-d.quit:
		closeDone(job)
		return false
	}
}

// Stats reports the number of live and idle workers.
func (d *Dispatcher) Stats() (running, idle int) {
	return d.pool.stats()
}
