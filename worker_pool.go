package jamn

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
)

var errPoolStopped = errors.New("worker pool stopped")

type job struct {
	run   func()
	abort func()
}

// workerPool runs submitted jobs on a fixed number of goroutines. Jobs
// submitted while every worker is busy wait in a FIFO queue.
type workerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue
	size    int
	stopped bool
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

func newWorkerPool(size int, logger zerolog.Logger) *workerPool {
	p := &workerPool{
		pending: queue.New(),
		size:    size,
		logger:  logger,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *workerPool) start() {
	for i := 0; i < p.size; i += 1 {
		p.wg.Add(1)
		go p.work()
	}
}

// submit queues run. If the pool is stopped before a worker picks the job up,
// abort is called instead.
func (p *workerPool) submit(run, abort func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errPoolStopped
	}
	p.pending.Add(job{run: run, abort: abort})
	p.cond.Signal()
	return nil
}

func (p *workerPool) work() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.pending.Length() == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		next := p.pending.Remove().(job)
		p.mu.Unlock()

		p.runJob(next)
	}
}

func (p *workerPool) runJob(j job) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error().Interface("panic", v).Msg("worker recovered from panic")
		}
	}()
	j.run()
}

// stop refuses new jobs, aborts queued jobs and wakes idle workers so they
// exit. Running jobs are not waited for; use wait.
func (p *workerPool) stop() {
	p.mu.Lock()
	p.stopped = true
	var aborted []job
	for p.pending.Length() > 0 {
		aborted = append(aborted, p.pending.Remove().(job))
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, j := range aborted {
		if j.abort != nil {
			j.abort()
		}
	}
}

func (p *workerPool) wait() {
	p.wg.Wait()
}

func (p *workerPool) queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Length()
}
