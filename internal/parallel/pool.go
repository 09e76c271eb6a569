// Package parallel runs the workgroups of one compute dispatch on a fixed
// set of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// batchesPerWorker is how many index ranges Range creates per worker, so
// that workers which finish early can steal the remainder.
const batchesPerWorker = 4

// WorkerPool is a pool of goroutines that execute batches of work.
//
// Each worker owns a queue and pulls from it first; an idle worker steals
// from the other queues. ExecuteAll and Range block until every item they
// submitted has run, which gives callers a full barrier between calls.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers    int
	workQueues []chan func()
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(8, workers*batchesPerWorker)

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	own := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case work := <-own:
			work()
			continue
		default:
		}

		if stolen := p.steal(id); stolen != nil {
			stolen()
			continue
		}

		select {
		case <-p.done:
			p.drain(own)
			return
		case work := <-own:
			work()
		}
	}
}

func (p *WorkerPool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

// steal takes one item from another worker's queue, or returns nil.
func (p *WorkerPool) steal(id int) func() {
	for i := 1; i < p.workers; i++ {
		select {
		case work := <-p.workQueues[(id+i)%p.workers]:
			return work
		default:
		}
	}
	return nil
}

// ExecuteAll distributes work across workers and waits for all of it.
// After Close, the items run on the calling goroutine. Items queued when
// Close races with ExecuteAll run exactly once, on a worker that drained
// them or on the caller.
func (p *WorkerPool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range work {
			fn()
		}
		return
	}

	var pending sync.WaitGroup
	pending.Add(len(work))
	tasks := make([]*task, len(work))
	for i, fn := range work {
		t := &task{fn: fn, pending: &pending}
		tasks[i] = t
		select {
		case <-p.done:
			t.run()
			continue
		default:
		}
		select {
		case p.workQueues[i%p.workers] <- t.run:
		case <-p.done:
			t.run()
		}
	}

	finished := make(chan struct{})
	go func() {
		pending.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-p.done:
		// Workers may have exited before reaching every queued item.
		for _, t := range tasks {
			t.run()
		}
		<-finished
	}
}

// task is one ExecuteAll item. run executes fn at most once, whichever of
// a worker or the submitting goroutine claims it first.
type task struct {
	claimed atomic.Bool
	fn      func()
	pending *sync.WaitGroup
}

func (t *task) run() {
	if !t.claimed.CompareAndSwap(false, true) {
		return
	}
	defer t.pending.Done()
	t.fn()
}

// Range calls fn over [0, n) split into contiguous half-open ranges
// [lo, hi) and waits for all of them. fn may be called concurrently.
func (p *WorkerPool) Range(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	batches := min(n, p.workers*batchesPerWorker)
	size := (n + batches - 1) / batches

	work := make([]func(), 0, batches)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.ExecuteAll(work)
}

// Close stops the workers after the queued work has run.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}
