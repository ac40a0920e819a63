package mqttclient

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Worker pool defaults.
const (
	DefaultMaxWorkers      = 256
	DefaultWorkerKeepAlive = time.Second
)

// WorkerPool runs blocking work (dials, TLS handshakes, socket writes) off
// the connection queues. Workers are started on demand up to a maximum and
// retire after sitting idle for the keep-alive period. Tasks submitted while
// every worker is busy wait in a FIFO backlog.
type WorkerPool struct {
	sem       *semaphore.Weighted
	keepAlive time.Duration

	handoff chan func()
	wake    chan struct{}

	mu      sync.Mutex
	backlog []func()

	workers atomic.Int64
}

// NewWorkerPool creates a pool with at most maxWorkers goroutines. Idle
// workers exit after keepAlive. Non-positive values select the defaults.
func NewWorkerPool(maxWorkers int, keepAlive time.Duration) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if keepAlive <= 0 {
		keepAlive = DefaultWorkerKeepAlive
	}

	return &WorkerPool{
		sem:       semaphore.NewWeighted(int64(maxWorkers)),
		keepAlive: keepAlive,
		handoff:   make(chan func()),
		wake:      make(chan struct{}, 1),
	}
}

// Submit schedules task. It never blocks.
func (p *WorkerPool) Submit(task func()) {
	select {
	case p.handoff <- task:
		return
	default:
	}

	if p.sem.TryAcquire(1) {
		p.start(task)
		return
	}

	p.mu.Lock()
	p.backlog = append(p.backlog, task)
	p.mu.Unlock()

	// A worker may have retired between the failed acquire and the append.
	if p.sem.TryAcquire(1) {
		p.start(nil)
		return
	}

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Workers returns the number of live worker goroutines.
func (p *WorkerPool) Workers() int {
	return int(p.workers.Load())
}

// Pending returns the number of tasks waiting for a worker.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

func (p *WorkerPool) start(task func()) {
	p.workers.Add(1)
	go p.run(task)
}

func (p *WorkerPool) run(task func()) {
	idle := time.NewTimer(p.keepAlive)
	defer idle.Stop()

	for {
		if task != nil {
			task()
			task = nil
		}

		if next, ok := p.pop(); ok {
			task = next
			continue
		}

		idle.Reset(p.keepAlive)
		select {
		case task = <-p.handoff:
		case <-p.wake:
		case <-idle.C:
			p.sem.Release(1)
			p.workers.Add(-1)

			if !p.hasBacklog() || !p.sem.TryAcquire(1) {
				return
			}
			p.workers.Add(1)
		}
	}
}

func (p *WorkerPool) pop() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.backlog) == 0 {
		return nil, false
	}
	task := p.backlog[0]
	p.backlog[0] = nil
	p.backlog = p.backlog[1:]
	return task, true
}

func (p *WorkerPool) hasBacklog() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog) > 0
}

var (
	defaultPoolMu sync.Mutex
	defaultPool   *WorkerPool
)

// DefaultWorkerPool returns the process-wide pool, creating it on first use.
// The pool is never shut down; idle workers simply retire.
func DefaultWorkerPool() *WorkerPool {
	defaultPoolMu.Lock()
	defer defaultPoolMu.Unlock()

	if defaultPool == nil {
		defaultPool = NewWorkerPool(DefaultMaxWorkers, DefaultWorkerKeepAlive)
	}
	return defaultPool
}

// SetDefaultWorkerPool replaces the process-wide pool used by connections
// created afterwards. Passing nil restores lazy creation of a fresh default.
func SetDefaultWorkerPool(p *WorkerPool) {
	defaultPoolMu.Lock()
	defer defaultPoolMu.Unlock()
	defaultPool = p
}
