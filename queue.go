package mqttclient

import "sync"

// Executor runs tasks one at a time in the order they were submitted.
// Execute must not block and must not run the task on the caller's goroutine.
type Executor interface {
	Execute(task func())
}

// SerialQueue is the default Executor of a connection. Tasks are drained by
// at most one goroutine, started when the first task arrives and exiting
// once the queue is empty, so an idle connection holds no goroutine.
// A SerialQueue may be shared by several connections.
type SerialQueue struct {
	mu      sync.Mutex
	tasks   []func()
	running bool
}

// NewSerialQueue creates an empty queue.
func NewSerialQueue() *SerialQueue {
	return &SerialQueue{}
}

// Execute enqueues task.
func (q *SerialQueue) Execute(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

// Len returns the number of tasks waiting to run.
func (q *SerialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *SerialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.tasks = nil
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}
