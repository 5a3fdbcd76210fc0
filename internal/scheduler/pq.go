package scheduler

import (
	"container/heap"
	"context"
	"sync"

	"github.com/utkarsh5026/offload/internal/types"
)

// taskHeap is a max-heap of pending tasks ordered by types.Task.Before.
// It satisfies heap.Interface and is only touched with JobQueue.mu held.
type taskHeap []types.Task

// Len returns the current number of tasks in the heap.
func (h taskHeap) Len() int { return len(h) }

// Less reports whether the task at i must run before the task at j.
func (h taskHeap) Less(i, j int) bool { return h[i].Before(h[j]) }

// Swap swaps the position of two tasks.
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push inserts a new task. This is intended to meet the heap.Interface contract.
func (h *taskHeap) Push(x any) {
	task, ok := x.(types.Task)
	if !ok {
		panic("taskHeap.Push: invalid type assertion")
	}
	*h = append(*h, task)
}

// Pop removes and returns the last element. This is intended to meet the
// heap.Interface contract.
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = types.Task{}
	*h = old[:n-1]
	return item
}

// JobQueue is the bounded priority queue shared by the runtime and its
// workers. Tasks leave in (priority desc, arrival asc) order.
//
// Waiting consumers park on a broadcast channel that is closed and replaced
// on every enqueue, so every idle worker gets a chance to retry and no task
// is ever popped twice.
type JobQueue struct {
	mu       sync.Mutex
	pq       taskHeap
	capacity int
	nextSeq  uint64
	closed   bool
	avail    chan struct{}
}

// NewJobQueue creates a queue holding at most capacity pending tasks.
func NewJobQueue(capacity int) *JobQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &JobQueue{
		pq:       make(taskHeap, 0, min(capacity, 1024)),
		capacity: capacity,
		avail:    make(chan struct{}),
	}
}

// Enqueue stamps the arrival sequence on task and inserts it.
// It fails with ErrCapacityExceeded when the queue is full; callers treat that
// as backpressure.
func (q *JobQueue) Enqueue(task types.Task) (types.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return task, types.ErrQueueClosed
	}
	if len(q.pq) >= q.capacity {
		return task, types.ErrCapacityExceeded
	}

	q.nextSeq++
	task.Seq = q.nextSeq
	heap.Push(&q.pq, task)
	q.broadcast()
	return task, nil
}

// Dequeue blocks until a task is available, the context is done, or the
// queue is closed and fully drained.
func (q *JobQueue) Dequeue(ctx context.Context) (types.Task, error) {
	for {
		q.mu.Lock()
		if len(q.pq) > 0 {
			task := q.pop()
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return types.Task{}, types.ErrQueueClosed
		}
		wait := q.avail
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return types.Task{}, ctx.Err()
		case <-wait:
		}
	}
}

// TryDequeue pops the highest ordered task without blocking.
func (q *JobQueue) TryDequeue() (types.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return types.Task{}, false
	}
	return q.pop(), true
}

// Clear removes every pending task and returns them in dequeue order.
func (q *JobQueue) Clear() []types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.Task, 0, len(q.pq))
	for len(q.pq) > 0 {
		out = append(out, q.pop())
	}
	return out
}

// Len returns the number of pending tasks.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}

// Cap returns the configured capacity.
func (q *JobQueue) Cap() int {
	return q.capacity
}

// Close stops accepting new tasks and wakes all waiting consumers. Pending
// tasks can still be dequeued.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

func (q *JobQueue) pop() types.Task {
	task, ok := heap.Pop(&q.pq).(types.Task)
	if !ok {
		panic("JobQueue.pop: invalid type assertion")
	}
	return task
}

// broadcast must be called with q.mu held.
func (q *JobQueue) broadcast() {
	close(q.avail)
	q.avail = make(chan struct{})
}
