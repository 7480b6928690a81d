package dispatch

import (
	"fmt"
	"net"
	"sync"

	"github.com/dreamware/shmproxy/internal/shm"
)

// Action tags what a worker should do with a WorkItem.
type Action int

const (
	// Process serves an accepted socket connection.
	Process Action = iota
	// Shared serves a transaction posted on a shared-memory node.
	Shared
	// Terminate makes the worker that takes it exit.
	Terminate
)

func (a Action) String() string {
	switch a {
	case Process:
		return "process"
	case Shared:
		return "shared"
	case Terminate:
		return "terminate"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// WorkItem is one unit of work. Conn is set for Process, Node for Shared.
type WorkItem struct {
	Conn   net.Conn
	Node   *shm.Node
	Action Action
}

// Queue is an unbounded FIFO of work items shared by the workers of one
// process. Pop blocks while the queue is empty.
type Queue struct {
	items []WorkItem
	mu    sync.Mutex
	cond  *sync.Cond
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item and wakes one waiting worker.
func (q *Queue) Push(item WorkItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

// pushAll appends items in order and wakes every waiting worker.
func (q *Queue) pushAll(items ...WorkItem) {
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pop removes and returns the oldest item, waiting for one if necessary.
func (q *Queue) Pop() WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	item := q.items[0]
	q.items[0] = WorkItem{}
	q.items = q.items[1:]
	return item
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
