package dispatch

import (
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dreamware/shmproxy/internal/shm"
)

// ErrStopped is returned by Submit once DrainAndStop has been called.
var ErrStopped = errors.New("dispatch: pool stopped")

// Handler serves the work a pool dispatches. Implementations own the
// connection they are given and must close it.
type Handler interface {
	ServeConn(conn net.Conn)
	ServeShared(node *shm.Node)
}

// Stats counts what a pool has done.
type Stats struct {
	Processed  uint64 // socket items served
	Shared     uint64 // shared-memory items served
	Panics     uint64 // items whose handler panicked
	Terminated uint64 // workers that exited on a Terminate token
}

// Pool is a fixed set of workers draining one Queue.
type Pool struct {
	handler Handler
	queue   *Queue
	stats   Stats
	wg      sync.WaitGroup
	size    int
	mu      sync.Mutex
	started bool
	stopped bool
}

// NewPool creates a pool of size workers that dispatch to h. Workers run
// once Start is called.
func NewPool(size int, h Handler) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{handler: h, queue: NewQueue(), size: size}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Queue returns the pool's work queue.
func (p *Pool) Queue() *Queue { return p.queue }

// Start launches the workers. Calling it again has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
}

// Submit queues item for the next free worker.
func (p *Pool) Submit(item WorkItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	p.queue.Push(item)
	return nil
}

// DrainAndStop queues one Terminate token per worker behind any pending
// work and waits for every worker to exit. Items already queued are served
// first.
func (p *Pool) DrainAndStop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	tokens := make([]WorkItem, p.size)
	for i := range tokens {
		tokens[i] = WorkItem{Action: Terminate}
	}
	p.queue.pushAll(tokens...)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Processed:  atomic.LoadUint64(&p.stats.Processed),
		Shared:     atomic.LoadUint64(&p.stats.Shared),
		Panics:     atomic.LoadUint64(&p.stats.Panics),
		Terminated: atomic.LoadUint64(&p.stats.Terminated),
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for {
		item := p.queue.Pop()
		if item.Action == Terminate {
			atomic.AddUint64(&p.stats.Terminated, 1)
			return
		}
		p.serve(id, item)
	}
}

// serve runs one item. A panic is confined to the item: the connection is
// closed and the worker keeps going.
func (p *Pool) serve(id int, item WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&p.stats.Panics, 1)
			log.Printf("worker %d: recovered from panic serving %s item: %v", id, item.Action, r)
			if item.Conn != nil {
				item.Conn.Close()
			}
		}
	}()

	switch item.Action {
	case Process:
		atomic.AddUint64(&p.stats.Processed, 1)
		p.handler.ServeConn(item.Conn)
	case Shared:
		atomic.AddUint64(&p.stats.Shared, 1)
		p.handler.ServeShared(item.Node)
	default:
		log.Printf("worker %d: dropping item with unknown action %s", id, item.Action)
	}
}
