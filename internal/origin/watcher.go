package origin

import (
	"context"
	"log"
	"sync"

	"code.hybscloud.com/iox"

	"github.com/dreamware/shmproxy/internal/dispatch"
	"github.com/dreamware/shmproxy/internal/shm"
)

// Watcher is the shared-channel half of the origin's acceptor. It polls the
// node list for requests the proxy has claimed a node for and hands each one
// to the worker pool.
//
// Detection is by polling rather than waiting on a node, because a claim can
// land on any node. The poll backs off adaptively while the channel is idle
// and snaps back as soon as work appears.
type Watcher struct {
	nodes  *shm.NodeList
	submit func(dispatch.WorkItem) error
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewWatcher creates a watcher that passes Shared items to submit.
func NewWatcher(nodes *shm.NodeList, submit func(dispatch.WorkItem) error) *Watcher {
	return &Watcher{nodes: nodes, submit: submit}
}

// Start begins polling in a background goroutine until ctx is cancelled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		var bo iox.Backoff
		for ctx.Err() == nil {
			if w.Scan() > 0 {
				bo.Reset()
				continue
			}
			bo.Wait()
		}
	}()
}

// Stop halts polling and waits for the loop to exit. Items already submitted
// are unaffected.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
}

// Scan makes one pass over the nodes. A node is taken when the proxy has
// announced a request on it and the server side is idle; taking it moves the
// server state to Busy so no later pass takes it again. Scan returns the
// number of items submitted.
func (w *Watcher) Scan() int {
	taken := 0
	for i := 0; i < w.nodes.Len(); i++ {
		n := w.nodes.Node(i)
		if !n.Take() {
			continue
		}
		if err := w.submit(dispatch.WorkItem{Action: dispatch.Shared, Node: n}); err != nil {
			log.Printf("origin: cannot queue %s: %v", n, err)
			n.SetState(shm.Server, shm.Idle)
			continue
		}
		taken++
	}
	return taken
}
