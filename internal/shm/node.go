package shm

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/iox"
)

// Control block layout of a node. The buffer starts at nodeHeaderSize.
const (
	offLock       = 0
	offSeq        = 4
	offProxy      = 8
	offServer     = 12
	offPosted     = 16
	offAcked      = 20
	offBytesValid = 24

	nodeHeaderSize = 64
	nodeAlign      = 64
)

// nodeStride is the distance between consecutive nodes for a buffer
// capacity, rounded so every control block starts on a cache line.
func nodeStride(capacity int) int {
	return nodeHeaderSize + (capacity+nodeAlign-1)/nodeAlign*nodeAlign
}

// Node is one bounded mailbox in the shared segment. Its methods operate
// directly on mapped memory and are safe to call from either process.
type Node struct {
	index int
	base  unsafe.Pointer
	buf   []byte
}

func (n *Node) word(off uintptr) *uint32 {
	return (*uint32)(unsafe.Add(n.base, off))
}

func stateOffset(r Role) uintptr {
	if r == Proxy {
		return offProxy
	}
	return offServer
}

// Index returns the node's position in its list.
func (n *Node) Index() int { return n.index }

// Capacity returns the size of the node's buffer.
func (n *Node) Capacity() int { return len(n.buf) }

// Buffer returns the node's shared buffer.
func (n *Node) Buffer() []byte { return n.buf }

// State returns the state field of role r.
func (n *Node) State(r Role) State {
	return State(atomic.LoadUint32(n.word(stateOffset(r))))
}

// SetState stores the state field of role r.
func (n *Node) SetState(r Role, s State) {
	atomic.StoreUint32(n.word(stateOffset(r)), uint32(s))
}

// CompareAndSwapState moves role r from old to new if it is still old.
func (n *Node) CompareAndSwapState(r Role, old, new State) bool {
	return atomic.CompareAndSwapUint32(n.word(stateOffset(r)), uint32(old), uint32(new))
}

// BytesValid returns the length of the segment currently in the buffer.
func (n *Node) BytesValid() int {
	return int(atomic.LoadUint32(n.word(offBytesValid)))
}

// SetBytesValid records the length of the segment in the buffer.
func (n *Node) SetBytesValid(v int) {
	atomic.StoreUint32(n.word(offBytesValid), uint32(v))
}

// Posted returns how many segments producers have placed in this node.
func (n *Node) Posted() uint32 { return atomic.LoadUint32(n.word(offPosted)) }

// Acked returns how many segments consumers have taken out of this node.
func (n *Node) Acked() uint32 { return atomic.LoadUint32(n.word(offAcked)) }

// Post marks the buffer as holding a new segment.
func (n *Node) Post() { atomic.AddUint32(n.word(offPosted), 1) }

// Ack marks the current segment as consumed.
func (n *Node) Ack() { atomic.StoreUint32(n.word(offAcked), n.Posted()) }

// Pending reports whether a posted segment has not been acknowledged yet.
func (n *Node) Pending() bool { return n.Posted() != n.Acked() }

// Lock acquires the node's cross-process mutex.
// The lock word is 0 when free, 1 when held and 2 when held with waiters.
func (n *Node) Lock() {
	w := n.word(offLock)
	if atomic.CompareAndSwapUint32(w, 0, 1) {
		return
	}
	for atomic.SwapUint32(w, 2) != 0 {
		must(futexWait(w, 2))
	}
}

// Unlock releases the node's mutex.
func (n *Node) Unlock() {
	w := n.word(offLock)
	if atomic.AddUint32(w, ^uint32(0)) != 0 {
		atomic.StoreUint32(w, 0)
		must(futexWake(w, 1))
	}
}

// Wait atomically releases the lock, sleeps until Broadcast is called by
// either process, and reacquires the lock. Spurious wakeups are possible.
func (n *Node) Wait() {
	seq := n.word(offSeq)
	s := atomic.LoadUint32(seq)
	n.Unlock()
	must(futexWait(seq, s))
	n.Lock()
}

// Broadcast wakes every waiter on the node in both processes.
func (n *Node) Broadcast() {
	seq := n.word(offSeq)
	atomic.AddUint32(seq, 1)
	must(futexWake(seq, math.MaxInt32))
}

func (n *Node) String() string {
	return fmt.Sprintf("node[%d] proxy=%s server=%s", n.index, n.State(Proxy), n.State(Server))
}

// A failing futex call means the mapping itself is broken; no caller can
// recover the node's state from that.
func must(err error) {
	if err != nil {
		panic("shm: " + err.Error())
	}
}

// NodeList is the mapped node segment.
type NodeList struct {
	nodes    []Node
	mem      []byte
	path     string
	capacity int
	created  bool
	once     sync.Once
}

// OpenNodes creates or attaches the node segment named by opts, sized for
// opts.Nodes nodes of opts.Capacity bytes. Node states are zero, meaning
// Idle, only when the segment is created here.
func OpenNodes(opts Options) (*NodeList, error) {
	opts = opts.withDefaults()
	stride := nodeStride(opts.Capacity)
	mem, created, err := mapSegment(opts.nodesPath(), opts.Nodes*stride)
	if err != nil {
		return nil, err
	}
	l := &NodeList{
		nodes:    make([]Node, opts.Nodes),
		mem:      mem,
		path:     opts.nodesPath(),
		capacity: opts.Capacity,
		created:  created,
	}
	for i := range l.nodes {
		off := i * stride
		l.nodes[i] = Node{
			index: i,
			base:  unsafe.Pointer(&mem[off]),
			buf:   mem[off+nodeHeaderSize : off+nodeHeaderSize+opts.Capacity : off+nodeHeaderSize+opts.Capacity],
		}
	}
	return l, nil
}

// Len returns the number of nodes.
func (l *NodeList) Len() int { return len(l.nodes) }

// Capacity returns the per-node buffer size.
func (l *NodeList) Capacity() int { return l.capacity }

// Created reports whether this process created the segment.
func (l *NodeList) Created() bool { return l.created }

// Node returns the node at index i.
func (l *NodeList) Node(i int) *Node { return &l.nodes[i] }

// Find returns the first node whose state for role r equals s, or nil.
func (l *NodeList) Find(r Role, s State) *Node {
	for i := range l.nodes {
		if l.nodes[i].State(r) == s {
			return &l.nodes[i]
		}
	}
	return nil
}

// Claim reserves an idle node for a proxy transaction by moving its proxy
// state from Idle to WaitingInitServer. Nodes whose server side has not yet
// returned to Idle are skipped. Claim returns nil when no node is free, in
// which case the caller uses a socket.
func (l *NodeList) Claim() *Node {
	for i := range l.nodes {
		n := &l.nodes[i]
		if n.State(Server) != Idle {
			continue
		}
		if n.CompareAndSwapState(Proxy, Idle, WaitingInitServer) {
			return n
		}
	}
	return nil
}

// Take accepts a claim on behalf of the server by moving the server state
// from Idle to Busy. It returns false when the node is not claimed, is
// already taken, or the proxy withdrew its claim while Take ran.
//
// Take and Withdraw each store their own state before loading the other's,
// so at least one of them observes the other: a claim is never both
// withdrawn and served.
func (n *Node) Take() bool {
	if n.State(Proxy) != WaitingInitServer {
		return false
	}
	if !n.CompareAndSwapState(Server, Idle, Busy) {
		return false
	}
	if n.State(Proxy) != WaitingInitServer {
		n.SetState(Server, Idle)
		return false
	}
	return true
}

// Withdraw gives back a claim the server has not started on. It returns
// true when the node is released; the caller must then not use it. When the
// server took the claim first, Withdraw waits for its worker to pick the
// node up, restores the claim and returns false, and the caller must go on
// with the transaction.
func (n *Node) Withdraw() bool {
	if !n.CompareAndSwapState(Proxy, WaitingInitServer, Idle) {
		return false
	}
	var bo iox.Backoff
	for {
		switch n.State(Server) {
		case Idle:
			return true
		case Busy:
			// Taken, or about to be given back by Take.
			bo.Wait()
		default:
			// The proxy state is no longer Idle only if the node was given
			// back and claimed again, in which case the transaction is not
			// ours.
			return !n.CompareAndSwapState(Proxy, Idle, WaitingInitServer)
		}
	}
}

// Close unmaps the segment. Nodes must not be used afterwards.
func (l *NodeList) Close() error {
	var err error
	l.once.Do(func() {
		err = unmapSegment(l.mem)
		l.mem = nil
	})
	return err
}

// Destroy unmaps and unlinks the segment.
func (l *NodeList) Destroy() error {
	err := l.Close()
	if uerr := unlinkSegment(l.path); err == nil {
		err = uerr
	}
	return err
}
