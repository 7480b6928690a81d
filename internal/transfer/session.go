package transfer

import (
	"errors"

	"github.com/dreamware/shmproxy/internal/shm"
)

var (
	// ErrCorruptNode is returned when a node advertises more valid bytes than
	// its buffer holds. Shared state can no longer be trusted after this.
	ErrCorruptNode = errors.New("transfer: node reports more bytes than its capacity")

	// ErrEnded is returned by Send and Receive after End.
	ErrEnded = errors.New("transfer: session ended")
)

// Session is one side of a transaction on a claimed node.
type Session struct {
	node     *shm.Node
	onState  func(shm.Role, shm.State)
	role     shm.Role
	peer     shm.Role
	segments int
	ended    bool
}

// Begin locks node for a transaction by role r. For the proxy this is also
// the claim announcement.
func Begin(node *shm.Node, r shm.Role) *Session {
	node.Lock()
	s := &Session{node: node, role: r, peer: r.Peer()}
	if r == shm.Proxy {
		node.Broadcast()
	}
	return s
}

// OnState registers fn to observe every state this session stores. fn runs
// with the node locked.
func (s *Session) OnState(fn func(shm.Role, shm.State)) {
	s.onState = fn
}

// Role returns the side this session acts for.
func (s *Session) Role() shm.Role { return s.role }

// Segments returns how many segments the last Send or Receive moved.
func (s *Session) Segments() int { return s.segments }

func (s *Session) set(st shm.State) {
	s.node.SetState(s.role, st)
	if s.onState != nil {
		s.onState(s.role, st)
	}
}

// Send produces payload into the node and returns once the peer has
// consumed the final segment.
func (s *Session) Send(payload []byte) error {
	if s.ended {
		return ErrEnded
	}
	n := s.node
	listening := shm.Waiting(s.peer)
	s.segments = 0

	for off := 0; ; {
		for n.State(s.peer) != listening || n.Pending() {
			n.Wait()
		}

		size := min(len(payload)-off, n.Capacity())
		s.set(shm.Busy)
		buf := n.Buffer()
		clear(buf)
		copy(buf, payload[off:off+size])
		n.SetBytesValid(size)
		n.Post()
		s.segments++
		off += size

		if off < len(payload) {
			s.set(shm.Waiting(s.role))
			n.Broadcast()
			continue
		}
		s.set(shm.Complete)
		n.Broadcast()
		break
	}

	for n.Pending() {
		n.Wait()
	}
	return nil
}

// Receive consumes segments from the node until the peer marks one
// complete, returning the reassembled payload.
func (s *Session) Receive() ([]byte, error) {
	if s.ended {
		return nil, ErrEnded
	}
	n := s.node
	out := make([]byte, 0, n.Capacity())
	s.segments = 0

	for {
		s.set(shm.Waiting(s.role))
		n.Broadcast()
		for !n.Pending() {
			n.Wait()
		}

		s.set(shm.Busy)
		valid := n.BytesValid()
		if valid > n.Capacity() {
			return out, ErrCorruptNode
		}
		out = append(out, n.Buffer()[:valid]...)
		last := n.State(s.peer) == shm.Complete
		n.Ack()
		s.segments++

		if last {
			n.Broadcast()
			return out, nil
		}
	}
}

// End returns this side of the node to Idle, wakes the peer and releases
// the lock. It is safe to call more than once.
func (s *Session) End() {
	if s.ended {
		return
	}
	s.ended = true
	s.set(shm.Idle)
	s.node.Broadcast()
	s.node.Unlock()
}
