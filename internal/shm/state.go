package shm

import "fmt"

// Role identifies which process a state field belongs to.
type Role uint32

const (
	Proxy Role = iota
	Server
)

// Peer returns the other side of the channel.
func (r Role) Peer() Role {
	if r == Proxy {
		return Server
	}
	return Proxy
}

func (r Role) String() string {
	switch r {
	case Proxy:
		return "proxy"
	case Server:
		return "server"
	}
	return fmt.Sprintf("role(%d)", uint32(r))
}

// State is the value of one side's state field on a node. Idle must stay zero
// so that a freshly created segment starts with every node idle.
type State uint32

const (
	Idle State = iota
	Busy
	WaitingInitServer
	// WaitingContinueProxy means the server is waiting for the proxy to continue.
	WaitingContinueProxy
	// WaitingContinueServer means the proxy is waiting for the server to continue.
	WaitingContinueServer
	Complete
)

var stateNames = [...]string{
	Idle:                  "IDLE",
	Busy:                  "BUSY",
	WaitingInitServer:     "WAITING_INIT_SERVER",
	WaitingContinueProxy:  "WAITING_CONTINUE_PROXY",
	WaitingContinueServer: "WAITING_CONTINUE_SERVER",
	Complete:              "COMPLETE",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", uint32(s))
}

// Waiting returns the state a role holds while it waits for its peer.
func Waiting(r Role) State {
	if r == Proxy {
		return WaitingContinueServer
	}
	return WaitingContinueProxy
}
