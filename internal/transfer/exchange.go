package transfer

import "github.com/dreamware/shmproxy/internal/shm"

// Exchange runs the proxy side of a transaction on a node obtained from
// NodeList.Claim: it sends request and returns the server's response.
func Exchange(node *shm.Node, request []byte) ([]byte, error) {
	s := Begin(node, shm.Proxy)
	defer s.End()

	if err := s.Send(request); err != nil {
		return nil, err
	}
	return s.Receive()
}

// Serve runs the server side of a transaction on a node whose server state
// the acceptor has already moved to Busy. handle turns the request into the
// response and must always return one, since the proxy is waiting for it.
func Serve(node *shm.Node, handle func(request []byte) []byte) error {
	s := Begin(node, shm.Server)
	defer s.End()

	request, err := s.Receive()
	if err != nil {
		return err
	}
	return s.Send(handle(request))
}
