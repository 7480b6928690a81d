//go:build unix

package transfer

import (
	"bytes"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shmproxy/internal/shm"
)

// openPair maps the same node segment twice, once per side, the way the
// proxy and origin processes each map it.
func openPair(t *testing.T, nodes, capacity int) (proxy, server *shm.NodeList) {
	t.Helper()
	opts := shm.Options{Dir: t.TempDir(), Name: "xfer", Nodes: nodes, Capacity: capacity}
	proxy, err := shm.OpenNodes(opts)
	require.NoError(t, err)
	server, err = shm.OpenNodes(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		server.Close()
		proxy.Destroy()
	})
	return proxy, server
}

// acceptOne waits for a claimed node on the server mapping and marks it Busy,
// as the origin's watcher does.
func acceptOne(t *testing.T, l *shm.NodeList) *shm.Node {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for i := 0; i < l.Len(); i++ {
			n := l.Node(i)
			if n.State(shm.Proxy) == shm.WaitingInitServer && n.CompareAndSwapState(shm.Server, shm.Idle, shm.Busy) {
				return n
			}
		}
		runtime.Gosched()
	}
	t.Error("no claimed node appeared")
	return nil
}

func payload(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func expectedSegments(length, capacity int) int {
	if length == 0 {
		return 1
	}
	return (length + capacity - 1) / capacity
}

// TestExchange runs full request/response transactions of many sizes and
// checks byte-exact delivery and segment counts in both directions.
func TestExchange(t *testing.T) {
	const capacity = 8
	sizes := []int{0, 1, capacity - 1, capacity, capacity + 1, 3 * capacity, 10*capacity + 3, 1000}

	for _, reqLen := range sizes {
		respLen := (reqLen*7 + 5) % 97
		t.Run(fmt.Sprintf("%d bytes", reqLen), func(t *testing.T) {
			proxyList, serverList := openPair(t, 1, capacity)
			request, response := payload(reqLen), payload(respLen)

			var (
				got         []byte
				serverSegs  int
				serverErr   error
				serverReady = make(chan struct{})
			)
			go func() {
				defer close(serverReady)
				n := acceptOne(t, serverList)
				if n == nil {
					return
				}
				s := Begin(n, shm.Server)
				defer s.End()
				got, serverErr = s.Receive()
				serverSegs = s.Segments()
				if serverErr == nil {
					serverErr = s.Send(response)
				}
			}()

			node := proxyList.Claim()
			require.NotNil(t, node)
			s := Begin(node, shm.Proxy)
			require.NoError(t, s.Send(request))
			assert.Equal(t, expectedSegments(reqLen, capacity), s.Segments())
			reply, err := s.Receive()
			require.NoError(t, err)
			assert.Equal(t, expectedSegments(respLen, capacity), s.Segments())
			s.End()
			<-serverReady

			require.NoError(t, serverErr)
			assert.True(t, bytes.Equal(request, got), "request corrupted for %d bytes", reqLen)
			assert.Equal(t, expectedSegments(reqLen, capacity), serverSegs)
			assert.True(t, bytes.Equal(response, reply), "response corrupted for %d bytes", respLen)

			assert.Equal(t, shm.Idle, node.State(shm.Proxy))
			assert.Equal(t, shm.Idle, node.State(shm.Server))
		})
	}
}

// TestHelloWorldSegments checks the two-segment scenario on an 8-byte node:
// the consumer sees "HELLOWOR" then "LD!" and the producer walks through
// BUSY, WAITING_CONTINUE_SERVER, BUSY, COMPLETE.
func TestHelloWorldSegments(t *testing.T) {
	proxyList, serverList := openPair(t, 1, 8)

	var (
		mu       sync.Mutex
		proxySeq []shm.State
		seen     []string
		done     = make(chan []byte)
	)

	go func() {
		n := acceptOne(t, serverList)
		if n == nil {
			close(done)
			return
		}
		s := Begin(n, shm.Server)
		recording := true
		s.OnState(func(_ shm.Role, st shm.State) {
			if recording && st == shm.Busy {
				mu.Lock()
				seen = append(seen, string(n.Buffer()[:n.BytesValid()]))
				mu.Unlock()
			}
		})
		req, err := s.Receive()
		recording = false
		assert.NoError(t, err)
		assert.NoError(t, s.Send([]byte("ok")))
		s.End()
		done <- req
	}()

	node := proxyList.Claim()
	require.NotNil(t, node)
	s := Begin(node, shm.Proxy)
	s.OnState(func(r shm.Role, st shm.State) {
		mu.Lock()
		proxySeq = append(proxySeq, st)
		mu.Unlock()
	})
	require.NoError(t, s.Send([]byte("HELLOWORLD!")))
	assert.Equal(t, 2, s.Segments())

	mu.Lock()
	sendSeq := append([]shm.State(nil), proxySeq...)
	mu.Unlock()
	assert.Equal(t, []shm.State{shm.Busy, shm.WaitingContinueServer, shm.Busy, shm.Complete}, sendSeq)

	reply, err := s.Receive()
	require.NoError(t, err)
	s.End()

	assert.Equal(t, "HELLOWORLD!", string(<-done))
	assert.Equal(t, "ok", string(reply))
	mu.Lock()
	assert.Equal(t, []string{"HELLOWOR", "LD!"}, seen)
	mu.Unlock()
}

// TestNodesReturnToIdle runs many concurrent transactions over a small node
// list and checks every node ends up idle on both sides.
func TestNodesReturnToIdle(t *testing.T) {
	proxyList, serverList := openPair(t, 2, 16)
	const (
		clients  = 4
		requests = 25
	)

	stop := make(chan struct{})
	var serving sync.WaitGroup
	serving.Add(1)
	go func() {
		defer serving.Done()
		var workers sync.WaitGroup
		defer workers.Wait()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for i := 0; i < serverList.Len(); i++ {
				n := serverList.Node(i)
				if n.State(shm.Proxy) != shm.WaitingInitServer || !n.CompareAndSwapState(shm.Server, shm.Idle, shm.Busy) {
					continue
				}
				workers.Add(1)
				go func() {
					defer workers.Done()
					err := Serve(n, func(req []byte) []byte {
						return append([]byte("echo:"), req...)
					})
					assert.NoError(t, err)
				}()
			}
			runtime.Gosched()
		}
	}()

	var clientsDone sync.WaitGroup
	for c := 0; c < clients; c++ {
		clientsDone.Add(1)
		go func(c int) {
			defer clientsDone.Done()
			for r := 0; r < requests; r++ {
				req := payload(c*requests + r)
				var node *shm.Node
				for node == nil {
					node = proxyList.Claim()
					runtime.Gosched()
				}
				resp, err := Exchange(node, req)
				if assert.NoError(t, err) {
					assert.Equal(t, append([]byte("echo:"), req...), resp)
				}
			}
		}(c)
	}
	clientsDone.Wait()
	close(stop)
	serving.Wait()

	for i := 0; i < proxyList.Len(); i++ {
		n := proxyList.Node(i)
		assert.Equal(t, shm.Idle, n.State(shm.Proxy), "node %d", i)
		assert.Equal(t, shm.Idle, n.State(shm.Server), "node %d", i)
		assert.False(t, n.Pending(), "node %d", i)
	}
}

func TestSessionAfterEnd(t *testing.T) {
	proxyList, _ := openPair(t, 1, 8)
	node := proxyList.Claim()
	require.NotNil(t, node)

	s := Begin(node, shm.Proxy)
	s.End()
	s.End()

	assert.ErrorIs(t, s.Send([]byte("x")), ErrEnded)
	_, err := s.Receive()
	assert.ErrorIs(t, err, ErrEnded)
	assert.Equal(t, shm.Idle, node.State(shm.Proxy))
}

func TestReceiveCorruptNode(t *testing.T) {
	proxyList, serverList := openPair(t, 1, 8)

	// Forge a posted segment claiming more bytes than the buffer holds
	forged := proxyList.Node(0)
	forged.SetState(shm.Proxy, shm.Complete)
	forged.SetBytesValid(9)
	forged.Post()

	s := Begin(serverList.Node(0), shm.Server)
	defer s.End()
	_, err := s.Receive()
	assert.ErrorIs(t, err, ErrCorruptNode)
}
