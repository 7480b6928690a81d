package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dreamware/shmproxy/internal/compress"
	"github.com/dreamware/shmproxy/internal/dispatch"
	"github.com/dreamware/shmproxy/internal/httpmsg"
	"github.com/dreamware/shmproxy/internal/shm"
	"github.com/dreamware/shmproxy/internal/transfer"
)

// logFatal is a variable so tests can intercept fatal shared-memory errors.
var logFatal = log.Fatalf

// ErrNoUpstream is returned when the origin cannot be reached over a socket.
var ErrNoUpstream = errors.New("proxy: origin unreachable")

// DefaultDialTimeout bounds the connect to an origin.
const DefaultDialTimeout = 5 * time.Second

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Options configures a Proxy.
type Options struct {
	// OriginPort is the port of the colocated origin. Only requests for a
	// local address on this port may use the shared channel.
	OriginPort int

	// Compressor, when set, is applied to successful JPEG responses.
	Compressor compress.Compressor

	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver

	// DialTimeout defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// IsLocal reports whether an address belongs to this host. It defaults
	// to checking loopback and the host's interface addresses.
	IsLocal func(addr string) bool
}

// Stats counts how responses reached the client.
type Stats struct {
	Shared     uint64 // exchanged over the shared channel
	Socket     uint64 // fetched over a socket
	Compressed uint64 // JPEG bodies replaced by a compressed rendition
	Failed     uint64 // answered with a proxy-generated error
}

// Proxy is the forwarding proxy's per-process state.
type Proxy struct {
	opts    Options
	channel *shm.Channel
	pool    *dispatch.Pool
	stats   Stats
}

// New creates a proxy with workers pool workers. channel may be nil, in
// which case every request goes over a socket. The proxy takes ownership of
// the channel and closes it when Serve returns.
func New(workers int, channel *shm.Channel, opts Options) *Proxy {
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.IsLocal == nil {
		opts.IsLocal = isLocalAddr
	}
	p := &Proxy{opts: opts, channel: channel}
	p.pool = dispatch.NewPool(workers, p)
	return p
}

// Stats returns a snapshot of the proxy counters.
func (p *Proxy) Stats() Stats {
	return Stats{
		Shared:     atomic.LoadUint64(&p.stats.Shared),
		Socket:     atomic.LoadUint64(&p.stats.Socket),
		Compressed: atomic.LoadUint64(&p.stats.Compressed),
		Failed:     atomic.LoadUint64(&p.stats.Failed),
	}
}

// PoolStats returns the worker pool counters.
func (p *Proxy) PoolStats() dispatch.Stats { return p.pool.Stats() }

// Serve accepts client connections on ln until ctx is cancelled, then lets
// the workers finish queued work and closes the channel.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	p.pool.Start()
	err := dispatch.Accept(ctx, ln, p.pool)
	p.pool.DrainAndStop()
	if p.channel != nil {
		if cerr := p.channel.Close(); cerr != nil {
			log.Printf("proxy: closing shared channel: %v", cerr)
		}
	}
	return err
}

// ServeShared is never dispatched to a proxy; only the origin accepts work
// from the shared channel.
func (p *Proxy) ServeShared(node *shm.Node) {
	log.Printf("proxy: unexpected shared item for %s", node)
}

// ServeConn forwards one client request and closes the connection.
func (p *Proxy) ServeConn(conn net.Conn) {
	defer conn.Close()

	req, err := httpmsg.ReadMessage(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Printf("proxy: %s: %v", conn.RemoteAddr(), err)
			p.fail(conn, http.StatusBadRequest, "No request found.")
		}
		return
	}

	host, port, err := httpmsg.HostPort(req.Header, 80)
	if err != nil {
		p.fail(conn, http.StatusBadRequest, "No Host field.")
		return
	}
	addrs, err := p.opts.Resolver.LookupHost(context.Background(), host)
	if err != nil || len(addrs) == 0 {
		log.Printf("proxy: cannot resolve %q: %v", host, err)
		p.fail(conn, http.StatusNotFound, "Server not found.")
		return
	}
	header, err := httpmsg.StripAbsoluteURL(req.Header)
	if err != nil {
		p.fail(conn, http.StatusBadRequest, "Can't parse request.")
		return
	}
	request := append(header, req.Body...)

	response, err := p.forward(addrs[0], port, request)
	if err != nil {
		log.Printf("proxy: %s:%d: %v", addrs[0], port, err)
		p.fail(conn, http.StatusBadGateway, "The server did not respond to proxy requests.")
		return
	}

	if _, err := conn.Write(p.compress(response)); err != nil {
		log.Printf("proxy: %s: %v", conn.RemoteAddr(), err)
	}
}

func (p *Proxy) fail(conn net.Conn, status int, text string) {
	atomic.AddUint64(&p.stats.Failed, 1)
	conn.Write(httpmsg.Error(status, text))
}

// forward obtains the origin's response to request, over the shared channel
// when possible and over a socket otherwise.
func (p *Proxy) forward(addr string, port int, request []byte) ([]byte, error) {
	if p.useShared(addr, port) {
		if response, ok, err := p.exchange(request); ok {
			return response, err
		}
	}

	response, err := p.fetch(addr, port, request)
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&p.stats.Socket, 1)
	return response, nil
}

// exchange runs request over a claimed node. ok is false when no node was
// free or the origin went offline before taking the claim; the request has
// then not been seen by the origin and may go over a socket.
func (p *Proxy) exchange(request []byte) (response []byte, ok bool, err error) {
	node := p.channel.Nodes().Claim()
	if node == nil {
		return nil, false, nil
	}
	// The origin lowers its flag before its last scan of the nodes, so a
	// claim made while the flag is still up gets answered.
	if !p.channel.PeerOnline() && node.Withdraw() {
		return nil, false, nil
	}
	response, err = transfer.Exchange(node, request)
	if err != nil {
		logFatal("proxy: %s: %v", node, err)
		return nil, true, err
	}
	atomic.AddUint64(&p.stats.Shared, 1)
	return response, true, nil
}

// useShared reports whether a request for addr:port may use the shared
// channel. The directory is consulted before any node is touched.
func (p *Proxy) useShared(addr string, port int) bool {
	return p.channel != nil &&
		port == p.opts.OriginPort &&
		p.opts.IsLocal(addr) &&
		p.channel.PeerOnline()
}

// fetch sends request over a fresh connection and frames the response.
func (p *Proxy) fetch(addr string, port int, request []byte) ([]byte, error) {
	target := net.JoinHostPort(addr, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", target, p.opts.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUpstream, err)
	}
	defer conn.Close()

	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	msg, err := httpmsg.ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return msg.Bytes(), nil
}

// compress replaces the body of a successful JPEG response with the
// compressor's rendition. Any failure forwards the response unchanged.
func (p *Proxy) compress(response []byte) []byte {
	if p.opts.Compressor == nil {
		return response
	}
	msg, err := httpmsg.SplitMessage(response)
	if err != nil || len(msg.Body) == 0 {
		return response
	}
	if code, ok := httpmsg.StatusCode(msg.Header); !ok || code != http.StatusOK || !httpmsg.IsJPEG(msg.Header) {
		return response
	}

	image, err := p.opts.Compressor.Compress(context.Background(), msg.Body)
	if err != nil {
		log.Printf("proxy: compression failed, forwarding original: %v", err)
		return response
	}
	atomic.AddUint64(&p.stats.Compressed, 1)
	header := httpmsg.SetHeaderField(msg.Header, "Content-Length", strconv.Itoa(len(image)))
	return append(header, image...)
}

// isLocalAddr reports whether addr is a loopback address or one assigned to
// an interface of this host.
func isLocalAddr(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	ifaddrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range ifaddrs {
		if n, ok := a.(*net.IPNet); ok && n.IP.Equal(ip) {
			return true
		}
	}
	return false
}
