package origin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/dreamware/shmproxy/internal/dispatch"
	"github.com/dreamware/shmproxy/internal/files"
	"github.com/dreamware/shmproxy/internal/httpmsg"
	"github.com/dreamware/shmproxy/internal/shm"
	"github.com/dreamware/shmproxy/internal/transfer"
)

// logFatal is a variable so tests can intercept fatal shared-memory errors.
var logFatal = log.Fatalf

// Server is the origin's per-process state: the file provider, the worker
// pool and, in optimized mode, the shared channel.
type Server struct {
	provider files.Provider
	channel  *shm.Channel
	pool     *dispatch.Pool
	watcher  *Watcher
}

// New creates an origin with workers pool workers. channel may be nil, in
// which case only sockets are served. The server takes ownership of the
// channel and closes it when Serve returns.
func New(provider files.Provider, workers int, channel *shm.Channel) *Server {
	s := &Server{provider: provider, channel: channel}
	s.pool = dispatch.NewPool(workers, s)
	if channel != nil {
		s.watcher = NewWatcher(channel.Nodes(), s.pool.Submit)
	}
	return s
}

// Stats returns the worker pool counters.
func (s *Server) Stats() dispatch.Stats { return s.pool.Stats() }

// Serve accepts connections on ln, and shared-channel requests when a
// channel is configured, until ctx is cancelled. It then stops the watcher,
// lets the workers finish queued work and closes the channel.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.pool.Start()
	if s.watcher != nil {
		s.watcher.Start(ctx)
	}

	err := dispatch.Accept(ctx, ln, s.pool)

	if s.watcher != nil {
		// Stop new claims first, then pick up any that landed meanwhile;
		// a claimed node must be answered or the proxy blocks on it.
		s.channel.Directory().SetOnline(shm.Server, false)
		s.watcher.Stop()
		s.watcher.Scan()
	}
	s.pool.DrainAndStop()
	if s.channel != nil {
		if cerr := s.channel.Close(); cerr != nil {
			log.Printf("origin: closing shared channel: %v", cerr)
		}
	}
	return err
}

// ServeConn answers one request read from a socket and closes it.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()

	header, _, err := httpmsg.ReadHeader(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Printf("origin: %s: %v", conn.RemoteAddr(), err)
			conn.Write(httpmsg.Error(http.StatusBadRequest, "No request found."))
		}
		return
	}
	if err := s.respond(conn, header); err != nil {
		log.Printf("origin: %s: %v", conn.RemoteAddr(), err)
	}
}

// ServeShared answers one request posted on a node the watcher has marked
// Busy.
func (s *Server) ServeShared(node *shm.Node) {
	err := transfer.Serve(node, s.handleShared)
	if errors.Is(err, transfer.ErrCorruptNode) {
		logFatal("origin: %s: %v", node, err)
	}
}

// handleShared builds the whole response in memory. The peer is blocked on
// the node until it gets one, so a panic still produces a 500.
func (s *Server) handleShared(request []byte) (response []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("origin: recovered from panic in shared request: %v", r)
			response = httpmsg.Error(http.StatusInternalServerError, "The server encountered an error.")
		}
	}()

	header, _, err := httpmsg.ParseHeader(request)
	if err != nil {
		return httpmsg.Error(http.StatusBadRequest, "No request found.")
	}
	var buf bytes.Buffer
	if err := s.respond(&buf, header); err != nil {
		log.Printf("origin: shared request: %v", err)
		return httpmsg.Error(http.StatusInternalServerError, "The server encountered an error.")
	}
	return buf.Bytes()
}

// respond writes the response to one request header.
func (s *Server) respond(w io.Writer, header []byte) error {
	rl, err := httpmsg.ParseRequestLine(header)
	if err != nil {
		return writeAll(w, httpmsg.Error(http.StatusBadRequest, "Can't parse request."))
	}
	if !strings.EqualFold(rl.Method, http.MethodGet) {
		return writeAll(w, httpmsg.Error(http.StatusNotImplemented, "That method is not implemented."))
	}
	if !strings.HasPrefix(rl.Target, "/") {
		return writeAll(w, httpmsg.Error(http.StatusBadRequest, "Bad filename."))
	}

	res, err := s.provider.Open(rl.Target)
	if err != nil {
		status, text, extra := files.Status(err)
		return writeAll(w, httpmsg.Error(status, text, extra...))
	}
	defer res.Body.Close()

	if err := writeAll(w, httpmsg.ResponseHeader(http.StatusOK, nil, res.ContentType, res.Length)); err != nil {
		return err
	}
	if _, err := io.CopyN(w, res.Body, res.Length); err != nil {
		return fmt.Errorf("send %s: %w", rl.Target, err)
	}
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}
