// Package main implements the shmproxy forwarding proxy.
//
// Clients send absolute-form HTTP/1.0 requests; the proxy fetches each one
// from the host named in the request and relays the response. With
// shm.optimized set, requests for the colocated origin (a local address on
// proxy.origin_port) go over the shared channel while the origin is online.
// With compress.addr set, successful JPEG responses are recompressed by the
// compressd helper before they are relayed.
//
// Configuration:
//   - SHMPROXY_CONFIG: YAML file read before the variables below (default none)
//   - PROXY_LISTEN: listen address (default ":8081")
//   - PROXY_WORKERS: worker pool size (default 10)
//   - ORIGIN_PORT: port of the colocated origin (default 8080)
//   - COMPRESS_ADDR: compressd address; empty disables compression (default "")
//   - SHM_OPTIMIZED: use the shared channel for the origin (default false)
//   - SHM_DIR: directory holding the segment files (default /dev/shm, or the
//     system temp directory where that does not exist)
//   - SHM_NAME: prefix of the segment files (default "shmproxy")
//   - SHM_NODES: nodes in a new channel (default 10)
//   - SHM_CAPACITY: buffer size of each node in bytes (default 10000)
//
// The SHM_* values must match the origin's. Whichever process starts first
// sizes the channel.
//
// Example:
//
//	PROXY_LISTEN=:8081 ORIGIN_PORT=8080 SHM_OPTIMIZED=true \
//	COMPRESS_ADDR=127.0.0.1:9090 ./proxy
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/shmproxy/internal/compress"
	"github.com/dreamware/shmproxy/internal/config"
	"github.com/dreamware/shmproxy/internal/proxy"
	"github.com/dreamware/shmproxy/internal/shm"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

var listen = func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		logFatal("proxy: %v", err)
	}
	log.Println("proxy stopped")
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)
	fs.SetOutput(out)
	cfgPath := fs.String("config", "", "YAML configuration file (default $"+config.EnvFile+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments %v", fs.Args())
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	opts := proxy.Options{OriginPort: cfg.Proxy.OriginPort}
	if cfg.Compress.Addr != "" {
		opts.Compressor = compress.NewClient(cfg.Compress.Addr)
		log.Printf("proxy: compressing JPEG responses via %s", cfg.Compress.Addr)
	}

	var ch *shm.Channel
	if cfg.Shm.Optimized {
		ch, err = shm.OpenChannel(shm.Proxy, cfg.Shm.Options())
		if err != nil {
			return fmt.Errorf("attach shared channel: %w", err)
		}
		log.Printf("proxy: shared channel %q attached (%d nodes x %d bytes, origin online: %t)",
			cfg.Shm.Name, ch.Nodes().Len(), ch.Nodes().Capacity(), ch.PeerOnline())
	}

	ln, err := listen(cfg.Proxy.Listen)
	if err != nil {
		if ch != nil {
			ch.Close()
		}
		return err
	}

	p := proxy.New(cfg.Proxy.Workers, ch, opts)
	log.Printf("proxy listening on %s (%d workers)", ln.Addr(), cfg.Proxy.Workers)
	if err := p.Serve(ctx, ln); err != nil {
		return err
	}

	st := p.Stats()
	log.Printf("proxy: %d shared, %d socket, %d compressed, %d failed", st.Shared, st.Socket, st.Compressed, st.Failed)
	return nil
}
