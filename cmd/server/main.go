// Package main implements the shmproxy origin: an HTTP/1.0 server for the
// files under a document root.
//
// With shm.optimized set (or SHM_OPTIMIZED=true) the server also attaches to
// the shared channel and answers requests a colocated proxy posts there.
// Whichever of the two processes starts first creates the segments and
// decides their size.
//
// Usage:
//
//	server [-config file]            serve until SIGINT or SIGTERM
//	server [-config file] cleanup    remove abandoned channel segments
//
// cleanup is for recovering after a crash: a process that dies mid-exchange
// leaves its nodes and online flag behind, and nothing else reclaims them.
//
// Configuration:
//   - SHMPROXY_CONFIG: YAML file read before the variables below (default none)
//   - SERVER_LISTEN: listen address (default ":8080")
//   - SERVER_ROOT: document root (default ".")
//   - SERVER_WORKERS: worker pool size (default 10)
//   - SHM_OPTIMIZED: also serve over the shared channel (default false)
//   - SHM_DIR: directory holding the segment files (default /dev/shm, or the
//     system temp directory where that does not exist)
//   - SHM_NAME: prefix of the segment files (default "shmproxy")
//   - SHM_NODES: nodes in a new channel (default 10)
//   - SHM_CAPACITY: buffer size of each node in bytes (default 10000)
//
// Example:
//
//	SERVER_ROOT=/srv/www SERVER_WORKERS=20 SHM_OPTIMIZED=true ./server
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

	"github.com/dreamware/shmproxy/internal/config"
	"github.com/dreamware/shmproxy/internal/files"
	"github.com/dreamware/shmproxy/internal/origin"
	"github.com/dreamware/shmproxy/internal/shm"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// listen is replaced in tests to learn the bound address.
var listen = func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		logFatal("server: %v", err)
	}
	log.Println("server stopped")
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(out)
	cfgPath := fs.String("config", "", "YAML configuration file (default $"+config.EnvFile+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	switch fs.Arg(0) {
	case "":
		return serve(ctx, cfg)
	case "cleanup":
		if err := shm.Remove(cfg.Shm.Options()); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		fmt.Fprintln(out, "shared channel segments removed")
		return nil
	default:
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	provider, err := files.NewDirProvider(cfg.Server.Root)
	if err != nil {
		return err
	}

	var ch *shm.Channel
	if cfg.Shm.Optimized {
		ch, err = shm.OpenChannel(shm.Server, cfg.Shm.Options())
		if err != nil {
			return fmt.Errorf("attach shared channel: %w", err)
		}
		log.Printf("server: shared channel %q attached (%d nodes x %d bytes)",
			cfg.Shm.Name, ch.Nodes().Len(), ch.Nodes().Capacity())
	}

	ln, err := listen(cfg.Server.Listen)
	if err != nil {
		if ch != nil {
			ch.Close()
		}
		return err
	}

	s := origin.New(provider, cfg.Server.Workers, ch)
	log.Printf("server listening on %s (root %s, %d workers)", ln.Addr(), cfg.Server.Root, cfg.Server.Workers)
	if err := s.Serve(ctx, ln); err != nil {
		return err
	}

	st := s.Stats()
	log.Printf("server: served %d socket and %d shared requests (%d panics)", st.Processed, st.Shared, st.Panics)
	return nil
}
