// Package main implements compressd, the JPEG recompression helper the proxy
// calls for image responses.
//
// It serves POST /RPC2 (see package compress for the JSON body) and a plain
// /health check.
//
// Configuration:
//   - COMPRESS_LISTEN: listen address (default ":9090")
//   - COMPRESS_QUALITY: JPEG quality of the output, 1-100 (default 10)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/shmproxy/internal/compress"
	"github.com/dreamware/shmproxy/internal/config"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

var listen = func(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		logFatal("compressd: %v", err)
	}
	log.Println("compressd stopped")
}

func newMux(quality int) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(compress.Path, &compress.Handler{Quality: quality})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("compressd", flag.ContinueOnError)
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

	ln, err := listen(cfg.Compress.Listen)
	if err != nil {
		return err
	}
	s := &http.Server{
		Handler:           newMux(cfg.Compress.Quality),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("compressd listening on %s (quality %d)", ln.Addr(), cfg.Compress.Quality)
		errc <- s.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Printf("compressd shutdown error: %v", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
