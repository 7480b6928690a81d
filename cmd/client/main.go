// Package main implements the shmproxy load client.
//
// The client starts client.workers goroutines. Each requests client.accesses
// files chosen at random from the file list, one connection per request,
// either through the proxy (absolute-form requests) or straight to the
// origin. When every worker is done it prints the total number of bytes
// received, headers included.
//
// The file list comes from client.files or from client.file_list, a text
// file with one name per line that ends at the first blank line.
//
// Configuration:
//   - SHMPROXY_CONFIG: YAML file read before the variables below (default none)
//   - CLIENT_MODE: "proxy" or "direct" (default "proxy")
//   - CLIENT_PROXY: proxy address (default "127.0.0.1:8081")
//   - CLIENT_TARGET: origin address (default "127.0.0.1:8080")
//   - CLIENT_FILES: comma-separated file names (default none)
//   - CLIENT_FILE_LIST: file list path, used when CLIENT_FILES is empty
//   - CLIENT_WORKERS: concurrent workers (default 1)
//   - CLIENT_ACCESSES: requests per worker (default 10)
//
// Example:
//
//	CLIENT_MODE=proxy CLIENT_PROXY=127.0.0.1:8081 CLIENT_TARGET=127.0.0.1:8080 \
//	CLIENT_FILE_LIST=files.txt CLIENT_WORKERS=8 CLIENT_ACCESSES=100 ./client
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dreamware/shmproxy/internal/config"
	"github.com/dreamware/shmproxy/internal/httpmsg"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// ErrNoFiles is returned when the file list is empty.
var ErrNoFiles = errors.New("client: no files to request")

const dialTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		logFatal("client: %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(out)
	cfgPath := fs.String("config", "", "YAML configuration file (default $"+config.EnvFile+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	files, err := fileList(cfg.Client)
	if err != nil {
		return err
	}
	c := &client{
		direct: cfg.Client.Mode == "direct",
		proxy:  cfg.Client.Proxy,
		target: cfg.Client.Target,
		files:  files,
	}

	total, err := c.load(ctx, cfg.Client.Workers, cfg.Client.Accesses)
	fmt.Fprintf(out, "Total number of bytes received from server: %d\n", total)
	return err
}

// fileList returns the configured names, reading FileList when Files is
// empty.
func fileList(cfg config.ClientConfig) ([]string, error) {
	files := cfg.Files
	if len(files) == 0 && cfg.FileList != "" {
		f, err := os.Open(cfg.FileList)
		if err != nil {
			return nil, fmt.Errorf("file list: %w", err)
		}
		defer f.Close()
		files, err = readFileList(f)
		if err != nil {
			return nil, fmt.Errorf("file list %s: %w", cfg.FileList, err)
		}
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	return files, nil
}

// readFileList reads one name per line up to the first blank line.
func readFileList(r io.Reader) ([]string, error) {
	var files []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			break
		}
		files = append(files, line)
	}
	return files, sc.Err()
}

type client struct {
	direct bool
	proxy  string // host:port
	target string // host:port of the origin
	files  []string
}

// load runs workers goroutines of accesses requests each and returns the
// bytes received across all of them. A worker stops at its first error.
func (c *client) load(ctx context.Context, workers, accesses int) (int64, error) {
	var (
		total atomic.Int64
		wg    sync.WaitGroup
		errs  = make([]error, workers)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(1, uint64(w)))
			for i := 0; i < accesses && ctx.Err() == nil; i++ {
				n, err := c.access(c.files[rng.IntN(len(c.files))])
				total.Add(n)
				if err != nil {
					errs[w] = fmt.Errorf("worker %d: %w", w, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	return total.Load(), errors.Join(errs...)
}

// request renders the request line and Host field for one file.
func (c *client) request(file string) string {
	if !strings.HasPrefix(file, "/") {
		file = "/" + file
	}
	if c.direct {
		host, _, err := net.SplitHostPort(c.target)
		if err != nil {
			host = c.target
		}
		return fmt.Sprintf("GET %s HTTP/1.0\r\nHost: %s\r\n\r\n", file, host)
	}
	return fmt.Sprintf("GET http://%s%s HTTP/1.0\r\nHost: %s\r\n\r\n", c.target, file, c.target)
}

// access fetches one file and returns the number of bytes received.
func (c *client) access(file string) (int64, error) {
	addr := c.proxy
	if c.direct {
		addr = c.target
	}
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, c.request(file)); err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	msg, err := httpmsg.ReadMessage(conn)
	if msg == nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	n := int64(len(msg.Header) + len(msg.Body))
	if err != nil {
		return n, fmt.Errorf("read response: %w", err)
	}
	return n, nil
}
