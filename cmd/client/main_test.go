package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shmproxy/internal/config"
	"github.com/dreamware/shmproxy/internal/httpmsg"
)

const canned = "HTTP/1.0 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nhello"

// recorder accepts connections, remembers each request line and answers
// with canned.
type recorder struct {
	ln    net.Listener
	mu    sync.Mutex
	lines []string
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &recorder{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			header, _, err := httpmsg.ReadHeader(conn)
			if err == nil {
				r.mu.Lock()
				r.lines = append(r.lines, string(header))
				r.mu.Unlock()
			}
			conn.Write([]byte(canned))
			conn.Close()
		}
	}()
	return r
}

func (r *recorder) addr() string { return r.ln.Addr().String() }

func (r *recorder) requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	t.Setenv(config.EnvFile, "")
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadFileList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "plain", input: "a.html\nb.jpg\n", want: []string{"a.html", "b.jpg"}},
		{name: "crlf", input: "a.html\r\nb.jpg\r\n", want: []string{"a.html", "b.jpg"}},
		{name: "stops at blank line", input: "a.html\n\nb.jpg\n", want: []string{"a.html"}},
		{name: "no trailing newline", input: "a.html", want: []string{"a.html"}},
		{name: "empty", input: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readFileList(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files.txt")
	require.NoError(t, os.WriteFile(path, []byte("x.html\ny.html\n"), 0o644))

	files, err := fileList(config.ClientConfig{FileList: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"x.html", "y.html"}, files)

	files, err = fileList(config.ClientConfig{Files: []string{"z"}, FileList: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, files, "inline files win")

	_, err = fileList(config.ClientConfig{})
	assert.ErrorIs(t, err, ErrNoFiles)

	_, err = fileList(config.ClientConfig{FileList: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestRequest(t *testing.T) {
	direct := &client{direct: true, target: "origin.test:8080"}
	assert.Equal(t, "GET /a.html HTTP/1.0\r\nHost: origin.test\r\n\r\n", direct.request("a.html"))
	assert.Equal(t, "GET /a.html HTTP/1.0\r\nHost: origin.test\r\n\r\n", direct.request("/a.html"))

	viaProxy := &client{proxy: "127.0.0.1:8081", target: "origin.test:8080"}
	assert.Equal(t, "GET http://origin.test:8080/a.html HTTP/1.0\r\nHost: origin.test:8080\r\n\r\n", viaProxy.request("a.html"))
}

func TestRunCountsBytes(t *testing.T) {
	for _, mode := range []string{"direct", "proxy"} {
		t.Run(mode, func(t *testing.T) {
			rec := newRecorder(t)
			cfg := fmt.Sprintf("client:\n  mode: %s\n  proxy: %q\n  target: %q\n  files: [a.html, b.jpg]\n  workers: 3\n  accesses: 4\n",
				mode, rec.addr(), rec.addr())
			if mode == "proxy" {
				cfg = fmt.Sprintf("client:\n  mode: proxy\n  proxy: %q\n  target: \"origin.test:8080\"\n  files: [a.html, b.jpg]\n  workers: 3\n  accesses: 4\n",
					rec.addr())
			}

			var out bytes.Buffer
			require.NoError(t, run(context.Background(), []string{"-config", writeConfig(t, cfg)}, &out))

			total := 3 * 4 * len(canned)
			assert.Equal(t, fmt.Sprintf("Total number of bytes received from server: %d\n", total), out.String())

			reqs := rec.requests()
			require.Len(t, reqs, 12)
			for _, r := range reqs {
				if mode == "proxy" {
					assert.True(t, strings.HasPrefix(r, "GET http://origin.test:8080/"), r)
				} else {
					assert.True(t, strings.HasPrefix(r, "GET /"), r)
				}
			}
		})
	}
}

func TestRunUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg := fmt.Sprintf("client:\n  mode: direct\n  target: %q\n  files: [a.html]\n  workers: 2\n", addr)
	var out bytes.Buffer
	err = run(context.Background(), []string{"-config", writeConfig(t, cfg)}, &out)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "worker 0")
	assert.Contains(t, err.Error(), "worker 1")
	assert.Contains(t, out.String(), "received from server: 0")
}
