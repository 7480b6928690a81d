package main

import (
	"bytes"
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shmproxy/internal/config"
	"github.com/dreamware/shmproxy/internal/httpmsg"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	t.Setenv(config.EnvFile, "")
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func captureListen(t *testing.T) <-chan net.Addr {
	t.Helper()
	addrs := make(chan net.Addr, 1)
	old := listen
	listen = func(addr string) (net.Listener, error) {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			addrs <- ln.Addr()
		}
		return ln, err
	}
	t.Cleanup(func() { listen = old })
	return addrs
}

// fakeOrigin answers every request with a fixed HTTP/1.0 response.
func fakeOrigin(t *testing.T, response string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			httpmsg.ReadHeader(conn)
			conn.Write([]byte(response))
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func startProxy(t *testing.T, cfg string) string {
	t.Helper()
	path := writeConfig(t, cfg)
	addrs := captureListen(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"-config", path}, &bytes.Buffer{}) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("run did not return after cancel")
		}
	})

	select {
	case addr := <-addrs:
		return addr.String()
	case err := <-done:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("proxy did not start listening")
	}
	return ""
}

func get(t *testing.T, proxyAddr, target string) *httpmsg.Message {
	t.Helper()
	conn, err := net.Dial("tcp", proxyAddr)
	require.NoError(t, err)
	defer conn.Close()
	host := strings.TrimPrefix(target, "http://")
	host = host[:strings.IndexByte(host, '/')]
	fmt.Fprintf(conn, "GET %s HTTP/1.0\r\nHost: %s\r\n\r\n", target, host)
	msg, err := httpmsg.ReadMessage(conn)
	require.NoError(t, err)
	return msg
}

func TestRunRelays(t *testing.T) {
	port := fakeOrigin(t, "HTTP/1.0 200 OK\r\nContent-Length: 2\r\nContent-Type: text/plain\r\n\r\nok")
	addr := startProxy(t, fmt.Sprintf("proxy:\n  listen: \"127.0.0.1:0\"\n  origin_port: %d\n", port))

	msg := get(t, addr, fmt.Sprintf("http://127.0.0.1:%d/a.txt", port))
	assert.Equal(t, "ok", string(msg.Body))
}

func TestRunCompresses(t *testing.T) {
	port := fakeOrigin(t, "HTTP/1.0 200 OK\r\nContent-Length: 6\r\nContent-Type: image/jpeg\r\n\r\nbigjpg")

	compressor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// "c21s" is base64 for "sml".
		fmt.Fprint(w, `{"image":"c21s"}`)
	}))
	defer compressor.Close()

	addr := startProxy(t, fmt.Sprintf("proxy:\n  listen: \"127.0.0.1:0\"\n  origin_port: %d\ncompress:\n  addr: %q\n",
		port, strings.TrimPrefix(compressor.URL, "http://")))

	msg := get(t, addr, fmt.Sprintf("http://127.0.0.1:%d/cat.jpg", port))
	assert.Equal(t, "sml", string(msg.Body))
	cl, _ := httpmsg.HeaderField(msg.Header, "Content-Length")
	assert.Equal(t, "3", cl)
}

func TestRunErrors(t *testing.T) {
	t.Setenv(config.EnvFile, "")
	assert.Error(t, run(context.Background(), []string{"extra"}, &bytes.Buffer{}))
	assert.Error(t, run(context.Background(), []string{"-nope"}, &bytes.Buffer{}))
	assert.Error(t, run(context.Background(), []string{"-config", writeConfig(t, "proxy:\n  origin_port: 0\n")}, &bytes.Buffer{}))
}

func TestMainFatal(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"proxy", "extra"}
	t.Setenv(config.EnvFile, "")

	var fatal string
	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()
	logFatal = func(format string, v ...interface{}) { fatal = fmt.Sprintf(format, v...) }

	main()
	assert.Contains(t, fatal, "unexpected arguments")
}

func TestPackageDocConfiguration(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "main.go", nil, parser.PackageClauseOnly|parser.ParseComments)
	require.NoError(t, err)
	require.NotNil(t, f.Doc)
	doc := f.Doc.Text()
	require.Contains(t, doc, "Configuration:")

	for _, name := range []string{
		"SHMPROXY_CONFIG",
		"PROXY_LISTEN",
		"PROXY_WORKERS",
		"ORIGIN_PORT",
		"COMPRESS_ADDR",
		"SHM_OPTIMIZED",
		"SHM_DIR",
		"SHM_NAME",
		"SHM_NODES",
		"SHM_CAPACITY",
	} {
		t.Run(name, func(t *testing.T) {
			assert.Contains(t, doc, "- "+name+": ")
		})
	}
}
