package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shmproxy/internal/compress"
	"github.com/dreamware/shmproxy/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	newMux(10).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunServesCompression(t *testing.T) {
	t.Setenv(config.EnvFile, "")
	path := filepath.Join(t.TempDir(), "compressd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compress:\n  listen: \"127.0.0.1:0\"\n  quality: 5\n"), 0o644))

	addrs := make(chan net.Addr, 1)
	old := listen
	listen = func(addr string) (net.Listener, error) {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			addrs <- ln.Addr()
		}
		return ln, err
	}
	defer func() { listen = old }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"-config", path}, &bytes.Buffer{}) }()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case <-time.After(5 * time.Second):
		t.Fatal("compressd did not start listening")
	}

	var src bytes.Buffer
	require.NoError(t, jpeg.Encode(&src, image.NewGray(image.Rect(0, 0, 16, 16)), nil))

	client := compress.NewClient(addr.String())
	out, err := client.Compress(context.Background(), src.Bytes())
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(out))
	assert.NoError(t, err)

	_, err = client.Compress(context.Background(), []byte("not a jpeg"))
	assert.True(t, errors.Is(err, compress.ErrFault))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestMainFatal(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"compressd", "extra"}
	t.Setenv(config.EnvFile, "")

	var fatal string
	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()
	logFatal = func(format string, v ...interface{}) { fatal = fmt.Sprintf(format, v...) }

	main()
	assert.Contains(t, fatal, "unexpected arguments")
}
