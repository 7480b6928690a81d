package compress

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testJPEG renders a noisy gradient so quality changes the encoded size.
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), uint8((x * y) % 256), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func newServer(t *testing.T, quality int) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(Path, &Handler{Quality: quality})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewClient(strings.TrimPrefix(srv.URL, "http://"))
}

func TestReencode(t *testing.T) {
	original := testJPEG(t)
	out, err := Reencode(original, 5)
	require.NoError(t, err)
	assert.Less(t, len(out), len(original))

	_, err = jpeg.Decode(bytes.NewReader(out))
	assert.NoError(t, err)

	_, err = Reencode([]byte("not a jpeg"), 5)
	assert.Error(t, err)
}

func TestClientCompress(t *testing.T) {
	_, client := newServer(t, 10)
	original := testJPEG(t)

	out, err := client.Compress(context.Background(), original)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Less(t, len(out), len(original))
}

func TestClientFault(t *testing.T) {
	_, client := newServer(t, 10)

	_, err := client.Compress(context.Background(), []byte("plain text"))
	assert.ErrorIs(t, err, ErrFault)
}

func TestClientTransportErrors(t *testing.T) {
	t.Run("endpoint down", func(t *testing.T) {
		srv, client := newServer(t, 10)
		srv.Close()
		_, err := client.Compress(context.Background(), testJPEG(t))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrFault)
	})

	t.Run("http error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusInternalServerError)
		}))
		defer srv.Close()
		_, err := NewClient(strings.TrimPrefix(srv.URL, "http://")).Compress(context.Background(), []byte{1})
		assert.ErrorContains(t, err, "500")
	})
}

func TestHandlerRejects(t *testing.T) {
	h := &Handler{Quality: 10}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, Path, strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompressorFunc(t *testing.T) {
	var c Compressor = CompressorFunc(func(_ context.Context, b []byte) ([]byte, error) {
		return b[:1], nil
	})
	out, err := c.Compress(context.Background(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), out)
}
