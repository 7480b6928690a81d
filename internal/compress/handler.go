package compress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"log"
	"net/http"
)

// maxRequestBytes bounds the size of one call.
const maxRequestBytes = 32 << 20

// Reencode decodes a JPEG image and encodes it again at quality (1-100).
func Reencode(image []byte, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return out.Bytes(), nil
}

// Handler serves the compression endpoint. Bad images are answered with a
// fault, not an HTTP error, so the caller can tell them from transport
// problems.
type Handler struct {
	Quality int
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	var resp Response
	out, err := Reencode(req.Image, h.Quality)
	if err != nil {
		log.Printf("compress: %v", err)
		resp.Fault = err.Error()
	} else {
		resp.Image = out
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
