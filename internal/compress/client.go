package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Path is where the compression endpoint listens.
const Path = "/RPC2"

// ErrFault is wrapped around faults reported by the remote side.
var ErrFault = errors.New("compress: remote fault")

// Compressor shrinks a JPEG image.
type Compressor interface {
	Compress(ctx context.Context, image []byte) ([]byte, error)
}

// CompressorFunc adapts a function to the Compressor interface.
type CompressorFunc func(ctx context.Context, image []byte) ([]byte, error)

// Compress calls f.
func (f CompressorFunc) Compress(ctx context.Context, image []byte) ([]byte, error) {
	return f(ctx, image)
}

// Request is the call body. Image travels base64-encoded.
type Request struct {
	Image []byte `json:"image"`
}

// Response carries either the compressed image or a fault string.
type Response struct {
	Fault string `json:"fault,omitempty"`
	Image []byte `json:"image,omitempty"`
}

// Client calls a remote compression endpoint.
type Client struct {
	httpClient *http.Client
	url        string
}

// NewClient returns a client for the endpoint at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		url:        "http://" + addr + Path,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Compress sends image to the endpoint and returns the compressed bytes.
func (c *Client) Compress(ctx context.Context, image []byte) ([]byte, error) {
	var resp Response
	if err := c.postJSON(ctx, Request{Image: image}, &resp); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if resp.Fault != "" {
		return nil, fmt.Errorf("%w: %s", ErrFault, resp.Fault)
	}
	return resp.Image, nil
}

func (c *Client) postJSON(ctx context.Context, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", c.url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
