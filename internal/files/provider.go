package files

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dreamware/shmproxy/internal/httpmsg"
)

var (
	// ErrIllegalPath is returned for paths that escape the root.
	ErrIllegalPath = errors.New("files: illegal filename")

	// ErrNotFound is returned when nothing exists at the path.
	ErrNotFound = errors.New("files: file not found")

	// ErrForbidden is returned when the file exists but cannot be read.
	ErrForbidden = errors.New("files: file is protected")

	// ErrListing is returned when a directory cannot be listed.
	ErrListing = errors.New("files: cannot list directory")
)

// RedirectError is returned for a directory requested without its trailing
// slash.
type RedirectError struct {
	Location string
}

func (e *RedirectError) Error() string {
	return "files: directories must end with a slash, see " + e.Location
}

// Resource is a resolved file ready to be sent.
type Resource struct {
	Body        io.ReadCloser
	ContentType string
	Length      int64
}

// Provider resolves request paths to resources.
// All implementations must be safe for concurrent use.
type Provider interface {
	// Open resolves a request path, which starts with "/" and may still
	// carry %xx escapes.
	Open(path string) (*Resource, error)
}

// Status maps an Open error to the HTTP status and message to answer with,
// plus any extra header lines.
func Status(err error) (status int, text string, extra []string) {
	var redirect *RedirectError
	switch {
	case errors.As(err, &redirect):
		return http.StatusFound, "Directories must end with a slash.", []string{"Location: " + redirect.Location}
	case errors.Is(err, ErrIllegalPath):
		return http.StatusBadRequest, "Illegal filename.", nil
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "File not found.", nil
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "File is protected.", nil
	}
	return http.StatusInternalServerError, "The server encountered an error.", nil
}

// cleanPath turns a request path into a path relative to the provider root.
// The root itself is "./".
func cleanPath(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: %q", ErrIllegalPath, path)
	}
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}
	file := httpmsg.Decode(path[1:])
	if file == "" {
		return "./", nil
	}
	if strings.HasPrefix(file, "/") || file == ".." ||
		strings.HasPrefix(file, "../") || strings.Contains(file, "/../") ||
		strings.HasSuffix(file, "/..") {
		return "", fmt.Errorf("%w: %q", ErrIllegalPath, path)
	}
	return file, nil
}

func bytesResource(body []byte, contentType string) *Resource {
	return &Resource{
		Body:        io.NopCloser(bytes.NewReader(body)),
		ContentType: contentType,
		Length:      int64(len(body)),
	}
}
