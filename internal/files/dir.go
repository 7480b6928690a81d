package files

import (
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/shmproxy/internal/httpmsg"
)

// DirProvider serves files below a root directory.
type DirProvider struct {
	Root string
}

// NewDirProvider returns a provider rooted at root. The root must be a
// readable directory.
func NewDirProvider(root string) (*DirProvider, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("document root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("document root %s is not a directory", root)
	}
	return &DirProvider{Root: root}, nil
}

// Open resolves path below the root. A directory is served through its
// index.html when it has one and as a generated listing otherwise.
func (d *DirProvider) Open(path string) (*Resource, error) {
	file, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(d.Root, filepath.FromSlash(file))

	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	if !info.IsDir() {
		return openFile(full, info)
	}

	if !strings.HasSuffix(file, "/") {
		target := path
		if q := strings.IndexByte(target, '?'); q >= 0 {
			target = target[:q]
		}
		return nil, &RedirectError{Location: target + "/"}
	}

	index := filepath.Join(full, "index.html")
	if info, err := os.Stat(index); err == nil && !info.IsDir() {
		return openFile(index, info)
	}
	return d.listing(full, file)
}

func openFile(full string, info fs.FileInfo) (*Resource, error) {
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return &Resource{
		Body:        f,
		ContentType: ContentType(full),
		Length:      info.Size(),
	}, nil
}

// listing renders an html index of a directory, sorted by name.
func (d *DirProvider) listing(full, file string) (*Resource, error) {
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrListing, err)
	}

	names := []string{"./", "../"}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	title := html.EscapeString(file)
	fmt.Fprintf(&b, "<html><head><title>Index of %s</title></head>\n<body><h3>Index of %s</h3>\n<pre>\n", title, title)
	for _, name := range names {
		escaped := html.EscapeString(name)
		fmt.Fprintf(&b, "<a href=\"%s\">%s</a>\n", escaped, escaped)
	}
	fmt.Fprintf(&b, "</pre>\n<hr><address>%s</address>\n</body></html>\n", httpmsg.ServerName)
	return bytesResource([]byte(b.String()), "text/html"), nil
}
