package files

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// MemoryProvider serves files held in memory, keyed by their path relative
// to the root (for example "docs/a.html"). Directories are implied by the
// keys; a directory request is answered with its index.html if present.
type MemoryProvider struct {
	files map[string][]byte
	mu    sync.RWMutex
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{files: make(map[string][]byte)}
}

// Put stores a copy of content at name.
func (m *MemoryProvider) Put(name string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[strings.TrimPrefix(name, "/")] = append([]byte(nil), content...)
}

// Delete removes name. Removing a missing file is not an error.
func (m *MemoryProvider) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, strings.TrimPrefix(name, "/"))
}

// List returns every stored name in sorted order.
func (m *MemoryProvider) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open resolves path against the stored files.
func (m *MemoryProvider) Open(path string) (*Resource, error) {
	file, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if file == "./" {
		file = ""
	}
	if content, ok := m.files[file]; ok {
		return bytesResource(append([]byte(nil), content...), ContentType(file)), nil
	}

	dir := strings.TrimSuffix(file, "/")
	if dir != "" && !m.isDir(dir) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	if file != "" && !strings.HasSuffix(file, "/") {
		return nil, &RedirectError{Location: path + "/"}
	}
	if content, ok := m.files[file+"index.html"]; ok {
		return bytesResource(append([]byte(nil), content...), ContentType("index.html")), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrForbidden, file)
}

func (m *MemoryProvider) isDir(dir string) bool {
	prefix := dir + "/"
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
