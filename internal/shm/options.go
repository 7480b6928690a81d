package shm

import (
	"errors"
	"os"
	"path/filepath"
)

const (
	// DefaultName prefixes both segment files.
	DefaultName = "shmproxy"

	// DefaultNodes is the number of nodes in a new channel.
	DefaultNodes = 10

	// DefaultCapacity is the buffer size of each node in bytes.
	DefaultCapacity = 10000

	// MaxNodes bounds the node count read from a directory.
	MaxNodes = 4096
)

var (
	// ErrNotReady is returned when attaching to a segment whose creator has
	// not finished initialising it.
	ErrNotReady = errors.New("shm: segment not ready")

	// ErrLayout is returned when an existing segment does not have the size or
	// header this build expects.
	ErrLayout = errors.New("shm: segment layout mismatch")

	// ErrUnsupported is returned on platforms without shared mappings.
	ErrUnsupported = errors.New("shm: shared memory not supported on this platform")

	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("shm: channel closed")
)

// Options names a channel and sizes a new one. Nodes and Capacity only apply
// when the directory is created; an attaching process takes both from the
// directory.
type Options struct {
	Dir      string // directory holding the segment files
	Name     string // segment name prefix
	Nodes    int    // node count for a new channel
	Capacity int    // per-node buffer size for a new channel
}

// DefaultDir returns /dev/shm when it exists and the system temp directory
// otherwise.
func DefaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = DefaultDir()
	}
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Nodes <= 0 {
		o.Nodes = DefaultNodes
	}
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	return o
}

func (o Options) directoryPath() string {
	return filepath.Join(o.Dir, o.Name+"-meta")
}

func (o Options) nodesPath() string {
	return filepath.Join(o.Dir, o.Name+"-nodes")
}
