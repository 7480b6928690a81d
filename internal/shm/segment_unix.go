//go:build unix

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// mapSegment creates the segment file at path with the given size, or
// attaches to it when it already exists. created reports which happened.
// A freshly created segment is zero-filled.
func mapSegment(path string, size int) (mem []byte, created bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	switch {
	case err == nil:
		created = true
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			os.Remove(path)
			return nil, false, fmt.Errorf("resize %s: %w", path, err)
		}

	case errors.Is(err, fs.ErrExist):
		f, err = os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, false, fmt.Errorf("attach %s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, false, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() == 0 {
			f.Close()
			return nil, false, ErrNotReady
		}
		if info.Size() != int64(size) {
			f.Close()
			return nil, false, fmt.Errorf("%w: %s is %d bytes, want %d", ErrLayout, path, info.Size(), size)
		}

	default:
		return nil, false, fmt.Errorf("create %s: %w", path, err)
	}
	// The mapping outlives the descriptor.
	defer f.Close()

	mem, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if created {
			os.Remove(path)
		}
		return nil, false, fmt.Errorf("mmap %s: %w", path, err)
	}
	return mem, created, nil
}

func unmapSegment(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

func unlinkSegment(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	return nil
}
