package shm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

const (
	directoryMagic   uint32 = 0x504d4853 // "SHMP"
	directoryVersion uint32 = 1
	directorySize           = 64

	offMagic        = 0
	offVersion      = 4
	offServerOnline = 8
	offProxyOnline  = 12
	offNodeCount    = 16
	offCapacity     = 20
)

// Directory is the rendezvous record shared by both processes.
type Directory struct {
	base    unsafe.Pointer
	mem     []byte
	path    string
	created bool
	once    sync.Once
}

// OpenDirectory creates the directory segment named by opts, publishing
// opts.Nodes and opts.Capacity, or attaches to an existing one. Attaching
// before the creator has published the record fails with ErrNotReady.
func OpenDirectory(opts Options) (*Directory, error) {
	opts = opts.withDefaults()
	mem, created, err := mapSegment(opts.directoryPath(), directorySize)
	if err != nil {
		return nil, err
	}
	d := &Directory{
		base:    unsafe.Pointer(&mem[0]),
		mem:     mem,
		path:    opts.directoryPath(),
		created: created,
	}

	if created {
		atomic.StoreUint32(d.word(offVersion), directoryVersion)
		atomic.StoreUint32(d.word(offNodeCount), uint32(opts.Nodes))
		atomic.StoreUint32(d.word(offCapacity), uint32(opts.Capacity))
		// Published last; attachers treat a zero magic as still initialising.
		atomic.StoreUint32(d.word(offMagic), directoryMagic)
		return d, nil
	}

	switch magic := atomic.LoadUint32(d.word(offMagic)); {
	case magic == 0:
		d.Close()
		return nil, ErrNotReady
	case magic != directoryMagic:
		d.Close()
		return nil, fmt.Errorf("%w: bad magic %#x in %s", ErrLayout, magic, d.path)
	}
	if v := atomic.LoadUint32(d.word(offVersion)); v != directoryVersion {
		d.Close()
		return nil, fmt.Errorf("%w: version %d in %s", ErrLayout, v, d.path)
	}
	if n := d.NodeCount(); n <= 0 || n > MaxNodes || d.Capacity() <= 0 {
		d.Close()
		return nil, fmt.Errorf("%w: %d nodes of %d bytes in %s", ErrLayout, n, d.Capacity(), d.path)
	}
	return d, nil
}

func (d *Directory) word(off uintptr) *uint32 {
	return (*uint32)(unsafe.Add(d.base, off))
}

func onlineOffset(r Role) uintptr {
	if r == Proxy {
		return offProxyOnline
	}
	return offServerOnline
}

// Created reports whether this process created the record.
func (d *Directory) Created() bool { return d.created }

// NodeCount returns the published node count.
func (d *Directory) NodeCount() int { return int(atomic.LoadUint32(d.word(offNodeCount))) }

// Capacity returns the published per-node buffer size.
func (d *Directory) Capacity() int { return int(atomic.LoadUint32(d.word(offCapacity))) }

// Online reports whether role r is attached.
func (d *Directory) Online(r Role) bool {
	return atomic.LoadUint32(d.word(onlineOffset(r))) != 0
}

// SetOnline raises or lowers role r's online flag.
func (d *Directory) SetOnline(r Role, online bool) {
	var v uint32
	if online {
		v = 1
	}
	atomic.StoreUint32(d.word(onlineOffset(r)), v)
}

// ServerOnline reports whether an origin is attached.
func (d *Directory) ServerOnline() bool { return d.Online(Server) }

// ProxyOnline reports whether a proxy is attached.
func (d *Directory) ProxyOnline() bool { return d.Online(Proxy) }

// Close unmaps the record.
func (d *Directory) Close() error {
	var err error
	d.once.Do(func() {
		err = unmapSegment(d.mem)
		d.mem = nil
	})
	return err
}

// Destroy unmaps and unlinks the record.
func (d *Directory) Destroy() error {
	err := d.Close()
	if uerr := unlinkSegment(d.path); err == nil {
		err = uerr
	}
	return err
}
