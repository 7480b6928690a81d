package shm

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"code.hybscloud.com/iox"
)

// attachTimeout bounds how long OpenChannel waits for a peer that is still
// initialising the segments.
var attachTimeout = 2 * time.Second

// Channel is one process's attachment to the shared channel: the directory
// record plus the node segment it describes.
type Channel struct {
	dir   *Directory
	nodes *NodeList
	role  Role

	mu     sync.Mutex
	closed bool
}

// OpenChannel attaches role r to the channel named by opts, creating the
// segments if this is the first process, and raises r's online flag.
func OpenChannel(r Role, opts Options) (*Channel, error) {
	opts = opts.withDefaults()

	var (
		bo       iox.Backoff
		deadline = time.Now().Add(attachTimeout)
	)
	for {
		ch, err := openChannel(r, opts)
		if !errors.Is(err, ErrNotReady) || time.Now().After(deadline) {
			return ch, err
		}
		bo.Wait()
	}
}

func openChannel(r Role, opts Options) (*Channel, error) {
	dir, err := OpenDirectory(opts)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	// The creator's published sizes win over ours.
	opts.Nodes = dir.NodeCount()
	opts.Capacity = dir.Capacity()

	nodes, err := OpenNodes(opts)
	if err != nil {
		// A peer that attached to our fresh directory may be sizing the
		// node segment; keep the record for the retry.
		if dir.Created() && !errors.Is(err, ErrNotReady) {
			dir.Destroy()
		} else {
			dir.Close()
		}
		return nil, fmt.Errorf("open nodes: %w", err)
	}

	dir.SetOnline(r, true)
	return &Channel{dir: dir, nodes: nodes, role: r}, nil
}

// Role returns the side this channel was opened for.
func (c *Channel) Role() Role { return c.role }

// Nodes returns the node list.
func (c *Channel) Nodes() *NodeList { return c.nodes }

// Directory returns the rendezvous record.
func (c *Channel) Directory() *Directory { return c.dir }

// PeerOnline reports whether the other process is attached. It is false once
// the channel is closed.
func (c *Channel) PeerOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.dir.Online(c.role.Peer())
}

// Close lowers this side's online flag and detaches. The segments are
// unlinked only if the peer is already offline, so the last process out
// removes them. Close is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.dir.SetOnline(c.role, false)
	if c.dir.Online(c.role.Peer()) {
		return errors.Join(c.nodes.Close(), c.dir.Close())
	}
	log.Printf("shm: %s is last out, removing segments", c.role)
	return errors.Join(c.nodes.Destroy(), c.dir.Destroy())
}

// Remove unlinks the channel named by opts regardless of who is attached.
// It is the cleanup for segments left behind by a process that exited
// without closing its channel. Missing segments are not an error.
func Remove(opts Options) error {
	opts = opts.withDefaults()
	return errors.Join(
		unlinkSegment(opts.nodesPath()),
		unlinkSegment(opts.directoryPath()),
	)
}
