// Package shm implements the shared-memory channel that lets a colocated proxy
// and origin exchange HTTP messages without a loopback socket.
//
// # Overview
//
// A channel is two named segments mapped by both processes:
//
//	┌──────────────────────────────┐   ┌──────────────────────────────────────┐
//	│ <name>-meta   (Directory)    │   │ <name>-nodes   (NodeList)            │
//	│  magic, version              │   │  node 0 │ node 1 │ ... │ node N-1    │
//	│  serverOnline, proxyOnline   │   │                                      │
//	│  nodeCount, capacity         │   │  each node: 64-byte control block    │
//	└──────────────────────────────┘   │  followed by a C-byte buffer         │
//	                                   └──────────────────────────────────────┘
//
// The directory is the rendezvous record: whichever process starts first
// creates it and publishes the node count and capacity, the other attaches and
// reads them. Each side raises its online flag while it is attached.
//
// # Node control block
//
//	offset  field
//	0       lock word (futex mutex)
//	4       condition sequence (futex)
//	8       proxy state
//	12      server state
//	16      posted segment counter
//	20      acknowledged segment counter
//	24      bytes valid in the buffer
//
// All fields are 32-bit words read and written with sync/atomic. The lock and
// condition are built on Linux futexes without FUTEX_PRIVATE_FLAG, so the
// kernel keys them on the mapped page and they work across the process
// boundary. On other Unix systems waits fall back to adaptive polling.
//
// # Lifecycle
//
// Segments are created with O_EXCL, so exactly one process initialises them;
// node states start at Idle because a fresh segment is zero-filled, and an
// attach never rewrites them. Channel.Close lowers the caller's online flag
// and unlinks the segments only when the peer is already offline. Remove is
// the administrative cleanup for segments abandoned by a crashed process.
//
// There is no lease on a node. A process that dies mid-transaction leaves its
// node non-idle until the segments are removed.
package shm
