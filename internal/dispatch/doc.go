// Package dispatch is the per-process connection dispatcher: an unbounded
// FIFO work queue guarded by one mutex and condition variable, and a fixed
// pool of workers draining it.
//
// Acceptors submit a WorkItem for every accepted socket (Process) and for
// every shared-memory node the peer has posted a request on (Shared). Each
// worker pops one item at a time and hands it to the Handler. Shutdown is
// cooperative: DrainAndStop queues one Terminate token per worker behind the
// pending work, so each worker takes exactly one token after finishing its
// current item and exits. An item in flight is never interrupted.
//
// Accept is the socket acceptor both binaries share. Cancelling its context
// closes the listener; the caller then drains the pool.
package dispatch
