// Package transfer moves arbitrarily long payloads through one bounded shared
// node, one segment at a time.
//
// A transaction pairs a proxy session and a server session on the same node.
// The proxy sends the request and receives the response; the server does the
// reverse. Each leg is a ping-pong between a producer and a consumer:
//
//	producer                                consumer
//	────────                                ────────
//	                                        state = WAITING_CONTINUE_<producer>
//	wait: consumer listening, nothing       broadcast
//	      pending
//	state = BUSY
//	zero buffer, copy segment,
//	bytesValid = n, posted++
//	state = WAITING_CONTINUE_<consumer>
//	      or COMPLETE on the last segment
//	broadcast ───────────────────────────▶  wait: posted != acked
//	                                        state = BUSY
//	                                        append bytesValid bytes
//	                                        acked = posted
//	                                        stop if producer is COMPLETE
//	wait: acked == posted  ◀─────────────── broadcast
//
// A payload of L bytes over a node of capacity C takes max(1, ceil(L/C))
// segments, so an empty payload still produces a single COMPLETE segment
// with bytesValid == 0. Only one segment is ever in flight and the buffer is
// never rewritten before the consumer acknowledges it.
//
// A session holds the node's lock from Begin to End except while waiting, so
// both sides observe every state change in order. There is no timeout: if
// the peer process dies mid-transaction the survivor blocks.
package transfer
