// Package proxy is the forwarding HTTP/1.0 proxy.
//
// Each client connection carries one request. The proxy frames it, finds the
// destination from the Host field, rewrites an absolute request target into
// origin form and fetches the response. When the destination is the
// colocated origin (a local address on the configured origin port) and the
// origin has raised its online flag in the shared directory, the exchange
// runs over a claimed shared-memory node instead of a socket. If every node
// is in use the request quietly falls back to a socket. So does a request
// whose claim the origin never took because it was shutting down.
//
// Successful JPEG responses can be passed through a compress.Compressor on
// the way back. The original bytes are forwarded whenever compression fails.
package proxy
