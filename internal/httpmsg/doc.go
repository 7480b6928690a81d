// Package httpmsg frames HTTP/1.0 messages for the proxy and origin.
//
// Framing decides where a header ends and how long the body that follows is,
// and it has to give the same answer whether bytes come from a socket or from
// a payload reassembled off the shared-memory channel.
//
// # Header boundary
//
// A header ends at the first CR LF CR LF. On a socket ReadHeader consumes the
// source one byte at a time, so it never takes body bytes and the terminator
// can never be split across reads. For buffered payloads ParseHeader does the
// same scan over memory. Both enforce MaxHeaderBytes.
//
// # Body length
//
//   - Content-Length present (any case, any spacing after the colon): that value.
//   - Absent on a response whose status is exactly 200: UnknownLength, and the
//     body runs until the transport closes.
//   - Otherwise: 0.
//
// ReadBody honours all three; a short known-length body is returned as far as
// it got rather than treated as an error.
//
// # Helpers
//
// The package also holds the small amount of header surgery the proxy needs
// (StripAbsoluteURL, SetHeaderField, HostPort) and the response renderers used
// by both processes (Response, Error).
package httpmsg
