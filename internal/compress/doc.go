// Package compress is the remote image-compression call the proxy makes for
// JPEG responses.
//
// The wire format is a JSON POST to /RPC2:
//
//	request:  {"image": "<base64 jpeg>"}
//	response: {"image": "<base64 jpeg>"} or {"fault": "<reason>"}
//
// Client implements Compressor over that call. Handler is the server side,
// re-encoding the image at a low JPEG quality. A fault or transport error is
// never fatal to the proxy; it forwards the original bytes instead.
package compress
