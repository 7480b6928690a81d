// Package origin is the file-serving HTTP/1.0 server.
//
// A Server owns one worker pool and two acceptors feeding it: the socket
// accept loop, and in optimized mode a Watcher that picks up requests the
// proxy has posted on the shared channel. Both transports end in the same
// request handling:
//
//   - the request line must parse, else 400
//   - the method must be GET, else 501
//   - the target must start with "/", else 400
//   - the file provider then decides between 200, 302, 400, 403 and 404
//
// Over a socket the response is streamed straight from the file. Over the
// shared channel it is built in memory and sent back through the node the
// request arrived on.
package origin
