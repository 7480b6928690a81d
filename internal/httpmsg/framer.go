package httpmsg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Terminator marks the end of an HTTP header block.
const Terminator = "\r\n\r\n"

// UnknownLength is the declared body length of a response that carries no
// Content-Length and is delimited by the transport closing instead.
const UnknownLength int64 = -1

// MaxHeaderBytes bounds the header block accepted from either transport.
const MaxHeaderBytes = 64 << 10

// readChunk is the size of one body read from a socket.
const readChunk = 16 << 10

var terminator = []byte(Terminator)

var (
	// ErrIncompleteHeader is returned when the source ends, or a buffered
	// block is exhausted, before the header terminator is seen.
	ErrIncompleteHeader = errors.New("httpmsg: header terminator not found")

	// ErrHeaderTooLarge is returned when a header grows past MaxHeaderBytes.
	ErrHeaderTooLarge = errors.New("httpmsg: header exceeds size limit")
)

// Message is one framed HTTP request or response.
type Message struct {
	Header     []byte // bytes up to and including the terminator
	BodyLength int64  // declared length, 0, or UnknownLength
	Body       []byte // bytes actually received
}

// Bytes returns the header followed by the body as one owned slice.
func (m *Message) Bytes() []byte {
	out := make([]byte, 0, len(m.Header)+len(m.Body))
	out = append(out, m.Header...)
	return append(out, m.Body...)
}

// ReadHeader reads r one byte at a time until the header terminator has been
// consumed, so no body byte is taken from the source and the terminator can
// never be split across reads. It returns the header bytes and the declared
// body length derived from them.
//
// io.EOF is returned when the source closes before sending anything;
// ErrIncompleteHeader when it closes part way through a header.
func ReadHeader(r io.Reader) ([]byte, int64, error) {
	var (
		header []byte
		one    [1]byte
	)
	for {
		n, err := r.Read(one[:])
		if n == 1 {
			header = append(header, one[0])
			if bytes.HasSuffix(header, terminator) {
				return header, DeclaredLength(header), nil
			}
			if len(header) >= MaxHeaderBytes {
				return header, 0, ErrHeaderTooLarge
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(header) == 0 {
				return nil, 0, io.EOF
			}
			return header, 0, ErrIncompleteHeader
		}
		return header, 0, fmt.Errorf("read header: %w", err)
	}
}

// ParseHeader performs the terminator scan on a block that is already fully
// buffered, such as a payload reassembled from the shared channel. The header
// is copied out of buf.
func ParseHeader(buf []byte) ([]byte, int64, error) {
	end := bytes.Index(buf, terminator)
	if end < 0 {
		if len(buf) >= MaxHeaderBytes {
			return nil, 0, ErrHeaderTooLarge
		}
		return nil, 0, ErrIncompleteHeader
	}
	end += len(terminator)
	if end > MaxHeaderBytes {
		return nil, 0, ErrHeaderTooLarge
	}
	header := append([]byte(nil), buf[:end]...)
	return header, DeclaredLength(header), nil
}

// ReadBody reads the body that follows a header. A known length is read
// exactly, tolerating partial reads; if the source closes early the bytes
// that did arrive are returned without error. UnknownLength reads until the
// source reports end of stream.
func ReadBody(r io.Reader, declared int64) ([]byte, error) {
	if declared == UnknownLength {
		body, err := io.ReadAll(r)
		if err != nil {
			return body, fmt.Errorf("read body: %w", err)
		}
		return body, nil
	}
	if declared <= 0 {
		return nil, nil
	}

	body := make([]byte, 0, min(declared, readChunk))
	buf := make([]byte, readChunk)
	for int64(len(body)) < declared {
		want := min(int64(len(buf)), declared-int64(len(body)))
		n, err := r.Read(buf[:want])
		body = append(body, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		if err != nil {
			return body, fmt.Errorf("read body: %w", err)
		}
	}
	return body, nil
}

// ReadMessage frames one complete message from a socket-like source.
func ReadMessage(r io.Reader) (*Message, error) {
	header, declared, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	body, err := ReadBody(r, declared)
	msg := &Message{Header: header, BodyLength: declared, Body: body}
	if err != nil {
		return msg, err
	}
	return msg, nil
}

// SplitMessage frames a fully buffered message. Bytes beyond a declared
// length are dropped; an unknown length keeps everything after the header.
func SplitMessage(buf []byte) (*Message, error) {
	header, declared, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	rest := buf[len(header):]
	if declared >= 0 && int64(len(rest)) > declared {
		rest = rest[:declared]
	}
	return &Message{
		Header:     header,
		BodyLength: declared,
		Body:       append([]byte(nil), rest...),
	}, nil
}

// DeclaredLength derives the body length a header announces. A Content-Length
// field wins, matched case-insensitively; a 200 response without one has
// UnknownLength; anything else, requests included, has no body.
func DeclaredLength(header []byte) int64 {
	if v, ok := HeaderField(header, "Content-Length"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	if code, ok := StatusCode(header); ok && code == 200 {
		return UnknownLength
	}
	return 0
}
