package httpmsg

import (
	"bytes"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrMalformedRequest is returned when a request line does not have the
	// "METHOD TARGET PROTOCOL" shape.
	ErrMalformedRequest = errors.New("httpmsg: malformed request line")

	// ErrMissingHost is returned when a request carries no Host field.
	ErrMissingHost = errors.New("httpmsg: missing Host field")
)

// RequestLine is the first line of a request.
type RequestLine struct {
	Method string
	Target string
	Proto  string
}

// lines splits a header into lines without their CR LF endings. The final
// empty lines produced by the terminator are dropped.
func lines(header []byte) [][]byte {
	raw := bytes.Split(header, []byte("\n"))
	out := make([][]byte, 0, len(raw))
	for _, l := range raw {
		out = append(out, bytes.TrimSuffix(l, []byte("\r")))
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out
}

// HeaderField returns the value of the first field called name, compared
// case-insensitively, with surrounding whitespace trimmed. The start line is
// never treated as a field.
func HeaderField(header []byte, name string) (string, bool) {
	ls := lines(header)
	if len(ls) < 2 {
		return "", false
	}
	for _, line := range ls[1:] {
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		if !strings.EqualFold(string(bytes.TrimSpace(line[:colon])), name) {
			continue
		}
		return string(bytes.TrimSpace(line[colon+1:])), true
	}
	return "", false
}

// SetHeaderField returns a copy of header with the named field set to value,
// replacing an existing field or adding one before the terminator.
func SetHeaderField(header []byte, name, value string) []byte {
	ls := lines(header)
	field := []byte(name + ": " + value)
	replaced := false
	for i := 1; i < len(ls); i++ {
		colon := bytes.IndexByte(ls[i], ':')
		if colon > 0 && strings.EqualFold(string(bytes.TrimSpace(ls[i][:colon])), name) {
			ls[i] = field
			replaced = true
			break
		}
	}
	if !replaced {
		ls = append(ls, field)
	}

	var out bytes.Buffer
	for _, l := range ls {
		out.Write(l)
		out.WriteString("\r\n")
	}
	out.WriteString("\r\n")
	return out.Bytes()
}

// StatusCode returns the status of a response header. ok is false for
// anything that does not start with an HTTP status line.
func StatusCode(header []byte) (code int, ok bool) {
	ls := lines(header)
	if len(ls) == 0 || !bytes.HasPrefix(ls[0], []byte("HTTP/")) {
		return 0, false
	}
	fields := strings.Fields(string(ls[0]))
	if len(fields) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// ParseRequestLine splits the first line of a request header.
func ParseRequestLine(header []byte) (RequestLine, error) {
	ls := lines(header)
	if len(ls) == 0 {
		return RequestLine{}, ErrMalformedRequest
	}
	fields := strings.Fields(string(ls[0]))
	if len(fields) != 3 {
		return RequestLine{}, ErrMalformedRequest
	}
	return RequestLine{Method: fields[0], Target: fields[1], Proto: fields[2]}, nil
}

// StripAbsoluteURL rewrites a proxy-style request line such as
// "GET http://host:8080/a.html HTTP/1.0" into its origin form
// "GET /a.html HTTP/1.0". Requests already in origin form are returned as a
// copy, unchanged.
func StripAbsoluteURL(header []byte) ([]byte, error) {
	rl, err := ParseRequestLine(header)
	if err != nil {
		return nil, err
	}
	target := rl.Target
	lower := strings.ToLower(target)
	if !strings.HasPrefix(lower, "http://") {
		return append([]byte(nil), header...), nil
	}
	rest := target[len("http://"):]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		target = rest[slash:]
	} else {
		target = "/"
	}

	eol := bytes.IndexByte(header, '\n')
	var out bytes.Buffer
	out.WriteString(rl.Method + " " + target + " " + rl.Proto + "\r\n")
	if eol >= 0 {
		out.Write(header[eol+1:])
	}
	return out.Bytes(), nil
}

// HostPort extracts the destination named by the Host field, using
// defaultPort when the field carries none.
func HostPort(header []byte, defaultPort int) (string, int, error) {
	host, ok := HeaderField(header, "Host")
	if !ok || host == "" {
		return "", 0, ErrMissingHost
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "http://"), "HTTP://")
	host = strings.TrimSuffix(host, "/")
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return host, defaultPort, nil
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, ErrMissingHost
	}
	return h, port, nil
}

// IsJPEG reports whether a header describes a JPEG image, either through its
// Content-Type or through a request target ending in .jpg or .jpeg.
func IsJPEG(header []byte) bool {
	if ct, ok := HeaderField(header, "Content-Type"); ok {
		ct = strings.ToLower(ct)
		if strings.Contains(ct, "jpeg") || strings.Contains(ct, ".jpg") {
			return true
		}
	}
	rl, err := ParseRequestLine(header)
	if err != nil {
		return false
	}
	target := strings.ToLower(rl.Target)
	return strings.HasSuffix(target, ".jpg") || strings.HasSuffix(target, ".jpeg")
}

// Decode undoes %xx escapes in a request path. Invalid escapes are left as
// they are.
func Decode(path string) string {
	if p, err := url.PathUnescape(path); err == nil {
		return p
	}
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		if path[i] == '%' && i+2 < len(path) && isHex(path[i+1]) && isHex(path[i+2]) {
			v, _ := strconv.ParseUint(path[i+1:i+3], 16, 8)
			b.WriteByte(byte(v))
			i += 2
			continue
		}
		b.WriteByte(path[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
