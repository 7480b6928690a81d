package httpmsg

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	// Protocol is the only protocol version spoken on either transport.
	Protocol = "HTTP/1.0"

	// ServerName is advertised in generated error pages.
	ServerName = "shmproxy"
)

// ResponseHeader renders a status line, any extra header lines, the declared
// length and content type, and the terminator.
func ResponseHeader(status int, extra []string, mime string, length int64) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s\r\n", Protocol, status, http.StatusText(status))
	for _, h := range extra {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("Content-Length: " + strconv.FormatInt(length, 10) + "\r\n")
	b.WriteString("Content-Type: " + mime + "\r\n")
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Response renders a complete response with its body.
func Response(status int, extra []string, mime string, body []byte) []byte {
	header := ResponseHeader(status, extra, mime, int64(len(body)))
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	return append(out, body...)
}

// ErrorPage renders the small html document sent with error statuses.
func ErrorPage(status int, text string) []byte {
	title := http.StatusText(status)
	return []byte(fmt.Sprintf(
		"<html><head><title>%d %s</title></head>\n<body><h4>%d %s</h4>\n%s<hr><address>%s</address>\n</body></html>\n",
		status, title, status, title, text, ServerName))
}

// Error renders a complete error response.
func Error(status int, text string, extra ...string) []byte {
	return Response(status, extra, "text/html", ErrorPage(status, text))
}
