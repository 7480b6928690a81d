// Package files resolves request paths to the resources the origin serves.
//
// A Provider turns a request path such as "/docs/a%20b.html" into a Resource
// (content type, length and a body to stream) or into one of the package's
// errors, which Status maps onto the response the origin should send:
//
//	ErrIllegalPath   400  the path tries to leave the root
//	ErrNotFound      404  nothing exists there
//	*RedirectError   302  a directory without its trailing slash
//	ErrForbidden     403  the file exists but cannot be read
//	anything else    500
//
// DirProvider serves a directory tree, answering directory requests with
// index.html or a sorted listing. MemoryProvider keeps files in a map.
package files
