package files

import (
	"path/filepath"
	"strings"
)

const defaultType = "text/plain; charset=iso-8859-1"

var contentTypes = map[string]string{
	".html": "text/html; charset=iso-8859-1",
	".htm":  "text/html; charset=iso-8859-1",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".png":  "image/png",
	".css":  "text/css",
	".au":   "audio/basic",
	".wav":  "audio/wav",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".qt":   "video/quicktime",
	".mpeg": "video/mpeg",
	".mpe":  "video/mpeg",
	".vrml": "model/vrml",
	".wrl":  "model/vrml",
	".midi": "audio/midi",
	".mid":  "audio/midi",
	".mp3":  "audio/mpeg",
	".ogg":  "application/ogg",
	".pac":  "application/x-ns-proxy-autoconfig",
}

// ContentType guesses a content type from the file extension alone.
func ContentType(name string) string {
	if t, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return defaultType
}
