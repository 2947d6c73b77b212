package fetch

import (
	"mime"
	"strings"
)

// DefaultMediaType is used when a response carries no usable Content-Type.
const DefaultMediaType = "image/jpeg"

var supportedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/avif": true,
}

var mediaTypeAliases = map[string]string{
	"image/jpg":   "image/jpeg",
	"image/pjpeg": "image/jpeg",
	"image/x-png": "image/png",
}

// NormalizeMediaType maps a Content-Type header value into the supported
// image set, falling back to DefaultMediaType.
func NormalizeMediaType(contentType string) string {
	if contentType == "" {
		return DefaultMediaType
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	mt = strings.ToLower(mt)
	if alias, ok := mediaTypeAliases[mt]; ok {
		mt = alias
	}
	if supportedMediaTypes[mt] {
		return mt
	}
	return DefaultMediaType
}
