// Package transcode re-encodes fetched images before they are hashed and
// stored. The stored key is derived from the transcoder's output, so the
// encoding parameters are part of an object's identity.
package transcode

import (
	"context"
	"fmt"
)

// Result is a transcoded image.
type Result struct {
	Data      []byte
	MediaType string
	Ext       string
}

// Transcoder turns raw bytes of a declared media type into stored bytes.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, mediaType string) (*Result, error)
}

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/avif": "avif",
}

// ExtensionFor returns the file extension for a supported media type,
// "bin" otherwise.
func ExtensionFor(mediaType string) string {
	if ext, ok := extensions[mediaType]; ok {
		return ext
	}
	return "bin"
}

// Passthrough stores fetched bytes unchanged.
type Passthrough struct{}

// Transcode implements Transcoder.
func (Passthrough) Transcode(ctx context.Context, data []byte, mediaType string) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return &Result{Data: data, MediaType: mediaType, Ext: ExtensionFor(mediaType)}, nil
}

// New returns the transcoder named by kind ("image" or "passthrough").
func New(kind string, maxDimension, quality int) (Transcoder, error) {
	switch kind {
	case "", "image":
		return &Image{MaxDimension: maxDimension, Quality: quality}, nil
	case "passthrough":
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("unknown transcoder %q", kind)
	}
}
