package transcode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Defaults for Image.
const (
	DefaultMaxDimension = 1600
	DefaultQuality      = 85
	DefaultMaxPixels    = 50_000_000
)

// Image decodes JPEG, PNG, GIF or WebP input, bounds the longest side to
// MaxDimension, and re-encodes as baseline JPEG. Transparent pixels are
// composited onto white. Inputs whose declared canvas exceeds MaxPixels
// are rejected before any pixel data is decoded.
type Image struct {
	MaxDimension int
	Quality      int
	MaxPixels    int64
}

// Transcode implements Transcoder.
func (t *Image) Transcode(ctx context.Context, data []byte, mediaType string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mediaType, err)
	}
	maxPixels := t.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, fmt.Errorf("decode %s: %dx%d exceeds %d pixel limit", mediaType, cfg.Width, cfg.Height, maxPixels)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mediaType, err)
	}

	maxDim := t.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	quality := t.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	b := src.Bounds()
	w, h := scaledSize(b.Dx(), b.Dy(), maxDim)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg from %s: %w", format, err)
	}
	return &Result{Data: buf.Bytes(), MediaType: "image/jpeg", Ext: "jpg"}, nil
}

// scaledSize fits w×h inside a maxDim square, keeping aspect ratio and
// never upscaling.
func scaledSize(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}
