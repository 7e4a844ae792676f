// Package imageutil decodes generated images and derives their metadata.
package imageutil

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyImage   = errors.New("imageutil: empty image data")
	ErrInvalidImage = errors.New("imageutil: invalid image data")
)

// Info describes an encoded image.
type Info struct {
	Format string
	MIME   string
	Width  int
	Height int
}

var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// DecodeBase64 decodes a backend image string. A data URI prefix
// ("data:image/png;base64,") is stripped first.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	if s == "" {
		return nil, ErrEmptyImage
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return data, nil
}

// Sniff reads the image header. Unknown formats return ErrInvalidImage.
func Sniff(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyImage
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	mime, ok := mimeTypes[format]
	if !ok {
		mime = "application/octet-stream"
	}
	return Info{Format: format, MIME: mime, Width: cfg.Width, Height: cfg.Height}, nil
}

// Thumbnail scales the image so its longer side is at most maxSide and
// re-encodes it as JPEG. Images already small enough are re-encoded as-is.
func Thumbnail(data []byte, maxSide int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if maxSide <= 0 {
		return nil, fmt.Errorf("imageutil: invalid thumbnail size %d", maxSide)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if longer := max(w, h); longer > maxSide {
		scale := float64(maxSide) / float64(longer)
		w = max(1, int(float64(w)*scale))
		h = max(1, int(float64(h)*scale))
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("imageutil: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
