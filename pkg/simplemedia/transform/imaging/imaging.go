// Package imaging renders image derivatives: decode, downscale, re-encode.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// DefaultQuality is the JPEG quality used when q is not given.
const DefaultQuality = 85

// Option configures an Engine
type Option func(*Engine)

// WithDefaultQuality sets the JPEG quality used when q is not given
func WithDefaultQuality(q int) Option {
	return func(e *Engine) {
		if q >= 1 && q <= 100 {
			e.quality = q
		}
	}
}

// WithFilter sets the resampling filter
func WithFilter(f imaging.ResampleFilter) Option {
	return func(e *Engine) { e.filter = f }
}

// Engine implements simplemedia.TransformationEngine for raster images.
// Images are only ever scaled down; a box larger than the source leaves the
// dimensions unchanged.
type Engine struct {
	quality int
	filter  imaging.ResampleFilter
}

// New creates an image engine
func New(opts ...Option) *Engine {
	e := &Engine{quality: DefaultQuality, filter: imaging.Lanczos}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transform resizes original to fit t.Width by t.Height and encodes it as t.Format,
// or in the source format when t.Format is empty.
func (e *Engine) Transform(ctx context.Context, original []byte, t simplemedia.Transformations) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, sourceFormat, err := image.DecodeConfig(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(original), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img = e.resize(img, t.Width, t.Height)

	format := simplemedia.NormalizeFormat(t.Format)
	if format == "" {
		format = simplemedia.Transformations{}.OutputExtension(simplemedia.MediaTypeImage, sourceFormat)
	}
	quality := e.quality
	if t.Quality > 0 {
		quality = t.Quality
	}
	return Encode(img, format, quality)
}

func (e *Engine) resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if width > b.Dx() {
		width = 0
	}
	if height > b.Dy() {
		height = 0
	}
	switch {
	case width > 0 && height > 0:
		return imaging.Fit(img, width, height, e.filter)
	case width > 0 || height > 0:
		return imaging.Resize(img, width, height, e.filter)
	default:
		return img
	}
}

// Encode writes img in format (jpg, png, gif or webp).
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch simplemedia.NormalizeFormat(format) {
	case simplemedia.FormatJPG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case simplemedia.FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case simplemedia.FormatGIF:
		err = imaging.Encode(&buf, img, imaging.GIF)
	case simplemedia.FormatWebP:
		// Lossless only; quality does not apply.
		err = nativewebp.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

var _ simplemedia.TransformationEngine = (*Engine)(nil)
