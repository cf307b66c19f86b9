package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelnorm/internal/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels bounds width*height of a decoded raster.
const DefaultMaxPixels int64 = 100_000_000

// Decode reads a raster and its container metadata with the default pixel
// limit.
func Decode(data []byte) (*domain.Image, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited reads a raster and its container metadata. The header is
// checked against maxPixels (DefaultMaxPixels when <= 0) before any pixel
// buffer is allocated. Metadata that cannot be parsed is dropped; only an
// unreadable or oversized raster is an error.
func DecodeLimited(data []byte, maxPixels int64) (*domain.Image, error) {
	if len(data) == 0 {
		return nil, &domain.DecodeError{Err: errors.New("input is empty")}
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.DecodeError{Err: err}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, &domain.DecodeError{Err: fmt.Errorf("%w: %dx%d is over %d pixels", domain.ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)}
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.DecodeError{Err: err}
	}
	if src.Bounds().Empty() {
		return nil, &domain.DecodeError{Err: domain.ErrEmptyImage}
	}

	pixels, mode := Canonicalize(src)
	meta, _ := ReadMetadata(data)

	return &domain.Image{
		Pixels:       pixels,
		Mode:         mode,
		ICCProfile:   meta.ICC,
		EXIF:         meta.EXIF,
		Text:         meta.Text,
		Orientation:  Orientation(meta.EXIF),
		SourceFormat: format,
		SourceBytes:  len(data),
	}, nil
}

// Canonicalize maps any decoded buffer onto the buffer types a domain.Image
// may hold and reports the matching pixel mode.
func Canonicalize(src image.Image) (image.Image, domain.PixelMode) {
	switch m := src.(type) {
	case *image.Gray:
		if m.Rect.Min == (image.Point{}) {
			return m, domain.PixelModeGray
		}
		return ToGray(m), domain.PixelModeGray
	case *image.Gray16:
		return ToGray(m), domain.PixelModeGray
	case *image.Paletted:
		if m.Rect.Min == (image.Point{}) {
			return m, domain.PixelModeIndexed
		}
		out := image.NewPaletted(image.Rect(0, 0, m.Rect.Dx(), m.Rect.Dy()), m.Palette)
		draw.Draw(out, out.Bounds(), m, m.Rect.Min, draw.Src)
		return out, domain.PixelModeIndexed
	case *image.NRGBA:
		if m.Rect.Min == (image.Point{}) {
			return m, domain.PixelModeRGBA
		}
		return imaging.Clone(m), domain.PixelModeRGBA
	case *image.RGBA:
		// png and tiff decode truecolor sources without an alpha channel here.
		if m.Opaque() {
			return imaging.Clone(m), domain.PixelModeRGB
		}
		return imaging.Clone(m), domain.PixelModeRGBA
	case *image.RGBA64:
		if m.Opaque() {
			return imaging.Clone(m), domain.PixelModeRGB
		}
		return imaging.Clone(m), domain.PixelModeRGBA
	case *image.NRGBA64:
		return imaging.Clone(m), domain.PixelModeRGBA
	default:
		return imaging.Clone(m), domain.PixelModeRGB
	}
}

func ToGray(src image.Image) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	return out
}

// ExpandPalette converts an indexed buffer to rgba when any palette entry is
// translucent, otherwise to rgb.
func ExpandPalette(src *image.Paletted) (*image.NRGBA, domain.PixelMode) {
	mode := domain.PixelModeRGB
	for _, c := range src.Palette {
		if _, _, _, a := c.RGBA(); a != 0xffff {
			mode = domain.PixelModeRGBA
			break
		}
	}
	return imaging.Clone(src), mode
}
