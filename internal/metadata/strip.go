package metadata

import (
	"image"
	"image/color"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

// Strip rebuilds img from its raw samples into a fresh buffer of the same
// mode and size. No ICC profile, EXIF block, text or orientation survives.
func Strip(img *domain.Image) *domain.Image {
	return &domain.Image{
		Pixels:       copyPixels(img.Pixels),
		Mode:         img.Mode,
		SourceFormat: img.SourceFormat,
		SourceBytes:  img.SourceBytes,
	}
}

func copyPixels(src image.Image) image.Image {
	b := src.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())

	switch m := src.(type) {
	case *image.Gray:
		out := image.NewGray(rect)
		copyRows(out.Pix, out.Stride, m.Pix[m.PixOffset(b.Min.X, b.Min.Y):], m.Stride, b.Dx(), b.Dy())
		return out
	case *image.NRGBA:
		out := image.NewNRGBA(rect)
		copyRows(out.Pix, out.Stride, m.Pix[m.PixOffset(b.Min.X, b.Min.Y):], m.Stride, b.Dx()*4, b.Dy())
		return out
	case *image.Paletted:
		out := image.NewPaletted(rect, append(color.Palette(nil), m.Palette...))
		copyRows(out.Pix, out.Stride, m.Pix[m.PixOffset(b.Min.X, b.Min.Y):], m.Stride, b.Dx(), b.Dy())
		return out
	default:
		out := image.NewNRGBA(rect)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				out.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
			}
		}
		return out
	}
}

func copyRows(dst []byte, dstStride int, src []byte, srcStride, rowBytes, rows int) {
	for y := 0; y < rows; y++ {
		copy(dst[y*dstStride:y*dstStride+rowBytes], src[y*srcStride:y*srcStride+rowBytes])
	}
}
