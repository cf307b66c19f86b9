package geometry

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/imageio"
)

type Transformer struct {
	resampler Resampler
}

func NewTransformer(resampler Resampler) *Transformer {
	if resampler == nil {
		resampler = imagingResampler{}
	}
	return &Transformer{resampler: resampler}
}

var defaultTransformer = NewTransformer(nil)

// Resize applies policy with the default Lanczos resampler.
func Resize(img *domain.Image, policy domain.ResizePolicy) (*domain.Image, error) {
	return defaultTransformer.Resize(img, policy)
}

// Resize returns a new image sized according to policy. The input image is
// never modified.
func (t *Transformer) Resize(img *domain.Image, policy domain.ResizePolicy) (*domain.Image, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if img == nil || img.Pixels == nil || img.Pixels.Bounds().Empty() {
		return nil, &domain.DecodeError{Err: domain.ErrEmptyImage}
	}

	pixels, mode := canonical(img)
	src := img.WithPixels(pixels, mode)

	switch {
	case policy.Mode == domain.ResizeModeScale:
		return t.scale(src, policy), nil
	case policy.Fit == domain.FitCover:
		return t.cover(src, policy), nil
	default:
		return t.contain(src, policy)
	}
}

func (t *Transformer) scale(img *domain.Image, policy domain.ResizePolicy) *domain.Image {
	w, h := img.Width(), img.Height()

	var width, height int
	switch policy.Basis {
	case domain.ScaleBasisFixedWidth:
		if w <= policy.Limit && !policy.AllowUpscale {
			return img
		}
		width = policy.Limit
		height = scaled(h, float64(policy.Limit)/float64(w))
	default:
		long := max(w, h)
		if long <= policy.Limit && !policy.AllowUpscale {
			return img
		}
		s := float64(policy.Limit) / float64(long)
		width, height = scaled(w, s), scaled(h, s)
	}

	return img.WithPixels(t.resample(img, width, height), img.Mode)
}

func (t *Transformer) contain(img *domain.Image, policy domain.ResizePolicy) (*domain.Image, error) {
	W, H := policy.TargetWidth, policy.TargetHeight
	w, h := img.Width(), img.Height()

	s := math.Min(float64(W)/float64(w), float64(H)/float64(h))
	width := min(scaled(w, s), W)
	height := min(scaled(h, s), H)
	resized := t.resample(img, width, height)

	transparent := policy.Background.IsTransparent()
	canvas := image.NewNRGBA(image.Rect(0, 0, W, H))
	if !transparent {
		fill, err := policy.Background.Color()
		if err != nil {
			return nil, &domain.InvalidPolicyError{Field: "background", Reason: err.Error()}
		}
		canvas = imaging.New(W, H, fill)
	}

	offset := image.Pt((W-width)/2, (H-height)/2)
	// Overlay divides by the combined alpha, so it only runs on an opaque canvas.
	if img.Mode == domain.PixelModeRGBA && !transparent {
		canvas = imaging.Overlay(canvas, resized, offset, 1)
	} else {
		canvas = imaging.Paste(canvas, resized, offset)
	}

	mode := domain.PixelModeRGB
	if transparent {
		mode = domain.PixelModeRGBA
	}
	return img.WithPixels(canvas, mode), nil
}

func (t *Transformer) cover(img *domain.Image, policy domain.ResizePolicy) *domain.Image {
	W, H := policy.TargetWidth, policy.TargetHeight
	w, h := img.Width(), img.Height()

	s := math.Max(float64(W)/float64(w), float64(H)/float64(h))
	width := max(scaled(w, s), W)
	height := max(scaled(h, s), H)
	resized := t.resample(img, width, height)

	left := (width - W) / 2
	top := (height - H) / 2
	origin := resized.Bounds().Min
	cropped := imaging.Crop(resized, image.Rect(origin.X+left, origin.Y+top, origin.X+left+W, origin.Y+top+H))

	var out image.Image = cropped
	if img.Mode == domain.PixelModeGray {
		out = imageio.ToGray(cropped)
	}
	return img.WithPixels(out, img.Mode)
}

// resample scales the buffer of img, keeping gray images gray. Unchanged
// dimensions skip the filter and return the input buffer.
func (t *Transformer) resample(img *domain.Image, width, height int) image.Image {
	if width == img.Width() && height == img.Height() {
		return img.Pixels
	}

	out := t.resampler.Resample(img.Pixels, width, height)
	if img.Mode == domain.PixelModeGray {
		if gray, ok := out.(*image.Gray); ok && gray.Rect.Min == (image.Point{}) {
			return gray
		}
		return imageio.ToGray(out)
	}
	if nrgba, ok := out.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	return imaging.Clone(out)
}

// canonical returns gray, rgb or rgba samples for img; indexed buffers are
// expanded.
func canonical(img *domain.Image) (image.Image, domain.PixelMode) {
	if img.Mode != domain.PixelModeIndexed {
		return img.Pixels, img.Mode
	}
	if paletted, ok := img.Pixels.(*image.Paletted); ok {
		return imageio.ExpandPalette(paletted)
	}
	return imaging.Clone(img.Pixels), domain.PixelModeRGBA
}

// scaled rounds n*s half-up and never returns less than one pixel.
func scaled(n int, s float64) int {
	return max(1, int(math.Floor(float64(n)*s+0.5)))
}
