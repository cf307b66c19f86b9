package geometry

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Resampler scales a buffer to exactly width x height with a Lanczos filter.
type Resampler interface {
	Name() string
	Resample(src image.Image, width, height int) image.Image
}

const (
	ResamplerImaging = "imaging"
	ResamplerNFNT    = "nfnt"
)

// NewResampler selects a resampler by name. The empty name picks the
// imaging implementation.
func NewResampler(name string) (Resampler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ResamplerImaging:
		return imagingResampler{}, nil
	case ResamplerNFNT:
		return nfntResampler{}, nil
	default:
		return nil, fmt.Errorf("unsupported resampler %q", name)
	}
}

type imagingResampler struct{}

func (imagingResampler) Name() string { return ResamplerImaging }

func (imagingResampler) Resample(src image.Image, width, height int) image.Image {
	return imaging.Resize(src, width, height, imaging.Lanczos)
}

type nfntResampler struct{}

func (nfntResampler) Name() string { return ResamplerNFNT }

func (nfntResampler) Resample(src image.Image, width, height int) image.Image {
	return resize.Resize(uint(width), uint(height), src, resize.Lanczos3)
}
