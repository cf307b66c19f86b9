package colorspace

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/imageio"
)

var orientations = map[int]func(image.Image) *image.NRGBA{
	2: imaging.FlipH,
	3: imaging.Rotate180,
	4: imaging.FlipV,
	5: imaging.Transpose,
	6: imaging.Rotate270,
	7: imaging.Transverse,
	8: imaging.Rotate90,
}

// Orient applies the stored EXIF orientation so the samples match the
// intended display orientation, then clears the tag. Images without a tag
// come back unchanged, so a second call is a no-op.
func Orient(img *domain.Image) *domain.Image {
	transform, ok := orientations[img.Orientation]
	if !ok {
		out := img.WithPixels(img.Pixels, img.Mode)
		out.Orientation = 0
		return out
	}

	pixels, mode := expand(img)
	oriented := transform(pixels)

	var result image.Image = oriented
	if mode == domain.PixelModeGray {
		result = imageio.ToGray(oriented)
	}

	out := img.WithPixels(result, mode)
	out.Orientation = 0
	return out
}

// Normalize converts img to sRGB using its embedded ICC profile. Indexed
// images are expanded to rgb or rgba first. A profile that cannot be applied
// yields a warning and the samples are left as they are.
func Normalize(img *domain.Image) (*domain.Image, *domain.ColorConversionWarning) {
	pixels, mode := expand(img)
	out := img.WithPixels(pixels, mode)
	if len(img.ICCProfile) == 0 {
		return out, nil
	}

	converted, err := toSRGB(out)
	if err != nil {
		return out, &domain.ColorConversionWarning{Err: err}
	}

	converted.ICCProfile = nil
	return converted, nil
}

func toSRGB(img *domain.Image) (*domain.Image, error) {
	profile, err := ParseProfile(img.ICCProfile)
	if err != nil {
		return nil, err
	}
	if profile.ColorSpace() == "RGB" && img.Mode == domain.PixelModeGray {
		return nil, fmt.Errorf("%w: RGB profile on gray image", ErrUnsupportedProfile)
	}

	transform, err := profile.NewTransform(IntentPerceptual)
	if err != nil {
		return nil, err
	}
	pixels, err := transform.Apply(img.Pixels)
	if err != nil {
		return nil, err
	}
	return img.WithPixels(pixels, img.Mode), nil
}

// expand returns the samples of img in a gray, rgb or rgba buffer.
func expand(img *domain.Image) (image.Image, domain.PixelMode) {
	if img.Mode != domain.PixelModeIndexed {
		return img.Pixels, img.Mode
	}
	if paletted, ok := img.Pixels.(*image.Paletted); ok {
		return imageio.ExpandPalette(paletted)
	}
	return imaging.Clone(img.Pixels), domain.PixelModeRGBA
}
