package domain

import (
	"image"
	"maps"
)

type PixelMode string

const (
	PixelModeGray    PixelMode = "gray"
	PixelModeRGB     PixelMode = "rgb"
	PixelModeRGBA    PixelMode = "rgba"
	PixelModeIndexed PixelMode = "indexed"
)

// Image is a decoded raster plus the auxiliary metadata read from its
// container. Gray images hold *image.Gray, rgb and rgba hold *image.NRGBA
// (rgb keeps every alpha at 255) and indexed holds *image.Paletted.
type Image struct {
	Pixels       image.Image
	Mode         PixelMode
	ICCProfile   []byte
	EXIF         []byte
	Text         map[string]string
	Orientation  int
	SourceFormat string
	SourceBytes  int
}

func (img *Image) Width() int {
	return img.Pixels.Bounds().Dx()
}

func (img *Image) Height() int {
	return img.Pixels.Bounds().Dy()
}

func (img *Image) HasAlpha() bool {
	return img.Mode == PixelModeRGBA
}

func (img *Image) HasMetadata() bool {
	return len(img.ICCProfile) > 0 || len(img.EXIF) > 0 || len(img.Text) > 0 || img.Orientation != 0
}

// WithPixels returns a copy of img carrying the given buffer and mode and
// the same metadata. The metadata slices are shared; stages treat them as
// read-only.
func (img *Image) WithPixels(pixels image.Image, mode PixelMode) *Image {
	out := *img
	out.Pixels = pixels
	out.Mode = mode
	out.Text = maps.Clone(img.Text)
	return &out
}

type EncodedArtifact struct {
	Data      []byte
	Extension string
	Format    Format
	Width     int
	Height    int
	Mode      PixelMode
	Warnings  []error
}
