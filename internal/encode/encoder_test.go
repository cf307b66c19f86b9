package encode

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/imageio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"
)

func outputPolicy(format domain.Format) domain.OutputPolicy {
	return domain.OutputPolicy{Format: format, Quality: 90, Progressive: true, Optimize: true}
}

func transparentSquare(w, h int) *domain.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
			}
		}
	}
	return &domain.Image{Pixels: img, Mode: domain.PixelModeRGBA}
}

func TestParamsFor(t *testing.T) {
	jpegParams := ParamsFor(outputPolicy(domain.FormatJPEG))
	assert.Equal(t, ChromaSubsampling420, jpegParams.Subsampling)
	assert.True(t, jpegParams.Progressive)
	assert.True(t, jpegParams.Optimize)
	assert.Equal(t, 90, jpegParams.Quality)

	webpParams := ParamsFor(outputPolicy(domain.FormatWebP))
	assert.Equal(t, WebPMethod, webpParams.WebPMethod)
	assert.False(t, webpParams.Progressive)

	pngParams := ParamsFor(outputPolicy(domain.FormatPNG))
	assert.Equal(t, 0, pngParams.Quality)
	assert.Equal(t, png.BestCompression, pngParams.PNGCompression)

	plain := outputPolicy(domain.FormatPNG)
	plain.Optimize = false
	assert.Equal(t, png.DefaultCompression, ParamsFor(plain).PNGCompression)
}

func TestJPEGFlattensAlphaOverWhite(t *testing.T) {
	artifact, err := NewWithBackend(NewNativeBackend()).Encode(transparentSquare(32, 32), outputPolicy(domain.FormatJPEG), "#FFFFFF")
	require.NoError(t, err)
	assert.Equal(t, ".jpg", artifact.Extension)
	assert.Equal(t, domain.PixelModeRGB, artifact.Mode)

	decoded, err := jpeg.Decode(bytes.NewReader(artifact.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), decoded.Bounds())

	r, g, b, a := decoded.At(28, 16).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))

	r, g, _, _ = decoded.At(4, 16).RGBA()
	assert.Greater(t, r>>8, uint32(150))
	assert.Less(t, g>>8, uint32(80))
}

func TestFlattenDefaultsToWhite(t *testing.T) {
	flat, err := Flatten(transparentSquare(4, 4).Pixels, "")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, flat.NRGBAAt(3, 0))
	assert.Equal(t, color.NRGBA{R: 200, G: 10, B: 10, A: 255}, flat.NRGBAAt(0, 0))

	half := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	half.SetNRGBA(0, 0, color.NRGBA{A: 128})
	flat, err = Flatten(half, "#FFFFFF")
	require.NoError(t, err)
	assert.InDelta(t, 127, int(flat.NRGBAAt(0, 0).R), 1)
}

func TestPNGRoundTripIsLossless(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 17, 9))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 7)
	}
	img := &domain.Image{Pixels: src, Mode: domain.PixelModeRGBA}

	artifact, err := NewWithBackend(NewNativeBackend()).Encode(img, outputPolicy(domain.FormatPNG), "transparent")
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGBA, artifact.Mode)

	decoded, err := png.Decode(bytes.NewReader(artifact.Data))
	require.NoError(t, err)
	nrgba, ok := decoded.(*image.NRGBA)
	require.True(t, ok, "got %T", decoded)
	assert.Equal(t, src.Pix, nrgba.Pix)
}

func TestPNGKeepsGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 5, 5))
	src.SetGray(2, 2, color.Gray{Y: 99})

	artifact, err := NewWithBackend(NewNativeBackend()).Encode(&domain.Image{Pixels: src, Mode: domain.PixelModeGray}, outputPolicy(domain.FormatPNG), "")
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeGray, artifact.Mode)

	decoded, err := png.Decode(bytes.NewReader(artifact.Data))
	require.NoError(t, err)
	assert.Equal(t, src.Pix, decoded.(*image.Gray).Pix)
}

func TestJPEGPromotesGray(t *testing.T) {
	prepared, err := Prepare(&domain.Image{Pixels: image.NewGray(image.Rect(0, 0, 2, 2)), Mode: domain.PixelModeGray}, domain.FormatJPEG, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGB, prepared.Mode)
	assert.IsType(t, &image.NRGBA{}, prepared.Pixels)
}

func TestOpaqueBackgroundFlattensForAlphaFormats(t *testing.T) {
	prepared, err := Prepare(transparentSquare(4, 4), domain.FormatPNG, "#000000")
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGB, prepared.Mode)
	assert.Equal(t, color.NRGBA{A: 255}, prepared.Pixels.(*image.NRGBA).NRGBAAt(3, 3))
}

func TestWebPEncode(t *testing.T) {
	artifact, err := NewWithBackend(NewNativeBackend()).Encode(transparentSquare(24, 16), outputPolicy(domain.FormatWebP), "")
	require.NoError(t, err)
	assert.Equal(t, ".webp", artifact.Extension)
	assert.Equal(t, imageio.KindWebP, imageio.Sniff(artifact.Data))

	cfg, err := webp.DecodeConfig(bytes.NewReader(artifact.Data))
	require.NoError(t, err)
	assert.Equal(t, 24, cfg.Width)
	assert.Equal(t, 16, cfg.Height)
}

func TestEncodeEmbedsRemainingMetadata(t *testing.T) {
	img := transparentSquare(8, 8)
	img.Text = map[string]string{"Comment": "kept"}

	artifact, err := NewWithBackend(NewNativeBackend()).Encode(img, outputPolicy(domain.FormatJPEG), "")
	require.NoError(t, err)

	meta, err := imageio.ReadMetadata(artifact.Data)
	require.NoError(t, err)
	assert.Equal(t, "kept", meta.Text["Comment"])
}

func TestEncodeRejectsInvalidPolicy(t *testing.T) {
	enc := NewWithBackend(NewNativeBackend())

	bad := outputPolicy(domain.FormatJPEG)
	bad.Quality = 0
	_, err := enc.Encode(transparentSquare(2, 2), bad, "")
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)

	_, err = enc.Encode(transparentSquare(2, 2), outputPolicy(domain.FormatJPEG), "transparent")
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

func TestNativeJPEGReportsIgnoredOptions(t *testing.T) {
	enc := NewWithBackend(NewNativeBackend())

	artifact, err := enc.Encode(transparentSquare(8, 8), outputPolicy(domain.FormatJPEG), "")
	require.NoError(t, err)
	require.Len(t, artifact.Warnings, 2)
	for i, option := range []string{"progressive", "optimize"} {
		assert.ErrorIs(t, artifact.Warnings[i], domain.ErrEncodeOption)
		var warning *domain.EncodeOptionWarning
		require.ErrorAs(t, artifact.Warnings[i], &warning)
		assert.Equal(t, option, warning.Option)
		assert.Equal(t, "native", warning.Backend)
	}

	baseline := outputPolicy(domain.FormatJPEG)
	baseline.Progressive, baseline.Optimize = false, false
	artifact, err = enc.Encode(transparentSquare(8, 8), baseline, "")
	require.NoError(t, err)
	assert.Empty(t, artifact.Warnings)

	for _, format := range []domain.Format{domain.FormatPNG, domain.FormatWebP} {
		artifact, err = enc.Encode(transparentSquare(8, 8), outputPolicy(format), "")
		require.NoError(t, err)
		assert.Empty(t, artifact.Warnings, format)
	}
}

type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }

func (failingBackend) Encode(image.Image, Params) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestEncodeWrapsBackendFailure(t *testing.T) {
	_, err := NewWithBackend(failingBackend{}).Encode(transparentSquare(2, 2), outputPolicy(domain.FormatPNG), "")
	var encodeErr *domain.EncodeError
	require.ErrorAs(t, err, &encodeErr)
	assert.Equal(t, domain.FormatPNG, encodeErr.Format)
	assert.ErrorIs(t, err, domain.ErrEncode)
}

func TestReplaceExtension(t *testing.T) {
	assert.Equal(t, "out/photo.webp", ReplaceExtension("out/photo.JPG", domain.FormatWebP))
	assert.Equal(t, "photo.jpg", ReplaceExtension("photo", domain.FormatJPEG))
	assert.Equal(t, "a.b/c.png", ReplaceExtension("a.b/c.tar", domain.FormatPNG))
}
