package geometry

import (
	"image"
	"image/color"
	"testing"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *domain.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	mode := domain.PixelModeRGB
	if c.A != 255 {
		mode = domain.PixelModeRGBA
	}
	return &domain.Image{Pixels: img, Mode: mode}
}

func exact(w, h int, fit domain.Fit, bg domain.Background) domain.ResizePolicy {
	return domain.ResizePolicy{Mode: domain.ResizeModeExact, TargetWidth: w, TargetHeight: h, Fit: fit, Background: bg}
}

func longEdge(limit int, upscale bool) domain.ResizePolicy {
	return domain.ResizePolicy{Mode: domain.ResizeModeScale, Basis: domain.ScaleBasisLongEdge, Limit: limit, AllowUpscale: upscale}
}

func resamplers(t *testing.T) []*Transformer {
	t.Helper()
	var out []*Transformer
	for _, name := range []string{ResamplerImaging, ResamplerNFNT} {
		r, err := NewResampler(name)
		require.NoError(t, err)
		out = append(out, NewTransformer(r))
	}
	return out
}

func TestExactProducesTargetDimensions(t *testing.T) {
	sizes := [][2]int{{100, 50}, {50, 100}, {1, 1}, {333, 77}, {64, 64}, {3, 1000}}
	targets := [][2]int{{200, 200}, {60, 60}, {1, 1}, {120, 45}, {17, 301}}

	for _, tr := range resamplers(t) {
		for _, size := range sizes {
			for _, target := range targets {
				for _, fit := range []domain.Fit{domain.FitContain, domain.FitCover} {
					out, err := tr.Resize(solid(size[0], size[1], color.NRGBA{R: 10, G: 20, B: 30, A: 255}), exact(target[0], target[1], fit, ""))
					require.NoError(t, err)
					assert.Equal(t, target[0], out.Width(), "%s %v -> %v (%s)", fit, size, target, tr.resampler.Name())
					assert.Equal(t, target[1], out.Height(), "%s %v -> %v (%s)", fit, size, target, tr.resampler.Name())
				}
			}
		}
	}
}

func TestScaleLongEdge(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		policy       domain.ResizePolicy
		wantW, wantH int
	}{
		{name: "already small", w: 800, h: 600, policy: longEdge(1600, false), wantW: 800, wantH: 600},
		{name: "equal to limit", w: 1600, h: 900, policy: longEdge(1600, false), wantW: 1600, wantH: 900},
		{name: "landscape down", w: 3200, h: 1800, policy: longEdge(1600, false), wantW: 1600, wantH: 900},
		{name: "portrait down", w: 1000, h: 3000, policy: longEdge(1500, false), wantW: 500, wantH: 1500},
		{name: "half rounds up", w: 20, h: 5, policy: longEdge(10, false), wantW: 10, wantH: 3},
		{name: "minor axis floor is one", w: 1000, h: 1, policy: longEdge(10, false), wantW: 10, wantH: 1},
		{name: "upscale allowed", w: 100, h: 50, policy: longEdge(400, true), wantW: 400, wantH: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Resize(solid(tt.w, tt.h, color.NRGBA{A: 255}), tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, out.Width())
			assert.Equal(t, tt.wantH, out.Height())
		})
	}
}

func TestScaleLongEdgeProperty(t *testing.T) {
	for w := 1; w <= 60; w += 7 {
		for h := 1; h <= 60; h += 5 {
			out, err := Resize(solid(w, h, color.NRGBA{A: 255}), longEdge(25, false))
			require.NoError(t, err)
			if max(w, h) <= 25 {
				assert.Equal(t, w, out.Width())
				assert.Equal(t, h, out.Height())
				continue
			}
			assert.Equal(t, 25, max(out.Width(), out.Height()), "%dx%d", w, h)
		}
	}
}

func TestScaleFixedWidth(t *testing.T) {
	policy := domain.ResizePolicy{Mode: domain.ResizeModeScale, Basis: domain.ScaleBasisFixedWidth, Limit: 500}

	out, err := Resize(solid(1000, 333, color.NRGBA{A: 255}), policy)
	require.NoError(t, err)
	assert.Equal(t, 500, out.Width())
	assert.Equal(t, 167, out.Height())

	// the no-upscale guard only looks at the width
	out, err = Resize(solid(400, 4000, color.NRGBA{A: 255}), policy)
	require.NoError(t, err)
	assert.Equal(t, 400, out.Width())
	assert.Equal(t, 4000, out.Height())
}

func TestContainCentersContent(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	out, err := Resize(solid(100, 50, red), exact(200, 200, domain.FitContain, "#0000FF"))
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGB, out.Mode)

	px := out.Pixels.(*image.NRGBA)
	blue := color.NRGBA{B: 255, A: 255}
	// scale 2 gives 200x100 content at rows 50..149
	assert.Equal(t, blue, px.NRGBAAt(100, 0))
	assert.Equal(t, blue, px.NRGBAAt(100, 49))
	assert.Equal(t, red, px.NRGBAAt(100, 50))
	assert.Equal(t, red, px.NRGBAAt(100, 149))
	assert.Equal(t, blue, px.NRGBAAt(100, 150))
	assert.Equal(t, blue, px.NRGBAAt(100, 199))
}

func TestContainTransparentCanvas(t *testing.T) {
	out, err := Resize(solid(10, 20, color.NRGBA{G: 255, A: 255}), exact(40, 40, domain.FitContain, "transparent"))
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGBA, out.Mode)

	px := out.Pixels.(*image.NRGBA)
	assert.Equal(t, uint8(0), px.NRGBAAt(0, 20).A)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, px.NRGBAAt(20, 20))
}

func TestContainBlendsTranslucentSourceOverBackground(t *testing.T) {
	out, err := Resize(solid(10, 10, color.NRGBA{R: 255, A: 128}), exact(20, 10, domain.FitContain, "#000000"))
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGB, out.Mode)

	c := out.Pixels.(*image.NRGBA).NRGBAAt(10, 5)
	assert.InDelta(t, 128, int(c.R), 1)
	assert.Equal(t, uint8(255), c.A)
	assert.Equal(t, color.NRGBA{A: 255}, out.Pixels.(*image.NRGBA).NRGBAAt(0, 5))
}

func TestContainUsesSourceAlphaAsMask(t *testing.T) {
	out, err := Resize(solid(10, 10, color.NRGBA{R: 255, A: 0}), exact(20, 10, domain.FitContain, "#00FF00"))
	require.NoError(t, err)

	px := out.Pixels.(*image.NRGBA)
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, px.NRGBAAt(10, 5), "fully transparent source leaves the background")
}

func TestCoverCropsCenteredWindow(t *testing.T) {
	// 100x50 with a left half red and right half blue, scaled to 120x60
	src := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			c := color.NRGBA{R: 255, A: 255}
			if x >= 50 {
				c = color.NRGBA{B: 255, A: 255}
			}
			src.SetNRGBA(x, y, c)
		}
	}

	out, err := Resize(&domain.Image{Pixels: src, Mode: domain.PixelModeRGB}, exact(60, 60, domain.FitCover, ""))
	require.NoError(t, err)
	require.Equal(t, 60, out.Width())
	require.Equal(t, 60, out.Height())

	// the crop starts at x=30 of the 120 wide image, so the red/blue seam
	// (x=60 there) lands at x=30 of the output
	px := out.Pixels.(*image.NRGBA)
	assert.Greater(t, px.NRGBAAt(5, 30).R, uint8(200))
	assert.Greater(t, px.NRGBAAt(54, 30).B, uint8(200))
	assert.Greater(t, px.NRGBAAt(28, 30).R, px.NRGBAAt(28, 30).B)
	assert.Greater(t, px.NRGBAAt(31, 30).B, px.NRGBAAt(31, 30).R)
}

func TestGrayStaysGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 40, 20))
	for i := range src.Pix {
		src.Pix[i] = 128
	}
	img := &domain.Image{Pixels: src, Mode: domain.PixelModeGray}

	for _, tr := range resamplers(t) {
		out, err := tr.Resize(img, longEdge(10, false))
		require.NoError(t, err)
		assert.Equal(t, domain.PixelModeGray, out.Mode)
		gray, ok := out.Pixels.(*image.Gray)
		require.True(t, ok, tr.resampler.Name())
		assert.Equal(t, image.Rect(0, 0, 10, 5), gray.Rect)
		assert.InDelta(t, 128, int(gray.GrayAt(5, 2).Y), 1)

		out, err = tr.Resize(img, exact(8, 8, domain.FitCover, ""))
		require.NoError(t, err)
		assert.IsType(t, &image.Gray{}, out.Pixels)
	}
}

func TestIndexedIsExpanded(t *testing.T) {
	src := image.NewPaletted(image.Rect(0, 0, 20, 20), color.Palette{color.White, color.Black})
	out, err := Resize(&domain.Image{Pixels: src, Mode: domain.PixelModeIndexed}, longEdge(10, false))
	require.NoError(t, err)
	assert.Equal(t, domain.PixelModeRGB, out.Mode)
	assert.IsType(t, &image.NRGBA{}, out.Pixels)
}

func TestResizeRejectsBadInput(t *testing.T) {
	img := solid(10, 10, color.NRGBA{A: 255})

	_, err := Resize(img, exact(0, 10, domain.FitContain, ""))
	var policyErr *domain.InvalidPolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.Equal(t, "target_width", policyErr.Field)

	_, err = Resize(&domain.Image{Pixels: image.NewNRGBA(image.Rect(0, 0, 0, 5)), Mode: domain.PixelModeRGB}, longEdge(10, false))
	assert.ErrorIs(t, err, domain.ErrEmptyImage)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestResizeDoesNotMutateInput(t *testing.T) {
	img := solid(30, 30, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	img.Text = map[string]string{"k": "v"}
	before := append([]byte(nil), img.Pixels.(*image.NRGBA).Pix...)

	_, err := Resize(img, exact(10, 20, domain.FitCover, ""))
	require.NoError(t, err)
	assert.Equal(t, before, img.Pixels.(*image.NRGBA).Pix)
	assert.Equal(t, map[string]string{"k": "v"}, img.Text)
}

func TestNewResamplerRejectsUnknown(t *testing.T) {
	_, err := NewResampler("bicubic")
	assert.Error(t, err)
}
