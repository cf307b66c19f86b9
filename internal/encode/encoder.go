package encode

import (
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/imageio"
)

// WebPMethod is the libwebp effort level used for every WebP output
// (0 fastest, 6 slowest).
const WebPMethod = 5

const ChromaSubsampling420 = "4:2:0"

// Params is the full set of encoder settings derived from an OutputPolicy.
type Params struct {
	Format         domain.Format
	Quality        int
	Progressive    bool
	Optimize       bool
	Subsampling    string
	WebPMethod     int
	PNGCompression png.CompressionLevel
}

func ParamsFor(output domain.OutputPolicy) Params {
	params := Params{Format: output.Format, Quality: output.Quality, Optimize: output.Optimize}

	switch output.Format {
	case domain.FormatJPEG:
		params.Progressive = output.Progressive
		params.Subsampling = ChromaSubsampling420
	case domain.FormatWebP:
		params.WebPMethod = WebPMethod
	case domain.FormatPNG:
		params.Quality = 0
		params.PNGCompression = png.DefaultCompression
		if output.Optimize {
			params.PNGCompression = png.BestCompression
		}
	}
	return params
}

// Backend turns canonical pixels (*image.Gray or *image.NRGBA) into bytes.
type Backend interface {
	Name() string
	Encode(pixels image.Image, params Params) ([]byte, error)
}

// optionReporter is implemented by backends that silently drop some of the
// settings in Params.
type optionReporter interface {
	Unsupported(params Params) []string
}

type Encoder struct {
	backend Backend
}

// New returns an encoder on the runtime's default backend: libvips when
// built with the govips tag, the native Go encoders otherwise.
func New() *Encoder {
	return &Encoder{backend: newBackend()}
}

func NewWithBackend(backend Backend) *Encoder {
	return &Encoder{backend: backend}
}

func (e *Encoder) Backend() string {
	return e.backend.Name()
}

// Encode flattens and converts img as the output format requires, encodes
// it and re-embeds whatever metadata img still carries.
func (e *Encoder) Encode(img *domain.Image, output domain.OutputPolicy, background domain.Background) (*domain.EncodedArtifact, error) {
	if err := output.Validate(); err != nil {
		return nil, err
	}
	if background.IsTransparent() && !output.Format.SupportsAlpha() {
		return nil, &domain.InvalidPolicyError{Field: "background", Reason: fmt.Sprintf("transparent background is not supported by %s output", output.Format)}
	}

	prepared, err := Prepare(img, output.Format, background)
	if err != nil {
		return nil, err
	}

	params := ParamsFor(output)
	data, err := e.backend.Encode(prepared.Pixels, params)
	if err != nil {
		return nil, &domain.EncodeError{Format: output.Format, Err: err}
	}

	data, err = imageio.Embed(data, output.Format, prepared)
	if err != nil {
		return nil, &domain.EncodeError{Format: output.Format, Err: err}
	}

	return &domain.EncodedArtifact{
		Data:      data,
		Extension: output.Format.Extension(),
		Format:    output.Format,
		Width:     prepared.Width(),
		Height:    prepared.Height(),
		Mode:      prepared.Mode,
		Warnings:  e.optionWarnings(params),
	}, nil
}

func (e *Encoder) optionWarnings(params Params) []error {
	reporter, ok := e.backend.(optionReporter)
	if !ok {
		return nil
	}
	var warnings []error
	for _, option := range reporter.Unsupported(params) {
		warnings = append(warnings, &domain.EncodeOptionWarning{Format: params.Format, Option: option, Backend: e.backend.Name()})
	}
	return warnings
}

// Prepare converts img into the pixel mode the output format will be written
// in. Alpha is flattened over the background unless the format keeps alpha
// and the background is transparent. JPEG and WebP never carry gray samples.
func Prepare(img *domain.Image, format domain.Format, background domain.Background) (*domain.Image, error) {
	if img == nil || img.Pixels == nil || img.Pixels.Bounds().Empty() {
		return nil, &domain.DecodeError{Err: domain.ErrEmptyImage}
	}

	pixels, mode := img.Pixels, img.Mode
	if paletted, ok := pixels.(*image.Paletted); ok {
		pixels, mode = imageio.ExpandPalette(paletted)
	}

	keepAlpha := format.SupportsAlpha() && background.IsTransparent()
	switch {
	case mode == domain.PixelModeRGBA && !keepAlpha:
		flat, err := Flatten(pixels, background)
		if err != nil {
			return nil, &domain.InvalidPolicyError{Field: "background", Reason: err.Error()}
		}
		pixels, mode = flat, domain.PixelModeRGB
	case mode == domain.PixelModeGray && format != domain.FormatPNG:
		pixels, mode = imaging.Clone(pixels), domain.PixelModeRGB
	case mode == domain.PixelModeGray:
		pixels = imageio.ToGray(pixels)
	default:
		pixels = asNRGBA(pixels)
	}

	return img.WithPixels(pixels, mode), nil
}

// Flatten composites src over an opaque background color using the source
// alpha as blend weight.
func Flatten(src image.Image, background domain.Background) (*image.NRGBA, error) {
	fill, err := background.Color()
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	return imaging.Overlay(imaging.New(b.Dx(), b.Dy(), fill), src, image.Point{}, 1), nil
}

// ReplaceExtension swaps the extension of path for the one format implies.
func ReplaceExtension(path string, format domain.Format) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + format.Extension()
}

func asNRGBA(src image.Image) *image.NRGBA {
	if m, ok := src.(*image.NRGBA); ok && m.Rect.Min == (image.Point{}) {
		return m
	}
	return imaging.Clone(src)
}
