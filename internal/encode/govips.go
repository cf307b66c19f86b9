//go:build govips && cgo

package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelnorm/internal/domain"
)

// govipsBackend hands the prepared samples to libvips, which honors the
// progressive and optimize flags for JPEG. Metadata is stripped on export and
// re-embedded by the Encoder like for every other backend.
type govipsBackend struct{}

func (govipsBackend) Name() string { return "govips" }

func (govipsBackend) Encode(pixels image.Image, params Params) ([]byte, error) {
	var staged bytes.Buffer
	stage := png.Encoder{CompressionLevel: png.NoCompression}
	if err := stage.Encode(&staged, pixels); err != nil {
		return nil, fmt.Errorf("stage pixels: %w", err)
	}

	img, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load staged pixels: %w", err)
	}
	defer img.Close()

	switch params.Format {
	case domain.FormatJPEG:
		exp := vips.NewJpegExportParams()
		exp.StripMetadata = true
		exp.Quality = params.Quality
		exp.Interlace = params.Progressive
		exp.OptimizeCoding = params.Optimize
		exp.SubsampleMode = vips.VipsForeignSubsampleOn
		data, _, err := img.ExportJpeg(exp)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatPNG:
		exp := vips.NewPngExportParams()
		exp.StripMetadata = true
		exp.Compression = 6
		if params.PNGCompression == png.BestCompression {
			exp.Compression = 9
		}
		data, _, err := img.ExportPng(exp)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case domain.FormatWebP:
		exp := vips.NewWebpExportParams()
		exp.StripMetadata = true
		exp.Quality = params.Quality
		exp.ReductionEffort = params.WebPMethod
		data, _, err := img.ExportWebp(exp)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", params.Format)
	}
}
