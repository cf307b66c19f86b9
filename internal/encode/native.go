package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// nativeBackend writes JPEG and PNG with the standard library and WebP with
// libwebp. image/jpeg always emits baseline 4:2:0 with the standard Huffman
// tables; Unsupported reports the JPEG flags it cannot apply.
type nativeBackend struct{}

func NewNativeBackend() Backend {
	return nativeBackend{}
}

func (nativeBackend) Name() string { return "native" }

func (nativeBackend) Unsupported(params Params) []string {
	if params.Format != domain.FormatJPEG {
		return nil
	}
	var options []string
	if params.Progressive {
		options = append(options, "progressive")
	}
	if params.Optimize {
		options = append(options, "optimize")
	}
	return options
}

func (nativeBackend) Encode(pixels image.Image, params Params) ([]byte, error) {
	var buf bytes.Buffer

	switch params.Format {
	case domain.FormatJPEG:
		if err := jpeg.Encode(&buf, pixels, &jpeg.Options{Quality: params.Quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatPNG:
		enc := png.Encoder{CompressionLevel: params.PNGCompression}
		if err := enc.Encode(&buf, pixels); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case domain.FormatWebP:
		opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(params.Quality))
		if err != nil {
			return nil, fmt.Errorf("webp options: %w", err)
		}
		opts.Method = params.WebPMethod
		if err := webp.Encode(&buf, asNRGBA(pixels), opts); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", params.Format)
	}

	return buf.Bytes(), nil
}
