package pipeline

import (
	"github.com/dunamismax/pixelnorm/internal/colorspace"
	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/encode"
	"github.com/dunamismax/pixelnorm/internal/geometry"
	"github.com/dunamismax/pixelnorm/internal/imageio"
	"github.com/dunamismax/pixelnorm/internal/metadata"
)

// Pipeline runs the fixed normalization order: orient, color, resize, strip,
// encode. It holds no per-image state and is safe for concurrent use.
type Pipeline struct {
	transformer *geometry.Transformer
	encoder     *encode.Encoder
	maxPixels   int64
}

func New(resampler geometry.Resampler, encoder *encode.Encoder) *Pipeline {
	if encoder == nil {
		encoder = encode.New()
	}
	return &Pipeline{
		transformer: geometry.NewTransformer(resampler),
		encoder:     encoder,
	}
}

// WithMaxPixels returns a copy of p that refuses to decode sources larger
// than maxPixels.
func (p *Pipeline) WithMaxPixels(maxPixels int64) *Pipeline {
	out := *p
	out.maxPixels = maxPixels
	return &out
}

var defaultPipeline = New(nil, nil)

func Normalize(img *domain.Image, resize domain.ResizePolicy, output domain.OutputPolicy) (*domain.EncodedArtifact, error) {
	return defaultPipeline.Normalize(img, resize, output)
}

func NormalizeBytes(data []byte, resize domain.ResizePolicy, output domain.OutputPolicy) (*domain.EncodedArtifact, error) {
	return defaultPipeline.NormalizeBytes(data, resize, output)
}

// Normalize turns a decoded image into an encoded artifact. Policy errors
// are returned before any pixel work; color conversion failures and
// encoder options the backend ignored are recorded in the artifact warnings
// instead of failing the call.
func (p *Pipeline) Normalize(img *domain.Image, resize domain.ResizePolicy, output domain.OutputPolicy) (*domain.EncodedArtifact, error) {
	if err := domain.ValidatePolicies(resize, output); err != nil {
		return nil, err
	}
	if img == nil || img.Pixels == nil || img.Pixels.Bounds().Empty() {
		return nil, &domain.DecodeError{Err: domain.ErrEmptyImage}
	}

	var warnings []error
	current := colorspace.Orient(img)
	if output.NormalizeColorSpace {
		normalized, warning := colorspace.Normalize(current)
		if warning != nil {
			warnings = append(warnings, warning)
		}
		current = normalized
	}

	resized, err := p.transformer.Resize(current, resize)
	if err != nil {
		return nil, err
	}

	if output.StripMetadata {
		resized = metadata.Strip(resized)
	}

	artifact, err := p.encoder.Encode(resized, output, resize.Background)
	if err != nil {
		return nil, err
	}
	artifact.Warnings = append(warnings, artifact.Warnings...)
	return artifact, nil
}

// NormalizeBytes decodes data and runs Normalize on the result.
func (p *Pipeline) NormalizeBytes(data []byte, resize domain.ResizePolicy, output domain.OutputPolicy) (*domain.EncodedArtifact, error) {
	if err := domain.ValidatePolicies(resize, output); err != nil {
		return nil, err
	}

	img, err := p.Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Normalize(img, resize, output)
}

// Decode reads source bytes under the pipeline's pixel limit.
func (p *Pipeline) Decode(data []byte) (*domain.Image, error) {
	return imageio.DecodeLimited(data, p.maxPixels)
}

func (p *Pipeline) EncoderBackend() string {
	return p.encoder.Backend()
}
