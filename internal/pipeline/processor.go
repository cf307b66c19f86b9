package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

//go:generate mockgen -destination=../mocks/pipeline_mocks.go -package=mocks github.com/dunamismax/pixelnorm/internal/pipeline Fetcher,Emitter,ObjectStore

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrUnresolvedPreset      = errors.New("variant preset was not resolved")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	Variants   []domain.Variant
}

type Output = domain.VariantOutput

type Result struct {
	SourceBytes int
	Outputs     []Output
}

// BytesSaved is the advisory size difference between the source and every
// emitted output. Negative when the outputs are larger.
func (r Result) BytesSaved() int64 {
	var saved int64
	for _, out := range r.Outputs {
		saved += int64(r.SourceBytes - out.Bytes)
	}
	return saved
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, variant domain.Variant, artifact *domain.EncodedArtifact) (Output, error)
}

type Processor struct {
	fetcher  Fetcher
	pipeline *Pipeline
	emitter  Emitter
}

func NewProcessor(fetcher Fetcher, emitter Emitter, pl *Pipeline) *Processor {
	if pl == nil {
		pl = defaultPipeline
	}
	return &Processor{fetcher: fetcher, pipeline: pl, emitter: emitter}
}

func NewLocalProcessor(outputDir string, pl *Pipeline) *Processor {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, pl)
}

// Process fetches and decodes the source once, then normalizes and emits one
// artifact per variant. The context is checked between variants.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Variants) == 0 {
		return Result{}, errors.New("variants must contain at least one entry")
	}
	for _, variant := range req.Variants {
		if err := domain.ValidatePolicies(variant.Resize, variant.Output); err != nil {
			if strings.TrimSpace(variant.Preset) != "" {
				return Result{}, fmt.Errorf("variant=%s preset=%s: %w", variant.ID, variant.Preset, ErrUnresolvedPreset)
			}
			return Result{}, fmt.Errorf("variant=%s: %w", variant.ID, err)
		}
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	img, err := p.pipeline.Decode(sourceBytes)
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w", err)
	}

	out := Result{SourceBytes: len(sourceBytes), Outputs: make([]Output, 0, len(req.Variants))}
	for _, variant := range req.Variants {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		artifact, err := p.pipeline.Normalize(img, variant.Resize, variant.Output)
		if err != nil {
			return Result{}, fmt.Errorf("normalize stage variant=%s: %w", variant.ID, err)
		}

		written, err := p.emitter.Emit(ctx, req, variant, artifact)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage variant=%s: %w", variant.ID, err)
		}
		for _, warning := range artifact.Warnings {
			written.Warnings = append(written.Warnings, warning.Error())
		}
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, variant domain.Variant, artifact *domain.EncodedArtifact) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(variant.ID) == "" {
		return Output{}, errors.New("variant id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, sanitizePathToken(variant.ID)+artifact.Extension)
	if err := os.WriteFile(fullPath, artifact.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return outputFor(variant, artifact, fullPath), nil
}

func outputFor(variant domain.Variant, artifact *domain.EncodedArtifact, path string) Output {
	return Output{
		VariantID: variant.ID,
		Format:    string(artifact.Format),
		Path:      path,
		Bytes:     len(artifact.Data),
		Width:     artifact.Width,
		Height:    artifact.Height,
		Success:   true,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
