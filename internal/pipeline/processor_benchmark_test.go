package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/pixelnorm/internal/domain"
)

func BenchmarkProcessorScale(b *testing.B) {
	benchmarkVariant(b, domain.Variant{
		ID:     "web_1600_jpeg",
		Resize: domain.ResizePolicy{Mode: domain.ResizeModeScale, Basis: domain.ScaleBasisLongEdge, Limit: 640},
		Output: domain.OutputPolicy{Format: domain.FormatJPEG, Quality: 82, StripMetadata: true},
	})
}

func BenchmarkProcessorCover(b *testing.B) {
	benchmarkVariant(b, domain.Variant{
		ID:     "square_png",
		Resize: domain.ResizePolicy{Mode: domain.ResizeModeExact, TargetWidth: 600, TargetHeight: 600, Fit: domain.FitCover},
		Output: domain.OutputPolicy{Format: domain.FormatPNG, Quality: 100},
	})
}

func benchmarkVariant(b *testing.B, variant domain.Variant) {
	source := buildTestPNG(b, 1920, 1080)
	processor := NewProcessor(staticFetcher{data: source}, discardEmitter{}, nil)

	req := Request{
		JobID:      "bench",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "ignored.png",
		Variants:   []domain.Variant{variant},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-%s-%d", variant.ID, i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, variant domain.Variant, artifact *domain.EncodedArtifact) (Output, error) {
	return outputFor(variant, artifact, ""), nil
}
