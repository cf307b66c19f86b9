package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/encode"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

type BatchOptions struct {
	Resize    domain.ResizePolicy
	Output    domain.OutputPolicy
	OutputDir string
	Suffix    string
	Workers   int
	Pipeline  *pipeline.Pipeline
}

type FileResult struct {
	Source      string
	Output      string
	SourceBytes int
	OutputBytes int
	Width       int
	Height      int
	Warnings    []string
	Err         error
}

type Summary struct {
	Processed  int
	Failed     int
	BytesSaved int64
}

// OutputPath is <dir>/<stem><suffix><ext>. An empty dir writes next to the
// source.
func OutputPath(source, dir, suffix string, format domain.Format) string {
	if dir == "" {
		dir = filepath.Dir(source)
	}
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return encode.ReplaceExtension(filepath.Join(dir, stem+suffix), format)
}

// RunBatch normalizes files with at most opts.Workers in flight. A failed
// file is recorded and the rest continue; once ctx is done no new file is
// started. Results keep the order of files.
func RunBatch(ctx context.Context, files []string, opts BatchOptions) ([]FileResult, Summary) {
	results := make([]FileResult, len(files))
	targets := make(map[string]string, len(files))
	for i, file := range files {
		results[i] = FileResult{Source: file, Output: OutputPath(file, opts.OutputDir, opts.Suffix, opts.Output.Format)}
		if prev, ok := targets[results[i].Output]; ok {
			results[i].Err = fmt.Errorf("output %s already written for %s", results[i].Output, prev)
			continue
		}
		if sameFile(file, results[i].Output) {
			results[i].Err = fmt.Errorf("output would overwrite the source; set a suffix or output directory")
			continue
		}
		targets[results[i].Output] = file
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Workers))
	for i := range results {
		if results[i].Err != nil {
			continue
		}
		if err := gctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			normalizeFile(gctx, &results[i], opts)
			return nil
		})
	}
	_ = g.Wait()

	var summary Summary
	for _, r := range results {
		if r.Err != nil {
			summary.Failed++
			continue
		}
		summary.Processed++
		if saved := int64(r.SourceBytes - r.OutputBytes); saved > 0 {
			summary.BytesSaved += saved
		}
	}
	return results, summary
}

func normalizeFile(ctx context.Context, r *FileResult, opts BatchOptions) {
	if err := ctx.Err(); err != nil {
		r.Err = err
		return
	}

	data, err := os.ReadFile(r.Source)
	if err != nil {
		r.Err = fmt.Errorf("read: %w", err)
		return
	}
	r.SourceBytes = len(data)

	artifact, err := opts.Pipeline.NormalizeBytes(data, opts.Resize, opts.Output)
	if err != nil {
		r.Err = err
		return
	}

	if err := os.MkdirAll(filepath.Dir(r.Output), 0o755); err != nil {
		r.Err = fmt.Errorf("create output dir: %w", err)
		return
	}
	if err := os.WriteFile(r.Output, artifact.Data, 0o644); err != nil {
		r.Err = fmt.Errorf("write: %w", err)
		return
	}

	r.OutputBytes = len(artifact.Data)
	r.Width, r.Height = artifact.Width, artifact.Height
	for _, warning := range artifact.Warnings {
		r.Warnings = append(r.Warnings, warning.Error())
	}
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
