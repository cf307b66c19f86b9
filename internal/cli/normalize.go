package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/encode"
	"github.com/dunamismax/pixelnorm/internal/geometry"
	"github.com/dunamismax/pixelnorm/internal/imageio"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/presets"
	"github.com/spf13/cobra"
)

type normalizeOptions struct {
	preset      string
	presetsFile string
	outputDir   string
	suffix      string
	workers     int
	resampler   string
	maxPixels   int64

	format       string
	quality      int
	progressive  bool
	optimize     bool
	strip        bool
	srgb         bool
	mode         string
	basis        string
	limit        int
	width        int
	height       int
	fit          string
	background   string
	allowUpscale bool
}

func newNormalizeCommand() *cobra.Command {
	opts := normalizeOptions{}

	cmd := &cobra.Command{
		Use:   "normalize [flags] <file>...",
		Short: "Normalize images into web-ready artifacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(cmd, args, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.preset, "preset", "p", presets.Web, "preset the policy flags start from")
	flags.StringVar(&opts.presetsFile, "presets-file", "", "YAML file with extra presets (default $"+presetsFileEnv+")")
	flags.StringVarP(&opts.outputDir, "output", "o", "normalized", "destination folder; empty writes next to each source")
	flags.StringVar(&opts.suffix, "suffix", "_web", "appended to each output file name")
	flags.IntVarP(&opts.workers, "jobs", "j", runtime.NumCPU(), "files processed in parallel")
	flags.StringVar(&opts.resampler, "resampler", geometry.ResamplerImaging, "resampler implementation (imaging, nfnt)")
	flags.Int64Var(&opts.maxPixels, "max-pixels", imageio.DefaultMaxPixels, "refuse sources with more pixels than this")

	flags.StringVarP(&opts.format, "format", "f", "", "output format: jpeg, png, webp")
	flags.IntVarP(&opts.quality, "quality", "q", 0, "encoder quality 1-100")
	flags.BoolVar(&opts.progressive, "progressive", false, "progressive JPEG")
	flags.BoolVar(&opts.optimize, "optimize", false, "spend more effort on smaller files")
	flags.BoolVar(&opts.strip, "strip", false, "drop EXIF, XMP, ICC and text metadata")
	flags.BoolVar(&opts.srgb, "srgb", false, "convert embedded color profiles to sRGB")
	flags.StringVar(&opts.mode, "mode", "", "resize mode: scale, exact")
	flags.StringVar(&opts.basis, "basis", "", "scale basis: long_edge, fixed_width")
	flags.IntVar(&opts.limit, "limit", 0, "scale limit in pixels")
	flags.IntVar(&opts.width, "width", 0, "exact target width")
	flags.IntVar(&opts.height, "height", 0, "exact target height")
	flags.StringVar(&opts.fit, "fit", "", "exact fit: contain, cover")
	flags.StringVar(&opts.background, "background", "", "letterbox and flatten color: #RRGGBB or transparent")
	flags.BoolVar(&opts.allowUpscale, "upscale", false, "allow scale mode to enlarge images")

	return cmd
}

func runNormalize(cmd *cobra.Command, files []string, opts normalizeOptions) error {
	presetsFile := opts.presetsFile
	if presetsFile == "" {
		presetsFile = os.Getenv(presetsFileEnv)
	}
	reg, err := presets.Load(presetsFile)
	if err != nil {
		return err
	}

	resize, output, err := resolvePolicies(reg, opts, cmd.Flags().Changed)
	if err != nil {
		return err
	}

	resampler, err := geometry.NewResampler(opts.resampler)
	if err != nil {
		return err
	}

	if err := encode.Startup(); err != nil {
		return err
	}
	defer encode.Shutdown()

	results, summary := RunBatch(cmd.Context(), files, BatchOptions{
		Resize:    resize,
		Output:    output,
		OutputDir: opts.outputDir,
		Suffix:    opts.suffix,
		Workers:   opts.workers,
		Pipeline:  pipeline.New(resampler, encode.New()).WithMaxPixels(opts.maxPixels),
	})

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintln(errOut, renderResult(r))
			continue
		}
		fmt.Fprintln(out, renderResult(r))
	}

	fmt.Fprintln(out, RenderSummary([]SummaryRow{
		{Label: "Files processed", Value: fmt.Sprintf("%d", summary.Processed)},
		{Label: "Files failed", Value: fmt.Sprintf("%d", summary.Failed)},
		{Label: "Space saved", Value: humanBytes(summary.BytesSaved)},
	}))
	if opts.outputDir != "" {
		outPath := opts.outputDir
		if abs, absErr := filepath.Abs(outPath); absErr == nil {
			outPath = abs
		}
		fmt.Fprintf(out, "Normalized files written to: %s\n", outPath)
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", summary.Failed, len(files))
	}
	return nil
}

// resolvePolicies starts from the named preset and applies every flag the
// user set explicitly.
func resolvePolicies(reg *presets.Registry, opts normalizeOptions, changed func(name string) bool) (domain.ResizePolicy, domain.OutputPolicy, error) {
	preset, err := reg.Get(opts.preset)
	if err != nil {
		return domain.ResizePolicy{}, domain.OutputPolicy{}, err
	}
	resize, output := preset.Resize, preset.Output

	if changed("format") {
		format, err := domain.ParseFormat(opts.format)
		if err != nil {
			return domain.ResizePolicy{}, domain.OutputPolicy{}, err
		}
		output.Format = format
	}
	if changed("quality") {
		output.Quality = opts.quality
	}
	if changed("progressive") {
		output.Progressive = opts.progressive
	}
	if changed("optimize") {
		output.Optimize = opts.optimize
	}
	if changed("strip") {
		output.StripMetadata = opts.strip
	}
	if changed("srgb") {
		output.NormalizeColorSpace = opts.srgb
	}

	if changed("mode") {
		resize.Mode = domain.ResizeMode(opts.mode)
	}
	if changed("basis") {
		resize.Basis = domain.ScaleBasis(opts.basis)
	}
	if changed("limit") {
		resize.Limit = opts.limit
	}
	if changed("width") {
		resize.TargetWidth = opts.width
	}
	if changed("height") {
		resize.TargetHeight = opts.height
	}
	if changed("fit") {
		resize.Fit = domain.Fit(opts.fit)
	}
	if changed("background") {
		resize.Background = domain.Background(opts.background)
	}
	if changed("upscale") {
		resize.AllowUpscale = opts.allowUpscale
	}

	if err := domain.ValidatePolicies(resize, output); err != nil {
		return domain.ResizePolicy{}, domain.OutputPolicy{}, err
	}
	return resize, output, nil
}
