package domain

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

type ResizeMode string

const (
	ResizeModeScale ResizeMode = "scale"
	ResizeModeExact ResizeMode = "exact"
)

type ScaleBasis string

const (
	ScaleBasisLongEdge   ScaleBasis = "long_edge"
	ScaleBasisFixedWidth ScaleBasis = "fixed_width"
)

type Fit string

const (
	FitContain Fit = "contain"
	FitCover   Fit = "cover"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// ParseFormat accepts the canonical names plus "jpg", case-insensitively.
func ParseFormat(in string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	default:
		return "", &InvalidPolicyError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", in)}
	}
}

func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		// keep the raw value so Validate reports it with the field name
		*f = Format(strings.ToLower(strings.TrimSpace(string(text))))
		return nil
	}
	*f = parsed
	return nil
}

func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	default:
		return ""
	}
}

func (f Format) SupportsAlpha() bool {
	return f == FormatPNG || f == FormatWebP
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

func (f Format) valid() bool {
	return f == FormatJPEG || f == FormatPNG || f == FormatWebP
}

const BackgroundTransparent = "transparent"

// Background is either "#RRGGBB" or "transparent". The empty value means white.
type Background string

func (b Background) IsTransparent() bool {
	return strings.EqualFold(strings.TrimSpace(string(b)), BackgroundTransparent)
}

// Color returns the opaque fill color. Transparent and empty backgrounds
// resolve to white, which is what alpha gets flattened against.
func (b Background) Color() (color.NRGBA, error) {
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	raw := strings.TrimSpace(string(b))
	if raw == "" || b.IsTransparent() {
		return white, nil
	}

	hex := strings.TrimPrefix(raw, "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("background %q must be #RRGGBB or %q", raw, BackgroundTransparent)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("background %q must be #RRGGBB or %q", raw, BackgroundTransparent)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

type ResizePolicy struct {
	Mode         ResizeMode `json:"mode" yaml:"mode"`
	Basis        ScaleBasis `json:"basis,omitempty" yaml:"basis,omitempty"`
	Limit        int        `json:"limit,omitempty" yaml:"limit,omitempty"`
	AllowUpscale bool       `json:"allow_upscale,omitempty" yaml:"allow_upscale,omitempty"`
	TargetWidth  int        `json:"target_width,omitempty" yaml:"target_width,omitempty"`
	TargetHeight int        `json:"target_height,omitempty" yaml:"target_height,omitempty"`
	Fit          Fit        `json:"fit,omitempty" yaml:"fit,omitempty"`
	Background   Background `json:"background,omitempty" yaml:"background,omitempty"`
}

func (p ResizePolicy) Validate() error {
	switch p.Mode {
	case ResizeModeScale:
		if p.Basis != ScaleBasisLongEdge && p.Basis != ScaleBasisFixedWidth {
			return &InvalidPolicyError{Field: "basis", Reason: fmt.Sprintf("unsupported scale basis %q", p.Basis)}
		}
		if p.Limit <= 0 {
			return &InvalidPolicyError{Field: "limit", Reason: "must be a positive pixel count"}
		}
	case ResizeModeExact:
		if p.TargetWidth <= 0 {
			return &InvalidPolicyError{Field: "target_width", Reason: "must be a positive pixel count"}
		}
		if p.TargetHeight <= 0 {
			return &InvalidPolicyError{Field: "target_height", Reason: "must be a positive pixel count"}
		}
		if p.Fit != FitContain && p.Fit != FitCover {
			return &InvalidPolicyError{Field: "fit", Reason: fmt.Sprintf("unsupported fit %q", p.Fit)}
		}
	default:
		return &InvalidPolicyError{Field: "mode", Reason: fmt.Sprintf("unsupported resize mode %q", p.Mode)}
	}

	if _, err := p.Background.Color(); err != nil {
		return &InvalidPolicyError{Field: "background", Reason: err.Error()}
	}
	return nil
}

type OutputPolicy struct {
	Format              Format `json:"format" yaml:"format"`
	Quality             int    `json:"quality" yaml:"quality"`
	Progressive         bool   `json:"progressive,omitempty" yaml:"progressive,omitempty"`
	Optimize            bool   `json:"optimize,omitempty" yaml:"optimize,omitempty"`
	StripMetadata       bool   `json:"strip_metadata,omitempty" yaml:"strip_metadata,omitempty"`
	NormalizeColorSpace bool   `json:"normalize_color_space,omitempty" yaml:"normalize_color_space,omitempty"`
}

func (p OutputPolicy) Validate() error {
	if !p.Format.valid() {
		return &InvalidPolicyError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", p.Format)}
	}
	if p.Quality < 1 || p.Quality > 100 {
		return &InvalidPolicyError{Field: "quality", Reason: fmt.Sprintf("%d is outside 1-100", p.Quality)}
	}
	return nil
}

// ValidatePolicies checks each policy and the constraints between them.
func ValidatePolicies(resize ResizePolicy, output OutputPolicy) error {
	if err := resize.Validate(); err != nil {
		return err
	}
	if err := output.Validate(); err != nil {
		return err
	}
	if resize.Background.IsTransparent() && !output.Format.SupportsAlpha() {
		return &InvalidPolicyError{
			Field:  "background",
			Reason: fmt.Sprintf("transparent background is not supported by %s output", output.Format),
		}
	}
	return nil
}

// DefaultResizePolicy and DefaultOutputPolicy mirror the stock "web" settings:
// long edge 1600px without upscaling, WebP at quality 82.
func DefaultResizePolicy() ResizePolicy {
	return ResizePolicy{
		Mode:  ResizeModeScale,
		Basis: ScaleBasisLongEdge,
		Limit: 1600,
	}
}

func DefaultOutputPolicy() OutputPolicy {
	return OutputPolicy{
		Format:              FormatWebP,
		Quality:             82,
		Progressive:         true,
		Optimize:            true,
		StripMetadata:       true,
		NormalizeColorSpace: true,
	}
}

// Variant is one requested output of a job: an explicit policy pair or a
// named preset that is resolved before processing.
type Variant struct {
	ID     string       `json:"id" yaml:"id"`
	Preset string       `json:"preset,omitempty" yaml:"preset,omitempty"`
	Resize ResizePolicy `json:"resize" yaml:"resize"`
	Output OutputPolicy `json:"output" yaml:"output"`
}
