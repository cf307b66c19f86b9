package presets

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"gopkg.in/yaml.v3"
)

const Web = "web"

var ErrUnknownPreset = errors.New("unknown preset")

// Preset is a named resize/output policy pair.
type Preset struct {
	Description string              `yaml:"description,omitempty"`
	Resize      domain.ResizePolicy `yaml:"resize"`
	Output      domain.OutputPolicy `yaml:"output"`
}

type File struct {
	Presets map[string]Preset `yaml:"presets"`
}

// Registry resolves preset names. It is read-only after construction.
type Registry struct {
	presets map[string]Preset
}

func Builtin() *Registry {
	return &Registry{presets: map[string]Preset{
		Web: {
			Description: "long edge 1600px, WebP q82, stripped, sRGB",
			Resize:      domain.DefaultResizePolicy(),
			Output:      domain.DefaultOutputPolicy(),
		},
	}}
}

// Load reads a presets YAML file and layers it over the built-in presets.
// An empty path returns the built-ins.
func Load(path string) (*Registry, error) {
	reg := Builtin()
	if strings.TrimSpace(path) == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets file: %w", err)
	}
	if err := reg.merge(data); err != nil {
		return nil, fmt.Errorf("presets file %s: %w", path, err)
	}
	return reg, nil
}

func Parse(data []byte) (*Registry, error) {
	reg := Builtin()
	if err := reg.merge(data); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) merge(data []byte) error {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse presets: %w", err)
	}

	for name, preset := range file.Presets {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return errors.New("preset name is required")
		}
		if err := domain.ValidatePolicies(preset.Resize, preset.Output); err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
		r.presets[name] = preset
	}
	return nil
}

func (r *Registry) Get(name string) (Preset, error) {
	preset, ok := r.presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return preset, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve fills in the policies of a variant that names a preset. Variants
// without a preset are returned as they are.
func (r *Registry) Resolve(variant domain.Variant) (domain.Variant, error) {
	if strings.TrimSpace(variant.Preset) == "" {
		return variant, nil
	}
	preset, err := r.Get(variant.Preset)
	if err != nil {
		return domain.Variant{}, err
	}
	variant.Resize = preset.Resize
	variant.Output = preset.Output
	return variant, nil
}

func (r *Registry) ResolveAll(variants []domain.Variant) ([]domain.Variant, error) {
	out := make([]domain.Variant, 0, len(variants))
	for _, variant := range variants {
		resolved, err := r.Resolve(variant)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", variant.ID, err)
		}
		out = append(out, resolved)
	}
	return out, nil
}
