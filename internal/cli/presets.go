package cli

import (
	"fmt"
	"os"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/presets"
	"github.com/spf13/cobra"
)

const presetsFileEnv = "PIXELNORM_PRESETS_FILE"

func newPresetsCommand() *cobra.Command {
	var presetsFile string

	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List the available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := presets.Load(presetsFile)
			if err != nil {
				return err
			}

			rows := make([]SummaryRow, 0, len(reg.Names()))
			for _, name := range reg.Names() {
				preset, _ := reg.Get(name)
				rows = append(rows, SummaryRow{Label: name, Value: describePreset(preset)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderSummary(rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&presetsFile, "presets-file", os.Getenv(presetsFileEnv), "YAML file with extra presets")
	return cmd
}

func describePreset(p presets.Preset) string {
	if p.Description != "" {
		return p.Description
	}

	r, o := p.Resize, p.Output
	geometry := fmt.Sprintf("%s %s %d", r.Mode, r.Basis, r.Limit)
	if r.Mode == domain.ResizeModeExact {
		geometry = fmt.Sprintf("%s %dx%d %s", r.Mode, r.TargetWidth, r.TargetHeight, r.Fit)
	}
	return fmt.Sprintf("%s, %s q%d", geometry, o.Format, o.Quality)
}
