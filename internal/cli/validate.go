package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vk/agentgridgo/internal/app"
	"github.com/vk/agentgridgo/internal/hcl"
)

func newValidateCmd(outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate GRID_PATH",
		Short: "Check the graphs in an HCL file against the block registry",
		Long:  `Parses the file and publishes every graph it declares against the built-in block registry, reporting unknown blocks, unknown pins, unfed required inputs, and forbidden cycles.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defs, err := hcl.LoadFile(args[0])
			if err != nil {
				return err
			}

			a := app.NewApp(outW, cfg)
			defer a.Close()

			for _, def := range defs {
				if _, err := a.Graphs().Publish(def); err != nil {
					return fmt.Errorf("graph %q: %w", def.Name, err)
				}
				fmt.Fprintf(outW, "graph %q: ok (%d nodes, %d links)\n", def.Name, len(def.Nodes), len(def.Links))
			}
			return nil
		},
	}
}
