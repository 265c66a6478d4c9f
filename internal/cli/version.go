package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func newVersionCmd(outW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentgrid version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(outW, "agentgrid %s\n", Version)
		},
	}
}
