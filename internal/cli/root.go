// Package cli defines the agentgrid command tree. Commands build an
// isolated app.App per invocation so tests can run them against their own
// output writers.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vk/agentgridgo/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// New builds the root command. All command output goes to outW.
func New(outW io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "agentgrid",
		Short:         "agentgrid runs agent block graphs",
		Long:          `agentgrid executes versioned agent block graphs: nodes are typed blocks, links carry pin-to-pin data flow, and every run is recorded as an execution with per-node status and billing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)

	root.PersistentFlags().String("config", "", "Path to a YAML config file.")
	root.PersistentFlags().String("log-level", "", "Logging level: debug, info, warn or error.")
	root.PersistentFlags().String("log-format", "", "Log output format: text or json.")

	root.AddCommand(newRunCmd(outW))
	root.AddCommand(newValidateCmd(outW))
	root.AddCommand(newVersionCmd(outW))
	return root
}

// loadConfig resolves the effective configuration for a command: file,
// environment, then explicit flags, in increasing precedence.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func usageErr(format string, args ...any) error {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}
