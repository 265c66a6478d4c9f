package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vk/agentgridgo/internal/app"
	"github.com/vk/agentgridgo/internal/execstore"
	"github.com/vk/agentgridgo/internal/hcl"
	"github.com/vk/agentgridgo/internal/ledger"
	"github.com/vk/agentgridgo/internal/scheduler"
)

func newRunCmd(outW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run GRID_PATH",
		Short: "Publish the graphs in an HCL file and execute one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, outW, args[0])
		},
	}
	cmd.Flags().String("graph", "", "Name of the graph to execute when the file declares several.")
	cmd.Flags().String("user", "", "User the execution is billed to.")
	cmd.Flags().Int64("grant", 0, "Credits granted to the user before the run starts.")
	cmd.Flags().StringArray("input", nil, "Trigger input as node.pin=value, repeatable. Values parse as JSON, falling back to plain strings.")
	return cmd
}

func runRun(cmd *cobra.Command, outW io.Writer, path string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	defs, err := hcl.LoadFile(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a := app.NewApp(outW, cfg)
	defer a.Close()

	graphName, _ := cmd.Flags().GetString("graph")
	target := defs[0]
	for _, def := range defs {
		if def.Name == graphName {
			target = def
		}
		if _, err := a.Graphs().Publish(def); err != nil {
			return fmt.Errorf("publishing graph %q: %w", def.Name, err)
		}
	}
	if graphName != "" && target.Name != graphName {
		return usageErr("graph %q not found in %s", graphName, path)
	}

	userID, _ := cmd.Flags().GetString("user")
	if grant, _ := cmd.Flags().GetInt64("grant"); grant > 0 {
		if userID == "" {
			return usageErr("--grant requires --user")
		}
		if _, err := a.Ledger().Credit(ctx, userID, grant, ledger.TypeGrant, nil); err != nil {
			return err
		}
	}

	inputs, _ := cmd.Flags().GetStringArray("input")
	trigger, err := parseTrigger(inputs)
	if err != nil {
		return err
	}

	execID, err := a.StartExecution(ctx, target.ID, target.Version, userID, trigger)
	if err != nil {
		return err
	}
	runErr := a.Wait(ctx, execID)

	exec, err := a.Execution(ctx, execID)
	if err != nil {
		return err
	}
	fmt.Fprintf(outW, "execution %s finished with status %s\n", execID, exec.Status)
	if exec.Error != "" {
		fmt.Fprintln(outW, exec.Error)
	}
	if runErr != nil {
		return &ExitError{Code: 1, Message: runErr.Error()}
	}
	if exec.Status != execstore.StatusCompleted {
		return &ExitError{Code: 1, Message: fmt.Sprintf("execution %s: %s", execID, exec.Status)}
	}
	return nil
}

// parseTrigger turns repeated node.pin=value flags into a trigger payload.
func parseTrigger(pairs []string) (scheduler.Trigger, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	trigger := make(scheduler.Trigger)
	for _, pair := range pairs {
		endpoint, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, usageErr("input %q: want node.pin=value", pair)
		}
		dot := strings.LastIndex(endpoint, ".")
		if dot <= 0 || dot == len(endpoint)-1 {
			return nil, usageErr("input %q: want node.pin=value", pair)
		}
		node, pin := endpoint[:dot], endpoint[dot+1:]

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		if trigger[node] == nil {
			trigger[node] = make(map[string]any)
		}
		trigger[node][pin] = value
	}
	return trigger, nil
}
