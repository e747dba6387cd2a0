package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func createRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect pipeline runs",
	}

	var jsonOutput bool
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Replay the events of a pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsGet(cmd.Context(), cmd.OutOrStdout(), args[0], jsonOutput)
		},
	}
	get.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.AddCommand(get)

	return cmd
}

func runRunsGet(ctx context.Context, out io.Writer, id string, jsonOutput bool) error {
	run, err := newClient().GetRun(ctx, id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, run)
	}

	fmt.Fprintf(out, "Run %s: %s on %s (%s)\n\n", run.ID, run.MainContract, run.Network, run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	for _, e := range run.Events {
		fmt.Fprintf(out, "  %s  %s\n", e.Time.Local().Format("15:04:05"), e.String())
	}
	printFinal(out, "", run.Status)
	return nil
}
