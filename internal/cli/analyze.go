package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func createAnalyzeCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "analyze <source.sol>",
		Short: "Ask the server's AI reviewer about a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), args[0], jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runAnalyze(ctx context.Context, out io.Writer, path string, jsonOutput bool) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	report, err := newClient().Analyze(ctx, string(code))
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, report)
	}

	total := len(report.Security) + len(report.Optimizations) + len(report.Suggestions)
	if total == 0 {
		fmt.Fprintln(out, "No findings.")
		return nil
	}

	if len(report.Security) > 0 {
		fmt.Fprintln(out, "Security:")
		for _, f := range report.Security {
			fmt.Fprintf(out, "  [%s] line %d: %s\n", f.Severity, f.Line, f.Issue)
			if f.Recommendation != "" {
				fmt.Fprintf(out, "      → %s\n", f.Recommendation)
			}
		}
	}
	if len(report.Optimizations) > 0 {
		fmt.Fprintln(out, "Gas optimizations:")
		for _, f := range report.Optimizations {
			fmt.Fprintf(out, "  line %d: %s → %s", f.Line, f.Current, f.Optimized)
			if f.GasSaved != "" {
				fmt.Fprintf(out, " (saves %s)", f.GasSaved)
			}
			fmt.Fprintln(out)
		}
	}
	if len(report.Suggestions) > 0 {
		fmt.Fprintln(out, "Suggestions:")
		for _, f := range report.Suggestions {
			fmt.Fprintf(out, "  [%s] line %d: %s\n", f.Severity, f.Line, f.Suggestion)
		}
	}
	return nil
}
