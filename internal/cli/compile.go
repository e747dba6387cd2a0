package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
)

func createCompileCmd() *cobra.Command {
	var (
		outDir     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "compile [paths...]",
		Short: "Compile Solidity sources on the server",
		Long: `Send Solidity sources to the server's compiler and print the resulting
contracts. With --out, each artifact is written as <ContractName>.json.

EXAMPLES:
  polybuilder compile contracts
  polybuilder compile Token.sol --out build
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), cmd.OutOrStdout(), args, outDir, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to write artifact JSON files")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full response as JSON")

	return cmd
}

func runCompile(ctx context.Context, out io.Writer, paths []string, outDir string, jsonOutput bool) error {
	if len(paths) == 0 {
		if pc := loadProjectConfigSilent(); pc != nil {
			paths = pc.Sources
		}
	}
	if len(paths) == 0 {
		paths = []string{"contracts"}
	}
	files, err := collectSources(paths)
	if err != nil {
		return err
	}

	resp, err := newClient().Compile(ctx, files)
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := printJSON(out, resp); err != nil {
			return err
		}
	} else {
		for _, line := range resp.Logs {
			fmt.Fprintln(out, line)
		}
		for _, w := range resp.Warnings {
			fmt.Fprintf(out, "⚠️  %s\n", w)
		}
		for _, e := range resp.Errors {
			fmt.Fprintf(out, "❌ %s\n", e)
		}
	}
	if !resp.Success {
		return errors.New("compilation failed")
	}

	names := make([]string, 0, len(resp.Artifacts))
	for name := range resp.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	if !jsonOutput {
		fmt.Fprintf(out, "\nCompiled %d contract(s):\n", len(names))
		for _, name := range names {
			a := resp.Artifacts[name]
			fmt.Fprintf(out, "  %-24s %6d bytes  %s\n", name, (len(a.Bytecode)-2)/2, a.SourceName)
		}
	}

	if outDir == "" {
		return nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	for _, name := range names {
		data, err := json.MarshalIndent(resp.Artifacts[name], "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, name+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	if !jsonOutput {
		fmt.Fprintf(out, "Artifacts written to %s\n", outDir)
	}
	return nil
}
