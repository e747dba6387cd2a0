package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func createInfoCmd() *cobra.Command {
	var (
		network    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "info <address>",
		Short: "Show the explorer's source entry for a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd.Context(), cmd.OutOrStdout(), args[0], network, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&network, "network", "n", "", "network the contract lives on")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runInfo(ctx context.Context, out io.Writer, address, network string, jsonOutput bool) error {
	if network == "" {
		network = firstNonEmpty(loadGlobalConfig().Network, "amoy")
		if pc := loadProjectConfigSilent(); pc != nil && pc.Network != "" {
			network = pc.Network
		}
	}

	info, err := newClient().ContractInfo(ctx, network, address)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, info)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Address:\t%s\n", address)
	fmt.Fprintf(w, "Network:\t%s\n", network)
	fmt.Fprintf(w, "Contract:\t%s\n", orNotSet(info.ContractName))
	fmt.Fprintf(w, "Compiler:\t%s\n", orNotSet(info.CompilerVersion))
	fmt.Fprintf(w, "License:\t%s\n", orNotSet(info.LicenseType))
	if info.Proxy == "1" {
		fmt.Fprintf(w, "Proxy for:\t%s\n", info.Implementation)
	}
	fmt.Fprintf(w, "Verified:\t%t\n", info.SourceCode != "")
	return w.Flush()
}
