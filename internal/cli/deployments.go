package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polybuilder/polybuilder/pkg/client"
)

func createDeploymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployments",
		Aliases: []string{"ls"},
		Short:   "Browse recorded deployments",
	}
	cmd.AddCommand(createDeploymentsListCmd())
	cmd.AddCommand(createDeploymentsGetCmd())
	return cmd
}

func createDeploymentsListCmd() *cobra.Command {
	var (
		network    string
		verified   string
		limit      int
		cursor     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := client.ListDeploymentsOptions{Network: network, Limit: limit, Cursor: cursor}
			if verified != "" {
				v, err := strconv.ParseBool(verified)
				if err != nil {
					return errors.New("--verified must be true or false")
				}
				opts.Verified = &v
			}
			return runDeploymentsList(cmd.Context(), cmd.OutOrStdout(), opts, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&network, "network", "n", "", "filter by network")
	cmd.Flags().StringVar(&verified, "verified", "", "filter by verification state (true|false)")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runDeploymentsList(ctx context.Context, out io.Writer, opts client.ListDeploymentsOptions, jsonOutput bool) error {
	resp, err := newClient().ListDeployments(ctx, opts)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, resp)
	}
	if len(resp.Data) == 0 {
		fmt.Fprintln(out, "No deployments found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTRACT\tNETWORK\tADDRESS\tVERIFIED\tDEPLOYED")
	for _, d := range resp.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", d.ContractName, d.Network, d.Address, d.Verified, d.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if resp.Pagination.HasMore {
		fmt.Fprintf(out, "\nMore results: --cursor %s\n", resp.Pagination.NextCursor)
	}
	return nil
}

func createDeploymentsGetCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <network> <address>",
		Short: "Show one deployment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newClient().GetDeployment(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, d)
			}
			return printDeployment(out, d)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printDeployment(out io.Writer, d *client.Deployment) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Contract:\t%s\n", d.ContractName)
	fmt.Fprintf(w, "Network:\t%s (chain %d)\n", d.Network, d.ChainID)
	fmt.Fprintf(w, "Address:\t%s\n", d.Address)
	fmt.Fprintf(w, "Deployer:\t%s\n", orNotSet(d.Deployer))
	fmt.Fprintf(w, "Tx:\t%s\n", orNotSet(d.TxHash))
	fmt.Fprintf(w, "Gas used:\t%s\n", orNotSet(d.GasUsed))
	fmt.Fprintf(w, "Verified:\t%t\n", d.Verified)
	if d.ExplorerURL != "" {
		fmt.Fprintf(w, "Explorer:\t%s\n", d.ExplorerURL)
	}
	if d.RunID != "" {
		fmt.Fprintf(w, "Run:\t%s\n", d.RunID)
	}
	fmt.Fprintf(w, "Deployed:\t%s\n", d.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	return w.Flush()
}
