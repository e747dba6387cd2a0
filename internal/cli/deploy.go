package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/polybuilder/polybuilder/pkg/client"
)

type deployOptions struct {
	contract      string
	network       string
	args          string
	verify        bool
	stream        bool
	privateKeyEnv string
	yes           bool
	jsonOutput    bool
}

func createDeployCmd() *cobra.Command {
	var opts deployOptions

	cmd := &cobra.Command{
		Use:   "deploy [paths...]",
		Short: "Compile, deploy and optionally verify a contract",
		Long: `Run the full pipeline on the server: compile the sources, deploy the
main contract and, with --verify, verify it on Polygonscan.

Paths default to the project config's sources, then ./contracts. The
deployer key is read from the environment variable named by
--private-key-env; when it is unset the server's key is used.

EXAMPLES:
  polybuilder deploy contracts --contract Token --network amoy
  polybuilder deploy Token.sol --contract Token --args '["My Token", "MTK", 1000000]' --verify
  polybuilder deploy --stream
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.contract, "contract", "", "main contract name (default from config)")
	cmd.Flags().StringVarP(&opts.network, "network", "n", "", "mumbai, amoy or polygon (default from config, then amoy)")
	cmd.Flags().StringVar(&opts.args, "args", "", "constructor arguments as a JSON array")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "verify on Polygonscan after deployment")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "stream progress over a websocket")
	cmd.Flags().StringVar(&opts.privateKeyEnv, "private-key-env", "", "environment variable holding the deployer key (default PRIVATE_KEY)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "skip the mainnet confirmation")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the final result as JSON")

	return cmd
}

// buildPipelineRequest merges flags with the project config.
func buildPipelineRequest(paths []string, opts deployOptions, pc *ProjectConfig) (client.PipelineRequest, error) {
	if pc == nil {
		pc = &ProjectConfig{}
	}

	if len(paths) == 0 {
		paths = pc.Sources
	}
	if len(paths) == 0 {
		paths = []string{"contracts"}
	}
	files, err := collectSources(paths)
	if err != nil {
		return client.PipelineRequest{}, err
	}

	req := client.PipelineRequest{
		Files:        files,
		MainContract: firstNonEmpty(opts.contract, pc.MainContract),
		Network:      firstNonEmpty(opts.network, pc.Network, loadGlobalConfig().Network, "amoy"),
		AutoVerify:   opts.verify || pc.AutoVerify,
	}
	if req.MainContract == "" {
		return req, errors.New("no contract to deploy: pass --contract or set main_contract")
	}

	if opts.args != "" {
		if req.ConstructorArgs, err = parseArgs(opts.args); err != nil {
			return req, err
		}
	} else if pc.ConstructorArgs != nil {
		req.ConstructorArgs = pc.ConstructorArgs
	} else {
		req.ConstructorArgs = []any{}
	}

	keyEnv := firstNonEmpty(opts.privateKeyEnv, pc.PrivateKeyEnv, "PRIVATE_KEY")
	req.PrivateKey = strings.TrimSpace(os.Getenv(keyEnv))
	return req, nil
}

func runDeploy(ctx context.Context, out io.Writer, paths []string, opts deployOptions) error {
	req, err := buildPipelineRequest(paths, opts, loadProjectConfigSilent())
	if err != nil {
		return err
	}

	if req.Network == "polygon" && !opts.yes {
		if err := confirm(out, os.Stdin, "Deploy to Polygon mainnet? This spends real POL."); err != nil {
			return err
		}
	}

	c := newClient()
	var final *client.Status
	var runID string

	if opts.stream {
		runID, final, err = c.StreamPipeline(ctx, req, func(f client.Frame) {
			if f.Event != nil && !opts.jsonOutput {
				fmt.Fprintln(out, f.Event.String())
			}
		})
		if err != nil {
			return err
		}
	} else {
		if !opts.jsonOutput {
			fmt.Fprintf(out, "Deploying %s to %s (%d file(s))...\n", req.MainContract, req.Network, len(req.Files))
		}
		resp, err := c.RunPipeline(ctx, req)
		if err != nil {
			return err
		}
		if !opts.jsonOutput {
			for _, line := range resp.Logs {
				fmt.Fprintln(out, line)
			}
		}
		runID, final = resp.ID, &resp.Status
	}

	if opts.jsonOutput {
		if err := printJSON(out, map[string]any{"id": runID, "status": final}); err != nil {
			return err
		}
	} else {
		printFinal(out, runID, *final)
	}
	if final.Failed() {
		return errors.New(strings.TrimPrefix(final.Message, "❌ Error: "))
	}
	return nil
}

func printFinal(out io.Writer, runID string, s client.Status) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, s.Message)
	if s.ContractAddress != "" {
		fmt.Fprintf(out, "   Address:  %s\n", s.ContractAddress)
		fmt.Fprintf(out, "   Tx:       %s\n", s.TransactionHash)
		fmt.Fprintf(out, "   Gas used: %s\n", s.GasUsed)
	}
	if s.ExplorerURL != "" {
		fmt.Fprintf(out, "   Explorer: %s\n", s.ExplorerURL)
	}
	if s.Verified != nil {
		fmt.Fprintf(out, "   Verified: %t\n", *s.Verified)
	}
	if runID != "" {
		fmt.Fprintf(out, "   Run:      %s\n", runID)
	}
}

// confirm asks for y/N on a terminal. Non-interactive input must pass --yes.
func confirm(out io.Writer, in *os.File, question string) error {
	if !term.IsTerminal(int(in.Fd())) {
		return errors.New("refusing to deploy to mainnet without --yes")
	}
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return errors.New("aborted")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
