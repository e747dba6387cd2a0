package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/polybuilder/polybuilder/pkg/client"
)

type verifyOptions struct {
	address  string
	contract string
	network  string
	args     string
	abiFile  string
}

func createVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify <source.sol>",
		Short: "Verify a deployed contract on Polygonscan",
		Long: `Submit a single flattened source file for verification and wait for
the explorer's verdict.

EXAMPLES:
  polybuilder verify Token.sol --address 0x1234... --contract Token --network amoy
  polybuilder verify Token.sol --address 0x1234... --contract Token --args '["My Token", "MTK"]' --abi build/Token.json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "deployed contract address (required)")
	cmd.Flags().StringVar(&opts.contract, "contract", "", "contract name (default from config)")
	cmd.Flags().StringVarP(&opts.network, "network", "n", "", "network the contract lives on")
	cmd.Flags().StringVar(&opts.args, "args", "", "constructor arguments as a JSON array")
	cmd.Flags().StringVar(&opts.abiFile, "abi", "", "artifact or ABI JSON file, required when --args is set")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

func buildVerifyRequest(sourcePath string, opts verifyOptions, pc *ProjectConfig) (client.VerifyRequest, error) {
	if pc == nil {
		pc = &ProjectConfig{}
	}
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return client.VerifyRequest{}, err
	}

	req := client.VerifyRequest{
		ContractAddress: opts.address,
		ContractName:    firstNonEmpty(opts.contract, pc.MainContract),
		SourceCode:      string(src),
		Network:         firstNonEmpty(opts.network, pc.Network, loadGlobalConfig().Network, "amoy"),
		ConstructorArgs: []any{},
	}
	if req.ContractName == "" {
		return req, errors.New("--contract is required")
	}
	if opts.args != "" {
		if req.ConstructorArgs, err = parseArgs(opts.args); err != nil {
			return req, err
		}
	}
	if opts.abiFile != "" {
		if req.ABI, err = readABI(opts.abiFile); err != nil {
			return req, err
		}
	}
	return req, nil
}

// readABI accepts either a bare ABI array or an artifact with an abi field.
func readABI(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if json.Unmarshal(data, &artifact) == nil && len(artifact.ABI) > 0 {
		return artifact.ABI, nil
	}
	var abi []json.RawMessage
	if err := json.Unmarshal(data, &abi); err != nil {
		return nil, fmt.Errorf("%s is neither an ABI nor an artifact", path)
	}
	return json.RawMessage(data), nil
}

func runVerify(ctx context.Context, out io.Writer, sourcePath string, opts verifyOptions) error {
	req, err := buildVerifyRequest(sourcePath, opts, loadProjectConfigSilent())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Verifying %s at %s on %s...\n", req.ContractName, req.ContractAddress, req.Network)
	resp, err := newClient().Verify(ctx, req)
	if err != nil {
		return err
	}
	for _, line := range resp.Logs {
		fmt.Fprintln(out, line)
	}
	if !resp.Success {
		if resp.ErrorKind != "" {
			return fmt.Errorf("verification failed (%s): %s", resp.ErrorKind, resp.Error)
		}
		return fmt.Errorf("verification failed: %s", resp.Error)
	}
	fmt.Fprintf(out, "\n✅ Verified: %s\n", resp.ExplorerURL)
	return nil
}
