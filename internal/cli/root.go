// Package cli implements the polybuilder command line client.
package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polybuilder/polybuilder/pkg/client"
)

const defaultServer = "http://localhost:8080"

var (
	cfgFile string
	server  string
	apiKey  string
)

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polybuilder",
		Short: "Compile, deploy and verify Solidity contracts on Polygon",
		Long: `PolyBuilder compiles Solidity sources, deploys the main contract to a
Polygon network and optionally verifies it on Polygonscan, all through a
PolyBuilder server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "project config file (default: polybuilder.toml or pb.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")

	rootCmd.AddCommand(createDeployCmd())
	rootCmd.AddCommand(createCompileCmd())
	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createInfoCmd())
	rootCmd.AddCommand(createAnalyzeCmd())
	rootCmd.AddCommand(createDeploymentsCmd())
	rootCmd.AddCommand(createRunsCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// getServer returns the server URL from flag, env, project config, global
// config, or the default.
func getServer() string {
	if server != "" {
		return strings.TrimRight(server, "/")
	}
	if env := os.Getenv("POLYBUILDER_SERVER"); env != "" {
		return strings.TrimRight(env, "/")
	}
	if cfg := loadProjectConfigSilent(); cfg != nil && cfg.Server != "" {
		return strings.TrimRight(cfg.Server, "/")
	}
	if g := loadGlobalConfig(); g.Server != "" {
		return strings.TrimRight(g.Server, "/")
	}
	return defaultServer
}

// getAPIKey returns the API key from flag, env, or the credentials file.
func getAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	if env := os.Getenv("POLYBUILDER_API_KEY"); env != "" {
		return env
	}
	return getCredential(getServer())
}

func newClient() *client.Client {
	return client.New(getServer(), getAPIKey())
}
