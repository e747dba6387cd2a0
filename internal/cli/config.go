package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"polybuilder.toml", "pb.toml"}

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server          string   `toml:"server"`
	Network         string   `toml:"network,omitempty"`
	Sources         []string `toml:"sources,omitempty"`
	MainContract    string   `toml:"main_contract,omitempty"`
	ConstructorArgs []any    `toml:"constructor_args,omitempty"`
	AutoVerify      bool     `toml:"auto_verify,omitempty"`
	// PrivateKeyEnv names the environment variable holding the signing key.
	PrivateKeyEnv string `toml:"private_key_env,omitempty"`
}

// GlobalConfig is stored in ~/.polybuilder/config.yaml
type GlobalConfig struct {
	Server  string `yaml:"server,omitempty"`
	Network string `yaml:"network,omitempty"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())
	cmd.AddCommand(createConfigUseCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL, network, mainContract string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create polybuilder.toml",
		Long: `Create a polybuilder.toml in the current directory.

EXAMPLES:
  polybuilder config init --main-contract Token --network amoy
  polybuilder config init --server https://pb.example.com --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), serverURL, network, mainContract, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", defaultServer, "server URL")
	cmd.Flags().StringVar(&network, "network", "amoy", "default network (mumbai, amoy, polygon)")
	cmd.Flags().StringVar(&mainContract, "main-contract", "", "contract to deploy")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}
}

func createConfigUseCmd() *cobra.Command {
	var network string

	cmd := &cobra.Command{
		Use:   "use <server>",
		Short: "Set the default server in the global config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g := loadGlobalConfig()
			g.Server = args[0]
			if network != "" {
				g.Network = network
			}
			if err := writeGlobalConfig(g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default server set to %s\n", g.Server)
			return nil
		},
	}
	cmd.Flags().StringVar(&network, "network", "", "default network")
	return cmd
}

func runConfigInit(out io.Writer, serverURL, network, mainContract string, force bool) error {
	configPath := projectConfigFiles[0]

	for _, f := range projectConfigFiles {
		if _, err := os.Stat(f); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", f)
		}
	}

	content := fmt.Sprintf(`# PolyBuilder project configuration

server = %q
network = %q

# Files or directories with .sol sources
sources = ["contracts"]

# Contract deployed by 'polybuilder deploy'
main_contract = %q

# constructor_args = ["My Token", "MTK", 1000000]

# Verify on Polygonscan after deployment
auto_verify = false

# Environment variable holding the deployer key. When unset the server's
# PRIVATE_KEY is used.
private_key_env = "PRIVATE_KEY"
`, serverURL, network, mainContract)

	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(out, "Created %s\n\n", configPath)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Edit %s to customize settings\n", configPath)
	fmt.Fprintln(out, "  2. Run 'polybuilder auth login' to authenticate")
	fmt.Fprintln(out, "  3. Run 'polybuilder deploy' to compile and deploy")
	return nil
}

func runConfigShow(out io.Writer) error {
	fmt.Fprintln(out, "Environment:")
	fmt.Fprintf(out, "   POLYBUILDER_SERVER=%s\n", orNotSet(os.Getenv("POLYBUILDER_SERVER")))
	if k := os.Getenv("POLYBUILDER_API_KEY"); k != "" {
		fmt.Fprintf(out, "   POLYBUILDER_API_KEY=%s\n", maskAPIKey(k))
	} else {
		fmt.Fprintln(out, "   POLYBUILDER_API_KEY=(not set)")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Project config (polybuilder.toml or pb.toml):")
	pc, path, err := loadProjectConfig()
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintln(out, "   (not found)")
	case err != nil:
		fmt.Fprintf(out, "   Error: %v\n", err)
	default:
		fmt.Fprintf(out, "   Loaded from: %s\n", path)
		fmt.Fprintf(out, "   server: %s\n", pc.Server)
		fmt.Fprintf(out, "   network: %s\n", pc.Network)
		fmt.Fprintf(out, "   sources: %v\n", pc.Sources)
		fmt.Fprintf(out, "   main_contract: %s\n", pc.MainContract)
		fmt.Fprintf(out, "   auto_verify: %t\n", pc.AutoVerify)
	}
	fmt.Fprintln(out)

	g := loadGlobalConfig()
	fmt.Fprintf(out, "Global config (%s):\n", globalConfigPath())
	fmt.Fprintf(out, "   server: %s\n", orNotSet(g.Server))
	fmt.Fprintf(out, "   network: %s\n", orNotSet(g.Network))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Effective configuration:")
	fmt.Fprintf(out, "   Server:  %s\n", getServer())
	if key := getAPIKey(); key != "" {
		fmt.Fprintf(out, "   API Key: %s\n", maskAPIKey(key))
	} else {
		fmt.Fprintln(out, "   API Key: (not set)")
	}
	return nil
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// loadProjectConfig loads the --config file or the first project file found.
func loadProjectConfig() (*ProjectConfig, string, error) {
	if cfgFile != "" {
		cfg, err := loadProjectConfigFromPath(cfgFile)
		return cfg, cfgFile, err
	}
	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			cfg, err := loadProjectConfigFromPath(name)
			return cfg, name, err
		}
	}
	return nil, "", os.ErrNotExist
}

func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ProjectConfig
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// loadProjectConfigSilent returns nil when no project config exists and
// warns on parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	cfg, _, err := loadProjectConfig()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		}
		return nil
	}
	return cfg
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".polybuilder"
	}
	return filepath.Join(home, ".polybuilder")
}

func globalConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func loadGlobalConfig() GlobalConfig {
	var g GlobalConfig
	data, err := os.ReadFile(globalConfigPath())
	if err != nil {
		return g
	}
	_ = yaml.Unmarshal(data, &g)
	return g
}

func writeGlobalConfig(g GlobalConfig) error {
	if err := os.MkdirAll(configDir(), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(g)
	if err != nil {
		return err
	}
	return os.WriteFile(globalConfigPath(), data, 0o600)
}
