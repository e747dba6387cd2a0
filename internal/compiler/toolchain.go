package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Toolchain runs a Solidity compiler inside a prepared work directory and
// leaves Hardhat-layout artifacts under <dir>/artifacts.
type Toolchain interface {
	Name() string
	// Prepare writes any project scaffolding the toolchain needs.
	Prepare(dir string) error
	Run(ctx context.Context, dir string, files []SourceFile) (Output, error)
}

// Output is the diagnostic text captured from a toolchain run.
type Output struct {
	Stdout string
	Stderr string
}

// Optimizer is the solc optimizer configuration shared by every toolchain.
type Optimizer struct {
	Enabled bool
	Runs    int
}

func (o Optimizer) withDefaults() Optimizer {
	if o.Runs <= 0 {
		o.Runs = 200
	}
	return o
}

// Hardhat compiles by shelling out to a Hardhat project.
type Hardhat struct {
	// Command is split on whitespace, e.g. "npx hardhat compile".
	Command string
	// ProjectDir holds node_modules and package.json with hardhat installed.
	ProjectDir string
	// SolcVersion is written into the generated hardhat.config.js.
	SolcVersion string
	Optimizer   Optimizer
}

// NewHardhat returns a Hardhat toolchain with defaults filled in.
func NewHardhat(command, projectDir, solcVersion string, opt Optimizer) *Hardhat {
	if command == "" {
		command = "npx hardhat compile"
	}
	if solcVersion == "" {
		solcVersion = "0.8.20"
	}
	return &Hardhat{Command: command, ProjectDir: projectDir, SolcVersion: solcVersion, Optimizer: opt.withDefaults()}
}

func (h *Hardhat) Name() string { return "hardhat" }

const hardhatConfigTemplate = `module.exports = {
  solidity: {
    version: %q,
    settings: {
      optimizer: { enabled: %t, runs: %d },
    },
  },
  paths: {
    sources: "./contracts",
    artifacts: "./artifacts",
    cache: "./cache",
  },
};
`

// Prepare writes hardhat.config.js and links the shared node_modules so each
// request does not need its own install.
func (h *Hardhat) Prepare(dir string) error {
	cfg := fmt.Sprintf(hardhatConfigTemplate, h.SolcVersion, h.Optimizer.Enabled, h.Optimizer.Runs)
	if err := os.WriteFile(filepath.Join(dir, "hardhat.config.js"), []byte(cfg), 0o644); err != nil {
		return fmt.Errorf("writing hardhat config: %w", err)
	}

	if h.ProjectDir == "" {
		return nil
	}
	for _, name := range []string{"node_modules", "package.json"} {
		src := filepath.Join(h.ProjectDir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Symlink(src, filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("linking %s: %w", name, err)
		}
	}
	return nil
}

// Run executes the compile command. A non-nil error means the process did
// not exit cleanly; the captured output is returned either way.
func (h *Hardhat) Run(ctx context.Context, dir string, _ []SourceFile) (Output, error) {
	argv := strings.Fields(h.Command)
	if len(argv) == 0 {
		return Output{}, errors.New("empty compile command")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = toolchainEnv(os.Environ())
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	return Output{Stdout: stdout.String(), Stderr: stderr.String()}, err
}

// secretEnv lists variables the compiler subprocess never needs.
var secretEnv = map[string]bool{
	"PRIVATE_KEY":         true,
	"POLYGONSCAN_API_KEY": true,
	"GEMINI_API_KEY":      true,
	"DATABASE_URL":        true,
}

func toolchainEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if secretEnv[key] {
			continue
		}
		out = append(out, kv)
	}
	return out
}
