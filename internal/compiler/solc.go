package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rxtech-lab/solc-go"
)

// solcContract is the subset of solc output we keep per contract.
type solcContract struct {
	ABI              json.RawMessage
	Bytecode         string
	DeployedBytecode string
}

// solcOutput groups contracts by source unit name.
type solcOutput map[string]map[string]solcContract

type compileFunc func(in *solc.Input, opts *solc.CompileOptions) (solcOutput, []string, error)

// solcDiagnostic matches an entry of the standard JSON "errors" array.
type solcDiagnostic struct {
	Severity         string `json:"severity"`
	Type             string `json:"type"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage"`
}

// Solc compiles in process with a WebAssembly build of solc. Compilers are
// loaded once per version and reused.
type Solc struct {
	Version   string
	Optimizer Optimizer

	mu    sync.Mutex
	cache map[string]compileFunc
}

// NewSolc returns an in-process toolchain for the given compiler version.
func NewSolc(version string, opt Optimizer) *Solc {
	if version == "" {
		version = "0.8.20"
	}
	return &Solc{Version: version, Optimizer: opt.withDefaults(), cache: make(map[string]compileFunc)}
}

func (s *Solc) Name() string { return "solc" }

// Prepare is a no-op; solc needs no project scaffolding.
func (s *Solc) Prepare(string) error { return nil }

func (s *Solc) compiler() (compileFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fn, ok := s.cache[s.Version]; ok {
		return fn, nil
	}

	c, err := solc.NewWithVersion(s.Version)
	if err != nil {
		return nil, fmt.Errorf("loading solc %s: %w", s.Version, err)
	}

	var runMu sync.Mutex
	fn := func(in *solc.Input, opts *solc.CompileOptions) (solcOutput, []string, error) {
		runMu.Lock()
		defer runMu.Unlock()

		result, err := c.CompileWithOptions(in, opts)
		if err != nil {
			return nil, nil, err
		}

		diags := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			diags = append(diags, diagnosticText(e))
		}

		out := make(solcOutput, len(result.Contracts))
		for file, contracts := range result.Contracts {
			out[file] = make(map[string]solcContract, len(contracts))
			for name, contract := range contracts {
				abiJSON, err := json.Marshal(contract.ABI)
				if err != nil {
					return nil, nil, fmt.Errorf("encoding ABI for %s: %w", name, err)
				}
				out[file][name] = solcContract{
					ABI:              abiJSON,
					Bytecode:         contract.EVM.Bytecode.Object,
					DeployedBytecode: contract.EVM.DeployedBytecode.Object,
				}
			}
		}
		return out, diags, nil
	}
	s.cache[s.Version] = fn
	return fn, nil
}

// diagnosticText renders one solc error entry as a single line, prefixed with
// its severity the way solc's formatted messages are.
func diagnosticText(entry any) string {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprint(entry)
	}
	var d solcDiagnostic
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Sprint(entry)
	}
	if d.FormattedMessage != "" {
		return strings.TrimSpace(d.FormattedMessage)
	}
	kind := d.Type
	if kind == "" {
		kind = "Error"
	}
	if strings.EqualFold(d.Severity, "warning") {
		kind = "Warning"
	}
	return kind + ": " + d.Message
}

// isWarning reports whether a rendered diagnostic is benign.
func isWarning(diag string) bool {
	return strings.Contains(diag, "Warning")
}

// Run compiles every source and writes artifacts in the Hardhat layout.
// Fatal diagnostics are returned on Stderr with a non-nil error.
func (s *Solc) Run(ctx context.Context, dir string, files []SourceFile) (Output, error) {
	compile, err := s.compiler()
	if err != nil {
		return Output{}, err
	}

	sources := make(map[string]solc.SourceIn, len(files))
	for _, f := range files {
		if strings.HasSuffix(f.Path, ".sol") {
			sources[f.Path] = solc.SourceIn{Content: f.Content}
		}
	}

	opts := &solc.CompileOptions{
		ImportCallback: func(u string) solc.ImportResult {
			data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(u)))
			if err != nil {
				return solc.ImportResult{Error: fmt.Sprintf("Import %s not found", u)}
			}
			return solc.ImportResult{Contents: string(data)}
		},
	}

	type compiled struct {
		out   solcOutput
		diags []string
		err   error
	}
	done := make(chan compiled, 1)
	go func() {
		out, diags, err := compile(&solc.Input{
			Language: "Solidity",
			Sources:  sources,
			Settings: solc.Settings{
				Optimizer: solc.Optimizer{Enabled: s.Optimizer.Enabled, Runs: s.Optimizer.Runs},
				OutputSelection: map[string]map[string][]string{
					"*": {
						"*": []string{"abi", "evm.bytecode", "evm.deployedBytecode"},
					},
				},
			},
		}, opts)
		done <- compiled{out, diags, err}
	}()

	var c compiled
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	case c = <-done:
	}
	if c.err != nil {
		return Output{Stderr: c.err.Error()}, c.err
	}

	var fatal, warnings []string
	for _, d := range c.diags {
		if isWarning(d) {
			warnings = append(warnings, d)
		} else {
			fatal = append(fatal, d)
		}
	}
	if len(fatal) > 0 {
		return Output{Stderr: strings.Join(fatal, "\n")}, errors.New("solc reported errors")
	}

	for source, contracts := range c.out {
		for name, contract := range contracts {
			if err := writeArtifact(dir, &Artifact{
				ContractName:     name,
				SourceName:       source,
				ABI:              contract.ABI,
				Bytecode:         ensureHexPrefix(contract.Bytecode),
				DeployedBytecode: ensureHexPrefix(contract.DeployedBytecode),
			}); err != nil {
				return Output{}, err
			}
		}
	}

	return Output{Stderr: strings.Join(warnings, "\n")}, nil
}
