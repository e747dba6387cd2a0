package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Artifact is the compiled output for one contract.
type Artifact struct {
	ContractName     string          `json:"contractName"`
	SourceName       string          `json:"sourceName,omitempty"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"`
	DeployedBytecode string          `json:"deployedBytecode,omitempty"`
}

// hardhatArtifact mirrors artifacts/<source>/<Name>.json as written by Hardhat.
type hardhatArtifact struct {
	Format           string          `json:"_format,omitempty"`
	ContractName     string          `json:"contractName"`
	SourceName       string          `json:"sourceName"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"`
	DeployedBytecode string          `json:"deployedBytecode"`
}

const hardhatFormat = "hh-sol-artifact-1"

var contractDecl = regexp.MustCompile(`(?m)^\s*(?:abstract\s+)?contract\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

// DeclaredContracts returns the contract names declared in Solidity source,
// in declaration order. Interfaces and libraries are not included.
func DeclaredContracts(source string) []string {
	matches := contractDecl.FindAllStringSubmatch(source, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	return names
}

// contractNames returns the artifact names expected for a source file.
func contractNames(f SourceFile) []string {
	if names := DeclaredContracts(f.Content); len(names) > 0 {
		return names
	}
	return []string{strings.TrimSuffix(filepath.Base(f.Path), ".sol")}
}

// artifactPath is artifacts/<source path>/<Name>.json under the work dir.
func artifactPath(workDir, sourcePath, contractName string) string {
	return filepath.Join(workDir, "artifacts", filepath.FromSlash(sourcePath), contractName+".json")
}

// ParseArtifact reads one Hardhat artifact file.
func ParseArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	var raw hardhatArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}

	if len(raw.ABI) == 0 {
		return nil, fmt.Errorf("artifact %s has no ABI", filepath.Base(path))
	}

	name := raw.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	return &Artifact{
		ContractName:     name,
		SourceName:       raw.SourceName,
		ABI:              raw.ABI,
		Bytecode:         ensureHexPrefix(raw.Bytecode),
		DeployedBytecode: ensureHexPrefix(raw.DeployedBytecode),
	}, nil
}

// writeArtifact stores a in the Hardhat layout so every toolchain can be
// loaded the same way.
func writeArtifact(workDir string, a *Artifact) error {
	path := artifactPath(workDir, a.SourceName, a.ContractName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(hardhatArtifact{
		Format:           hardhatFormat,
		ContractName:     a.ContractName,
		SourceName:       a.SourceName,
		ABI:              a.ABI,
		Bytecode:         a.Bytecode,
		DeployedBytecode: a.DeployedBytecode,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func ensureHexPrefix(s string) string {
	if s == "" || strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}
