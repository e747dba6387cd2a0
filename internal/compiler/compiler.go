// Package compiler turns Solidity sources into deployable artifacts.
//
// Each Compile call gets its own work directory, so concurrent requests never
// see each other's sources or artifacts. The toolchain that does the actual
// compilation is pluggable: Hardhat runs as a subprocess, solc runs in
// process.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/polybuilder/polybuilder/internal/config"
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/observability/metrics"
)

var (
	ErrNoSources      = errors.New("no Solidity source files provided")
	ErrInvalidPath    = errors.New("invalid source path")
	ErrCompileTimeout = errors.New("compilation timed out")
	ErrCompileFailed  = errors.New("compilation failed")
)

// sourcesDir is where Hardhat looks for contracts.
const sourcesDir = "contracts"

// SourceFile is one file submitted for compilation.
type SourceFile struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

// Result is the outcome of a compilation. Err carries the sentinel for
// callers that branch on the failure kind.
type Result struct {
	Success   bool                 `json:"success"`
	Artifacts map[string]*Artifact `json:"artifacts,omitempty"`
	Warnings  []string             `json:"warnings,omitempty"`
	Errors    []string             `json:"errors,omitempty"`
	Err       error                `json:"-"`
}

func failure(err error) *Result {
	return &Result{Success: false, Errors: []string{err.Error()}, Err: err}
}

// Options tune an Adapter.
type Options struct {
	TempDir       string
	Timeout       time.Duration
	MaxConcurrent int
}

// Adapter runs a Toolchain over per-request work directories.
type Adapter struct {
	toolchain Toolchain
	tempDir   string
	timeout   time.Duration
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

// New creates an Adapter.
func New(tc Toolchain, opts Options, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Adapter{
		toolchain: tc,
		tempDir:   opts.TempDir,
		timeout:   opts.Timeout,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger:    logger.With("component", "compiler", "toolchain", tc.Name()),
	}
}

// NewFromConfig picks the toolchain named in cfg.
func NewFromConfig(cfg config.CompilerConfig, logger *slog.Logger) (*Adapter, error) {
	opt := Optimizer{Enabled: cfg.OptimizerEnabled, Runs: cfg.OptimizerRuns}
	var tc Toolchain
	switch cfg.Toolchain {
	case "", "hardhat":
		tc = NewHardhat(cfg.Command, cfg.ProjectDir, cfg.SolcVersion, opt)
	case "solc":
		tc = NewSolc(cfg.SolcVersion, opt)
	default:
		return nil, fmt.Errorf("unsupported compiler toolchain: %s", cfg.Toolchain)
	}
	return New(tc, Options{
		TempDir:       cfg.TempDir,
		Timeout:       cfg.Timeout,
		MaxConcurrent: cfg.MaxConcurrent,
	}, logger), nil
}

// Toolchain returns the name of the configured toolchain.
func (a *Adapter) Toolchain() string {
	return a.toolchain.Name()
}

// Compile writes files into a fresh work directory, runs the toolchain and
// loads an artifact for every contract declared in the .sol files.
func (a *Adapter) Compile(ctx context.Context, files []SourceFile, sink events.Sink) *Result {
	em := events.For(sink, events.StageCompiling)
	start := time.Now()

	res := a.compile(ctx, files, em)

	status := "success"
	switch {
	case errors.Is(res.Err, ErrCompileTimeout):
		status = "timeout"
	case !res.Success:
		status = "failure"
	}
	metrics.CompileFinished(a.toolchain.Name(), status, time.Since(start))
	return res
}

func (a *Adapter) compile(ctx context.Context, files []SourceFile, em events.Emitter) *Result {
	normalized, err := normalizeSources(files)
	if err != nil {
		return failure(err)
	}

	workDir, err := os.MkdirTemp(a.tempDir, "polybuilder-*")
	if err != nil {
		return failure(fmt.Errorf("creating work directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			a.logger.Warn("failed to remove work directory", "dir", workDir, "error", err)
		}
	}()

	em.Info("📝", "Writing contract files...")
	for _, f := range normalized {
		dst := filepath.Join(workDir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return failure(fmt.Errorf("creating directory for %s: %w", f.Path, err))
		}
		if err := os.WriteFile(dst, []byte(f.Content), 0o644); err != nil {
			return failure(fmt.Errorf("writing %s: %w", f.Path, err))
		}
		em.Info("✓", "Created %s", f.Path)
	}

	if err := a.toolchain.Prepare(workDir); err != nil {
		return failure(err)
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		return failure(fmt.Errorf("waiting for compiler slot: %w", err))
	}
	defer a.sem.Release(1)

	em.Info("🔨", "Compiling contracts with %s...", displayName(a.toolchain.Name()))

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, runErr := a.toolchain.Run(runCtx, workDir, normalized)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err := fmt.Errorf("%w after %s", ErrCompileTimeout, a.timeout)
		a.logger.Warn("compilation timed out", "timeout", a.timeout)
		return failure(err)
	}

	stderr := strings.TrimSpace(out.Stderr)
	if runErr != nil || (stderr != "" && !strings.Contains(stderr, "Warning")) {
		msg := stderr
		if msg == "" && runErr != nil {
			msg = runErr.Error()
		}
		a.logger.Debug("compilation failed", "stderr", stderr, "error", runErr)
		return &Result{Success: false, Errors: []string{msg}, Err: fmt.Errorf("%w: %s", ErrCompileFailed, msg)}
	}

	em.Info("✓", "Compilation successful!")

	artifacts := make(map[string]*Artifact)
	for _, f := range normalized {
		if !strings.HasSuffix(f.Path, ".sol") {
			continue
		}
		for _, name := range contractNames(f) {
			art, err := ParseArtifact(artifactPath(workDir, f.Path, name))
			if err != nil {
				a.logger.Debug("artifact not loaded", "contract", name, "error", err)
				em.Warn("⚠", "Could not load artifact for %s", name)
				continue
			}
			if art.SourceName == "" {
				art.SourceName = f.Path
			}
			artifacts[name] = art
			em.Info("✓", "Loaded artifact for %s", name)
		}
	}

	res := &Result{Success: true, Artifacts: artifacts}
	if stderr != "" {
		res.Warnings = []string{stderr}
	}
	return res
}

// normalizeSources validates paths and places bare file names under the
// contracts directory so the toolchain picks them up.
func normalizeSources(files []SourceFile) ([]SourceFile, error) {
	if len(files) == 0 {
		return nil, ErrNoSources
	}

	hasSol := false
	out := make([]SourceFile, 0, len(files))
	for _, f := range files {
		p, err := cleanSourcePath(f.Path)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(p, ".sol") {
			hasSol = true
		}
		out = append(out, SourceFile{Path: p, Content: f.Content})
	}
	if !hasSol {
		return nil, ErrNoSources
	}
	return out, nil
}

var reservedNames = map[string]bool{
	"hardhat.config.js": true,
	"hardhat.config.ts": true,
	"package.json":      true,
	"node_modules":      true,
}

// cleanSourcePath rejects absolute paths, parent traversal and files that
// would clobber the generated project layout.
func cleanSourcePath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %s is absolute", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s escapes the project", ErrInvalidPath, p)
		}
	}

	p = path.Clean(p)
	first, _, _ := strings.Cut(p, "/")
	if reservedNames[first] {
		return "", fmt.Errorf("%w: %s is reserved", ErrInvalidPath, p)
	}
	if first != sourcesDir {
		p = sourcesDir + "/" + p
	}
	return p, nil
}

// SourcePath returns the path a file is compiled under, so callers can match
// artifacts back to their inputs.
func SourcePath(p string) (string, error) {
	return cleanSourcePath(p)
}

func displayName(toolchain string) string {
	switch toolchain {
	case "hardhat":
		return "Hardhat"
	case "solc":
		return "solc"
	default:
		return toolchain
	}
}
