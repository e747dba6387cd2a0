// Package pipeline sequences compilation, deployment and optional explorer
// verification into one run with live status snapshots.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polybuilder/polybuilder/internal/chains"
	"github.com/polybuilder/polybuilder/internal/chains/evm"
	"github.com/polybuilder/polybuilder/internal/compiler"
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/observability/metrics"
	verification "github.com/polybuilder/polybuilder/internal/verification/domain"
)

var (
	// ErrContractNotFound is wrapped when the main contract has no artifact.
	ErrContractNotFound = errors.New("not found in compilation output")
	// ErrNoPrivateKey is returned when neither the request nor the server supply a key.
	ErrNoPrivateKey = errors.New("no private key available")
)

// failure carries the sentence shown to users alongside the error it explains.
type failure struct {
	msg string
	err error
}

func (f *failure) Error() string { return f.msg }
func (f *failure) Unwrap() error { return f.err }

// Compiler turns sources into artifacts.
type Compiler interface {
	Compile(ctx context.Context, files []compiler.SourceFile, sink events.Sink) *compiler.Result
}

// Deployer broadcasts a contract creation transaction.
type Deployer interface {
	Deploy(ctx context.Context, cfg evm.DeploymentConfig, sink events.Sink) evm.DeploymentResult
}

// Verifier submits source to the block explorer.
type Verifier interface {
	Verify(ctx context.Context, req verification.VerifyRequest, sink events.Sink) verification.Result
}

// Request describes one pipeline run.
type Request struct {
	// ID identifies the run; one is generated when empty.
	ID              string                `json:"-"`
	Files           []compiler.SourceFile `json:"files" validate:"required,min=1,dive"`
	MainContract    string                `json:"mainContract" validate:"required,solident"`
	ConstructorArgs []any                 `json:"constructorArgs"`
	Network         string                `json:"network" validate:"required,oneof=mumbai amoy polygon"`
	AutoVerify      bool                  `json:"autoVerify"`
	PrivateKey      evm.PrivateKey        `json:"privateKey,omitempty"`
}

// Run is the complete record of one invocation, handed to a RunRecorder.
type Run struct {
	ID               string
	Network          string
	MainContract     string
	AutoVerify       bool
	Final            Status
	Statuses         []Status
	Events           []events.Event
	Deployer         string
	VerificationGUID string
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// Orchestrator holds the immutable collaborators shared by all runs.
type Orchestrator struct {
	compiler   Compiler
	deployer   Deployer
	verifier   Verifier
	networks   *chains.Registry
	recorder   RunRecorder
	defaultKey evm.PrivateKey
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder persists every finished run.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithDefaultKey sets the signing key used when a request carries none.
func WithDefaultKey(k evm.PrivateKey) Option {
	return func(o *Orchestrator) { o.defaultKey = k }
}

// New creates an Orchestrator.
func New(c Compiler, d Deployer, v Verifier, networks *chains.Registry, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		compiler: c,
		deployer: d,
		verifier: v,
		networks: networks,
		logger:   logger.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the pipeline. onStatus and sink may be nil. The returned
// status is the final snapshot: completed or error.
func (o *Orchestrator) Run(ctx context.Context, req Request, onStatus StatusFunc, sink events.Sink) (final Status) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	r := &run{
		o:          o,
		req:        req,
		onStatus:   onStatus,
		transcript: events.NewRecorder(),
		status:     Status{Stage: events.StageIdle},
		stageStart: time.Now(),
		logger:     o.logger.With("run_id", req.ID, "network", req.Network, "contract", req.MainContract),
	}
	r.sink = events.Multi(r.transcript, sink, events.SlogSink(r.logger))

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic during pipeline run", "panic", p)
			final = r.fail(fmt.Errorf("internal error: %v", p))
		}
		metrics.PipelineStage(string(r.status.Stage), time.Since(r.stageStart))
		metrics.PipelineRun(req.Network, string(final.Stage))
		r.record(ctx, final)
	}()

	if err := r.execute(ctx); err != nil {
		return r.fail(err)
	}
	return r.status
}

// run is the per-invocation state. It is never shared between requests.
type run struct {
	o          *Orchestrator
	req        Request
	onStatus   StatusFunc
	sink       events.Sink
	transcript *events.Recorder
	status     Status
	statuses   []Status
	stageStart time.Time
	logger     *slog.Logger

	deployer string
	guid     string
}

func (r *run) emitter() events.Emitter {
	return events.For(r.sink, r.status.Stage)
}

// step moves to a new snapshot derived from the current one.
func (r *run) step(stage events.Stage, progress int, message string, mutate func(*Status)) error {
	next := r.status
	next.Stage = stage
	next.Progress = progress
	next.Message = message
	if mutate != nil {
		mutate(&next)
	}
	return r.advance(next)
}

// advance publishes next after checking it against the current snapshot.
func (r *run) advance(next Status) error {
	if err := checkTransition(r.status, next); err != nil {
		return err
	}
	if next.Stage != r.status.Stage {
		metrics.PipelineStage(string(r.status.Stage), time.Since(r.stageStart))
		r.stageStart = time.Now()
	}
	r.status = next
	r.statuses = append(r.statuses, next)
	if r.onStatus != nil {
		r.onStatus(next)
	}
	return nil
}

func (r *run) execute(ctx context.Context) error {
	req := r.req

	network, err := r.o.networks.Get(req.Network)
	if err != nil {
		return err
	}
	key := req.PrivateKey
	if key.IsZero() {
		key = r.o.defaultKey
	}
	if key.IsZero() {
		return &failure{msg: "No private key provided and PRIVATE_KEY not set in environment", err: ErrNoPrivateKey}
	}

	// Stage 1: compile
	if err := r.step(events.StageCompiling, 10, "Compiling smart contracts...", nil); err != nil {
		return err
	}
	compiled := r.o.compiler.Compile(ctx, req.Files, r.sink)
	if compiled == nil || !compiled.Success {
		return compileError(compiled)
	}
	artifact := compiled.Artifacts[req.MainContract]
	if artifact == nil {
		return &failure{msg: fmt.Sprintf("Contract %s %s", req.MainContract, ErrContractNotFound), err: ErrContractNotFound}
	}
	if err := r.step(events.StageCompiling, 30, "✓ Compilation successful", nil); err != nil {
		return err
	}

	// Stage 2: deploy
	if err := r.step(events.StageDeploying, 40, fmt.Sprintf("Deploying to %s...", network.DisplayName), nil); err != nil {
		return err
	}
	deployed := r.o.deployer.Deploy(ctx, evm.DeploymentConfig{
		ContractName:    req.MainContract,
		Artifact:        artifact,
		ConstructorArgs: req.ConstructorArgs,
		Network:         req.Network,
		PrivateKey:      key,
	}, r.sink)
	if !deployed.Success {
		switch {
		case deployed.Err != nil && deployed.Error != "":
			return &failure{msg: deployed.Error, err: deployed.Err}
		case deployed.Err != nil:
			return deployed.Err
		}
		return errors.New(deployed.Error)
	}
	r.deployer = deployed.Deployer
	err = r.step(events.StageDeploying, 70, "✓ Contract deployed successfully", func(s *Status) {
		s.ContractAddress = deployed.ContractAddress
		s.TransactionHash = deployed.TransactionHash
		s.GasUsed = deployed.GasUsed
	})
	if err != nil {
		return err
	}

	// Stage 3: verify
	explorerURL := network.AddressURL(deployed.ContractAddress)
	var verified *bool
	if req.AutoVerify {
		ok, url, err := r.verify(ctx, artifact, deployed.ContractAddress)
		if err != nil {
			return err
		}
		verified = boolPtr(ok)
		if ok {
			explorerURL = url
		}
	}

	// Stage 4: done
	return r.step(events.StageCompleted, 100, "🎉 Deployment completed successfully!", func(s *Status) {
		s.ExplorerURL = explorerURL
		s.Verified = verified
	})
}

// verify runs stage 3. Verification failures are reported as warnings and
// ok=false; only invariant violations return an error.
func (r *run) verify(ctx context.Context, artifact *compiler.Artifact, address string) (ok bool, explorerURL string, err error) {
	if err := r.step(events.StageVerifying, 75, "Verifying contract on Polygonscan...", nil); err != nil {
		return false, "", err
	}
	em := r.emitter()

	source, found := findSource(r.req.Files, artifact, r.req.MainContract)
	if !found {
		em.Warn("⚠", "No source file matches %s; skipping verification", r.req.MainContract)
		em.Warn("⚠", "Contract is deployed but not verified")
		return false, "", nil
	}

	res := r.o.verifier.Verify(ctx, verification.VerifyRequest{
		ContractAddress: address,
		ContractName:    r.req.MainContract,
		SourceCode:      source.Content,
		ConstructorArgs: r.req.ConstructorArgs,
		ABI:             artifact.ABI,
		Network:         r.req.Network,
	}, r.sink)
	r.guid = res.GUID

	if !res.Success {
		em.Warn("⚠", "Verification failed: %s", res.Error)
		em.Warn("⚠", "Contract is deployed but not verified")
		return false, "", nil
	}

	err = r.step(events.StageVerifying, 95, "✓ Contract verified on Polygonscan", func(s *Status) {
		s.ExplorerURL = res.ExplorerURL
		s.Verified = boolPtr(true)
	})
	if err != nil {
		return false, "", err
	}
	return true, res.ExplorerURL, nil
}

// fail publishes the terminal error snapshot. Accumulated fields are dropped.
func (r *run) fail(err error) Status {
	msg := err.Error()
	if r.status.Stage.Terminal() {
		r.logger.Error("pipeline failed after terminal stage", "stage", r.status.Stage, "error", err)
		return r.status
	}

	errStatus := Status{Stage: events.StageError, Message: "❌ Error: " + msg, Progress: 0}
	if advErr := r.advance(errStatus); advErr != nil {
		r.logger.Error("could not publish error status", "error", advErr)
	}
	events.For(r.sink, events.StageError).Error("❌", "Deployment failed: %s", msg)
	r.logger.Warn("pipeline run failed", "error", err)
	return r.status
}

func (r *run) record(ctx context.Context, final Status) {
	if r.o.recorder == nil {
		return
	}
	out := Run{
		ID:               r.req.ID,
		Network:          r.req.Network,
		MainContract:     r.req.MainContract,
		AutoVerify:       r.req.AutoVerify,
		Final:            final,
		Statuses:         append([]Status(nil), r.statuses...),
		Events:           r.transcript.Events(),
		Deployer:         r.deployer,
		VerificationGUID: r.guid,
	}
	// The caller's ctx may already be cancelled; the run still gets stored.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.o.recorder.RecordRun(recordCtx, out); err != nil {
		r.logger.Warn("failed to record pipeline run", "error", err)
	}
}

func compileError(res *compiler.Result) error {
	if res == nil || len(res.Errors) == 0 {
		return compiler.ErrCompileFailed
	}
	return errors.New(strings.Join(res.Errors, "\n"))
}

// findSource returns the file the artifact was compiled from. Requests whose
// artifact carries no usable source name fall back to the first file whose
// path mentions name.
func findSource(files []compiler.SourceFile, artifact *compiler.Artifact, name string) (compiler.SourceFile, bool) {
	if artifact != nil && artifact.SourceName != "" {
		for _, f := range files {
			if p, err := compiler.SourcePath(f.Path); err == nil && p == artifact.SourceName {
				return f, true
			}
		}
	}
	for _, f := range files {
		if strings.Contains(f.Path, name) {
			return f, true
		}
	}
	return compiler.SourceFile{}, false
}
