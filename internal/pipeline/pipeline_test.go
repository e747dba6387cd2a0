package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/polybuilder/polybuilder/internal/chains"
	"github.com/polybuilder/polybuilder/internal/chains/evm"
	"github.com/polybuilder/polybuilder/internal/compiler"
	"github.com/polybuilder/polybuilder/internal/config"
	"github.com/polybuilder/polybuilder/internal/events"
	verification "github.com/polybuilder/polybuilder/internal/verification/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testTxHash  = "0x9b2f1c6e8a3d4e5f60718293a4b5c6d7e8f90123456789abcdef0123456789ab"
	testSigner  = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	tokenSource = "pragma solidity ^0.8.20; contract MyToken { }"
)

type stubCompiler struct {
	result *compiler.Result
	calls  int
}

func (s *stubCompiler) Compile(ctx context.Context, files []compiler.SourceFile, sink events.Sink) *compiler.Result {
	s.calls++
	events.For(sink, events.StageCompiling).Info("🔨", "Compiling %d file(s)", len(files))
	return s.result
}

type stubDeployer struct {
	result evm.DeploymentResult
	panic  bool
	got    *evm.DeploymentConfig
}

func (s *stubDeployer) Deploy(ctx context.Context, cfg evm.DeploymentConfig, sink events.Sink) evm.DeploymentResult {
	s.got = &cfg
	if s.panic {
		panic("rpc client exploded")
	}
	events.For(sink, events.StageDeploying).Info("🚀", "Deploying %s", cfg.ContractName)
	return s.result
}

type stubVerifier struct {
	result verification.Result
	got    *verification.VerifyRequest
}

func (s *stubVerifier) Verify(ctx context.Context, req verification.VerifyRequest, sink events.Sink) verification.Result {
	s.got = &req
	events.For(sink, events.StageVerifying).Info("🔍", "Submitting %s", req.ContractName)
	return s.result
}

type memRecorder struct {
	mu   sync.Mutex
	runs []Run
	err  error
}

func (m *memRecorder) RecordRun(ctx context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return m.err
}

func compiled() *compiler.Result {
	return &compiler.Result{
		Success: true,
		Artifacts: map[string]*compiler.Artifact{
			"MyToken": {
				ContractName: "MyToken",
				SourceName:   "contracts/Token.sol",
				ABI:          json.RawMessage(`[]`),
				Bytecode:     "0x6080",
			},
		},
	}
}

func deployed() evm.DeploymentResult {
	return evm.DeploymentResult{
		Success:         true,
		ContractAddress: testAddress,
		TransactionHash: testTxHash,
		GasUsed:         "120000",
		Deployer:        testSigner,
	}
}

func tokenRequest() Request {
	return Request{
		Files:        []compiler.SourceFile{{Path: "contracts/Token.sol", Content: tokenSource}},
		MainContract: "MyToken",
		Network:      "amoy",
		PrivateKey:   "0xkey",
	}
}

type fixture struct {
	compiler *stubCompiler
	deployer *stubDeployer
	verifier *stubVerifier
	recorder *memRecorder
	orch     *Orchestrator
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		compiler: &stubCompiler{result: compiled()},
		deployer: &stubDeployer{result: deployed()},
		verifier: &stubVerifier{result: verification.Result{
			Success:     true,
			ExplorerURL: "https://amoy.polygonscan.com/address/" + testAddress + "#code",
			GUID:        "guid-1",
		}},
		recorder: &memRecorder{},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	opts = append([]Option{WithRecorder(f.recorder)}, opts...)
	f.orch = New(f.compiler, f.deployer, f.verifier, chains.DefaultRegistry(config.NetworksConfig{}), logger, opts...)
	return f
}

// collect runs the pipeline and returns every status snapshot and the transcript.
func (f *fixture) collect(req Request) (Status, []Status, *events.Recorder) {
	var statuses []Status
	rec := events.NewRecorder()
	final := f.orch.Run(context.Background(), req, func(s Status) { statuses = append(statuses, s) }, rec)
	return final, statuses, rec
}

func assertMonotonic(t *testing.T, statuses []Status) {
	t.Helper()
	for i := 1; i < len(statuses); i++ {
		prev, cur := statuses[i-1], statuses[i]
		if cur.Stage == events.StageError {
			continue
		}
		assert.GreaterOrEqual(t, cur.Stage.Rank(), prev.Stage.Rank(), "stage went backwards at %d", i)
		assert.GreaterOrEqual(t, cur.Progress, prev.Progress, "progress went backwards at %d", i)
	}
}

func TestRun_DeployWithoutVerification(t *testing.T) {
	f := newFixture()
	final, statuses, rec := f.collect(tokenRequest())

	assert.Equal(t, events.StageCompleted, final.Stage)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, testAddress, final.ContractAddress)
	assert.Equal(t, testTxHash, final.TransactionHash)
	assert.Equal(t, "https://amoy.polygonscan.com/address/"+testAddress, final.ExplorerURL)
	assert.Nil(t, final.Verified, "verified is unset when verification was not requested")
	assert.Nil(t, f.verifier.got)

	var progress []int
	for _, s := range statuses {
		progress = append(progress, s.Progress)
	}
	assert.Equal(t, []int{10, 30, 40, 70, 100}, progress)
	assert.Equal(t, "Deploying to Polygon Amoy...", statuses[2].Message)
	assertMonotonic(t, statuses)

	assert.Equal(t, []string{"🔨 Compiling 1 file(s)", "🚀 Deploying MyToken"}, rec.Lines())

	require.Len(t, f.recorder.runs, 1)
	run := f.recorder.runs[0]
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, final, run.Final)
	assert.Equal(t, testSigner, run.Deployer)
	assert.Len(t, run.Statuses, 5)
	assert.Len(t, run.Events, 2)
}

func TestRun_WithVerification(t *testing.T) {
	f := newFixture()
	req := tokenRequest()
	req.AutoVerify = true
	req.ConstructorArgs = []any{"MTK", json.Number("1000")}
	req.Files = append([]compiler.SourceFile{{Path: "contracts/lib/Ownable.sol", Content: "x"}}, req.Files...)

	final, statuses, _ := f.collect(req)

	require.Equal(t, events.StageCompleted, final.Stage)
	require.NotNil(t, final.Verified)
	assert.True(t, *final.Verified)
	assert.Equal(t, "https://amoy.polygonscan.com/address/"+testAddress+"#code", final.ExplorerURL)

	require.NotNil(t, f.verifier.got)
	assert.Equal(t, tokenSource, f.verifier.got.SourceCode, "source is matched by path")
	assert.Equal(t, testAddress, f.verifier.got.ContractAddress)
	assert.Equal(t, req.ConstructorArgs, f.verifier.got.ConstructorArgs)
	assert.JSONEq(t, `[]`, string(f.verifier.got.ABI))

	var progress []int
	for _, s := range statuses {
		progress = append(progress, s.Progress)
	}
	assert.Equal(t, []int{10, 30, 40, 70, 75, 95, 100}, progress)
	assertMonotonic(t, statuses)
	assert.Equal(t, "guid-1", f.recorder.runs[0].VerificationGUID)
}

func TestRun_VerificationFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.verifier.result = verification.Result{
		Success:   false,
		Error:     "Verification timeout after 30 attempts",
		ErrorKind: verification.KindTimeout,
	}
	req := tokenRequest()
	req.AutoVerify = true

	final, statuses, rec := f.collect(req)

	assert.Equal(t, events.StageCompleted, final.Stage)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Verified)
	assert.False(t, *final.Verified)
	assert.Equal(t, "https://amoy.polygonscan.com/address/"+testAddress, final.ExplorerURL)
	assertMonotonic(t, statuses)

	lines := strings.Join(rec.Lines(), "\n")
	assert.Contains(t, lines, "⚠ Verification failed: Verification timeout after 30 attempts")
	assert.Contains(t, lines, "⚠ Contract is deployed but not verified")
}

func TestRun_VerificationMatchesArtifactSource(t *testing.T) {
	cases := []struct {
		name string
		path string
	}{
		{"project path", "contracts/Token.sol"},
		{"bare file name", "Token.sol"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.verifier.result = verification.Result{
				Success:   false,
				Error:     "Verification timeout after 30 attempts",
				ErrorKind: verification.KindTimeout,
			}
			req := tokenRequest()
			req.AutoVerify = true
			req.Files = []compiler.SourceFile{
				{Path: "contracts/lib/Ownable.sol", Content: "x"},
				{Path: tc.path, Content: tokenSource},
			}

			final, _, rec := f.collect(req)

			assert.Equal(t, events.StageCompleted, final.Stage)
			require.NotNil(t, f.verifier.got, "verifier is called when the contract name differs from the file name")
			assert.Equal(t, tokenSource, f.verifier.got.SourceCode)
			assert.Equal(t, "MyToken", f.verifier.got.ContractName)

			lines := strings.Join(rec.Lines(), "\n")
			assert.Contains(t, lines, "⚠ Verification failed: Verification timeout after 30 attempts")
			assert.NotContains(t, lines, "skipping verification")
		})
	}
}

func TestRun_VerificationSkippedWithoutSource(t *testing.T) {
	f := newFixture()
	req := tokenRequest()
	req.AutoVerify = true
	req.Files = []compiler.SourceFile{{Path: "contracts/ERC20.sol", Content: tokenSource}}

	final, _, rec := f.collect(req)

	assert.Equal(t, events.StageCompleted, final.Stage)
	require.NotNil(t, final.Verified)
	assert.False(t, *final.Verified)
	assert.Nil(t, f.verifier.got)
	assert.Contains(t, strings.Join(rec.Lines(), "\n"), "skipping verification")
}

func TestRun_MissingArtifact(t *testing.T) {
	f := newFixture()
	req := tokenRequest()
	req.MainContract = "Missing"

	final, statuses, _ := f.collect(req)

	assert.Equal(t, events.StageError, final.Stage)
	assert.Equal(t, 0, final.Progress)
	assert.Contains(t, final.Message, "not found")
	assert.Equal(t, "❌ Error: Contract Missing not found in compilation output", final.Message)
	assert.Nil(t, f.deployer.got, "deploy must not be attempted")
	assertMonotonic(t, statuses)
}

func TestRun_CompileFailure(t *testing.T) {
	f := newFixture()
	f.compiler.result = &compiler.Result{
		Success: false,
		Errors:  []string{"Token.sol:1:1: ParserError: Expected pragma", "Token.sol:2:1: TypeError"},
	}

	final, _, rec := f.collect(tokenRequest())

	assert.Equal(t, events.StageError, final.Stage)
	assert.Equal(t, "❌ Error: Token.sol:1:1: ParserError: Expected pragma\nToken.sol:2:1: TypeError", final.Message)
	assert.Nil(t, f.deployer.got)
	lines := rec.Lines()
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "❌ Deployment failed: "))
}

func TestRun_DeployReverted(t *testing.T) {
	f := newFixture()
	f.deployer.result = evm.DeploymentResult{
		Error:     "execution reverted",
		ErrorKind: evm.KindChain,
		Err:       evm.ErrReverted,
	}

	final, statuses, _ := f.collect(tokenRequest())

	assert.Equal(t, events.StageError, final.Stage)
	assert.Equal(t, 0, final.Progress)
	assert.Contains(t, final.Message, "execution reverted")
	assert.Empty(t, final.ContractAddress)
	assert.Nil(t, f.verifier.got)
	assertMonotonic(t, statuses)
}

func TestRun_InsufficientBalance(t *testing.T) {
	f := newFixture()
	f.deployer.result = evm.DeploymentResult{
		Error:     evm.DisplayError(evm.ErrInsufficientBalance),
		ErrorKind: evm.KindInsufficientFunds,
		Err:       evm.ErrInsufficientBalance,
	}

	final, _, _ := f.collect(tokenRequest())

	assert.Equal(t, events.StageError, final.Stage)
	assert.Equal(t, "❌ Error: Insufficient balance for deployment. Please fund your wallet.", final.Message)
	require.Len(t, f.recorder.runs, 1)
	assert.Equal(t, events.StageError, f.recorder.runs[0].Final.Stage)
}

func TestRun_PreflightErrors(t *testing.T) {
	t.Run("unknown network", func(t *testing.T) {
		f := newFixture()
		req := tokenRequest()
		req.Network = "goerli"
		final, statuses, _ := f.collect(req)

		assert.Equal(t, events.StageError, final.Stage)
		assert.Contains(t, final.Message, "unknown network")
		assert.Zero(t, f.compiler.calls, "compiler must not run")
		assert.Len(t, statuses, 1)
	})

	t.Run("no key anywhere", func(t *testing.T) {
		f := newFixture()
		req := tokenRequest()
		req.PrivateKey = ""
		final, _, _ := f.collect(req)

		assert.Equal(t, "❌ Error: No private key provided and PRIVATE_KEY not set in environment", final.Message)
		assert.Zero(t, f.compiler.calls)
	})

	t.Run("server key fallback", func(t *testing.T) {
		f := newFixture(WithDefaultKey("0xserver"))
		req := tokenRequest()
		req.PrivateKey = ""
		final, _, _ := f.collect(req)

		assert.Equal(t, events.StageCompleted, final.Stage)
		assert.Equal(t, evm.PrivateKey("0xserver"), f.deployer.got.PrivateKey)
	})
}

func TestRun_PanicBecomesError(t *testing.T) {
	f := newFixture()
	f.deployer.panic = true

	final, _, _ := f.collect(tokenRequest())

	assert.Equal(t, events.StageError, final.Stage)
	assert.Contains(t, final.Message, "rpc client exploded")
	require.Len(t, f.recorder.runs, 1)
}

func TestRun_RecorderFailureIsLogged(t *testing.T) {
	f := newFixture()
	f.recorder.err = errors.New("disk full")

	final, _, _ := f.collect(tokenRequest())
	assert.Equal(t, events.StageCompleted, final.Stage)
}

func TestRun_TranscriptIsDeterministic(t *testing.T) {
	lines := func() []string {
		f := newFixture()
		req := tokenRequest()
		req.AutoVerify = true
		final, statuses, rec := f.collect(req)
		out := rec.Lines()
		for _, s := range statuses {
			out = append(out, fmt.Sprintf("%s %d %s", s.Stage, s.Progress, s.Message))
		}
		return append(out, string(final.Stage))
	}

	assert.Equal(t, lines(), lines())
}

func TestRun_ConcurrentRunsAreIndependent(t *testing.T) {
	f := newFixture()
	// stubs are not goroutine-safe; give each run its own orchestrator
	// sharing the recorder.
	var wg sync.WaitGroup
	finals := make([]Status, 8)
	for i := range finals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := New(&stubCompiler{result: compiled()}, &stubDeployer{result: deployed()}, &stubVerifier{},
				chains.DefaultRegistry(config.NetworksConfig{}), nil, WithRecorder(f.recorder))
			req := tokenRequest()
			req.ID = fmt.Sprintf("run-%d", i)
			finals[i] = o.Run(context.Background(), req, nil, nil)
		}(i)
	}
	wg.Wait()

	for _, s := range finals {
		assert.Equal(t, events.StageCompleted, s.Stage)
	}
	ids := map[string]bool{}
	for _, r := range f.recorder.runs {
		ids[r.ID] = true
		assert.Len(t, r.Events, 2, "transcripts must not mix")
	}
	assert.Len(t, ids, 8)
}
