// Package domain contains the business logic for explorer source verification.
package domain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/polybuilder/polybuilder/internal/chains"
	"github.com/polybuilder/polybuilder/internal/chains/evm"
	"github.com/polybuilder/polybuilder/internal/config"
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/observability/metrics"
)

// Common errors returned by the verification service.
var (
	ErrAPIKeyMissing       = errors.New("POLYGONSCAN_API_KEY not set")
	ErrRejected            = errors.New("verification rejected")
	ErrVerificationFailed  = errors.New("verification failed")
	ErrVerificationTimeout = errors.New("verification timeout")
	ErrContractInfo        = errors.New("failed to get contract info")
)

// Service verifies contract source on a block explorer.
type Service interface {
	Verify(ctx context.Context, req VerifyRequest, sink events.Sink) Result
	ContractInfo(ctx context.Context, network, address string) (*ContractInfo, error)
}

type service struct {
	networks *chains.Registry
	explorer *Explorer
	cfg      config.ExplorerConfig
	logger   *slog.Logger
}

// NewService creates a new verification service.
func NewService(networks *chains.Registry, cfg config.ExplorerConfig, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if cfg.Runs <= 0 {
		cfg.Runs = 200
	}
	if cfg.CompilerVersion == "" {
		cfg.CompilerVersion = "v0.8.20+commit.a1b79de6"
	}
	return &service{
		networks: networks,
		explorer: NewExplorer(cfg.APIKey, cfg.RequestTimeout),
		cfg:      cfg,
		logger:   logger.With("component", "verifier"),
	}
}

// Verify submits the source and polls until the explorer reaches a verdict,
// the attempts run out or ctx is cancelled.
func (s *service) Verify(ctx context.Context, req VerifyRequest, sink events.Sink) (res Result) {
	em := events.For(sink, events.StageVerifying)
	logger := s.logger.With("network", req.Network, "address", req.ContractAddress)
	polls := 0

	fail := func(kind Kind, err error) Result {
		res = Result{Success: false, GUID: res.GUID, Error: DisplayError(err), ErrorKind: kind, Err: err}
		em.Error("❌", "Verification failed: %s", res.Error)
		logger.Warn("verification failed", "kind", kind, "error", err)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during verification", "panic", r)
			res = fail(KindFailed, fmt.Errorf("%w: internal error: %v", ErrVerificationFailed, r))
		}
		result := "success"
		if !res.Success {
			result = string(res.ErrorKind)
		}
		metrics.Verification(req.Network, result, polls)
	}()

	em.Info("🔍", "Verifying contract on Polygonscan...")

	network, err := s.networks.Get(req.Network)
	if err != nil {
		return fail(KindConfig, err)
	}
	if !s.explorer.Configured() {
		return fail(KindConfig, ErrAPIKeyMissing)
	}

	encodedArgs, err := s.encodeArgs(req, em)
	if err != nil {
		return fail(KindConfig, err)
	}

	form := url.Values{
		"contractaddress":  {req.ContractAddress},
		"sourceCode":       {req.SourceCode},
		"codeformat":       {"solidity-single-file"},
		"contractname":     {req.ContractName},
		"compilerversion":  {s.cfg.CompilerVersion},
		"optimizationUsed": {boolFlag(s.cfg.OptimizationUsed)},
		"runs":             {strconv.Itoa(s.cfg.Runs)},
		// the explorer API spells it this way
		"constructorArguements": {encodedArgs},
	}

	em.Info("📤", "Submitting verification request...")
	guid, err := s.explorer.Submit(ctx, network.APIURL, form)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return fail(KindRejected, err)
		}
		return fail(KindFailed, fmt.Errorf("%w: %v", ErrVerificationFailed, err))
	}
	res.GUID = guid
	em.Info("⏳", "Verification GUID: %s", guid)
	em.Info("⏳", "Waiting for verification (this may take a minute)...")

	for attempt := 0; attempt < s.cfg.MaxAttempts; {
		if err := sleep(ctx, s.cfg.PollInterval); err != nil {
			return fail(KindFailed, fmt.Errorf("%w: %v", ErrVerificationFailed, err))
		}

		polls++
		status, result, err := s.explorer.CheckStatus(ctx, network.APIURL, guid)
		if err != nil {
			return fail(KindFailed, fmt.Errorf("%w: %v", ErrVerificationFailed, err))
		}

		switch {
		case status == "1":
			res.Success = true
			res.ExplorerURL = network.CodeURL(req.ContractAddress)
			em.Info("✅", "Contract verified successfully!")
			em.Info("🔗", "View on Polygonscan: %s", res.ExplorerURL)
			logger.Info("contract verified", "guid", guid, "polls", polls)
			return res
		case result == pendingResult:
			attempt++
			em.Info("⏳", "Still pending... (%d/%d)", attempt, s.cfg.MaxAttempts)
		default:
			return fail(KindFailed, fmt.Errorf("%w: %s", ErrVerificationFailed, result))
		}
	}

	return fail(KindTimeout, fmt.Errorf("%w after %d attempts", ErrVerificationTimeout, s.cfg.MaxAttempts))
}

// encodeArgs returns the hex constructor arguments without 0x.
func (s *service) encodeArgs(req VerifyRequest, em events.Emitter) (string, error) {
	if len(req.ConstructorArgs) == 0 && len(req.ABI) == 0 {
		return "", nil
	}

	var (
		packed []byte
		err    error
	)
	if len(req.ABI) > 0 {
		packed, err = evm.EncodeConstructorArgs(req.ABI, req.ConstructorArgs)
	} else {
		em.Warn("⚠", "No ABI provided; encoding constructor arguments as strings")
		packed, err = evm.EncodeStringArgs(req.ConstructorArgs)
	}
	if err != nil {
		return "", fmt.Errorf("encoding constructor arguments: %w", err)
	}
	return hex.EncodeToString(packed), nil
}

// ContractInfo returns the explorer's source entry for address.
func (s *service) ContractInfo(ctx context.Context, network, address string) (*ContractInfo, error) {
	n, err := s.networks.Get(network)
	if err != nil {
		return nil, err
	}
	if !s.explorer.Configured() {
		return nil, fmt.Errorf("%w: %v", ErrContractInfo, ErrAPIKeyMissing)
	}

	info, err := s.explorer.SourceCode(ctx, n.APIURL, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContractInfo, err)
	}
	return info, nil
}

// userWording is the sentence users see in place of a sentinel's text.
var userWording = map[error]string{
	ErrVerificationTimeout: "Verification timeout",
	ErrContractInfo:        "Failed to get contract info",
}

// DisplayError renders err for API responses and transcripts. Rejections show
// the explorer's own text.
func DisplayError(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{ErrRejected, ErrVerificationFailed} {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
			return rest
		}
	}
	for sentinel, wording := range userWording {
		if rest, ok := strings.CutPrefix(msg, sentinel.Error()); ok {
			return wording + rest
		}
	}
	return msg
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
