package evm

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/polybuilder/polybuilder/internal/chains"
	"github.com/polybuilder/polybuilder/internal/compiler"
	"github.com/polybuilder/polybuilder/internal/config"
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/observability/metrics"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance for deployment")
	ErrUnknownNetwork      = chains.ErrUnknownNetwork
	ErrNotConfigured       = errors.New("deployment not configured")
	ErrInvalidPrivateKey   = errors.New("invalid private key")
	ErrReverted            = errors.New("execution reverted")
	ErrDeployTimeout       = errors.New("deployment timed out")
)

// ErrorKind classifies a failed deployment.
type ErrorKind string

const (
	KindConfig            ErrorKind = "config"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindChain             ErrorKind = "chain"
	KindTimeout           ErrorKind = "timeout"
)

// DeploymentConfig describes one contract deployment.
type DeploymentConfig struct {
	ContractName    string             `json:"contractName"`
	Artifact        *compiler.Artifact `json:"artifact"`
	ConstructorArgs []any              `json:"constructorArgs"`
	Network         string             `json:"network"`
	PrivateKey      PrivateKey         `json:"-"`
}

// DeploymentResult is the outcome of Deploy.
type DeploymentResult struct {
	Success         bool       `json:"success"`
	ContractAddress string     `json:"contractAddress,omitempty"`
	TransactionHash string     `json:"transactionHash,omitempty"`
	GasUsed         string     `json:"gasUsed,omitempty"`
	Deployer        string     `json:"deployer,omitempty"`
	CodeMatch       *CodeMatch `json:"codeMatch,omitempty"`
	Error           string     `json:"error,omitempty"`
	ErrorKind       ErrorKind  `json:"errorKind,omitempty"`
	Err             error      `json:"-"`
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithDialer replaces the JSON-RPC dialer.
func WithDialer(d Dialer) Option {
	return func(dep *Deployer) { dep.dial = d }
}

// Deployer signs and broadcasts contract creation transactions.
type Deployer struct {
	networks      *chains.Registry
	dial          Dialer
	timeout       time.Duration
	gasLimit      uint64
	gasMultiplier float64
	logger        *slog.Logger
}

// NewDeployer creates a Deployer for the given networks.
func NewDeployer(networks *chains.Registry, cfg config.DeployConfig, logger *slog.Logger, opts ...Option) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deployer{
		networks:      networks,
		dial:          DialRPC,
		timeout:       cfg.Timeout,
		gasLimit:      cfg.GasLimit,
		gasMultiplier: cfg.GasMultiplier,
		logger:        logger.With("component", "deployer"),
	}
	if d.timeout <= 0 {
		d.timeout = 5 * time.Minute
	}
	if d.gasMultiplier < 1 {
		d.gasMultiplier = 1.2
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy sends the creation transaction for cfg.Artifact and waits for one
// confirmation. Failures are reported in the result, never as a panic.
func (d *Deployer) Deploy(ctx context.Context, cfg DeploymentConfig, sink events.Sink) (res DeploymentResult) {
	em := events.For(sink, events.StageDeploying)
	logger := d.logger.With("network", cfg.Network, "contract", cfg.ContractName)

	fail := func(kind ErrorKind, err error) DeploymentResult {
		res.Success = false
		res.Error = DisplayError(err)
		res.ErrorKind = kind
		res.Err = err
		em.Error("❌", "Deployment failed: %s", res.Error)
		logger.Warn("deployment failed", "kind", kind, "error", err)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during deployment", "panic", r)
			res = fail(KindChain, fmt.Errorf("internal error: %v", r))
		}
		status := "success"
		if !res.Success {
			status = string(res.ErrorKind)
		}
		metrics.Deploy(cfg.Network, status)
	}()

	em.Info("🚀", "Deploying %s to %s...", cfg.ContractName, cfg.Network)

	network, err := d.networks.Get(cfg.Network)
	if err != nil {
		return fail(KindConfig, err)
	}
	rpcURL, err := network.RPC()
	if err != nil {
		return fail(KindConfig, err)
	}
	key, err := cfg.PrivateKey.ECDSA()
	if err != nil {
		return fail(KindConfig, err)
	}
	if cfg.Artifact == nil || strings.TrimPrefix(cfg.Artifact.Bytecode, "0x") == "" {
		return fail(KindConfig, fmt.Errorf("%w: artifact for %s has no bytecode", ErrNotConfigured, cfg.ContractName))
	}

	code, err := hex.DecodeString(strings.TrimPrefix(cfg.Artifact.Bytecode, "0x"))
	if err != nil {
		return fail(KindConfig, fmt.Errorf("%w: bytecode is not valid hex", ErrNotConfigured))
	}
	encoded, err := EncodeConstructorArgs(cfg.Artifact.ABI, cfg.ConstructorArgs)
	if err != nil {
		return fail(KindConfig, err)
	}
	data := append(code, encoded...)

	deployCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	backend, err := d.dial(deployCtx, rpcURL)
	if err != nil {
		return fail(d.kindFor(deployCtx), fmt.Errorf("connecting to %s: %w", network.Name, err))
	}
	defer backend.Close()

	from := crypto.PubkeyToAddress(key.PublicKey)
	res.Deployer = from.Hex()
	em.Info("📡", "Connected to %s", network.Name)
	em.Info("👛", "Deployer address: %s", from.Hex())

	balance, err := backend.BalanceAt(deployCtx, from, nil)
	if err != nil {
		return fail(d.kindFor(deployCtx), fmt.Errorf("fetching balance: %w", err))
	}
	em.Info("💰", "Balance: %s %s", FormatEther(balance), network.Currency)
	if balance.Sign() == 0 {
		return fail(KindInsufficientFunds, ErrInsufficientBalance)
	}

	nonce, err := backend.PendingNonceAt(deployCtx, from)
	if err != nil {
		return fail(d.kindFor(deployCtx), fmt.Errorf("fetching nonce: %w", err))
	}
	gasPrice, err := backend.SuggestGasPrice(deployCtx)
	if err != nil {
		return fail(d.kindFor(deployCtx), fmt.Errorf("fetching gas price: %w", err))
	}
	gasLimit, err := d.estimateGas(deployCtx, backend, from, data)
	if err != nil {
		return fail(d.kindFor(deployCtx), err)
	}
	chainID, err := backend.ChainID(deployCtx)
	if err != nil {
		return fail(d.kindFor(deployCtx), fmt.Errorf("fetching chain id: %w", err))
	}
	if network.ChainID != 0 && chainID.Cmp(big.NewInt(network.ChainID)) != 0 {
		logger.Warn("RPC chain id differs from network definition", "rpc_chain_id", chainID, "expected", network.ChainID)
	}

	tx := types.NewContractCreation(nonce, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return fail(KindConfig, fmt.Errorf("signing transaction: %w", err))
	}

	em.Info("📝", "Sending deployment transaction...")
	if err := backend.SendTransaction(deployCtx, signed); err != nil {
		return fail(d.kindFor(deployCtx), fmt.Errorf("sending transaction: %w", err))
	}
	res.TransactionHash = signed.Hash().Hex()
	em.Info("⏳", "Transaction sent: %s", res.TransactionHash)

	receipt, err := bind.WaitMined(deployCtx, backend, signed)
	if err != nil {
		if errors.Is(deployCtx.Err(), context.DeadlineExceeded) {
			return fail(KindTimeout, fmt.Errorf("%w: no receipt for %s after %s", ErrDeployTimeout, res.TransactionHash, d.timeout))
		}
		return fail(KindChain, fmt.Errorf("waiting for receipt: %w", err))
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return fail(KindChain, ErrReverted)
	}

	address := receipt.ContractAddress
	if address == (common.Address{}) {
		address = crypto.CreateAddress(from, nonce)
	}
	res.Success = true
	res.ContractAddress = address.Hex()
	res.GasUsed = strconv.FormatUint(receipt.GasUsed, 10)

	em.Info("✅", "Contract deployed at: %s", res.ContractAddress)
	em.Info("⛽", "Gas used: %s", res.GasUsed)
	logger.Info("contract deployed", "address", res.ContractAddress, "tx", res.TransactionHash, "gas_used", receipt.GasUsed)

	if cfg.Artifact.DeployedBytecode != "" {
		d.checkCode(deployCtx, backend, address, cfg.Artifact.DeployedBytecode, em, &res)
	}
	return res
}

func (d *Deployer) estimateGas(ctx context.Context, backend Backend, from common.Address, data []byte) (uint64, error) {
	if d.gasLimit > 0 {
		return d.gasLimit, nil
	}
	est, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: from, Data: data})
	if err != nil {
		return 0, fmt.Errorf("estimating gas: %w", err)
	}
	return uint64(float64(est) * d.gasMultiplier), nil
}

// checkCode compares the runtime code at address with the artifact. A
// mismatch is only a warning.
func (d *Deployer) checkCode(ctx context.Context, backend Backend, address common.Address, deployed string, em events.Emitter, res *DeploymentResult) {
	onChain, err := backend.CodeAt(ctx, address, nil)
	if err != nil {
		em.Warn("⚠", "Could not read deployed code: %v", err)
		return
	}
	match := CompareCode(onChain, deployed)
	res.CodeMatch = &match
	if match.Match {
		em.Info("✓", "%s", match.Message)
		return
	}
	em.Warn("⚠", "%s", match.Message)
}

// kindFor maps a failed RPC call to timeout when the deploy deadline passed.
func (d *Deployer) kindFor(ctx context.Context) ErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindChain
}

// DisplayError renders err the way deployment results and transcripts show it.
func DisplayError(err error) string {
	if errors.Is(err, ErrInsufficientBalance) {
		return "Insufficient balance for deployment. Please fund your wallet."
	}
	return err.Error()
}
