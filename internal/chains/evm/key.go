package evm

import (
	"crypto/ecdsa"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const redacted = "[REDACTED]"

// PrivateKey is a hex-encoded secp256k1 key. It formats and logs as
// [REDACTED] so it cannot leak through fmt or slog.
type PrivateKey string

// String implements fmt.Stringer.
func (PrivateKey) String() string { return redacted }

// GoString implements fmt.GoStringer.
func (PrivateKey) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (PrivateKey) LogValue() slog.Value { return slog.StringValue(redacted) }

// MarshalJSON writes the redaction marker. Decoding is unaffected.
func (PrivateKey) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// IsZero reports whether no key was supplied.
func (k PrivateKey) IsZero() bool {
	return strings.TrimSpace(string(k)) == ""
}

// ECDSA parses the key, accepting an optional 0x prefix. Parse errors are
// replaced by ErrInvalidPrivateKey so key material never reaches a message.
func (k PrivateKey) ECDSA() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(string(k)), "0x")
	if raw == "" {
		return nil, ErrInvalidPrivateKey
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return key, nil
}

// Address derives the account address for the key.
func (k PrivateKey) Address() (common.Address, error) {
	key, err := k.ECDSA()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}
