package evm

import (
	"bytes"
	"encoding/hex"
	"strings"
)

// CBOR metadata marker (Solidity >=0.6.0): "ipfs" in CBOR
var metadataMarker = []byte{0xa2, 0x64, 0x69, 0x70, 0x66, 0x73}

// MatchType describes how closely on-chain code matches an artifact.
type MatchType string

const (
	MatchFull    MatchType = "full"
	MatchPartial MatchType = "partial"
	MatchNone    MatchType = "none"
)

// CodeMatch is the outcome of comparing deployed code to an artifact.
type CodeMatch struct {
	Match   bool      `json:"match"`
	Type    MatchType `json:"type"`
	Message string    `json:"message"`
}

// StripMetadata removes the CBOR metadata appended to runtime bytecode.
func StripMetadata(code []byte) []byte {
	idx := bytes.LastIndex(code, metadataMarker)
	if idx < 0 {
		return code
	}
	// the CBOR map starts at the marker; its two length bytes trail it
	return code[:idx]
}

// CompareCode compares code read from the chain with an artifact's
// deployedBytecode, given as hex with or without 0x.
func CompareCode(onChain []byte, deployedHex string) CodeMatch {
	expected, err := hex.DecodeString(strings.TrimPrefix(deployedHex, "0x"))
	if err != nil {
		return CodeMatch{Type: MatchNone, Message: "Artifact bytecode is not valid hex"}
	}
	if len(onChain) == 0 {
		return CodeMatch{Type: MatchNone, Message: "No code at contract address"}
	}

	if bytes.Equal(onChain, expected) {
		return CodeMatch{Match: true, Type: MatchFull, Message: "Deployed code matches exactly including metadata"}
	}

	if bytes.Equal(StripMetadata(onChain), StripMetadata(expected)) {
		return CodeMatch{Match: true, Type: MatchPartial, Message: "Executable code matches, metadata differs"}
	}

	// Immutables are written into runtime code at construction, so a length
	// match is still reported as a mismatch but with a softer message.
	if len(onChain) == len(expected) {
		return CodeMatch{Type: MatchNone, Message: "Deployed code differs from artifact (immutable values or linked libraries)"}
	}
	return CodeMatch{Type: MatchNone, Message: "Deployed code does not match artifact"}
}
