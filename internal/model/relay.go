// Package model holds the chain-facing data types shared across the pipeline.
package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash is a 32-byte block or candidate digest.
type Hash [32]byte

// HashFromHex parses a hex string (with or without 0x prefix) into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash %q: %w", s, err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("hash %q has %d bytes, want %d", s, len(raw), len(h))
	}
	copy(h[:], raw)
	return h, nil
}

// Hex returns the 0x-prefixed hex representation.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String returns a shortened form for logs.
func (h Hash) String() string {
	full := hex.EncodeToString(h[:])
	return "0x" + full[:8] + "…"
}

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// AccountID is a 32-byte validator account identifier.
type AccountID [32]byte

// Hex returns the 0x-prefixed hex representation.
func (a AccountID) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ParaID identifies a parachain on the relay chain.
type ParaID uint32

// ValidatorIndex is a position in the active validator set.
type ValidatorIndex uint32

// BlockRef identifies a relay chain block inside the fork forest.
type BlockRef struct {
	Height     uint64
	Hash       Hash
	ParentHash Hash
}
