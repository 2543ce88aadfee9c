package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Fingerprint is the reproducibility hash of a pipeline run
type Fingerprint Hash

func (f Fingerprint) String() string { return Hash(f).String() }

// ComputeFingerprint hashes the run inputs that determine its outputs:
// matrix shape, seed, and the full configuration map. Map keys are sorted
// so the fingerprint is stable across Go map iteration order.
func ComputeFingerprint(cells, genes int, seed int64, config map[string]interface{}) Fingerprint {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	fmt.Fprintf(&data, "cells=%d;genes=%d;seed=%d;", cells, genes, seed)
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString(fmt.Sprintf("=%v;", config[key]))
	}

	return Fingerprint(NewHash([]byte(data.String())))
}
