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

// Domain-specific hash types
type (
	DatasetHash Hash
	ConfigHash  Hash
)

func (h DatasetHash) String() string { return Hash(h).String() }
func (h ConfigHash) String() string  { return Hash(h).String() }

// ComputeDatasetHash fingerprints the logical content of a dataset: its
// declared levels plus every encoded row in order. Row order matters - two
// datasets with the same rows in a different order resample differently
// under the same seed.
func ComputeDatasetHash(levels []string, rows []string) DatasetHash {
	var data strings.Builder
	for _, l := range levels {
		data.WriteString(l)
		data.WriteByte('|')
	}
	data.WriteByte('\n')
	for _, r := range rows {
		data.WriteString(r)
		data.WriteByte('\n')
	}
	return DatasetHash(NewHash([]byte(data.String())))
}

// ComputeConfigHash fingerprints a configuration map deterministically.
func ComputeConfigHash(fields map[string]interface{}) ConfigHash {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteString(fmt.Sprintf("%v", fields[key]))
	}

	return ConfigHash(NewHash([]byte(data.String())))
}
