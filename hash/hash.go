// Package hash provides the SHA-256 primitives used for record integrity
// hashes and merkle node hashes.
package hash

import (
	"encoding/hex"

	"github.com/minio/sha256-simd"
)

const (
	// Size is an alias to sha256.Size (32 bytes).
	Size = sha256.Size
)

var (
	// New is an alias to sha256.New.
	New = sha256.New
	// Sum is an alias to sha256.Sum256.
	Sum = sha256.Sum256
)

// SumHex returns the lowercase hex encoding of the SHA-256 digest of b.
func SumHex(b []byte) string {
	sum := Sum(b)
	return hex.EncodeToString(sum[:])
}
