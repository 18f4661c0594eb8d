package types

import (
	"encoding/hex"
	"fmt"

	"github.com/pinmesh/pinmesh/hash"
)

// Hash32Length is the expected length of the hash in bytes.
const Hash32Length = hash.Size

// Hash32 represents the 32-byte sha256 hash of arbitrary data.
type Hash32 [Hash32Length]byte

// EmptyHash32 is the zero value of Hash32.
var EmptyHash32 = Hash32{}

// Bytes gets the byte representation of the underlying hash.
func (h Hash32) Bytes() []byte { return h[:] }

// Hex converts a hash to a lowercase hex string. This is the wire and
// at-rest representation of record and merkle hashes.
func (h Hash32) Hex() string { return hex.EncodeToString(h[:]) }

// String implements the stringer interface.
func (h Hash32) String() string { return h.Hex() }

// ShortString returns the first 5 characters of the hash, for logging purposes.
func (h Hash32) ShortString() string {
	return h.Hex()[:5]
}

// MarshalText returns the hex representation of h.
func (h Hash32) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText parses a hash in plain lowercase hex syntax.
func (h *Hash32) UnmarshalText(input []byte) error {
	if len(input) != Hash32Length*2 {
		return fmt.Errorf("%w: hash length %d", ErrBadHex, len(input))
	}
	if _, err := hex.Decode(h[:], input); err != nil {
		return fmt.Errorf("%w: %w", ErrBadHex, err)
	}
	return nil
}

// HexToHash32 sets byte representation of s to Hash32.
func HexToHash32(s string) (Hash32, error) {
	var h Hash32
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return EmptyHash32, err
	}
	return h, nil
}

// CalcHash32 returns the 32-byte sha256 sum of the given data.
func CalcHash32(data []byte) Hash32 {
	return Hash32(hash.Sum(data))
}
