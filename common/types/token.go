package types

import (
	"strconv"
)

// LoginTokenVersion is the only supported token format version.
const LoginTokenVersion = 1

// LoginToken is the persisted proof of a successful key import. It is valid
// while the signature over SignedMessage verifies and the timestamp is
// within the configured validity window.
type LoginToken struct {
	V         int    `json:"v"`
	PublicKey string `json:"publicKey"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// SignedMessage returns the bytes the token signature covers: the
// concatenation of the hex public key and the decimal timestamp.
func (t *LoginToken) SignedMessage() []byte {
	return []byte(t.PublicKey + strconv.FormatInt(t.Timestamp, 10))
}
