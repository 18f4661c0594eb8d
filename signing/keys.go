// Package signing implements the schnorr/secp256k1 primitives behind record
// signatures and the login token, and the bech32 encoding of key material.
package signing

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/cosmos/btcutil/bech32"
)

const (
	// NpubHRP is the human-readable part of an encoded x-only public key.
	NpubHRP = "npub"
	// NsecHRP is the human-readable part of an encoded secret key.
	NsecHRP = "nsec"

	// KeyLength is the length of both secret keys and x-only public keys.
	KeyLength = 32
	// SignatureLength is the length of a serialized schnorr signature.
	SignatureLength = 64
)

var (
	// ErrBadBech32 is returned when key material cannot be bech32-decoded.
	ErrBadBech32 = errors.New("malformed bech32 key")
	// ErrWrongPrefix is returned when a key decodes with an unexpected
	// human-readable part.
	ErrWrongPrefix = errors.New("unexpected bech32 prefix")
	// ErrKeyLength is returned when decoded key material has the wrong size.
	ErrKeyLength = errors.New("wrong key length")
	// ErrKeyMismatch is returned when a secret key does not derive the
	// presented public key.
	ErrKeyMismatch = errors.New("public and secret key do not match")
)

func decodeKey(encoded, wantHRP string) ([]byte, error) {
	hrp, data5, err := bech32.DecodeNoLimit(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBech32, err)
	}
	if hrp != wantHRP {
		return nil, fmt.Errorf("%w: have %q, want %q", ErrWrongPrefix, hrp, wantHRP)
	}
	key, err := bech32.ConvertBits(data5, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadBech32, err)
	}
	if len(key) != KeyLength {
		return nil, fmt.Errorf("%w: %d", ErrKeyLength, len(key))
	}
	return key, nil
}

func encodeKey(key []byte, hrp string) (string, error) {
	if len(key) != KeyLength {
		return "", fmt.Errorf("%w: %d", ErrKeyLength, len(key))
	}
	data5, err := bech32.ConvertBits(key, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	return bech32.Encode(hrp, data5)
}

// DecodeNpub decodes a bech32 npub string into 32 x-only public key bytes.
func DecodeNpub(npub string) ([]byte, error) {
	return decodeKey(npub, NpubHRP)
}

// DecodeNsec decodes a bech32 nsec string into 32 secret key bytes.
func DecodeNsec(nsec string) ([]byte, error) {
	return decodeKey(nsec, NsecHRP)
}

// EncodeNpub encodes 32 x-only public key bytes as a bech32 npub string.
func EncodeNpub(pub []byte) (string, error) {
	return encodeKey(pub, NpubHRP)
}

// EncodeNsec encodes 32 secret key bytes as a bech32 nsec string.
func EncodeNsec(secret []byte) (string, error) {
	return encodeKey(secret, NsecHRP)
}

// PublicFromSecret derives the x-only public key for a 32-byte secret key.
func PublicFromSecret(secret []byte) ([]byte, error) {
	if len(secret) != KeyLength {
		return nil, fmt.Errorf("%w: %d", ErrKeyLength, len(secret))
	}
	priv, _ := btcec.PrivKeyFromBytes(secret)
	defer priv.Zero()
	return schnorr.SerializePubKey(priv.PubKey()), nil
}

// MatchKeyPair verifies in constant time that secret derives the x-only
// public key pub.
func MatchKeyPair(pub, secret []byte) error {
	derived, err := PublicFromSecret(secret)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(derived, pub) != 1 {
		return ErrKeyMismatch
	}
	return nil
}
