package signing

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/pinmesh/pinmesh/hash"
)

var (
	// ErrBadSignature is returned when a signature fails to parse or verify.
	ErrBadSignature = errors.New("signature verification failed")
	// ErrBadDigest is returned when the message digest has the wrong size.
	ErrBadDigest = errors.New("digest must be 32 bytes")
)

// SchnorrSigner signs 32-byte digests with a secp256k1 secret key.
// Zero must be called when the signer is no longer needed.
type SchnorrSigner struct {
	priv *btcec.PrivateKey
	pub  []byte
}

// NewSchnorrSigner creates a signer from 32 secret key bytes. The caller
// retains ownership of secret and may zeroize it after the call returns.
func NewSchnorrSigner(secret []byte) (*SchnorrSigner, error) {
	if len(secret) != KeyLength {
		return nil, fmt.Errorf("%w: %d", ErrKeyLength, len(secret))
	}
	priv, pub := btcec.PrivKeyFromBytes(secret)
	return &SchnorrSigner{
		priv: priv,
		pub:  schnorr.SerializePubKey(pub),
	}, nil
}

// PublicKey returns the 32-byte x-only public key.
func (s *SchnorrSigner) PublicKey() []byte {
	return s.pub
}

// Sign produces a 64-byte schnorr signature over a 32-byte digest.
func (s *SchnorrSigner) Sign(digest []byte) ([]byte, error) {
	if len(digest) != hash.Size {
		return nil, ErrBadDigest
	}
	sig, err := schnorr.Sign(s.priv, digest)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// Zero overwrites the in-memory secret key material.
func (s *SchnorrSigner) Zero() {
	if s.priv != nil {
		s.priv.Zero()
		s.priv = nil
	}
}

// Verify checks a 64-byte schnorr signature over a 32-byte digest against a
// 32-byte x-only public key.
func Verify(pub, digest, sig []byte) error {
	if len(digest) != hash.Size {
		return ErrBadDigest
	}
	pk, err := schnorr.ParsePubKey(pub)
	if err != nil {
		return fmt.Errorf("%w: parse public key: %w", ErrBadSignature, err)
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: parse signature: %w", ErrBadSignature, err)
	}
	if !parsed.Verify(digest, pk) {
		return ErrBadSignature
	}
	return nil
}
