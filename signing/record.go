package signing

import (
	"encoding/hex"
	"fmt"

	"github.com/pinmesh/pinmesh/common/types"
)

// SignRecord finalizes a record: it stamps the signer's public key as the
// author, computes the integrity hash over the canonical serialization and
// signs it.
func (s *SchnorrSigner) SignRecord(rec *types.Record) error {
	rec.Author.Npub = hex.EncodeToString(s.PublicKey())
	h, err := rec.ComputeHash()
	if err != nil {
		return fmt.Errorf("hash record %s: %w", rec.UUID, err)
	}
	rec.Integrity.Hash = h
	sig, err := s.Sign(h.Bytes())
	if err != nil {
		return fmt.Errorf("sign record %s: %w", rec.UUID, err)
	}
	rec.Integrity.Signature = hex.EncodeToString(sig)
	return nil
}

// VerifyRecord checks the record's signature against its author key and
// integrity hash. It does not recompute the hash; see Record.CheckIntegrity.
func VerifyRecord(rec *types.Record) error {
	pub, err := hex.DecodeString(rec.Author.Npub)
	if err != nil {
		return fmt.Errorf("%w: author key: %w", types.ErrBadHex, err)
	}
	sig, err := hex.DecodeString(rec.Integrity.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature: %w", types.ErrBadHex, err)
	}
	return Verify(pub, rec.Integrity.Hash.Bytes(), sig)
}
