// Package types defines the record model shared by the store, the merkle
// tree and the sync protocol.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrBadHex is returned when a hex-encoded field cannot be decoded.
	ErrBadHex = errors.New("malformed hex")
	// ErrBadRecordID is returned when a record identifier is not a valid UUID.
	ErrBadRecordID = errors.New("malformed record id")
)

// RecordID identifies a record. It is an RFC 4122 UUID. Records are ordered
// by the lexicographic order of the canonical string form, which coincides
// with the byte order of the underlying array.
type RecordID uuid.UUID

// EmptyRecordID is the zero value of RecordID.
var EmptyRecordID = RecordID{}

// ParseRecordID parses the canonical UUID string form.
func ParseRecordID(s string) (RecordID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return EmptyRecordID, fmt.Errorf("%w: %w", ErrBadRecordID, err)
	}
	return RecordID(id), nil
}

// RandomRecordID generates a fresh random identifier.
func RandomRecordID() RecordID {
	return RecordID(uuid.New())
}

// String returns the canonical dashed lowercase form.
func (id RecordID) String() string { return uuid.UUID(id).String() }

// Compare orders identifiers by their canonical string form.
func (id RecordID) Compare(other RecordID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id RecordID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *RecordID) UnmarshalText(data []byte) error {
	parsed, err := ParseRecordID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Author carries the record author's x-only public key as lowercase hex.
type Author struct {
	Npub string `json:"npub"`
}

// Content is the user-visible payload of a record.
type Content struct {
	Text string  `json:"text"`
	Link *string `json:"link"`
}

// Geo pins a record to a location.
type Geo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Integrity carries the content hash and the schnorr signature over it.
type Integrity struct {
	Hash      Hash32 `json:"hash"`
	Signature string `json:"signature"`
}

// Record is the signed, hashed unit of synchronized data. Records are
// immutable once admitted; the store keys them by UUID.
type Record struct {
	UUID      RecordID  `json:"uuid"`
	CreatedAt int64     `json:"created_at"`
	Bucket    string    `json:"bucket"`
	Author    Author    `json:"author"`
	Content   Content   `json:"content"`
	Geo       Geo       `json:"geo"`
	Integrity Integrity `json:"integrity"`
}

// canonicalRecord fixes the serialization order for hashing: the record
// without its integrity field, fields in declaration order.
type canonicalRecord struct {
	UUID      RecordID `json:"uuid"`
	CreatedAt int64    `json:"created_at"`
	Bucket    string   `json:"bucket"`
	Author    Author   `json:"author"`
	Content   Content  `json:"content"`
	Geo       Geo      `json:"geo"`
}

// CanonicalBytes serializes the record without the integrity field, in the
// canonical field order. The content hash is the sha256 of these bytes.
func (r *Record) CanonicalBytes() ([]byte, error) {
	return json.Marshal(canonicalRecord{
		UUID:      r.UUID,
		CreatedAt: r.CreatedAt,
		Bucket:    r.Bucket,
		Author:    r.Author,
		Content:   r.Content,
		Geo:       r.Geo,
	})
}

// ComputeHash recomputes the content hash from the canonical serialization.
func (r *Record) ComputeHash() (Hash32, error) {
	data, err := r.CanonicalBytes()
	if err != nil {
		return EmptyHash32, fmt.Errorf("canonical serialization: %w", err)
	}
	return CalcHash32(data), nil
}

// CheckIntegrity verifies that the embedded content hash matches the
// canonical serialization.
func (r *Record) CheckIntegrity() error {
	computed, err := r.ComputeHash()
	if err != nil {
		return err
	}
	if computed != r.Integrity.Hash {
		return fmt.Errorf("record %s: hash mismatch: have %s, computed %s",
			r.UUID, r.Integrity.Hash.ShortString(), computed.ShortString())
	}
	return nil
}
