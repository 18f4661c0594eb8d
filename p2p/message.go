package p2p

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/merkle"
)

// MessageKind tags the envelope payload variant.
type MessageKind string

const (
	// KindRootHash announces the sender's current merkle root.
	KindRootHash MessageKind = "rootHash"
	// KindRequestSubtree asks for the summaries at a depth below a path.
	KindRequestSubtree MessageKind = "requestSubtreeHashes"
	// KindSubtreeHashes answers a subtree request.
	KindSubtreeHashes MessageKind = "subtreeHashes"
	// KindRequestRecords asks for full records by id.
	KindRequestRecords MessageKind = "requestRecords"
	// KindRecords answers a record request.
	KindRecords MessageKind = "records"
)

var (
	// ErrUnknownKind is returned for an unrecognized message tag.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrMalformedPayload is returned when a payload does not decode as its
	// tagged variant.
	ErrMalformedPayload = errors.New("malformed payload")
)

// RootHash is the payload of KindRootHash.
type RootHash struct {
	MerkleRoot types.Hash32 `json:"merkle_root"`
}

// RequestSubtree is the payload of KindRequestSubtree.
type RequestSubtree struct {
	Path  string `json:"path"`
	Depth int    `json:"depth"`
}

// SubtreeHashes is the payload of KindSubtreeHashes.
type SubtreeHashes struct {
	Items []merkle.Summary `json:"items"`
}

// RequestRecords is the payload of KindRequestRecords.
type RequestRecords struct {
	UUIDs []types.RecordID `json:"uuids"`
}

// Records is the payload of KindRecords.
type Records struct {
	Records map[types.RecordID]*types.Record `json:"records"`
}

// Envelope frames one protocol message: a kind tag and the raw payload.
type Envelope struct {
	Kind    MessageKind     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a typed payload, deriving the kind tag from its type.
func NewEnvelope(payload any) (*Envelope, error) {
	var kind MessageKind
	switch payload.(type) {
	case *RootHash:
		kind = KindRootHash
	case *RequestSubtree:
		kind = KindRequestSubtree
	case *SubtreeHashes:
		kind = KindSubtreeHashes
	case *RequestRecords:
		kind = KindRequestRecords
	case *Records:
		kind = KindRecords
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, payload)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &Envelope{Kind: kind, Payload: raw}, nil
}

// MustEnvelope is NewEnvelope for payloads that cannot fail to encode.
func MustEnvelope(payload any) *Envelope {
	msg, err := NewEnvelope(payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode returns the typed payload for the envelope's kind. Unknown kinds
// and payloads that do not decode are protocol violations.
func (e *Envelope) Decode() (any, error) {
	var payload any
	switch e.Kind {
	case KindRootHash:
		payload = &RootHash{}
	case KindRequestSubtree:
		payload = &RequestSubtree{}
	case KindSubtreeHashes:
		payload = &SubtreeHashes{}
	case KindRequestRecords:
		payload = &RequestRecords{}
	case KindRecords:
		payload = &Records{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if err := json.Unmarshal(e.Payload, payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, e.Kind, err)
	}
	return payload, nil
}
