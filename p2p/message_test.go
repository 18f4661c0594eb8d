package p2p

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/merkle"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	id := types.RandomRecordID()
	payloads := []any{
		&RootHash{MerkleRoot: types.CalcHash32([]byte("root"))},
		&RequestSubtree{Path: "left.right", Depth: 1},
		&SubtreeHashes{Items: []merkle.Summary{{
			Path:        "left",
			Hash:        types.CalcHash32([]byte("h")),
			UUIDs:       []types.RecordID{id},
			HasChildren: true,
		}}},
		&RequestRecords{UUIDs: []types.RecordID{id}},
		&Records{Records: map[types.RecordID]*types.Record{
			id: {UUID: id, Bucket: "default"},
		}},
	}
	for _, payload := range payloads {
		env, err := NewEnvelope(payload)
		require.NoError(t, err)

		// through the wire
		data, err := json.Marshal(env)
		require.NoError(t, err)
		var decoded Envelope
		require.NoError(t, json.Unmarshal(data, &decoded))

		got, err := decoded.Decode()
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
}

func TestEnvelopeUnknownKind(t *testing.T) {
	_, err := NewEnvelope(struct{}{})
	require.ErrorIs(t, err, ErrUnknownKind)

	env := &Envelope{Kind: "bogus", Payload: []byte("{}")}
	_, err = env.Decode()
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestEnvelopeMalformedPayload(t *testing.T) {
	env := &Envelope{Kind: KindRootHash, Payload: []byte(`{"merkle_root":"zz"}`)}
	_, err := env.Decode()
	require.ErrorIs(t, err, ErrMalformedPayload)

	env = &Envelope{Kind: KindRequestSubtree, Payload: []byte(`[1,2]`)}
	_, err = env.Decode()
	require.ErrorIs(t, err, ErrMalformedPayload)
}
