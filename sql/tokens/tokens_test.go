package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/sql"
)

func TestLoginTokenRoundTrip(t *testing.T) {
	db := sql.InMemory()
	defer db.Close()

	_, err := GetLoginToken(db)
	require.ErrorIs(t, err, sql.ErrNotFound)

	token := &types.LoginToken{
		V:         types.LoginTokenVersion,
		PublicKey: "ab",
		Timestamp: 123,
		Signature: "cd",
	}
	require.NoError(t, AddLoginToken(db, token))

	got, err := GetLoginToken(db)
	require.NoError(t, err)
	require.Equal(t, token, got)

	// overwrite
	token.Timestamp = 456
	require.NoError(t, AddLoginToken(db, token))
	got, err = GetLoginToken(db)
	require.NoError(t, err)
	require.EqualValues(t, 456, got.Timestamp)

	require.NoError(t, ClearLoginToken(db))
	_, err = GetLoginToken(db)
	require.ErrorIs(t, err, sql.ErrNotFound)
}

func TestSignedMessage(t *testing.T) {
	token := &types.LoginToken{PublicKey: "abcd", Timestamp: 1700000000000}
	require.Equal(t, []byte("abcd1700000000000"), token.SignedMessage())
}
