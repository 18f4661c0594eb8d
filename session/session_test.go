package session

import (
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pinmesh/pinmesh/signing"
	"github.com/pinmesh/pinmesh/sql"
	"github.com/pinmesh/pinmesh/sql/tokens"
)

func testKeyPair(t *testing.T) (npub, nsec string) {
	t.Helper()
	secret := make([]byte, signing.KeyLength)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	pub, err := signing.PublicFromSecret(secret)
	require.NoError(t, err)
	npub, err = signing.EncodeNpub(pub)
	require.NoError(t, err)
	nsec, err = signing.EncodeNsec(secret)
	require.NoError(t, err)
	return npub, nsec
}

func newManager(t *testing.T) (*Manager, clockwork.FakeClock, *sql.Database) {
	t.Helper()
	db := sql.InMemory()
	t.Cleanup(func() { db.Close() })
	clock := clockwork.NewFakeClock()
	return New(zaptest.NewLogger(t), clock, db, DefaultTokenValidity), clock, db
}

func TestImportLoadRoundTrip(t *testing.T) {
	m, clock, _ := newManager(t)
	npub, nsec := testKeyPair(t)

	created, err := m.Import(npub, nsec)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	loaded, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, created.PublicKey, loaded.PublicKey)
}

func TestLoadWithoutToken(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Load()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestTokenExpiry(t *testing.T) {
	m, clock, _ := newManager(t)
	npub, nsec := testKeyPair(t)
	_, err := m.Import(npub, nsec)
	require.NoError(t, err)

	// valid at exactly the validity bound
	clock.Advance(DefaultTokenValidity)
	_, err = m.Load()
	require.NoError(t, err)

	// invalid one millisecond past it
	clock.Advance(time.Millisecond)
	_, err = m.Load()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestTamperedSignature(t *testing.T) {
	m, _, db := newManager(t)
	npub, nsec := testKeyPair(t)
	_, err := m.Import(npub, nsec)
	require.NoError(t, err)

	token, err := tokens.GetLoginToken(db)
	require.NoError(t, err)
	token.Signature = strings.Repeat("ab", 64)
	require.NoError(t, tokens.AddLoginToken(db, token))

	_, err = m.Load()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestTamperedTimestamp(t *testing.T) {
	m, _, db := newManager(t)
	npub, nsec := testKeyPair(t)
	_, err := m.Import(npub, nsec)
	require.NoError(t, err)

	token, err := tokens.GetLoginToken(db)
	require.NoError(t, err)
	token.Timestamp -= 1000
	require.NoError(t, tokens.AddLoginToken(db, token))

	_, err = m.Load()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestImportErrors(t *testing.T) {
	m, _, _ := newManager(t)
	npub, nsec := testKeyPair(t)
	otherNpub, _ := testKeyPair(t)

	_, err := m.Import("garbage", nsec)
	require.ErrorIs(t, err, signing.ErrBadBech32)

	_, err = m.Import(npub, "garbage")
	require.ErrorIs(t, err, signing.ErrBadBech32)

	_, err = m.Import(otherNpub, nsec)
	require.ErrorIs(t, err, signing.ErrKeyMismatch)
}

func TestLogout(t *testing.T) {
	m, _, _ := newManager(t)
	npub, nsec := testKeyPair(t)
	_, err := m.Import(npub, nsec)
	require.NoError(t, err)

	require.NoError(t, m.Logout())
	_, err = m.Load()
	require.ErrorIs(t, err, ErrNoSession)

	// logging out twice is fine
	require.NoError(t, m.Logout())
}