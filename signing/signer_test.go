package signing

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pinmesh/pinmesh/hash"
)

func randomSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, KeyLength)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

func TestSignVerify(t *testing.T) {
	secret := randomSecret(t)
	signer, err := NewSchnorrSigner(secret)
	require.NoError(t, err)
	defer signer.Zero()

	digest := hash.Sum([]byte("some message"))
	sig, err := signer.Sign(digest[:])
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)

	require.NoError(t, Verify(signer.PublicKey(), digest[:], sig))

	other := hash.Sum([]byte("another message"))
	require.ErrorIs(t, Verify(signer.PublicKey(), other[:], sig), ErrBadSignature)
}

func TestSignRejectsShortDigest(t *testing.T) {
	signer, err := NewSchnorrSigner(randomSecret(t))
	require.NoError(t, err)
	defer signer.Zero()

	_, err = signer.Sign([]byte("short"))
	require.ErrorIs(t, err, ErrBadDigest)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	digest := hash.Sum([]byte("msg"))
	err := Verify(make([]byte, KeyLength), digest[:], make([]byte, SignatureLength))
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestBech32RoundTrip(t *testing.T) {
	secret := randomSecret(t)
	pub, err := PublicFromSecret(secret)
	require.NoError(t, err)

	npub, err := EncodeNpub(pub)
	require.NoError(t, err)
	nsec, err := EncodeNsec(secret)
	require.NoError(t, err)

	gotPub, err := DecodeNpub(npub)
	require.NoError(t, err)
	require.Equal(t, pub, gotPub)

	gotSecret, err := DecodeNsec(nsec)
	require.NoError(t, err)
	require.Equal(t, secret, gotSecret)
}

func TestDecodeErrors(t *testing.T) {
	_, err := DecodeNpub("not bech32 at all")
	require.ErrorIs(t, err, ErrBadBech32)

	secret := randomSecret(t)
	nsec, err := EncodeNsec(secret)
	require.NoError(t, err)
	_, err = DecodeNpub(nsec)
	require.ErrorIs(t, err, ErrWrongPrefix)
}

func TestMatchKeyPair(t *testing.T) {
	secret := randomSecret(t)
	pub, err := PublicFromSecret(secret)
	require.NoError(t, err)
	require.NoError(t, MatchKeyPair(pub, secret))

	other := randomSecret(t)
	require.ErrorIs(t, MatchKeyPair(pub, other), ErrKeyMismatch)
}

func TestSignerMatchesDerivedPublicKey(t *testing.T) {
	secret := randomSecret(t)
	signer, err := NewSchnorrSigner(secret)
	require.NoError(t, err)
	defer signer.Zero()

	pub, err := PublicFromSecret(secret)
	require.NoError(t, err)
	require.Equal(t, pub, signer.PublicKey())
}
