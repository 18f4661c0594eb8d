// Package session implements the key manager: credential import, the
// signature-backed login token and its timed invalidation.
package session

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/pinmesh/pinmesh/common/types"
	"github.com/pinmesh/pinmesh/hash"
	"github.com/pinmesh/pinmesh/signing"
	"github.com/pinmesh/pinmesh/sql"
	"github.com/pinmesh/pinmesh/sql/tokens"
)

// DefaultTokenValidity is how long an issued login token is honored.
const DefaultTokenValidity = 24 * time.Hour

// ErrNoSession is returned by Load when no valid session exists: the token
// is absent, expired, of an unknown version, or fails verification.
var ErrNoSession = errors.New("no active session")

// Session is a restored login.
type Session struct {
	PublicKey string
	CreatedAt time.Time
}

// Manager imports credentials and restores sessions from the stored token.
type Manager struct {
	logger   *zap.Logger
	clock    clockwork.Clock
	db       *sql.Database
	validity time.Duration
}

// New creates a manager. A non-positive validity falls back to the default.
func New(logger *zap.Logger, clock clockwork.Clock, db *sql.Database, validity time.Duration) *Manager {
	if validity <= 0 {
		validity = DefaultTokenValidity
	}
	return &Manager{
		logger:   logger,
		clock:    clock,
		db:       db,
		validity: validity,
	}
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Import decodes the key pair, checks that the secret derives the public
// key, signs a fresh login token and persists it. Distinct errors surface
// for bech32 decoding failures and for key mismatch.
func (m *Manager) Import(npub, nsec string) (*Session, error) {
	pub, err := signing.DecodeNpub(npub)
	if err != nil {
		return nil, fmt.Errorf("decode npub: %w", err)
	}
	secret, err := signing.DecodeNsec(nsec)
	if err != nil {
		return nil, fmt.Errorf("decode nsec: %w", err)
	}
	defer zeroize(secret)

	if err := signing.MatchKeyPair(pub, secret); err != nil {
		return nil, err
	}
	signer, err := signing.NewSchnorrSigner(secret)
	if err != nil {
		return nil, err
	}
	defer signer.Zero()

	now := m.clock.Now()
	token := &types.LoginToken{
		V:         types.LoginTokenVersion,
		PublicKey: hex.EncodeToString(pub),
		Timestamp: now.UnixMilli(),
	}
	digest := hash.Sum(token.SignedMessage())
	sig, err := signer.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	token.Signature = hex.EncodeToString(sig)

	if err := tokens.AddLoginToken(m.db, token); err != nil {
		return nil, err
	}
	m.logger.Info("session created", zap.String("public_key", token.PublicKey))
	return &Session{PublicKey: token.PublicKey, CreatedAt: now}, nil
}

// Load restores the session from the stored token. Any failed check makes
// the token count as absent.
func (m *Manager) Load() (*Session, error) {
	token, err := tokens.GetLoginToken(m.db)
	if err != nil {
		if errors.Is(err, sql.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	if token.V != types.LoginTokenVersion {
		return nil, ErrNoSession
	}
	issued := time.UnixMilli(token.Timestamp)
	if m.clock.Now().UnixMilli()-token.Timestamp > m.validity.Milliseconds() {
		m.logger.Debug("login token expired", zap.Time("issued", issued))
		return nil, ErrNoSession
	}
	pub, err := hex.DecodeString(token.PublicKey)
	if err != nil {
		return nil, ErrNoSession
	}
	sig, err := hex.DecodeString(token.Signature)
	if err != nil {
		return nil, ErrNoSession
	}
	digest := hash.Sum(token.SignedMessage())
	if err := signing.Verify(pub, digest[:], sig); err != nil {
		m.logger.Warn("login token failed verification", zap.Error(err))
		return nil, ErrNoSession
	}
	return &Session{PublicKey: token.PublicKey, CreatedAt: issued}, nil
}

// Logout deletes the stored token. It succeeds even when no token exists.
func (m *Manager) Logout() error {
	return tokens.ClearLoginToken(m.db)
}
