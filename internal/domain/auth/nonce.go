package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// NonceAction is the action every filter request nonce is bound to.
	NonceAction = "pgfe_ajax_nonce"

	nonceIssuer = "pgfe-filter"
)

// ErrInvalidNonce is returned for missing, expired, forged or mismatched
// nonces.
var ErrInvalidNonce = errors.New("invalid nonce")

// NonceClaims are the claims of an anti-forgery token.
type NonceClaims struct {
	Action string `json:"act"`
	jwt.RegisteredClaims
}

// NonceManager issues and verifies anti-forgery tokens. A token is bound to
// an action and a caller identity.
type NonceManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NonceOption configures a NonceManager.
type NonceOption func(*NonceManager)

// WithNonceClock overrides the clock used to issue and check tokens.
func WithNonceClock(now func() time.Time) NonceOption {
	return func(m *NonceManager) { m.now = now }
}

// NewNonceManager creates a NonceManager signing with secret. Tokens are
// valid for ttl.
func NewNonceManager(secret []byte, ttl time.Duration, opts ...NonceOption) *NonceManager {
	m := &NonceManager{secret: secret, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TTL returns how long issued tokens stay valid.
func (m *NonceManager) TTL() time.Duration { return m.ttl }

// Issue returns a signed token for action and identity.
func (m *NonceManager) Issue(action, identity string) (string, error) {
	now := m.now().UTC()
	claims := &NonceClaims{
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    nonceIssuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign nonce")
	}
	return signed, nil
}

// Verify checks that token was issued by this manager for action and
// identity and has not expired. Every failure is reported as
// ErrInvalidNonce.
func (m *NonceManager) Verify(token, action, identity string) error {
	if token == "" {
		return ErrInvalidNonce
	}
	var claims NonceClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(nonceIssuer),
		jwt.WithSubject(identity),
	)
	if err != nil || !parsed.Valid {
		return errors.Wrap(ErrInvalidNonce, "verify")
	}
	if claims.Action != action {
		return errors.Wrap(ErrInvalidNonce, "action mismatch")
	}
	return nil
}
