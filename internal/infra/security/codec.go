package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Afshari9978/avishan/internal/core/domain"
)

// TokenPayload is the decoded body of a session token. The token is opaque to
// the client; only the runtime reads these fields.
type TokenPayload struct {
	MethodKind string // at_n: authentication-method type name
	MethodID   int64  // at_id: method row id
	CreatedAt  int64  // crt: issued-at, unix seconds
	ExpiresAt  int64  // exp: expiry, unix seconds
	LoginAt    int64  // lgn: the bound login timestamp, unix seconds
}

type tokenClaims struct {
	MethodKind string `json:"at_n"`
	MethodID   int64  `json:"at_id"`
	CreatedAt  int64  `json:"crt"`
	LoginAt    int64  `json:"lgn"`
	jwt.RegisteredClaims
}

// TokenCodec mints, verifies, and rebinds HMAC-signed session tokens.
type TokenCodec struct {
	key []byte
	now func() time.Time
}

// NewTokenCodec builds a codec over the configured symmetric key.
func NewTokenCodec(key string) (*TokenCodec, error) {
	if key == "" {
		return nil, fmt.Errorf("token codec: signing key is required")
	}
	return &TokenCodec{key: []byte(key), now: time.Now}, nil
}

// WithClock overrides the internal clock, used in tests.
func (c *TokenCodec) WithClock(clock func() time.Time) *TokenCodec {
	if clock != nil {
		c.now = clock
	}
	return c
}

// Mint issues a token bound to the given method and login moment, expiring
// after ttl (the group's token_valid_seconds).
func (c *TokenCodec) Mint(kind domain.MethodKind, methodID int64, loginAt time.Time, ttl time.Duration) (string, error) {
	now := c.now().UTC()
	claims := tokenClaims{
		MethodKind: string(kind),
		MethodID:   methodID,
		CreatedAt:  now.Unix(),
		LoginAt:    loginAt.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// Verify checks signature and expiry and returns the decoded payload.
// Failures map onto the auth taxonomy: expiry to TOKEN_EXPIRED, a broken
// signature to TOKEN_ERROR, anything unparsable to INCORRECT_TOKEN.
func (c *TokenCodec) Verify(token string) (*TokenPayload, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.key, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, domain.NewAuthError(domain.AuthTokenExpired)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, domain.NewAuthError(domain.AuthTokenError)
		default:
			return nil, domain.NewAuthError(domain.AuthIncorrectToken)
		}
	}

	if parsed == nil || !parsed.Valid || claims.MethodID == 0 {
		return nil, domain.NewAuthError(domain.AuthIncorrectToken)
	}

	payload := &TokenPayload{
		MethodKind: claims.MethodKind,
		MethodID:   claims.MethodID,
		CreatedAt:  claims.CreatedAt,
		LoginAt:    claims.LoginAt,
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Unix()
	}

	return payload, nil
}

// Rebind re-issues a token with fresh crt/exp but the same lgn, implementing
// the rolling session.
func (c *TokenCodec) Rebind(p *TokenPayload, ttl time.Duration) (string, error) {
	if p == nil {
		return "", fmt.Errorf("rebind: payload is required")
	}
	return c.Mint(domain.MethodKind(p.MethodKind), p.MethodID, time.Unix(p.LoginAt, 0), ttl)
}
