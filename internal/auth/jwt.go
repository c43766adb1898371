package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid covers every verification failure: bad signature, wrong
// issuer, expired, malformed.
var ErrTokenInvalid = errors.New("invalid session token")

// Claims is the JWT half of a session credential. The other half is the
// token string itself, which the identity store keeps and compares on every
// request: rotating it invalidates older JWTs long before they expire.
type Claims struct {
	UID string `json:"sub"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret: secret,
		Expiry: 7 * 24 * time.Hour,
		Issuer: "sealdrop",
	}
}

// CreateToken mints a fresh HS256 session token for the uid. Each token gets
// a random jti so two logins in the same second still produce distinct
// tokens, keeping the identity store's single-active-token comparison exact.
func CreateToken(uid string, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if uid == "" {
		return "", errors.New("missing uid")
	}
	if cfg.Expiry <= 0 {
		return "", errors.New("invalid expiry")
	}

	jti, err := newTokenID()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		UID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiry)),
			ID:        jti,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// VerifyToken checks signature, expiry and issuer. A passing token is only
// half a session; callers still match it against the identity's stored
// sessionToken.
func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.UID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func newTokenID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
