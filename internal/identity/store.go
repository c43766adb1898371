package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"sealdrop/internal/model"
)

var (
	// ErrUnauthorized covers both a uid/token mismatch and a session that
	// went stale under the identity's inactivity timeout. Callers must not
	// distinguish the two.
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("identity not found")
	ErrInvalidTimeout = errors.New("invalid logout timeout")
)

// Store is the identity & session record behind every authorization check.
// Authenticate refreshes LastActiveAt on success, so a live client keeps its
// session alive simply by using it.
type Store interface {
	GetOrCreateByEmail(ctx context.Context, email string, nowMillis int64) (model.Identity, bool, error)
	GetByUID(ctx context.Context, uid string) (model.Identity, error)
	GetBySocialNumber(ctx context.Context, socialNumber string) (model.Identity, error)

	// SetSessionToken rotates the single active token for the identity.
	// Overwriting invalidates whatever token was there before.
	SetSessionToken(ctx context.Context, uid, token string, nowMillis int64) error

	Authenticate(ctx context.Context, uid, token string, nowMillis int64) (model.Identity, error)
	TouchActivity(ctx context.Context, uid string, nowMillis int64) error
	SetPublicKey(ctx context.Context, uid string, key []byte, nowMillis int64) error
	SetLogoutTimeout(ctx context.Context, uid string, hours int, nowMillis int64) error
}

// checkSession applies the shared token + inactivity policy. Expiry by
// inactivity is distinct from token rotation: the token string may still
// match and the session is rejected anyway.
func checkSession(id model.Identity, token string, nowMillis int64) error {
	if token == "" || id.SessionToken == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(id.SessionToken), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	if id.LogoutTimeoutHours > 0 {
		limit := time.Duration(id.LogoutTimeoutHours) * time.Hour
		if nowMillis-id.LastActiveAt > limit.Milliseconds() {
			return ErrUnauthorized
		}
	}
	return nil
}

// newSocialNumber draws a random 8-digit human-shareable handle. Uniqueness
// is enforced by the caller against its own index.
func newSocialNumber() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08d", n.Int64()), nil
}
