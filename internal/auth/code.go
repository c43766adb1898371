package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	ErrCodeInvalid = errors.New("invalid or expired code")
)

// CodeIssuer hands out one-time numeric login codes for the passwordless
// flow. Codes are single-use and expire after TTL; verification is
// constant-time on the code value.
type CodeIssuer struct {
	mu    sync.Mutex
	codes map[string]issuedCode
	ttl   time.Duration
	now   func() time.Time
}

type issuedCode struct {
	code      string
	expiresAt time.Time
}

func NewCodeIssuer(ttl time.Duration) *CodeIssuer {
	return NewCodeIssuerWithNow(ttl, time.Now)
}

func NewCodeIssuerWithNow(ttl time.Duration, now func() time.Time) *CodeIssuer {
	return &CodeIssuer{
		codes: make(map[string]issuedCode),
		ttl:   ttl,
		now:   now,
	}
}

// Issue generates a fresh 6-digit code for the address, replacing any
// outstanding one.
func (c *CodeIssuer) Issue(email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", errors.New("missing email")
	}

	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%06d", n.Int64())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[email] = issuedCode{code: code, expiresAt: c.now().Add(c.ttl)}
	return code, nil
}

// Verify consumes the outstanding code for the address. A wrong code does
// not consume the issued one; a correct or expired one always does.
func (c *CodeIssuer) Verify(email, code string) error {
	email = normalizeEmail(email)

	c.mu.Lock()
	defer c.mu.Unlock()

	issued, ok := c.codes[email]
	if !ok {
		return ErrCodeInvalid
	}
	if c.now().After(issued.expiresAt) {
		delete(c.codes, email)
		return ErrCodeInvalid
	}
	if subtle.ConstantTimeCompare([]byte(issued.code), []byte(code)) != 1 {
		return ErrCodeInvalid
	}
	delete(c.codes, email)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
