// Package sealedbox wraps NaCl box: authenticated public-key encryption
// between a sender and recipient key pair. The server never calls into this
// package; it stores and forwards the ciphertext unopened.
package sealedbox

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/box"
)

const (
	KeySize   = 32
	NonceSize = 24
)

// ErrDecryptionFailure means the ciphertext did not authenticate against the
// given keys. Clients surface this as an unreadable-message placeholder, not
// a crash.
var ErrDecryptionFailure = errors.New("sealed box authentication failed")

var ErrBadKeySize = errors.New("key must be 32 bytes")

// GenerateKeyPair returns (public, private).
func GenerateKeyPair() ([]byte, []byte, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub[:], priv[:], nil
}

// Encrypt seals plaintext for the recipient. Returns the ciphertext and the
// random nonce used; the caller sends both plus its own public key.
func Encrypt(plaintext, recipientPublicKey, senderPrivateKey []byte) (ciphertext, nonce []byte, err error) {
	pub, err := toKey(recipientPublicKey)
	if err != nil {
		return nil, nil, err
	}
	priv, err := toKey(senderPrivateKey)
	if err != nil {
		return nil, nil, err
	}

	var n [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return nil, nil, err
	}

	sealed := box.Seal(nil, plaintext, &n, pub, priv)
	return sealed, n[:], nil
}

// Decrypt opens a sealed message from the sender.
func Decrypt(ciphertext, nonce, senderPublicKey, recipientPrivateKey []byte) ([]byte, error) {
	pub, err := toKey(senderPublicKey)
	if err != nil {
		return nil, err
	}
	priv, err := toKey(recipientPrivateKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrDecryptionFailure
	}

	var n [NonceSize]byte
	copy(n[:], nonce)

	opened, ok := box.Open(nil, ciphertext, &n, pub, priv)
	if !ok {
		return nil, ErrDecryptionFailure
	}
	return opened, nil
}

func toKey(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, ErrBadKeySize
	}
	var k [KeySize]byte
	copy(k[:], b)
	return &k, nil
}
