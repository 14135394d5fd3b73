package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NewAEAD constructs the cipher.AEAD for the given suite and key. Grounded
// on core/session/session.go's use of chacha20poly1305.New for the
// control-channel AEAD; AES-256-GCM is added via the stdlib to cover the
// second suite spec.md §4.1 names.
func NewAEAD(suite CipherSuite, key *Key) (cipher.AEAD, error) {
	switch suite {
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key.Bytes())
	case AES256GCM:
		block, err := aes.NewCipher(key.Bytes())
		if err != nil {
			return nil, fmt.Errorf("crypto: aes cipher: %w", err)
		}
		return cipher.NewGCM(block)
	default:
		return nil, ErrUnknownCipher
	}
}

// Encrypt seals plaintext under key/nonce/aad, returning ciphertext‖tag.
func Encrypt(suite CipherSuite, key *Key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceSize
	}
	aead, err := NewAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Decrypt opens ciphertext‖tag under key/nonce/aad. Every failure mode
// (bad tag, bad aad, malformed input) collapses to ErrDecryptionFailed
// per spec.md §4.1's unified-error contract.
func Decrypt(suite CipherSuite, key *Key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrDecryptionFailed
	}
	aead, err := NewAEAD(suite, key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
