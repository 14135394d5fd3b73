package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"filippo.io/edwards25519"
)

// X25519KeyPair wraps an ECDH key pair on Curve25519. Grounded on
// crypto/keys/x25519.go's X25519KeyPair, dropping the HPKE and
// ECIES-style encrypt/decrypt helpers that file carried: this core
// never performs a standalone public-key encryption, only the
// Diffie-Hellman exchange TLS's own key schedule (or, for tls-crypt
// key derivation, a one-shot conversion below) needs.
type X25519KeyPair struct {
	private *ecdh.PrivateKey
	used    bool // true once DiffieHellman has consumed an ephemeral key
}

// GenerateX25519KeyPair creates a fresh static or ephemeral key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate x25519 key: %w", err)
	}
	return &X25519KeyPair{private: priv}, nil
}

// X25519KeyPairFromSeed rebuilds a static key pair from a 32-byte seed.
func X25519KeyPairFromSeed(seed []byte) (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().NewPrivateKey(seed)
	if err != nil {
		return nil, fmt.Errorf("crypto: x25519 key from seed: %w", err)
	}
	return &X25519KeyPair{private: priv}, nil
}

func (k *X25519KeyPair) PublicKeyBytes() []byte { return k.private.PublicKey().Bytes() }

// DiffieHellman returns the SHA-256 hash of the raw X25519 shared secret
// with a peer's public key.
// On an ephemeral pair, per spec.md §4.1 ("an ephemeral pair is
// single-shot: diffie_hellman consumes the secret"), this may only be
// called once; a second call returns an error rather than silently
// reusing key material.
func (k *X25519KeyPair) DiffieHellman(ephemeral bool, peerPublic []byte) ([]byte, error) {
	if ephemeral {
		if k.used {
			return nil, fmt.Errorf("crypto: ephemeral x25519 key already consumed")
		}
		k.used = true
	}

	peerKey, err := ecdh.X25519().NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid peer x25519 public key: %w", err)
	}

	raw, err := k.private.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: x25519 ecdh: %w", err)
	}

	// Reject degenerate (low-order / identity) shared points in constant
	// time, matching crypto/keys/x25519.go's sharedSecret guard.
	zero := make([]byte, len(raw))
	if subtle.ConstantTimeCompare(raw, zero) == 1 {
		return nil, fmt.Errorf("crypto: x25519 shared secret is the identity point")
	}

	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// Ed25519PublicKeyToX25519 converts an Ed25519 public key to its
// birationally-equivalent Montgomery form, letting a server's signing
// identity key double as a tls-crypt-wrap key-derivation input.
// Grounded on crypto/keys/x25519.go's EncryptWithEd25519Peer conversion.
func Ed25519PublicKeyToX25519(edPub []byte) ([]byte, error) {
	if len(edPub) != 32 {
		return nil, fmt.Errorf("crypto: invalid ed25519 public key length %d", len(edPub))
	}
	var p edwards25519.Point
	if _, err := p.SetBytes(edPub); err != nil {
		return nil, fmt.Errorf("crypto: invalid ed25519 point: %w", err)
	}
	return p.BytesMontgomery(), nil
}
