// Package crypto implements CoreVPN's cryptographic primitives: the AEAD
// data-channel cipher, X25519/Ed25519 key material, HKDF key derivation,
// the OpenVPN PRF, the tls-auth/tls-crypt control-channel wrappers, the
// static-key file format, and the X.509 PKI used to issue server and
// client certificates.
package crypto

import "errors"

// CipherSuite names an AEAD construction usable for the data channel.
type CipherSuite int

const (
	ChaCha20Poly1305 CipherSuite = iota
	AES256GCM
)

func (c CipherSuite) String() string {
	switch c {
	case ChaCha20Poly1305:
		return "chacha20-poly1305"
	case AES256GCM:
		return "aes-256-gcm"
	default:
		return "unknown"
	}
}

const (
	KeySize   = 32 // all data-channel and HMAC keys are 256-bit
	NonceSize = 12 // AEAD nonce, 96-bit
	TagSize   = 16 // AEAD tag, 128-bit
)

var (
	// ErrDecryptionFailed is returned for any AEAD failure: bad tag, bad
	// aad, or malformed ciphertext. The three are not distinguished.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")

	ErrInvalidKeySize   = errors.New("crypto: invalid key size")
	ErrInvalidNonceSize = errors.New("crypto: invalid nonce size")
	ErrUnknownCipher    = errors.New("crypto: unknown cipher suite")

	ErrInvalidSignature = errors.New("crypto: invalid signature")

	// ErrHMACVerificationFailed covers tls-auth and tls-crypt HMAC mismatch.
	ErrHMACVerificationFailed = errors.New("crypto: hmac verification failed")

	ErrPacketTooShort = errors.New("crypto: packet too short")
)

// Key is 32 bytes of key material. Zero wipes it in place.
type Key [KeySize]byte

func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Bytes returns a slice view over the key. Callers must not retain it
// past the key's lifetime.
func (k *Key) Bytes() []byte { return k[:] }

// ZeroBytes overwrites b with zeros. Used for clearing intermediate
// buffers (HKDF pseudorandom key, PRF accumulator) that aren't typed
// as Key.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
