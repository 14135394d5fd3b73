package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

const tlsCryptNonceSize = 12

// minimum valid tls-crypt packet: 32-byte HMAC + 12-byte nonce + 16-byte tag
const tlsCryptMinPacketSize = sha256.Size + tlsCryptNonceSize + TagSize

// TLSCryptWrap produces hmac‖nonce‖ciphertext for plaintext, where the
// HMAC covers nonce‖ciphertext, per spec.md §4.1.
func TLSCryptWrap(cipherKey, hmacKey *Key, plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, tlsCryptNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: tls-crypt nonce: %w", err)
	}

	ciphertext, err := Encrypt(ChaCha20Poly1305, cipherKey, nonce, plaintext, aad)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, hmacKey.Bytes())
	mac.Write(nonce)
	mac.Write(ciphertext)
	sum := mac.Sum(nil)

	out := make([]byte, 0, len(sum)+len(nonce)+len(ciphertext))
	out = append(out, sum...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// TLSCryptUnwrap verifies the HMAC in constant time, then AEAD-decrypts.
func TLSCryptUnwrap(cipherKey, hmacKey *Key, packet, aad []byte) ([]byte, error) {
	if len(packet) < tlsCryptMinPacketSize {
		return nil, ErrPacketTooShort
	}

	gotMAC := packet[:sha256.Size]
	nonce := packet[sha256.Size : sha256.Size+tlsCryptNonceSize]
	ciphertext := packet[sha256.Size+tlsCryptNonceSize:]

	mac := hmac.New(sha256.New, hmacKey.Bytes())
	mac.Write(nonce)
	mac.Write(ciphertext)
	wantMAC := mac.Sum(nil)

	if !hmac.Equal(gotMAC, wantMAC) {
		return nil, ErrHMACVerificationFailed
	}

	return Decrypt(ChaCha20Poly1305, cipherKey, nonce, ciphertext, aad)
}
