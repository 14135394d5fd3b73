package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// PRF implements OpenVPN's P_SHA256(secret, label‖seed) construction:
//
//	A0 = label‖seed
//	Ai = HMAC(secret, A(i-1))
//	P_SHA256 = HMAC(secret, A1‖seed) ‖ HMAC(secret, A2‖seed) ‖ …
//
// truncated to length bytes. No ecosystem library implements this
// OpenVPN-specific construction, so it is built directly on stdlib
// crypto/hmac and crypto/sha256.
func PRF(secret, label, seed []byte, length int) []byte {
	a := make([]byte, 0, len(label)+len(seed))
	a = append(a, label...)
	a = append(a, seed...)

	out := make([]byte, 0, length)
	for len(out) < length {
		mac := hmac.New(sha256.New, secret)
		mac.Write(a)
		next := mac.Sum(nil)
		ZeroBytes(a)
		a = next

		mac2 := hmac.New(sha256.New, secret)
		mac2.Write(a)
		mac2.Write(seed)
		out = append(out, mac2.Sum(nil)...)
	}
	ZeroBytes(a)
	ZeroBytes(out[length:])
	return out[:length]
}
