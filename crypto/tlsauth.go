package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// TLSAuthKeys holds the TX/RX HMAC key pair selected from a static-key
// file per the role×direction matrix in spec.md §6.4.
type TLSAuthKeys struct {
	TX Key
	RX Key
}

// Role is which side of the connection this process is.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Direction selects which half of the static key this endpoint uses;
// DirectionUnset matches the "0 or none" / "1 or none" rows.
type Direction int

const (
	DirectionUnset Direction = iota
	Direction0
	Direction1
)

// SelectTLSAuthKeys applies spec.md §6.4's table to a parsed StaticKey,
// returning the TX/RX HMAC key pair for this role and direction.
func SelectTLSAuthKeys(sk *StaticKey, role Role, dir Direction) (*TLSAuthKeys, error) {
	a := sk.Quadrants[0].HMACHalf
	b := sk.Quadrants[1].HMACHalf

	switch {
	case role == RoleServer && (dir == DirectionUnset || dir == Direction0):
		return &TLSAuthKeys{TX: b, RX: a}, nil
	case role == RoleServer && dir == Direction1:
		return &TLSAuthKeys{TX: a, RX: b}, nil
	case role == RoleClient && (dir == DirectionUnset || dir == Direction1):
		return &TLSAuthKeys{TX: a, RX: b}, nil
	case role == RoleClient && dir == Direction0:
		return &TLSAuthKeys{TX: b, RX: a}, nil
	default:
		return nil, fmt.Errorf("crypto: invalid tls-auth role/direction combination")
	}
}

// TLSAuthWrap prepends HMAC_SHA256(tx_key, plaintext) to plaintext.
func TLSAuthWrap(txKey *Key, plaintext []byte) []byte {
	mac := hmac.New(sha256.New, txKey.Bytes())
	mac.Write(plaintext)
	sum := mac.Sum(nil)

	out := make([]byte, 0, len(sum)+len(plaintext))
	out = append(out, sum...)
	out = append(out, plaintext...)
	return out
}

// TLSAuthUnwrap splits off the leading 32-byte HMAC, verifies it in
// constant time against rxKey, and returns the inner payload.
func TLSAuthUnwrap(rxKey *Key, packet []byte) ([]byte, error) {
	if len(packet) < sha256.Size {
		return nil, ErrPacketTooShort
	}
	gotMAC := packet[:sha256.Size]
	inner := packet[sha256.Size:]

	mac := hmac.New(sha256.New, rxKey.Bytes())
	mac.Write(inner)
	wantMAC := mac.Sum(nil)

	if !hmac.Equal(gotMAC, wantMAC) {
		return nil, ErrHMACVerificationFailed
	}
	return inner, nil
}
