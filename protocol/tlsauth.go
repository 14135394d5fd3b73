package protocol

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/corevpn/corevpn/crypto"
)

// tlsAuthHMACInput builds the byte string tls-auth's HMAC covers: the
// opcode/key-id byte, the packet-id and timestamp that sit inside the
// preamble, then everything that follows the preamble in the
// serialized packet (session id, acks, message packet-id, payload).
// The HMAC field itself is never part of its own input.
func tlsAuthHMACInput(opcode Opcode, keyID uint8, packetID, timestamp uint32, rest []byte) []byte {
	buf := make([]byte, 0, 9+len(rest))
	buf = append(buf, PackOpcodeKeyID(opcode, keyID))
	buf = appendUint32(buf, packetID)
	buf = appendUint32(buf, timestamp)
	buf = append(buf, rest...)
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// bodyWithoutPreamble serializes p as if tls-auth were absent and
// strips the leading opcode byte, yielding the exact "rest" tls-auth's
// HMAC is computed over.
func bodyWithoutPreamble(p *ControlPacket) []byte {
	plain := &ControlPacket{
		Opcode:             p.Opcode,
		KeyID:              p.KeyID,
		SessionID:          p.SessionID,
		Acks:               p.Acks,
		RemoteSessionID:    p.RemoteSessionID,
		HasRemoteSession:   p.HasRemoteSession,
		MessagePacketID:    p.MessagePacketID,
		HasMessagePacketID: p.HasMessagePacketID,
		Payload:            p.Payload,
	}
	return plain.Serialize()[1:]
}

// SignControlPacket computes the tls-auth preamble for p under txKey
// using packetID/timestamp as the anti-replay fields, attaches it, and
// returns the fully wire-serialized packet.
func SignControlPacket(txKey *crypto.Key, p *ControlPacket, packetID, timestamp uint32) []byte {
	input := tlsAuthHMACInput(p.Opcode, p.KeyID, packetID, timestamp, bodyWithoutPreamble(p))

	mac := hmac.New(sha256.New, txKey.Bytes())
	mac.Write(input)
	sum := mac.Sum(nil)

	pre := &TLSAuthPreamble{PacketID: packetID, Timestamp: timestamp}
	copy(pre.HMAC[:], sum)
	p.TLSAuth = pre

	return p.Serialize()
}

// VerifyControlPacketTLSAuth parses data as a tls-auth-wrapped control
// packet and verifies its HMAC under rxKey in constant time. On
// success the returned packet keeps its parsed TLSAuth preamble;
// on mismatch it returns ErrHMACVerificationFailed, per spec.md §4.6's
// "any mismatch aborts processing, no state change" rule.
func VerifyControlPacketTLSAuth(rxKey *crypto.Key, data []byte) (*ControlPacket, error) {
	p, err := ParseControlPacket(data, true)
	if err != nil {
		return nil, err
	}

	input := tlsAuthHMACInput(p.Opcode, p.KeyID, p.TLSAuth.PacketID, p.TLSAuth.Timestamp, bodyWithoutPreamble(p))
	mac := hmac.New(sha256.New, rxKey.Bytes())
	mac.Write(input)
	want := mac.Sum(nil)

	if !hmac.Equal(p.TLSAuth.HMAC[:], want) {
		return nil, crypto.ErrHMACVerificationFailed
	}

	return p, nil
}
