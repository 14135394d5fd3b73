package protocol

import "encoding/binary"

// MTU is the buffer size serialization pre-sizes output to, avoiding
// reallocation on the hot path, per spec.md §4.2.
const MTU = 1500

const sessionIDSize = 8
const ackIDSize = 4
const tlsAuthPreambleSize = 32 + 4 + 4 // hmac(32) | packet_id(4) | timestamp(4)
const peerIDSize = 3

// SessionID is the 8-byte opaque wire session identifier.
type SessionID [sessionIDSize]byte

// TLSAuthPreamble is the tls-auth HMAC+anti-replay header prefixed to a
// control packet's body when tls-auth is configured.
type TLSAuthPreamble struct {
	HMAC     [32]byte
	PacketID uint32
	Timestamp uint32
}

// ControlPacket is the parsed form of every non-data opcode: hard/soft
// reset, ControlV1, and AckV1. Their bodies share the same linear
// layout; AckV1 simply omits the trailing message packet-id.
type ControlPacket struct {
	Opcode Opcode
	KeyID  uint8

	TLSAuth *TLSAuthPreamble // nil unless tls-auth is configured

	SessionID SessionID

	Acks             []uint32
	RemoteSessionID  SessionID
	HasRemoteSession bool

	MessagePacketID    uint32
	HasMessagePacketID bool

	Payload []byte
}

// DataPacket is the parsed form of DataV1/DataV2. Payload still
// contains the 8-byte counter header and AEAD ciphertext‖tag that C4
// (cipher.go) is responsible for unwrapping.
type DataPacket struct {
	Opcode Opcode
	KeyID  uint8

	PeerID    uint32 // 24-bit, valid only when HasPeerID
	HasPeerID bool

	Payload []byte
}

// ParseOpcodeKeyID performs phase one of the two-phase header parse:
// decode opcode/key-id from byte 0 only.
func ParseOpcodeKeyID(data []byte) (Opcode, uint8, error) {
	if len(data) < 1 {
		return 0, 0, &PacketTooShortError{Expected: 1, Got: len(data)}
	}
	opcode, keyID := UnpackOpcodeKeyID(data[0])
	if !isKnownOpcode(opcode) {
		return 0, 0, &UnknownOpcodeError{Raw: data[0]}
	}
	return opcode, keyID, nil
}

// ParseControlPacket parses a control-family packet (everything except
// DataV1/DataV2), per spec.md §4.2 and the wire layout in §6.1.
func ParseControlPacket(data []byte, tlsAuthEnabled bool) (*ControlPacket, error) {
	opcode, keyID, err := ParseOpcodeKeyID(data)
	if err != nil {
		return nil, err
	}
	if opcode.IsData() {
		return nil, &UnknownOpcodeError{Raw: data[0]}
	}

	pos := 1
	p := &ControlPacket{Opcode: opcode, KeyID: keyID}

	if tlsAuthEnabled {
		if len(data) < pos+tlsAuthPreambleSize {
			return nil, &PacketTooShortError{Expected: pos + tlsAuthPreambleSize, Got: len(data)}
		}
		var pre TLSAuthPreamble
		copy(pre.HMAC[:], data[pos:pos+32])
		pre.PacketID = binary.BigEndian.Uint32(data[pos+32 : pos+36])
		pre.Timestamp = binary.BigEndian.Uint32(data[pos+36 : pos+40])
		p.TLSAuth = &pre
		pos += tlsAuthPreambleSize
	}

	if len(data) < pos+sessionIDSize {
		return nil, &PacketTooShortError{Expected: pos + sessionIDSize, Got: len(data)}
	}
	copy(p.SessionID[:], data[pos:pos+sessionIDSize])
	pos += sessionIDSize

	if len(data) < pos+1 {
		return nil, &PacketTooShortError{Expected: pos + 1, Got: len(data)}
	}
	ackCount := int(data[pos])
	pos++

	if ackCount > 0 {
		need := pos + ackCount*ackIDSize
		if len(data) < need {
			return nil, &PacketTooShortError{Expected: need, Got: len(data)}
		}
		p.Acks = make([]uint32, ackCount)
		for i := 0; i < ackCount; i++ {
			p.Acks[i] = binary.BigEndian.Uint32(data[pos : pos+4])
			pos += 4
		}

		if len(data) < pos+sessionIDSize {
			return nil, &PacketTooShortError{Expected: pos + sessionIDSize, Got: len(data)}
		}
		copy(p.RemoteSessionID[:], data[pos:pos+sessionIDSize])
		p.HasRemoteSession = true
		pos += sessionIDSize
	}

	if opcode != AckV1 {
		switch {
		case len(data) >= pos+4:
			p.MessagePacketID = binary.BigEndian.Uint32(data[pos : pos+4])
			p.HasMessagePacketID = true
			pos += 4
		case len(data) == pos && (opcode == HardResetClientV2 || opcode == HardResetClientV3):
			// A client hard reset may end right after the ACK block; its
			// message packet-id is then 0, the first control packet-id.
			p.HasMessagePacketID = true
		default:
			return nil, &PacketTooShortError{Expected: pos + 4, Got: len(data)}
		}
	}

	p.Payload = append([]byte(nil), data[pos:]...)
	return p, nil
}

// Serialize renders p back into wire bytes.
func (p *ControlPacket) Serialize() []byte {
	buf := make([]byte, 0, MTU)
	buf = append(buf, PackOpcodeKeyID(p.Opcode, p.KeyID))

	if p.TLSAuth != nil {
		buf = append(buf, p.TLSAuth.HMAC[:]...)
		buf = binary.BigEndian.AppendUint32(buf, p.TLSAuth.PacketID)
		buf = binary.BigEndian.AppendUint32(buf, p.TLSAuth.Timestamp)
	}

	buf = append(buf, p.SessionID[:]...)
	buf = append(buf, byte(len(p.Acks)))
	for _, ack := range p.Acks {
		buf = binary.BigEndian.AppendUint32(buf, ack)
	}
	if len(p.Acks) > 0 {
		buf = append(buf, p.RemoteSessionID[:]...)
	}
	if p.Opcode != AckV1 {
		buf = binary.BigEndian.AppendUint32(buf, p.MessagePacketID)
	}
	buf = append(buf, p.Payload...)
	return buf
}

// ParseDataPacket parses a DataV1/DataV2 packet, per spec.md §4.2.
func ParseDataPacket(data []byte) (*DataPacket, error) {
	opcode, keyID, err := ParseOpcodeKeyID(data)
	if err != nil {
		return nil, err
	}
	if !opcode.IsData() {
		return nil, &UnknownOpcodeError{Raw: data[0]}
	}

	pos := 1
	p := &DataPacket{Opcode: opcode, KeyID: keyID}

	if opcode == DataV2 {
		if len(data) < pos+peerIDSize {
			return nil, &PacketTooShortError{Expected: pos + peerIDSize, Got: len(data)}
		}
		p.PeerID = uint32(data[pos])<<16 | uint32(data[pos+1])<<8 | uint32(data[pos+2])
		p.HasPeerID = true
		pos += peerIDSize
	}

	p.Payload = append([]byte(nil), data[pos:]...)
	return p, nil
}

// Serialize renders p back into wire bytes.
func (p *DataPacket) Serialize() []byte {
	buf := make([]byte, 0, MTU)
	buf = append(buf, PackOpcodeKeyID(p.Opcode, p.KeyID))
	if p.HasPeerID {
		buf = append(buf, byte(p.PeerID>>16), byte(p.PeerID>>8), byte(p.PeerID))
	}
	buf = append(buf, p.Payload...)
	return buf
}
