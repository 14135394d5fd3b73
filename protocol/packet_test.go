package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHardResetHandshakeLiteralBytes(t *testing.T) {
	wire := []byte{0x38, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x00}

	opcode, keyID, err := ParseOpcodeKeyID(wire)
	require.NoError(t, err)
	require.Equal(t, HardResetClientV2, opcode)
	require.Equal(t, uint8(0), keyID)

	pkt, err := ParseControlPacket(wire, false)
	require.NoError(t, err)
	require.Equal(t, SessionID{1, 2, 3, 4, 5, 6, 7, 8}, pkt.SessionID)
	require.Empty(t, pkt.Acks)
	require.True(t, pkt.HasMessagePacketID)
	require.Equal(t, uint32(0), pkt.MessagePacketID)
}

func TestControlPacketParseSerializeRoundTrip(t *testing.T) {
	for _, tlsAuth := range []bool{false, true} {
		p := &ControlPacket{
			Opcode:             ControlV1,
			KeyID:              2,
			SessionID:          SessionID{1, 2, 3, 4, 5, 6, 7, 8},
			Acks:               []uint32{10, 11, 12},
			RemoteSessionID:    SessionID{8, 7, 6, 5, 4, 3, 2, 1},
			HasRemoteSession:   true,
			MessagePacketID:    42,
			HasMessagePacketID: true,
			Payload:            []byte("tls record fragment"),
		}
		if tlsAuth {
			p.TLSAuth = &TLSAuthPreamble{PacketID: 7, Timestamp: 123456}
			for i := range p.TLSAuth.HMAC {
				p.TLSAuth.HMAC[i] = byte(i)
			}
		}

		wire := p.Serialize()
		parsed, err := ParseControlPacket(wire, tlsAuth)
		require.NoError(t, err)

		require.Equal(t, p.Opcode, parsed.Opcode)
		require.Equal(t, p.KeyID, parsed.KeyID)
		require.Equal(t, p.SessionID, parsed.SessionID)
		require.Equal(t, p.Acks, parsed.Acks)
		require.Equal(t, p.RemoteSessionID, parsed.RemoteSessionID)
		require.Equal(t, p.MessagePacketID, parsed.MessagePacketID)
		require.Equal(t, p.Payload, parsed.Payload)
		if tlsAuth {
			require.Equal(t, p.TLSAuth, parsed.TLSAuth)
		}
	}
}

func TestAckPacketOmitsMessagePacketID(t *testing.T) {
	p := &ControlPacket{
		Opcode:           AckV1,
		SessionID:        SessionID{1, 1, 1, 1, 1, 1, 1, 1},
		Acks:             []uint32{5},
		RemoteSessionID:  SessionID{2, 2, 2, 2, 2, 2, 2, 2},
		HasRemoteSession: true,
	}
	wire := p.Serialize()
	parsed, err := ParseControlPacket(wire, false)
	require.NoError(t, err)
	require.False(t, parsed.HasMessagePacketID)
}

func TestDataPacketParseSerializeRoundTrip(t *testing.T) {
	p := &DataPacket{Opcode: DataV1, KeyID: 3, Payload: []byte("counter+ciphertext")}
	wire := p.Serialize()
	parsed, err := ParseDataPacket(wire)
	require.NoError(t, err)
	require.Equal(t, p.Opcode, parsed.Opcode)
	require.Equal(t, p.KeyID, parsed.KeyID)
	require.False(t, parsed.HasPeerID)
	require.Equal(t, p.Payload, parsed.Payload)

	p2 := &DataPacket{Opcode: DataV2, KeyID: 1, PeerID: 0xABCDEF, HasPeerID: true, Payload: []byte("payload")}
	wire2 := p2.Serialize()
	parsed2, err := ParseDataPacket(wire2)
	require.NoError(t, err)
	require.True(t, parsed2.HasPeerID)
	require.Equal(t, uint32(0xABCDEF), parsed2.PeerID)
}

func TestUnknownOpcodeRejected(t *testing.T) {
	_, _, err := ParseOpcodeKeyID([]byte{0xF8})
	require.Error(t, err)
	var unknownErr *UnknownOpcodeError
	require.ErrorAs(t, err, &unknownErr)
	require.Equal(t, byte(0xF8), unknownErr.Raw)
}

func TestTruncatedPacketReportsExpectedAndGot(t *testing.T) {
	_, err := ParseControlPacket([]byte{}, false)
	require.Error(t, err)
	var tooShort *PacketTooShortError
	require.ErrorAs(t, err, &tooShort)
}
