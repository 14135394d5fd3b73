package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corevpn/corevpn/crypto"
)

func TestSignAndVerifyControlPacketTLSAuthRoundTrip(t *testing.T) {
	var key crypto.Key
	for i := range key {
		key[i] = byte(i)
	}

	p := &ControlPacket{
		Opcode:             ControlV1,
		KeyID:              1,
		SessionID:          SessionID{1, 2, 3, 4, 5, 6, 7, 8},
		MessagePacketID:    42,
		HasMessagePacketID: true,
		Payload:            []byte("tls record fragment"),
	}

	wire := SignControlPacket(&key, p, 7, 123456)

	verified, err := VerifyControlPacketTLSAuth(&key, wire)
	require.NoError(t, err)
	require.Equal(t, p.SessionID, verified.SessionID)
	require.Equal(t, p.Payload, verified.Payload)
	require.Equal(t, uint32(7), verified.TLSAuth.PacketID)
	require.Equal(t, uint32(123456), verified.TLSAuth.Timestamp)
}

func TestVerifyControlPacketTLSAuthRejectsWrongKey(t *testing.T) {
	var txKey, wrongKey crypto.Key
	for i := range txKey {
		txKey[i] = byte(i)
		wrongKey[i] = byte(i + 1)
	}

	p := &ControlPacket{Opcode: HardResetClientV2, SessionID: SessionID{9}}
	wire := SignControlPacket(&txKey, p, 1, 1000)

	_, err := VerifyControlPacketTLSAuth(&wrongKey, wire)
	require.ErrorIs(t, err, crypto.ErrHMACVerificationFailed)
}

func TestVerifyControlPacketTLSAuthRejectsTamperedPayload(t *testing.T) {
	var key crypto.Key
	for i := range key {
		key[i] = byte(i)
	}

	p := &ControlPacket{Opcode: ControlV1, MessagePacketID: 1, HasMessagePacketID: true, Payload: []byte("original")}
	wire := SignControlPacket(&key, p, 1, 1000)
	wire[len(wire)-1] ^= 0x01

	_, err := VerifyControlPacketTLSAuth(&key, wire)
	require.ErrorIs(t, err, crypto.ErrHMACVerificationFailed)
}
