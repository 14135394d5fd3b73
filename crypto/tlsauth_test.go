package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTLSAuthRoundTrip(t *testing.T) {
	var key Key
	_, err := rand.Read(key[:])
	require.NoError(t, err)

	plaintext := []byte("test packet data")
	wrapped := TLSAuthWrap(&key, plaintext)
	require.Len(t, wrapped, 32+len(plaintext))

	unwrapped, err := TLSAuthUnwrap(&key, wrapped)
	require.NoError(t, err)
	require.Equal(t, plaintext, unwrapped)
}

func TestTLSAuthBitFlipFails(t *testing.T) {
	var key Key
	_, _ = rand.Read(key[:])

	wrapped := TLSAuthWrap(&key, []byte("test packet data"))
	wrapped[0] ^= 0x01

	_, err := TLSAuthUnwrap(&key, wrapped)
	require.ErrorIs(t, err, ErrHMACVerificationFailed)
}

func TestSelectTLSAuthKeysMatrix(t *testing.T) {
	raw := make([]byte, 256)
	_, _ = rand.Read(raw)
	sk, err := NewStaticKey(raw)
	require.NoError(t, err)

	serverDefault, err := SelectTLSAuthKeys(sk, RoleServer, DirectionUnset)
	require.NoError(t, err)
	require.Equal(t, sk.Quadrants[1].HMACHalf, serverDefault.TX)
	require.Equal(t, sk.Quadrants[0].HMACHalf, serverDefault.RX)

	clientDefault, err := SelectTLSAuthKeys(sk, RoleClient, DirectionUnset)
	require.NoError(t, err)
	require.Equal(t, sk.Quadrants[0].HMACHalf, clientDefault.TX)
	require.Equal(t, sk.Quadrants[1].HMACHalf, clientDefault.RX)

	// server and client with matching directions must cross-agree.
	require.Equal(t, serverDefault.TX, clientDefault.RX)
	require.Equal(t, serverDefault.RX, clientDefault.TX)
}
