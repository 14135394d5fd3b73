package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticKeyParseFormatRoundTrip(t *testing.T) {
	raw := make([]byte, 256)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	sk, err := NewStaticKey(raw)
	require.NoError(t, err)

	text := FormatStaticKeyFile(sk)
	parsed, err := ParseStaticKeyFile(text)
	require.NoError(t, err)

	require.Equal(t, sk.Quadrants, parsed.Quadrants)
}

func TestStaticKeyParseIgnoresCommentsAndBlankLines(t *testing.T) {
	raw := make([]byte, 256)
	_, _ = rand.Read(raw)
	sk, _ := NewStaticKey(raw)
	text := "# generated for test\n\n" + FormatStaticKeyFile(sk) + "\n# trailer\n"

	parsed, err := ParseStaticKeyFile(text)
	require.NoError(t, err)
	require.Equal(t, sk.Quadrants, parsed.Quadrants)
}

func TestStaticKeyWrongLengthRejected(t *testing.T) {
	_, err := NewStaticKey(make([]byte, 128))
	require.Error(t, err)

	_, err = ParseStaticKeyFile(staticKeyBeginMarker + "\ndeadbeef\n" + staticKeyEndMarker)
	require.Error(t, err)
}
