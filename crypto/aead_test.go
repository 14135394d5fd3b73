package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAEADRoundTrip(t *testing.T) {
	for _, suite := range []CipherSuite{ChaCha20Poly1305, AES256GCM} {
		var key Key
		_, err := rand.Read(key[:])
		require.NoError(t, err)

		nonce := make([]byte, NonceSize)
		_, err = rand.Read(nonce)
		require.NoError(t, err)

		plaintext := []byte("Hello, VPN!")
		aad := []byte{0, 0, 0, 0, 0, 0, 0, 1}

		ciphertext, err := Encrypt(suite, &key, nonce, plaintext, aad)
		require.NoError(t, err)

		decrypted, err := Decrypt(suite, &key, nonce, ciphertext, aad)
		require.NoError(t, err)
		require.Equal(t, plaintext, decrypted)
	}
}

func TestAEADTamperedCiphertextFails(t *testing.T) {
	var key Key
	_, _ = rand.Read(key[:])
	nonce := make([]byte, NonceSize)
	_, _ = rand.Read(nonce)
	aad := []byte("aad")

	ciphertext, err := Encrypt(ChaCha20Poly1305, &key, nonce, []byte("payload"), aad)
	require.NoError(t, err)

	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[0] ^= 0xFF

	_, err = Decrypt(ChaCha20Poly1305, &key, nonce, tampered, aad)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestAEADTamperedAADFails(t *testing.T) {
	var key Key
	_, _ = rand.Read(key[:])
	nonce := make([]byte, NonceSize)
	_, _ = rand.Read(nonce)

	ciphertext, err := Encrypt(ChaCha20Poly1305, &key, nonce, []byte("payload"), []byte("aad-1"))
	require.NoError(t, err)

	_, err = Decrypt(ChaCha20Poly1305, &key, nonce, ciphertext, []byte("aad-2"))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}
