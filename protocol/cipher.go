package protocol

import (
	"encoding/binary"

	"github.com/corevpn/corevpn/crypto"
)

const counterHeaderSize = 8

// PacketCipher wraps one direction-pair of data-channel keys — its own
// TX counter and its own RX replay window, never shared between the TX
// and RX of the same endpoint — per spec.md §4.4.
type PacketCipher struct {
	suite crypto.CipherSuite

	encryptKey crypto.Key
	decryptKey crypto.Key

	txCounter uint64
	rx        ReplayWindow
}

// NewPacketCipher builds a cipher for one key-id slot's direction pair.
func NewPacketCipher(suite crypto.CipherSuite, encryptKey, decryptKey crypto.Key) *PacketCipher {
	return &PacketCipher{suite: suite, encryptKey: encryptKey, decryptKey: decryptKey}
}

// Zero wipes both keys.
func (c *PacketCipher) Zero() {
	c.encryptKey.Zero()
	c.decryptKey.Zero()
}

// Encrypt advances the TX counter, builds the zero-padded counter
// nonce, and seals plaintext. Output = 8-byte counter header ‖ AEAD
// output. Overflow of the counter is a fatal error surfaced to the
// session, per spec.md §3's invariant that no sent id is ever reused.
func (c *PacketCipher) Encrypt(plaintext []byte) ([]byte, error) {
	if c.txCounter == ^uint64(0) {
		return nil, ErrCounterOverflow
	}
	c.txCounter++

	aad := make([]byte, counterHeaderSize)
	binary.BigEndian.PutUint64(aad, c.txCounter)

	nonce := make([]byte, crypto.NonceSize)
	copy(nonce[4:], aad) // 4 zero bytes ‖ big-endian 8-byte counter

	ciphertext, err := crypto.Encrypt(c.suite, &c.encryptKey, nonce, plaintext, aad)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, counterHeaderSize+len(ciphertext))
	out = append(out, aad...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reads the 8-byte counter header, replay-checks it, and
// AEAD-decrypts the remainder. ReplayDetected and DecryptionFailed are
// always distinguished, per spec.md §4.4.
func (c *PacketCipher) Decrypt(packet []byte) ([]byte, error) {
	if len(packet) < counterHeaderSize+crypto.TagSize {
		return nil, ErrDecryptionFailed
	}

	aad := packet[:counterHeaderSize]
	ciphertext := packet[counterHeaderSize:]
	counter := binary.BigEndian.Uint64(aad)

	if !c.rx.CheckAndUpdate(counter) {
		return nil, ErrReplayDetected
	}

	nonce := make([]byte, crypto.NonceSize)
	copy(nonce[4:], aad)

	plaintext, err := crypto.Decrypt(c.suite, &c.decryptKey, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
