// Package session implements the per-peer protocol state machine (C6):
// it dispatches incoming wire packets, owns the per-key-id data-channel
// ciphers, drives the reliable control-channel transport, and produces
// outbound wire bytes. Grounded on core/handshake/types.go's phase-
// constant naming convention and on core/session/session.go's key
// installation and zero-on-close discipline, generalized from that
// package's single AEAD session to an eight-slot rekeyable one.
package session

import (
	"time"

	"github.com/corevpn/corevpn/crypto"
	"github.com/corevpn/corevpn/protocol"
	"github.com/corevpn/corevpn/transport"
)

// State is a node in the per-session state machine's DAG.
type State int

const (
	Initial State = iota
	TlsHandshake
	KeyExchange
	Authenticating
	Established
	Rekeying
	Terminated
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case TlsHandshake:
		return "TlsHandshake"
	case KeyExchange:
		return "KeyExchange"
	case Authenticating:
		return "Authenticating"
	case Established:
		return "Established"
	case Rekeying:
		return "Rekeying"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

const numKeySlots = 8

// DataChannel binds one key-id slot's PacketCipher to the key-id and
// optional V2 peer-id that produced it.
type DataChannel struct {
	KeyID   uint8
	PeerID  uint32
	HasPeer bool
	Cipher  *protocol.PacketCipher
}

// ResultKind tags the outcome of ProcessPacket — a closed set per
// spec.md §9's "tagged unions over dynamic dispatch" note.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultHardReset
	ResultHardResetAck
	ResultTLSRecords
	ResultAckProcessed
	ResultSoftReset
	ResultPlaintext
	ResultKeyNotAvailable
	ResultDropped
)

// ProcessResult is what ProcessPacket returns: exactly one of its
// payload fields is meaningful, selected by Kind.
type ProcessResult struct {
	Kind ResultKind

	TLSRecords [][]byte
	Plaintext  []byte
	RawKeyID   uint8
	DropReason error
}

// Config tunes session-level policy.
type Config struct {
	CipherSuite         crypto.CipherSuite
	MaxConsecutiveFails int // decrypt-failure lockout threshold; 0 selects the default of 16, a negative value disables
	ReassemblerCap      int
	Transport           transport.Config // reliable control-channel tuning; zero fields fall back to transport.DefaultConfig
}

func (c Config) withDefaults() Config {
	if c.MaxConsecutiveFails == 0 {
		c.MaxConsecutiveFails = 16
	}
	return c
}

// Stats is per-connection byte/packet accounting, surfaced in a
// Disconnected event per SPEC_FULL.md's supplemented feature.
type Stats struct {
	BytesRX   uint64
	BytesTX   uint64
	PacketsRX uint64
	PacketsTX uint64
}

// activityClock is separated out only so tests can stub "now".
type activityClock func() time.Time
