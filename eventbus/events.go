// Package eventbus implements the connection-event bus (C8): a tagged
// ConnectionEvent shape, pluggable logger back-ends, and an optional
// anonymizing transform applied before persistence.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags which variant of ConnectionEvent is populated, per
// spec.md §4.8's tagged-shape event list.
type Kind int

const (
	ConnectionAttempt Kind = iota
	Authentication
	Connected
	Disconnected
	IpChange
	Renegotiation
)

func (k Kind) String() string {
	switch k {
	case ConnectionAttempt:
		return "ConnectionAttempt"
	case Authentication:
		return "Authentication"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case IpChange:
		return "IpChange"
	case Renegotiation:
		return "Renegotiation"
	default:
		return "Unknown"
	}
}

// ParseKind reverses Kind.String, for logger backends that persist the
// event type as text. Unrecognized names return ConnectionAttempt's
// zero value, matched by an explicit "Unknown" case being absent here
// intentionally: callers that round-trip through String never produce
// an unrecognized value.
func ParseKind(s string) Kind {
	switch s {
	case "Authentication":
		return Authentication
	case "Connected":
		return Connected
	case "Disconnected":
		return Disconnected
	case "IpChange":
		return IpChange
	case "Renegotiation":
		return Renegotiation
	default:
		return ConnectionAttempt
	}
}

// DisconnectReason is the closed set of reasons a session can end.
type DisconnectReason int

const (
	ReasonUnspecified DisconnectReason = iota
	ReasonIdleTimeout
	ReasonProtocolError
	ReasonServerDisconnect
	ReasonServerShutdown
	ReasonAdminTerminated
	ReasonClientDisconnect
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonIdleTimeout:
		return "IdleTimeout"
	case ReasonProtocolError:
		return "ProtocolError"
	case ReasonServerDisconnect:
		return "ServerDisconnect"
	case ReasonServerShutdown:
		return "ServerShutdown"
	case ReasonAdminTerminated:
		return "AdminTerminated"
	case ReasonClientDisconnect:
		return "ClientDisconnect"
	default:
		return "Unspecified"
	}
}

// ParseDisconnectReason reverses DisconnectReason.String.
func ParseDisconnectReason(s string) DisconnectReason {
	switch s {
	case "IdleTimeout":
		return ReasonIdleTimeout
	case "ProtocolError":
		return ReasonProtocolError
	case "ServerDisconnect":
		return ReasonServerDisconnect
	case "ServerShutdown":
		return ReasonServerShutdown
	case "AdminTerminated":
		return ReasonAdminTerminated
	case "ClientDisconnect":
		return ReasonClientDisconnect
	default:
		return ReasonUnspecified
	}
}

// TransferStats is the byte/packet accounting carried on a Disconnected
// event, mirroring session.Stats without importing the session package
// (the event bus must not depend on the protocol stack).
type TransferStats struct {
	BytesRX   uint64
	BytesTX   uint64
	PacketsRX uint64
	PacketsTX uint64
}

// ConnectionEvent is the common envelope every event kind shares, plus
// exactly the payload fields its Kind populates.
type ConnectionEvent struct {
	Kind         Kind
	ConnectionID uuid.UUID
	Timestamp    time.Time
	ClientAddr   string
	Username     string // empty means absent

	// ConnectionAttempt
	ProtocolVersion string // "HardResetClientV2" or "HardResetClientV3"

	// Authentication
	AuthMethod  string
	AuthResult  bool
	AuthDetails string

	// Connected
	VPNIP      string
	ClientInfo string

	// Disconnected
	Reason   DisconnectReason
	Duration time.Duration
	Stats    *TransferStats

	// IpChange
	OldIP string
	NewIP string

	// Renegotiation
	RenegotiationSuccess bool
}
