package session

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/corevpn/corevpn/crypto"
	"github.com/corevpn/corevpn/protocol"
	"github.com/corevpn/corevpn/transport"
)

// Session is the per-peer protocol state machine (C6). Per spec.md §9's
// "cyclic back-references forbidden" note, a Session never holds a
// reference back to its owning dispatcher; it is driven purely by
// ProcessPacket calls and its outbound-frame accessors.
type Session struct {
	cfg Config

	localSessionID  protocol.SessionID
	remoteSessionID protocol.SessionID
	hasRemote       bool

	state        State
	currentKeyID uint8
	slots        [numKeySlots]*DataChannel

	reliable    *transport.Reliable
	reassembler *transport.Reassembler

	tlsAuth         *crypto.TLSAuthKeys
	tlsAuthRX       protocol.ReplayWindow
	tlsAuthTXNextID uint32

	createdAt           time.Time
	lastActivity        time.Time
	consecutiveFailures int

	stats Stats

	now activityClock
}

// New creates a Session in state Initial with a freshly-randomized
// local session id.
func New(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	var localID protocol.SessionID
	if _, err := rand.Read(localID[:]); err != nil {
		return nil, fmt.Errorf("session: generate local session id: %w", err)
	}

	now := time.Now()
	return &Session{
		cfg:             cfg,
		localSessionID:  localID,
		state:           Initial,
		reliable:        transport.NewReliable(cfg.Transport),
		reassembler:     transport.NewReassembler(cfg.ReassemblerCap),
		createdAt:       now,
		lastActivity:    now,
		now:             time.Now,
	}, nil
}

func (s *Session) LocalSessionID() protocol.SessionID  { return s.localSessionID }
func (s *Session) RemoteSessionID() protocol.SessionID { return s.remoteSessionID }
func (s *Session) State() State                        { return s.state }
func (s *Session) CreatedAt() time.Time                { return s.createdAt }
func (s *Session) LastActivity() time.Time             { return s.lastActivity }
func (s *Session) Stats() Stats                        { return s.stats }

// SetTLSAuthKeys configures tls-auth HMAC wrapping for this session's
// control channel.
func (s *Session) SetTLSAuthKeys(keys *crypto.TLSAuthKeys) { s.tlsAuth = keys }

func (s *Session) touch() { s.lastActivity = s.now() }

// ProcessPacket implements spec.md §4.6's dispatch table. Parse errors
// and HMAC-verification failures yield no state change and no
// outbound packet — the caller sees them via the returned error and
// simply drops the datagram.
func (s *Session) ProcessPacket(raw []byte) (*ProcessResult, error) {
	s.touch()
	s.stats.PacketsRX++
	s.stats.BytesRX += uint64(len(raw))

	opcode, _, err := protocol.ParseOpcodeKeyID(raw)
	if err != nil {
		return nil, err
	}

	if opcode.IsData() {
		return s.processData(raw)
	}

	var pkt *protocol.ControlPacket
	if s.tlsAuth != nil {
		pkt, err = protocol.VerifyControlPacketTLSAuth(&s.tlsAuth.RX, raw)
		if err != nil {
			return nil, err // mismatch: no state change
		}
		if !s.tlsAuthRX.CheckAndUpdate(uint64(pkt.TLSAuth.PacketID)) {
			return nil, protocol.ErrReplayDetected
		}
	} else {
		pkt, err = protocol.ParseControlPacket(raw, false)
		if err != nil {
			return nil, err
		}
	}

	return s.processControl(pkt)
}

func (s *Session) processControl(pkt *protocol.ControlPacket) (*ProcessResult, error) {
	switch opcode := pkt.Opcode; opcode {
	case protocol.HardResetClientV2, protocol.HardResetClientV3:
		s.remoteSessionID = pkt.SessionID
		s.hasRemote = true
		s.state = TlsHandshake
		return &ProcessResult{Kind: ResultHardReset}, nil

	case protocol.HardResetServerV2:
		s.remoteSessionID = pkt.SessionID
		s.hasRemote = true
		return &ProcessResult{Kind: ResultHardResetAck}, nil

	case protocol.ControlV1:
		if len(pkt.Acks) > 0 {
			s.reliable.ProcessAcks(pkt.Acks)
		}
		if !pkt.HasMessagePacketID {
			return &ProcessResult{Kind: ResultAckProcessed}, nil
		}
		delivered := s.reliable.Receive(pkt.MessagePacketID, pkt.Payload)
		var records [][]byte
		for _, payload := range delivered {
			if err := s.reassembler.Add(payload); err != nil {
				return nil, err
			}
			records = append(records, s.reassembler.ExtractRecords()...)
		}
		return &ProcessResult{Kind: ResultTLSRecords, TLSRecords: records}, nil

	case protocol.AckV1:
		s.reliable.ProcessAcks(pkt.Acks)
		return &ProcessResult{Kind: ResultAckProcessed}, nil

	case protocol.SoftResetV1:
		s.state = Rekeying
		return &ProcessResult{Kind: ResultSoftReset}, nil

	default:
		return nil, fmt.Errorf("session: opcode %s not valid on the control path", opcode)
	}
}

func (s *Session) processData(raw []byte) (*ProcessResult, error) {
	pkt, err := protocol.ParseDataPacket(raw)
	if err != nil {
		return nil, err
	}

	dc := s.slots[pkt.KeyID]
	if dc == nil {
		return &ProcessResult{Kind: ResultKeyNotAvailable, RawKeyID: pkt.KeyID}, nil
	}

	plaintext, err := dc.Cipher.Decrypt(pkt.Payload)
	if err != nil {
		s.consecutiveFailures++
		if s.cfg.MaxConsecutiveFails > 0 && s.consecutiveFailures >= s.cfg.MaxConsecutiveFails {
			s.state = Terminated
		}
		return nil, err
	}
	s.consecutiveFailures = 0
	return &ProcessResult{Kind: ResultPlaintext, Plaintext: plaintext}, nil
}

// InstallKeys installs material into the current key-id slot. For a
// server, encrypt uses server_write and decrypt uses client_write; for
// a client the roles swap. Per spec.md §4.6, any prior occupant of the
// slot is replaced atomically (from the data-plane's view: the next
// encrypted packet may use the new slot, but packets already in flight
// under the old slot are unaffected since we never touch other slots).
func (s *Session) InstallKeys(material *crypto.KeyMaterial, isServer bool, peerID uint32, hasPeer bool) {
	var encryptKey, decryptKey crypto.Key
	if isServer {
		encryptKey, decryptKey = material.ServerWrite, material.ClientWrite
	} else {
		encryptKey, decryptKey = material.ClientWrite, material.ServerWrite
	}

	cipher := protocol.NewPacketCipher(s.cfg.CipherSuite, encryptKey, decryptKey)
	s.slots[s.currentKeyID] = &DataChannel{
		KeyID:   s.currentKeyID,
		PeerID:  peerID,
		HasPeer: hasPeer,
		Cipher:  cipher,
	}

	s.state = Established
}

// EncryptData seals plaintext under the current key-id slot and frames
// it as a DataV2 packet (DataV1 if the slot has no peer-id), per
// spec.md §6.3's peer-id note. Returns ErrKeyNotAvailable if no key has
// been installed into the current slot yet.
func (s *Session) EncryptData(plaintext []byte) ([]byte, error) {
	dc := s.slots[s.currentKeyID]
	if dc == nil {
		return nil, protocol.ErrKeyNotAvailable
	}

	ciphertext, err := dc.Cipher.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	pkt := &protocol.DataPacket{
		Opcode:  protocol.DataV1,
		KeyID:   dc.KeyID,
		Payload: ciphertext,
	}
	if dc.HasPeer {
		pkt.Opcode = protocol.DataV2
		pkt.PeerID = dc.PeerID
		pkt.HasPeerID = true
	}

	wire := pkt.Serialize()
	s.stats.PacketsTX++
	s.stats.BytesTX += uint64(len(wire))
	return wire, nil
}

// RotateKey advances the current key-id by (id+1) mod 8, per spec.md
// §4.6. The slot previously occupying the new index (from a prior
// wraparound) is left for InstallKeys to replace.
func (s *Session) RotateKey() {
	s.currentKeyID = uint8((int(s.currentKeyID) + 1) % numKeySlots)
}

// CreateControlPacket queues tlsBytes with the reliable transport and
// assembles a ControlV1 packet carrying them, piggybacking any pending
// ACKs, wrapped with tls-auth if configured.
func (s *Session) CreateControlPacket(tlsBytes []byte) ([]byte, error) {
	packetID, payload, err := s.reliable.Send(tlsBytes)
	if err != nil {
		return nil, err
	}

	acks := s.reliable.GetAcks()
	pkt := &protocol.ControlPacket{
		Opcode:             protocol.ControlV1,
		KeyID:              s.currentKeyID,
		SessionID:          s.localSessionID,
		Acks:               acks,
		MessagePacketID:    packetID,
		HasMessagePacketID: true,
		Payload:            payload,
	}
	if len(acks) > 0 {
		pkt.RemoteSessionID = s.remoteSessionID
		pkt.HasRemoteSession = true
		s.reliable.AckSent()
	}

	return s.finishOutbound(pkt)
}

// CreateAckPacket emits an AckV1 packet iff the pending-ACK deque is
// non-empty, marking ack_sent().
func (s *Session) CreateAckPacket() ([]byte, error) {
	acks := s.reliable.GetAcks()
	if len(acks) == 0 {
		return nil, nil
	}

	pkt := &protocol.ControlPacket{
		Opcode:           protocol.AckV1,
		KeyID:            s.currentKeyID,
		SessionID:        s.localSessionID,
		Acks:             acks,
		RemoteSessionID:  s.remoteSessionID,
		HasRemoteSession: true,
	}
	s.reliable.AckSent()
	return s.finishOutbound(pkt)
}

// CreateHardResetResponse builds a HardResetServerV2 carrying the local
// session id and any pending ACKs, key-id 0.
func (s *Session) CreateHardResetResponse() ([]byte, error) {
	acks := s.reliable.GetAcks()
	pkt := &protocol.ControlPacket{
		Opcode:             protocol.HardResetServerV2,
		KeyID:              0,
		SessionID:          s.localSessionID,
		Acks:               acks,
		MessagePacketID:    0,
		HasMessagePacketID: true,
	}
	if len(acks) > 0 {
		pkt.RemoteSessionID = s.remoteSessionID
		pkt.HasRemoteSession = true
		s.reliable.AckSent()
	}
	return s.finishOutbound(pkt)
}

// GetRetransmits rebuilds every expired pending packet as a ControlV1
// frame with its original message packet-id and no ACK piggyback.
func (s *Session) GetRetransmits() ([][]byte, error) {
	retransmits, err := s.reliable.GetRetransmits()
	if err != nil {
		s.state = Terminated
		return nil, err
	}

	out := make([][]byte, 0, len(retransmits))
	for _, rt := range retransmits {
		pkt := &protocol.ControlPacket{
			Opcode:             protocol.ControlV1,
			KeyID:              s.currentKeyID,
			SessionID:          s.localSessionID,
			MessagePacketID:    rt.PacketID,
			HasMessagePacketID: true,
			Payload:            rt.Payload,
		}
		wire, err := s.finishOutbound(pkt)
		if err != nil {
			return nil, err
		}
		out = append(out, wire)
	}
	return out, nil
}

func (s *Session) finishOutbound(pkt *protocol.ControlPacket) ([]byte, error) {
	var wire []byte
	if s.tlsAuth != nil {
		s.tlsAuthTXNextID++
		wire = protocol.SignControlPacket(&s.tlsAuth.TX, pkt, s.tlsAuthTXNextID, uint32(s.now().Unix()))
	} else {
		wire = pkt.Serialize()
	}
	s.stats.PacketsTX++
	s.stats.BytesTX += uint64(len(wire))
	return wire, nil
}

// Close zeroes all installed key-id slots. Per spec.md §5's "secret
// lifetime" requirement, nothing stays resident once a session is torn
// down.
func (s *Session) Close() {
	for i, dc := range s.slots {
		if dc != nil {
			dc.Cipher.Zero()
			s.slots[i] = nil
		}
	}
	s.state = Terminated
}
