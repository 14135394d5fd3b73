// Package server implements the UDP ingress dispatcher (C7): it
// demultiplexes datagrams by peer address to protocol sessions, reaps
// idle sessions on a periodic sweep, and emits connection events.
// Grounded on SAGE-X-project-sage/session/manager.go's single-writer
// map plus background-ticker cleanup pattern, generalized from a
// session-ID keyed map to a peer-address keyed one and from
// time.Now-based expiry to last-activity idle timeout.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/corevpn/corevpn/auth"
	"github.com/corevpn/corevpn/crypto"
	"github.com/corevpn/corevpn/eventbus"
	"github.com/corevpn/corevpn/internal/metrics"
	"github.com/corevpn/corevpn/protocol"
	"github.com/corevpn/corevpn/pushconfig"
	"github.com/corevpn/corevpn/session"
	"github.com/corevpn/corevpn/transport"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config tunes dispatcher-level policy.
type Config struct {
	CipherSuite        crypto.CipherSuite
	TLSAuthKeys        *crypto.TLSAuthKeys // shared PSK; nil disables tls-auth
	SweepInterval      time.Duration       // default 60s
	IdleTimeout        time.Duration       // default 300s
	AuthProvider       auth.Provider       // nil skips the Authenticating gate
	PushBuilder        *pushconfig.Builder // nil skips push-reply on auth success
	Transport          transport.Config    // control-channel retransmit/RTO tuning, passed through to every session
	HandshakeTimeout   time.Duration       // default 30s; deadline for reaching Established before the peer is reaped
	RetransmitInterval time.Duration       // default 200ms; how often pending control packets are checked for retransmission
}

func (c Config) withDefaults() Config {
	if c.SweepInterval == 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 300 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.RetransmitInterval == 0 {
		c.RetransmitInterval = 200 * time.Millisecond
	}
	return c
}

// peerSession binds one protocol session to the peer address it was
// first seen on and the connection id its events carry.
type peerSession struct {
	addr         net.Addr
	session      *session.Session
	connectionID uuid.UUID
	createdAt    time.Time
}

// Dispatcher owns a UDP socket, the peer-address-keyed session map,
// the connection logger and optional anonymizer. It never holds the
// session map lock across socket I/O: HandlePacket holds it only to
// look up or insert the peer's session and returns the outbound
// frames, which Run writes after HandlePacket has returned.
type Dispatcher struct {
	conn net.PacketConn
	cfg  Config

	logger     eventbus.Logger
	anonymizer *eventbus.Anonymizer

	mu       sync.RWMutex
	sessions map[string]*peerSession
}

// NewDispatcher builds a Dispatcher around conn. logger must not be
// nil; pass eventbus.NewNullLogger() to disable event recording.
// anonymizer may be nil to log events unmodified. Call Run to start
// serving; sweeping only happens while Run is active.
func NewDispatcher(conn net.PacketConn, cfg Config, logger eventbus.Logger, anonymizer *eventbus.Anonymizer) *Dispatcher {
	return &Dispatcher{
		conn:       conn,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		anonymizer: anonymizer,
		sessions:   make(map[string]*peerSession),
	}
}

// Run drives the dispatcher until ctx is cancelled or the read loop
// hits a socket error: the UDP read loop, the periodic idle sweep and
// the retransmit loop run as sibling goroutines under one errgroup, so
// a fatal error in any of them cancels ctx and unwinds the others.
func (d *Dispatcher) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return d.readLoop(ctx) })
	group.Go(func() error { return d.sweepLoop(ctx) })
	group.Go(func() error { return d.retransmitLoop(ctx) })
	return group.Wait()
}

func (d *Dispatcher) readLoop(ctx context.Context) error {
	buf := make([]byte, protocol.MTU)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			return fmt.Errorf("server: read udp: %w", err)
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		outbound, err := d.HandlePacket(addr, raw)
		if err != nil {
			continue // malformed/unverifiable datagram: drop silently
		}
		for _, frame := range outbound {
			if _, err := d.conn.WriteTo(frame, addr); err != nil {
				return fmt.Errorf("server: write udp: %w", err)
			}
		}
	}
}

func (d *Dispatcher) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.sweep()
		}
	}
}

// retransmitLoop periodically asks every tracked session for control
// packets whose retransmit deadline has passed and re-sends them.
// Per spec.md §4.5's retransmit policy, a session that exceeds
// MaxRetransmits on any pending packet is connection-fatal: it is
// torn down and reaped here rather than left for the idle sweep.
func (d *Dispatcher) retransmitLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.RetransmitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.retransmit()
		}
	}
}

func (d *Dispatcher) retransmit() {
	d.mu.RLock()
	peers := make([]*peerSession, 0, len(d.sessions))
	for _, ps := range d.sessions {
		peers = append(peers, ps)
	}
	d.mu.RUnlock()

	for _, ps := range peers {
		frames, err := ps.session.GetRetransmits()
		if err != nil {
			d.terminate(ps, eventbus.ReasonProtocolError)
			continue
		}
		if d.conn == nil {
			continue
		}
		for _, frame := range frames {
			if _, err := d.conn.WriteTo(frame, ps.addr); err != nil {
				continue
			}
			metrics.MessagesProcessed.WithLabelValues("retransmit", "success").Inc()
		}
	}
}

// terminate removes ps from the session map, closes it and emits a
// Disconnected event with reason. Used when a session fails for a
// reason other than the idle sweep (e.g. retransmit exhaustion).
func (d *Dispatcher) terminate(ps *peerSession, reason eventbus.DisconnectReason) {
	d.mu.Lock()
	if current, ok := d.sessions[ps.addr.String()]; !ok || current != ps {
		d.mu.Unlock()
		return
	}
	stats := ps.session.Stats()
	delete(d.sessions, ps.addr.String())
	ps.session.Close()
	d.mu.Unlock()

	metrics.SessionsClosed.Inc()
	metrics.SessionsActive.Dec()

	now := time.Now()
	d.emit(eventbus.ConnectionEvent{
		Kind:         eventbus.Disconnected,
		ConnectionID: ps.connectionID,
		Timestamp:    now,
		ClientAddr:   ps.addr.String(),
		Reason:       reason,
		Duration:     now.Sub(ps.createdAt),
		Stats: &eventbus.TransferStats{
			BytesRX:   stats.BytesRX,
			BytesTX:   stats.BytesTX,
			PacketsRX: stats.PacketsRX,
			PacketsTX: stats.PacketsTX,
		},
	})
}

// HandlePacket implements spec.md §4.7's three-way dispatch for a
// single datagram. It returns the wire frames to send back to addr,
// if any. The session map lock is held only for the lookup/insert,
// never across encryption or socket I/O.
func (d *Dispatcher) HandlePacket(addr net.Addr, raw []byte) ([][]byte, error) {
	opcode, _, err := protocol.ParseOpcodeKeyID(raw)
	if err != nil {
		return nil, err
	}

	switch {
	case opcode == protocol.HardResetClientV2 || opcode == protocol.HardResetClientV3:
		return d.handleHardReset(addr, raw)

	case opcode.IsData():
		return d.handleData(addr, raw)

	default:
		return d.handleControl(addr, raw)
	}
}

func (d *Dispatcher) handleHardReset(addr net.Addr, raw []byte) ([][]byte, error) {
	sess, err := session.New(session.Config{CipherSuite: d.cfg.CipherSuite, Transport: d.cfg.Transport})
	if err != nil {
		return nil, err
	}
	if d.cfg.TLSAuthKeys != nil {
		sess.SetTLSAuthKeys(d.cfg.TLSAuthKeys)
	}

	if _, err := sess.ProcessPacket(raw); err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, err
	}

	response, err := sess.CreateHardResetResponse()
	if err != nil {
		metrics.SessionsCreated.WithLabelValues("failure").Inc()
		return nil, err
	}

	ps := &peerSession{
		addr:         addr,
		session:      sess,
		connectionID: uuid.New(),
		createdAt:    time.Now(),
	}

	d.mu.Lock()
	d.sessions[addr.String()] = ps
	d.mu.Unlock()

	metrics.HandshakesInitiated.WithLabelValues("server").Inc()
	metrics.SessionsActive.Inc()
	metrics.SessionsCreated.WithLabelValues("success").Inc()

	opcode, _, _ := protocol.ParseOpcodeKeyID(raw)
	d.emit(eventbus.ConnectionEvent{
		Kind:            eventbus.ConnectionAttempt,
		ConnectionID:    ps.connectionID,
		Timestamp:       time.Now(),
		ClientAddr:      addr.String(),
		ProtocolVersion: opcode.String(),
	})

	return [][]byte{response}, nil
}

func (d *Dispatcher) handleControl(addr net.Addr, raw []byte) ([][]byte, error) {
	ps := d.lookup(addr)
	if ps == nil {
		metrics.MessagesProcessed.WithLabelValues("control", "miss").Inc()
		return nil, nil // miss: drop silently
	}

	// result.TLSRecords (if any) are handed to the TLS collaborator out
	// of band; regardless of what the control message carried, any
	// packets it newly ACKs are owed an ACK in return.
	if _, err := ps.session.ProcessPacket(raw); err != nil {
		metrics.MessagesProcessed.WithLabelValues("control", "failure").Inc()
		return nil, err
	}
	metrics.MessagesProcessed.WithLabelValues("control", "success").Inc()

	var outbound [][]byte
	ack, err := ps.session.CreateAckPacket()
	if err != nil {
		return nil, err
	}
	if ack != nil {
		outbound = append(outbound, ack)
	}

	return outbound, nil
}

func (d *Dispatcher) handleData(addr net.Addr, raw []byte) ([][]byte, error) {
	ps := d.lookup(addr)
	if ps == nil {
		metrics.MessagesProcessed.WithLabelValues("data", "miss").Inc()
		return nil, nil
	}
	if ps.session.State() != session.Established {
		metrics.MessagesProcessed.WithLabelValues("data", "not_established").Inc()
		return nil, nil
	}

	start := time.Now()
	if _, err := ps.session.ProcessPacket(raw); err != nil {
		metrics.MessagesProcessed.WithLabelValues("data", "failure").Inc()
		return nil, err
	}
	metrics.MessagesProcessed.WithLabelValues("data", "success").Inc()
	metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds())
	metrics.MessageSize.Observe(float64(len(raw)))
	// Delivery of the decrypted IP frame to a tunnel interface is out
	// of scope; ProcessPacket has already updated byte/packet stats.
	return nil, nil
}

// CompleteAuthentication is invoked by the TLS collaborator once it
// has decrypted an auth-user-pass (or bearer-token) application
// message for addr — the actual TLS record exchange is out of scope
// here. On success it installs data-channel keys and, if a
// PushBuilder is configured, returns the PUSH_REPLY plaintext the
// collaborator should TLS-encrypt and hand to
// Session.CreateControlPacket. On failure the session is left in
// whatever state ProcessPacket last set it to.
func (d *Dispatcher) CompleteAuthentication(addr net.Addr, payload []byte, material *crypto.KeyMaterial, isServer bool, peerID uint32, hasPeer bool) (string, error) {
	ps := d.lookup(addr)
	if ps == nil {
		return "", fmt.Errorf("server: no session for %s", addr)
	}
	if d.cfg.AuthProvider == nil {
		return "", fmt.Errorf("server: no auth provider configured")
	}

	start := time.Now()
	result, authErr := d.cfg.AuthProvider.Authenticate(context.Background(), payload)
	d.emit(eventbus.ConnectionEvent{
		Kind:         eventbus.Authentication,
		ConnectionID: ps.connectionID,
		Timestamp:    time.Now(),
		ClientAddr:   addr.String(),
		Username:     result.Username,
		AuthMethod:   result.Method,
		AuthResult:   authErr == nil,
	})
	if authErr != nil {
		metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		metrics.HandshakesFailed.WithLabelValues("auth").Inc()
		metrics.HandshakeDuration.WithLabelValues("authenticate").Observe(time.Since(start).Seconds())
		return "", authErr
	}
	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	metrics.HandshakeDuration.WithLabelValues("authenticate").Observe(time.Since(start).Seconds())

	ps.session.InstallKeys(material, isServer, peerID, hasPeer)

	if d.cfg.PushBuilder == nil {
		d.emit(eventbus.ConnectionEvent{
			Kind: eventbus.Connected, ConnectionID: ps.connectionID,
			Timestamp: time.Now(), ClientAddr: addr.String(), Username: result.Username,
		})
		return "", nil
	}

	reply, v4, _, err := d.cfg.PushBuilder.Build(24, 0)
	if err != nil {
		return "", err
	}

	d.emit(eventbus.ConnectionEvent{
		Kind: eventbus.Connected, ConnectionID: ps.connectionID,
		Timestamp: time.Now(), ClientAddr: addr.String(), Username: result.Username, VPNIP: v4.String(),
	})

	return reply.Encode(), nil
}

func (d *Dispatcher) lookup(addr net.Addr) *peerSession {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[addr.String()]
}

func (d *Dispatcher) emit(event eventbus.ConnectionEvent) {
	if d.anonymizer != nil {
		event = d.anonymizer.Apply(event)
	}
	_ = d.logger.Log(context.Background(), event)
}

// sweep reaps sessions whose last activity is older than the idle
// timeout, plus sessions still short of Established once
// HandshakeTimeout has elapsed since creation. Per spec.md §4.7's
// REQUIRED property, the map lock is released before any event is
// emitted.
func (d *Dispatcher) sweep() {
	now := time.Now()

	type reaped struct {
		ps     *peerSession
		stats  session.Stats
		reason eventbus.DisconnectReason
	}

	d.mu.Lock()
	var victims []reaped
	for key, ps := range d.sessions {
		reason := eventbus.ReasonIdleTimeout
		switch {
		case now.Sub(ps.session.LastActivity()) > d.cfg.IdleTimeout:
			// idle timeout, default reason above
		case ps.session.State() != session.Established && now.Sub(ps.createdAt) > d.cfg.HandshakeTimeout:
			reason = eventbus.ReasonProtocolError
		default:
			continue
		}
		victims = append(victims, reaped{ps: ps, stats: ps.session.Stats(), reason: reason})
		ps.session.Close()
		delete(d.sessions, key)
	}
	d.mu.Unlock()

	for range victims {
		metrics.SessionsExpired.Inc()
		metrics.SessionsActive.Dec()
	}

	for _, v := range victims {
		d.emit(eventbus.ConnectionEvent{
			Kind:         eventbus.Disconnected,
			ConnectionID: v.ps.connectionID,
			Timestamp:    now,
			ClientAddr:   v.ps.addr.String(),
			Reason:       v.reason,
			Duration:     now.Sub(v.ps.createdAt),
			Stats: &eventbus.TransferStats{
				BytesRX:   v.stats.BytesRX,
				BytesTX:   v.stats.BytesTX,
				PacketsRX: v.stats.PacketsRX,
				PacketsTX: v.stats.PacketsTX,
			},
		})
	}
}

// SessionCount reports the number of peer-keyed sessions currently
// tracked, for tests and metrics.
func (d *Dispatcher) SessionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Close closes every tracked session and flushes the logger. Callers
// running Run under a context should cancel it before calling Close.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	for _, ps := range d.sessions {
		ps.session.Close()
	}
	d.sessions = make(map[string]*peerSession)
	d.mu.Unlock()

	return d.logger.Flush(context.Background())
}
