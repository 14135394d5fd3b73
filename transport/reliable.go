// Package transport implements the control-channel reliable transport:
// at-most-once ordered delivery over an unordered datagram substrate,
// RFC 6298 RTT-estimated retransmission, and TLS record reassembly.
// Grounded on core/handshake/server.go's cleanupTicker background-sweep
// pattern (generalized into the retransmit-timeout sweep) and on
// session/manager.go's channel-based stop/cleanup goroutine shape; the
// RTT/RTO arithmetic itself has no teacher analog and follows RFC 6298
// as spec.md §4.5 directs.
package transport

import (
	"errors"
	"time"
)

const (
	DefaultSendWindow     = 8
	DefaultMaxRetransmits = 10
	DefaultBackoff        = 2.0
	DefaultAckDelay       = 100 * time.Millisecond
	DefaultInitialRTO     = time.Second
	DefaultMaxRTO         = 60 * time.Second
	maxACKsPerFrame       = 255
)

var (
	// ErrSendWindowFull is transient: the caller retries once an ACK
	// drains the window.
	ErrSendWindowFull = errors.New("transport: send window full")

	// ErrRetransmitExhausted is connection-fatal: the session must
	// transition to Terminated and be reaped.
	ErrRetransmitExhausted = errors.New("transport: retransmit exhaustion")
)

// Config tunes the reliable transport's policy knobs.
type Config struct {
	SendWindow     int
	MaxRetransmits int
	Backoff        float64
	AckDelay       time.Duration
	InitialRTO     time.Duration
	MaxRTO         time.Duration
}

// DefaultConfig returns spec.md §4.5's defaults.
func DefaultConfig() Config {
	return Config{
		SendWindow:     DefaultSendWindow,
		MaxRetransmits: DefaultMaxRetransmits,
		Backoff:        DefaultBackoff,
		AckDelay:       DefaultAckDelay,
		InitialRTO:     DefaultInitialRTO,
		MaxRTO:         DefaultMaxRTO,
	}
}

func (c Config) withDefaults() Config {
	if c.SendWindow == 0 {
		c.SendWindow = DefaultSendWindow
	}
	if c.MaxRetransmits == 0 {
		c.MaxRetransmits = DefaultMaxRetransmits
	}
	if c.Backoff == 0 {
		c.Backoff = DefaultBackoff
	}
	if c.AckDelay == 0 {
		c.AckDelay = DefaultAckDelay
	}
	if c.InitialRTO == 0 {
		c.InitialRTO = DefaultInitialRTO
	}
	if c.MaxRTO == 0 {
		c.MaxRTO = DefaultMaxRTO
	}
	return c
}

// pendingSend is a packet sent but not yet acked.
type pendingSend struct {
	packetID         uint32
	payload          []byte
	sentAt           time.Time
	nextDeadline     time.Time
	rto              time.Duration
	retransmitCount  int
	retransmitted    bool
}

// receiveBuffer holds a not-yet-deliverable control payload awaiting
// its predecessor.
type receiveBuffer struct {
	packetID uint32
	payload  []byte
}

// Retransmit is one packet get_retransmits() asks the caller to
// re-emit, rebuilt with its original packet-id and no ACK piggyback.
type Retransmit struct {
	PacketID uint32
	Payload  []byte
}

// Reliable implements spec.md §4.5's at-most-once ordered control
// channel: send/receive/process_acks/get_retransmits/get_acks/
// should_send_ack/ack_sent/next_timeout.
type Reliable struct {
	cfg Config

	nextSendID uint32
	pending    []*pendingSend

	nextExpectedRecv uint32
	buffered         []receiveBuffer

	pendingAcks  []uint32
	lastAckSent  time.Time
	ackSentOnce  bool

	srtt    time.Duration
	rttvar  time.Duration
	rtoSet  bool
	rto     time.Duration
}

// NewReliable constructs a Reliable transport with cfg (zero fields
// fall back to DefaultConfig's values). Control-channel packet-ids
// start at 0, per spec.md §8 scenario 4 (unlike the data-channel AEAD
// counter, which reserves 0 as invalid).
func NewReliable(cfg Config) *Reliable {
	cfg = cfg.withDefaults()
	return &Reliable{
		cfg: cfg,
		rto: cfg.InitialRTO,
	}
}

// Send queues payload for reliable delivery, returning its assigned
// packet-id and the bytes the caller should transmit. Fails with
// ErrSendWindowFull once len(pending) reaches the configured window.
func (r *Reliable) Send(payload []byte) (uint32, []byte, error) {
	if len(r.pending) >= r.cfg.SendWindow {
		return 0, nil, ErrSendWindowFull
	}

	id := r.nextSendID
	r.nextSendID++

	now := time.Now()
	r.pending = append(r.pending, &pendingSend{
		packetID:     id,
		payload:      payload,
		sentAt:       now,
		nextDeadline: now.Add(r.rto),
		rto:          r.rto,
	})

	return id, payload, nil
}

// Receive processes an incoming control payload at packetID. It
// returns every newly-deliverable payload in ascending order — both
// the one just received (if in-order) and any previously-buffered
// successors it unblocks — per spec.md §9's REQUIRED fix to the
// source's single-value receive.
func (r *Reliable) Receive(packetID uint32, payload []byte) [][]byte {
	r.pendingAcks = append(r.pendingAcks, packetID)

	if packetID < r.nextExpectedRecv {
		return nil // duplicate or stale; still acked above
	}
	if packetID > r.nextExpectedRecv {
		r.bufferOutOfOrder(packetID, payload)
		return nil
	}

	delivered := [][]byte{payload}
	r.nextExpectedRecv++
	delivered = append(delivered, r.drainBuffered()...)
	return delivered
}

func (r *Reliable) bufferOutOfOrder(packetID uint32, payload []byte) {
	for _, b := range r.buffered {
		if b.packetID == packetID {
			return // already buffered
		}
	}
	r.buffered = append(r.buffered, receiveBuffer{packetID: packetID, payload: payload})
}

func (r *Reliable) drainBuffered() [][]byte {
	var delivered [][]byte
	for {
		found := -1
		for i, b := range r.buffered {
			if b.packetID == r.nextExpectedRecv {
				found = i
				break
			}
		}
		if found == -1 {
			return delivered
		}
		delivered = append(delivered, r.buffered[found].payload)
		r.buffered = append(r.buffered[:found], r.buffered[found+1:]...)
		r.nextExpectedRecv++
	}
}

// ProcessAcks removes acked packets from the pending-send list and
// updates the RTT estimate (RFC 6298) from any non-retransmitted one.
func (r *Reliable) ProcessAcks(acks []uint32) {
	ackSet := make(map[uint32]bool, len(acks))
	for _, a := range acks {
		ackSet[a] = true
	}

	now := time.Now()
	kept := r.pending[:0]
	for _, p := range r.pending {
		if !ackSet[p.packetID] {
			kept = append(kept, p)
			continue
		}
		if !p.retransmitted {
			r.updateRTT(now.Sub(p.sentAt))
		}
	}
	r.pending = kept
}

// updateRTT applies RFC 6298's α=1/8, β=1/4 formulas. Karn's rule is
// enforced by the caller (ProcessAcks only calls this for
// non-retransmitted packets).
func (r *Reliable) updateRTT(sample time.Duration) {
	if !r.rtoSet {
		r.srtt = sample
		r.rttvar = sample / 2
		r.rtoSet = true
	} else {
		diff := r.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		r.rttvar = (r.rttvar*3 + diff) / 4
		r.srtt = (r.srtt*7 + sample) / 8
	}

	rto := r.srtt + 4*r.rttvar
	if rto < r.cfg.InitialRTO {
		rto = r.cfg.InitialRTO
	}
	if rto > r.cfg.MaxRTO {
		rto = r.cfg.MaxRTO
	}
	r.rto = rto
}

// GetRetransmits returns every pending packet whose deadline has
// passed, rebuilt with a bumped retransmit count and backed-off RTO.
// A packet exceeding MaxRetransmits yields ErrRetransmitExhausted.
func (r *Reliable) GetRetransmits() ([]Retransmit, error) {
	now := time.Now()
	var out []Retransmit

	for _, p := range r.pending {
		if now.Before(p.nextDeadline) {
			continue
		}
		if p.retransmitCount >= r.cfg.MaxRetransmits {
			return nil, ErrRetransmitExhausted
		}

		p.retransmitCount++
		p.retransmitted = true
		p.rto = time.Duration(float64(p.rto) * r.cfg.Backoff)
		if p.rto > r.cfg.MaxRTO {
			p.rto = r.cfg.MaxRTO
		}
		p.nextDeadline = now.Add(p.rto)

		out = append(out, Retransmit{PacketID: p.packetID, Payload: p.payload})
	}
	return out, nil
}

// GetAcks drains and returns the pending-ACK deque, capped at 255 ACKs
// (the wire format's limit).
func (r *Reliable) GetAcks() []uint32 {
	if len(r.pendingAcks) == 0 {
		return nil
	}
	n := len(r.pendingAcks)
	if n > maxACKsPerFrame {
		n = maxACKsPerFrame
	}
	out := r.pendingAcks[:n]
	r.pendingAcks = r.pendingAcks[n:]
	return out
}

// ShouldSendAck reports whether an ACK frame is due: the deque is
// non-empty and either none has been sent yet or the delay has elapsed.
func (r *Reliable) ShouldSendAck() bool {
	if len(r.pendingAcks) == 0 {
		return false
	}
	if !r.ackSentOnce {
		return true
	}
	return time.Since(r.lastAckSent) >= r.cfg.AckDelay
}

// AckSent records that an ACK frame was just emitted.
func (r *Reliable) AckSent() {
	r.ackSentOnce = true
	r.lastAckSent = time.Now()
}

// NextTimeout returns the duration until the earliest pending
// retransmit deadline, or nil if nothing is pending.
func (r *Reliable) NextTimeout() *time.Duration {
	if len(r.pending) == 0 {
		return nil
	}
	earliest := r.pending[0].nextDeadline
	for _, p := range r.pending[1:] {
		if p.nextDeadline.Before(earliest) {
			earliest = p.nextDeadline
		}
	}
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	return &d
}

// PendingCount reports the number of unacked sent packets.
func (r *Reliable) PendingCount() int { return len(r.pending) }
