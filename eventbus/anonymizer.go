package eventbus

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Anonymizer is a pure (event) -> event transform applied by the
// dispatcher immediately before Log, per spec.md §4.8.
type Anonymizer struct {
	HashIPs         bool
	TruncateIPs     bool
	HashUsernames   bool
	RoundTimestamps bool
	BucketStats     bool

	salt [32]byte
	day  int64
}

// NewAnonymizer derives the hashing salt from secret and the current UTC
// day. The salt is derived once, here: secret is not retained, and Apply
// keeps using the same salt after the UTC day changes.
func NewAnonymizer(secret []byte) *Anonymizer {
	a := &Anonymizer{}
	a.rotateSalt(secret, time.Now().UTC())
	return a
}

func (a *Anonymizer) rotateSalt(secret []byte, now time.Time) {
	day := now.Unix() / 86400
	if day == a.day && a.salt != [32]byte{} {
		return
	}
	var dayBytes [8]byte
	binary.BigEndian.PutUint64(dayBytes[:], uint64(day))
	mac := hmac.New(sha256.New, secret)
	mac.Write(dayBytes[:])
	copy(a.salt[:], mac.Sum(nil))
	a.day = day
}

// Apply returns a copy of event transformed according to the enabled
// flags; the caller's event and its Stats are not modified. Callers can
// chain: `log(anon.Apply(event))`.
func (a *Anonymizer) Apply(event ConnectionEvent) ConnectionEvent {
	event.ClientAddr = a.anonymizeAddr(event.ClientAddr)
	if event.Username != "" && a.HashUsernames {
		event.Username = a.hashUsername(event.Username)
	}
	if a.RoundTimestamps {
		event.Timestamp = event.Timestamp.Truncate(time.Hour)
	}
	if a.BucketStats && event.Stats != nil {
		bucketed := bucketStats(*event.Stats)
		event.Stats = &bucketed
	}
	return event
}

// anonymizeAddr always zeroes the port, then hashes or truncates the
// IP per the configured flags, per spec.md §4.8.
func (a *Anonymizer) anonymizeAddr(addr string) string {
	if addr == "" {
		return addr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return net.JoinHostPort(host, "0")
	}

	switch {
	case a.HashIPs:
		ip = a.hashIP(ip)
	case a.TruncateIPs:
		ip = truncateIP(ip)
	}
	return net.JoinHostPort(ip.String(), "0")
}

// hashIP maps the address into a documentation/benchmark range so the
// hashed value is still recognizably an anonymized address: IPv4 into
// 0.0.0.0/8, IPv6 into 2001:db8::/32.
func (a *Anonymizer) hashIP(ip netip.Addr) netip.Addr {
	mac := hmac.New(sha256.New, a.salt[:])
	mac.Write(ip.AsSlice())
	sum := mac.Sum(nil)

	if ip.Is4() {
		var b [4]byte
		b[0] = 0
		copy(b[1:], sum[:3])
		return netip.AddrFrom4(b)
	}

	var b [16]byte
	b[0], b[1] = 0x20, 0x01
	b[2], b[3] = 0x0d, 0xb8
	copy(b[4:], sum[:12])
	return netip.AddrFrom16(b)
}

// truncateIP zeroes the host bits: /24 for v4, /48 for v6.
func truncateIP(ip netip.Addr) netip.Addr {
	bits := 24
	if ip.Is6() && !ip.Is4In6() {
		bits = 48
	}
	prefix := netip.PrefixFrom(ip, bits)
	return prefix.Masked().Addr()
}

func (a *Anonymizer) hashUsername(username string) string {
	mac := hmac.New(sha256.New, a.salt[:])
	mac.Write([]byte(username))
	return "user_" + fmt.Sprintf("%x", mac.Sum(nil))[:16]
}

// bucketStats rounds every counter down to the nearest power of ten,
// per spec.md §4.8's "bucket transfer stats into power-of-ten ranges".
func bucketStats(s TransferStats) TransferStats {
	return TransferStats{
		BytesRX:   bucketPow10(s.BytesRX),
		BytesTX:   bucketPow10(s.BytesTX),
		PacketsRX: bucketPow10(s.PacketsRX),
		PacketsTX: bucketPow10(s.PacketsTX),
	}
}

func bucketPow10(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	p := uint64(1)
	for v/p >= 10 {
		p *= 10
	}
	return p
}
