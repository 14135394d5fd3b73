package pushconfig

import (
	"fmt"
	"net/netip"

	"github.com/corevpn/corevpn/addressing"
)

// Policy carries the server-side decisions a Builder bakes into every
// PushReply it produces: topology, routing, and DNS/DHCP options that
// don't depend on the individual client's allocated address.
type Policy struct {
	Topology        Topology
	RedirectGateway bool
	DNSServers      []string
	DHCPDomain      string
	Routes          []Route
	Ping            int
	PingRestart     int
}

// Builder assembles PushReply values by pairing an addressing.Pool
// allocation with a fixed Policy.
type Builder struct {
	pool   *addressing.Pool
	policy Policy
}

// NewBuilder returns a Builder that allocates addresses from pool and
// applies policy to every PushReply it produces.
func NewBuilder(pool *addressing.Pool, policy Policy) *Builder {
	return &Builder{pool: pool, policy: policy}
}

// netmaskV4 renders a /bits IPv4 prefix length as a dotted netmask,
// matching OpenVPN's `ifconfig V4 MASK` directive (not CIDR notation).
func netmaskV4(bits int) string {
	mask := uint32(0xFFFFFFFF) << uint(32-bits)
	return fmt.Sprintf("%d.%d.%d.%d", byte(mask>>24), byte(mask>>16), byte(mask>>8), byte(mask))
}

// Build allocates a fresh VPN IPv4 (and, if the pool has an IPv6
// range, IPv6) address and returns the PushReply to send the client,
// along with the allocated addresses so the caller can track them on
// the session and release them on disconnect.
func (b *Builder) Build(v4Bits, v6Bits int) (*PushReply, netip.Addr, netip.Addr, error) {
	v4, err := b.pool.AllocateV4()
	if err != nil {
		return nil, netip.Addr{}, netip.Addr{}, fmt.Errorf("pushconfig: allocate v4: %w", err)
	}

	var v6 netip.Addr
	hasV6 := false
	if v6Bits > 0 {
		v6, err = b.pool.AllocateV6()
		if err != nil {
			_ = b.pool.Release(v4)
			return nil, netip.Addr{}, netip.Addr{}, fmt.Errorf("pushconfig: allocate v6: %w", err)
		}
		hasV6 = true
	}

	reply := &PushReply{
		Topology:        b.policy.Topology,
		HasTopology:     b.policy.Topology != TopologyUnset,
		IfconfigV4:      v4.String(),
		IfconfigMask:    netmaskV4(v4Bits),
		HasIfconfig:     true,
		RedirectGateway: b.policy.RedirectGateway,
		Routes:          append([]Route(nil), b.policy.Routes...),
		HasPing:         b.policy.Ping > 0,
		Ping:            b.policy.Ping,
		HasPingRestart:  b.policy.PingRestart > 0,
		PingRestart:     b.policy.PingRestart,
	}

	if hasV6 {
		reply.HasIfconfigV6 = true
		reply.IfconfigV6 = fmt.Sprintf("%s/%d", v6, v6Bits)
	}

	for _, dns := range b.policy.DNSServers {
		reply.DHCPOptions = append(reply.DHCPOptions, DHCPOption{Kind: "DNS", Value: dns})
	}
	if b.policy.DHCPDomain != "" {
		reply.DHCPOptions = append(reply.DHCPOptions, DHCPOption{Kind: "DOMAIN", Value: b.policy.DHCPDomain})
	}

	return reply, v4, v6, nil
}

// Release returns a previously built pair of addresses to the pool.
// A zero-value addr (the IPv6 return from a v4-only Build) is skipped.
func (b *Builder) Release(v4, v6 netip.Addr) {
	if v4.IsValid() {
		_ = b.pool.Release(v4)
	}
	if v6.IsValid() {
		_ = b.pool.Release(v6)
	}
}
