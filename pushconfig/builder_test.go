package pushconfig

import (
	"testing"

	"github.com/corevpn/corevpn/addressing"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		Topology:        TopologySubnet,
		RedirectGateway: true,
		DNSServers:      []string{"1.1.1.1"},
		DHCPDomain:      "corevpn.internal",
		Routes: []Route{
			{Net: "192.168.1.0", Mask: "255.255.255.0", Gateway: "vpn_gateway", HasGateway: true},
		},
		Ping:        10,
		PingRestart: 60,
	}
}

func TestBuilderAllocatesAndFillsPushReply(t *testing.T) {
	pool, err := addressing.NewPool("10.8.0.0/24", "")
	require.NoError(t, err)
	b := NewBuilder(pool, testPolicy())

	reply, v4, v6, err := b.Build(24, 0)
	require.NoError(t, err)
	require.False(t, v6.IsValid())
	require.Equal(t, v4.String(), reply.IfconfigV4)
	require.Equal(t, "255.255.255.0", reply.IfconfigMask)
	require.True(t, reply.RedirectGateway)
	require.Equal(t, TopologySubnet, reply.Topology)
	require.Contains(t, reply.DHCPOptions, DHCPOption{Kind: "DNS", Value: "1.1.1.1"})
	require.Contains(t, reply.DHCPOptions, DHCPOption{Kind: "DOMAIN", Value: "corevpn.internal"})
	require.Equal(t, 10, reply.Ping)
	require.Equal(t, 60, reply.PingRestart)
}

func TestBuilderAllocatesV6WhenRequested(t *testing.T) {
	pool, err := addressing.NewPool("10.8.0.0/24", "fd00:dead:beef::/112")
	require.NoError(t, err)
	b := NewBuilder(pool, testPolicy())

	reply, v4, v6, err := b.Build(24, 112)
	require.NoError(t, err)
	require.True(t, v6.IsValid())
	require.True(t, v4.IsValid())
	require.True(t, reply.HasIfconfigV6)
	require.Contains(t, reply.IfconfigV6, v6.String())
}

func TestBuilderReleaseReturnsAddressesToPool(t *testing.T) {
	pool, err := addressing.NewPool("10.8.0.0/29", "")
	require.NoError(t, err)
	b := NewBuilder(pool, testPolicy())

	_, v4, v6, err := b.Build(29, 0)
	require.NoError(t, err)
	require.False(t, v6.IsValid())

	b.Release(v4, v6)
	stats := pool.Stats()
	require.Equal(t, 0, stats.V4Allocated)
}

func TestBuilderPropagatesPoolExhaustion(t *testing.T) {
	pool, err := addressing.NewPool("10.8.0.0/30", "")
	require.NoError(t, err)
	b := NewBuilder(pool, testPolicy())

	// /30 reserves network, gateway and broadcast, leaving exactly one
	// free host address; the second allocation must fail.
	_, _, _, err = b.Build(30, 0)
	require.NoError(t, err)

	_, _, _, err = b.Build(30, 0)
	require.ErrorIs(t, err, addressing.ErrPoolExhausted)
}

func TestNetmaskV4RendersDottedForm(t *testing.T) {
	require.Equal(t, "255.255.255.0", netmaskV4(24))
	require.Equal(t, "255.255.255.252", netmaskV4(30))
	require.Equal(t, "255.255.0.0", netmaskV4(16))
}
