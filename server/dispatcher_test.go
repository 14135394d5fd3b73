package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/corevpn/corevpn/addressing"
	"github.com/corevpn/corevpn/auth"
	"github.com/corevpn/corevpn/crypto"
	"github.com/corevpn/corevpn/eventbus"
	"github.com/corevpn/corevpn/internal/metrics"
	"github.com/corevpn/corevpn/protocol"
	"github.com/corevpn/corevpn/pushconfig"
)

type testAddr string

func (a testAddr) Network() string { return "udp" }
func (a testAddr) String() string  { return string(a) }

func hardResetClientBytes(sessionID protocol.SessionID) []byte {
	pkt := &protocol.ControlPacket{
		Opcode:             protocol.HardResetClientV2,
		SessionID:          sessionID,
		MessagePacketID:    0,
		HasMessagePacketID: true,
	}
	return pkt.Serialize()
}

func newTestDispatcher(t *testing.T, logger eventbus.Logger) *Dispatcher {
	t.Helper()
	if logger == nil {
		logger = eventbus.NewNullLogger()
	}
	return NewDispatcher(nil, Config{CipherSuite: crypto.ChaCha20Poly1305}, logger, nil)
}

func TestHandleHardResetCreatesSessionAndEmitsConnectionAttempt(t *testing.T) {
	logger := eventbus.NewMemoryLogger(100)
	d := newTestDispatcher(t, logger)
	defer d.Close()

	addr := testAddr("203.0.113.1:1194")
	var remote protocol.SessionID
	copy(remote[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	outbound, err := d.HandlePacket(addr, hardResetClientBytes(remote))
	require.NoError(t, err)
	require.Len(t, outbound, 1)
	require.Equal(t, 1, d.SessionCount())

	events, err := logger.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, eventbus.ConnectionAttempt, events[0].Kind)
	require.Equal(t, "203.0.113.1:1194", events[0].ClientAddr)
}

func TestHandleControlMissSilentlyDrops(t *testing.T) {
	d := newTestDispatcher(t, nil)
	defer d.Close()

	addr := testAddr("203.0.113.2:1194")
	pkt := &protocol.ControlPacket{Opcode: protocol.AckV1, SessionID: protocol.SessionID{1}}

	outbound, err := d.HandlePacket(addr, pkt.Serialize())
	require.NoError(t, err)
	require.Empty(t, outbound)
}

func TestHandleDataDropsBeforeEstablished(t *testing.T) {
	d := newTestDispatcher(t, nil)
	defer d.Close()

	addr := testAddr("203.0.113.3:1194")
	var remote protocol.SessionID
	copy(remote[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	_, err := d.HandlePacket(addr, hardResetClientBytes(remote))
	require.NoError(t, err)

	dataPkt := &protocol.DataPacket{Opcode: protocol.DataV1, KeyID: 0, Payload: []byte{1, 2, 3}}
	outbound, err := d.HandlePacket(addr, dataPkt.Serialize())
	require.NoError(t, err)
	require.Empty(t, outbound)
}

func TestSweepReapsIdleSessionsAndEmitsDisconnected(t *testing.T) {
	logger := eventbus.NewMemoryLogger(100)
	d := NewDispatcher(nil, Config{
		CipherSuite:   crypto.ChaCha20Poly1305,
		SweepInterval: time.Hour, // prevent the background ticker from racing the test
		IdleTimeout:   time.Nanosecond, // any session is idle by the time sweep runs
	}, logger, nil)
	defer d.Close()

	addr := testAddr("203.0.113.4:1194")
	var remote protocol.SessionID
	copy(remote[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	_, err := d.HandlePacket(addr, hardResetClientBytes(remote))
	require.NoError(t, err)
	require.Equal(t, 1, d.SessionCount())

	d.sweep()
	require.Equal(t, 0, d.SessionCount())

	events, err := logger.QueryRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, eventbus.Disconnected, events[1].Kind)
	require.Equal(t, eventbus.ReasonIdleTimeout, events[1].Reason)
}

func TestCompleteAuthenticationInstallsKeysAndBuildsPushReply(t *testing.T) {
	pool, err := addressing.NewPool("10.8.0.0/24", "")
	require.NoError(t, err)
	builder := pushconfig.NewBuilder(pool, pushconfig.Policy{Topology: pushconfig.TopologySubnet})

	provider := auth.NewStaticProvider(map[string]string{"alice": "hunter2"})

	d := NewDispatcher(nil, Config{
		CipherSuite:  crypto.ChaCha20Poly1305,
		AuthProvider: provider,
		PushBuilder:  builder,
	}, eventbus.NewNullLogger(), nil)
	defer d.Close()

	addr := testAddr("203.0.113.5:1194")
	var remote protocol.SessionID
	copy(remote[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	_, err = d.HandlePacket(addr, hardResetClientBytes(remote))
	require.NoError(t, err)

	payload := append([]byte("alice"), 0)
	payload = append(payload, []byte("hunter2")...)
	payload = append(payload, 0)

	material := testKeyMaterial()
	reply, err := d.CompleteAuthentication(addr, payload, material, true, 0, false)
	require.NoError(t, err)
	require.Contains(t, reply, "PUSH_REPLY")
	require.Contains(t, reply, "topology subnet")
}

func TestCompleteAuthenticationFailsWithoutSession(t *testing.T) {
	d := newTestDispatcher(t, nil)
	defer d.Close()

	d.cfg.AuthProvider = auth.NewStaticProvider(nil)
	_, err := d.CompleteAuthentication(testAddr("203.0.113.6:1194"), nil, nil, true, 0, false)
	require.Error(t, err)
}

func TestHandleHardResetIncrementsHandshakeAndSessionMetrics(t *testing.T) {
	d := newTestDispatcher(t, nil)
	defer d.Close()

	before := testutil.ToFloat64(metrics.HandshakesInitiated.WithLabelValues("server"))

	addr := testAddr("203.0.113.7:1194")
	var remote protocol.SessionID
	copy(remote[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	_, err := d.HandlePacket(addr, hardResetClientBytes(remote))
	require.NoError(t, err)

	after := testutil.ToFloat64(metrics.HandshakesInitiated.WithLabelValues("server"))
	require.Equal(t, before+1, after)
}

func TestCompleteAuthenticationIncrementsHandshakeCompletedMetric(t *testing.T) {
	provider := auth.NewStaticProvider(map[string]string{"alice": "hunter2"})
	d := NewDispatcher(nil, Config{
		CipherSuite:  crypto.ChaCha20Poly1305,
		AuthProvider: provider,
	}, eventbus.NewNullLogger(), nil)
	defer d.Close()

	addr := testAddr("203.0.113.8:1194")
	var remote protocol.SessionID
	copy(remote[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	_, err := d.HandlePacket(addr, hardResetClientBytes(remote))
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.HandshakesCompleted.WithLabelValues("success"))

	payload := append([]byte("alice"), 0)
	payload = append(payload, []byte("hunter2")...)
	payload = append(payload, 0)
	_, err = d.CompleteAuthentication(addr, payload, testKeyMaterial(), true, 0, false)
	require.NoError(t, err)

	after := testutil.ToFloat64(metrics.HandshakesCompleted.WithLabelValues("success"))
	require.Equal(t, before+1, after)
}

func testKeyMaterial() *crypto.KeyMaterial {
	var m crypto.KeyMaterial
	for i := range m.ServerWrite {
		m.ServerWrite[i] = 0x11
	}
	for i := range m.ClientWrite {
		m.ClientWrite[i] = 0x22
	}
	return &m
}

var _ = net.Addr(testAddr(""))
