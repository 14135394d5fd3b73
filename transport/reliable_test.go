package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReceiveReorderLiteralScenario(t *testing.T) {
	r := NewReliable(DefaultConfig())

	delivered := r.Receive(0, []byte("first"))
	require.Equal(t, [][]byte{[]byte("first")}, delivered)

	delivered = r.Receive(2, []byte("third"))
	require.Empty(t, delivered)

	delivered = r.Receive(1, []byte("second"))
	require.Equal(t, [][]byte{[]byte("second"), []byte("third")}, delivered)
}

func TestReceiveInOrderReturnsInSendOrder(t *testing.T) {
	r := NewReliable(DefaultConfig())
	for i := uint32(0); i < 5; i++ {
		delivered := r.Receive(i, []byte{byte(i)})
		require.Equal(t, [][]byte{{byte(i)}}, delivered)
	}
}

func TestReceiveDuplicateDropped(t *testing.T) {
	r := NewReliable(DefaultConfig())
	r.Receive(0, []byte("a"))
	delivered := r.Receive(0, []byte("a-dup"))
	require.Empty(t, delivered)
}

func TestSendWindowExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendWindow = 2
	r := NewReliable(cfg)

	_, _, err := r.Send([]byte("a"))
	require.NoError(t, err)
	_, _, err = r.Send([]byte("b"))
	require.NoError(t, err)
	_, _, err = r.Send([]byte("c"))
	require.ErrorIs(t, err, ErrSendWindowFull)

	r.ProcessAcks([]uint32{0})
	_, _, err = r.Send([]byte("c"))
	require.NoError(t, err)
}

func TestRetransmitExhaustionIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetransmits = 1
	cfg.InitialRTO = time.Millisecond
	r := NewReliable(cfg)

	_, _, err := r.Send([]byte("payload"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	retransmits, err := r.GetRetransmits()
	require.NoError(t, err)
	require.Len(t, retransmits, 1)

	time.Sleep(5 * time.Millisecond)
	_, err = r.GetRetransmits()
	require.ErrorIs(t, err, ErrRetransmitExhausted)
}

func TestShouldSendAckPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AckDelay = 10 * time.Millisecond
	r := NewReliable(cfg)

	require.False(t, r.ShouldSendAck())
	r.Receive(0, []byte("x"))
	require.True(t, r.ShouldSendAck())

	acks := r.GetAcks()
	require.Equal(t, []uint32{0}, acks)
	r.AckSent()

	r.Receive(1, []byte("y"))
	require.False(t, r.ShouldSendAck())
	time.Sleep(15 * time.Millisecond)
	require.True(t, r.ShouldSendAck())
}

func TestRTTEstimateSeedsFromFirstSample(t *testing.T) {
	r := NewReliable(DefaultConfig())
	_, _, err := r.Send([]byte("payload"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r.ProcessAcks([]uint32{0})

	require.True(t, r.rtoSet)
	require.Equal(t, r.srtt/2, r.rttvar)
}

func TestRTTNotUpdatedOnRetransmittedAck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialRTO = time.Millisecond
	r := NewReliable(cfg)

	_, _, err := r.Send([]byte("payload"))
	require.NoError(t, err)
	time.Sleep(3 * time.Millisecond)
	_, err = r.GetRetransmits()
	require.NoError(t, err)

	r.ProcessAcks([]uint32{0})
	require.False(t, r.rtoSet, "Karn's rule: a retransmitted packet's ack must not update RTT")
}
