package connection

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code3hr/cyxchat-sub001/chat"
	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/transport"
)

func newTestConnection(t *testing.T, self ids.NodeId, tr *transport.Fake) *Connection {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pub [ed25519.PublicKeySize]byte
	c, err := New(tr, tr, self, priv, pub, DefaultConfig(), chat.Config{}, chat.Callbacks{})
	require.NoError(t, err)
	return c
}

func twoConnections(t *testing.T) (ids.NodeId, ids.NodeId, *Connection, *Connection) {
	t.Helper()
	net := transport.NewNetwork()
	var a, b ids.NodeId
	a[0] = 1
	b[0] = 2
	ta := transport.NewFake(net, a, [32]byte{0xAA})
	tb := transport.NewFake(net, b, [32]byte{0xBB})

	ca := newTestConnection(t, a, ta)
	cb := newTestConnection(t, b, tb)
	return a, b, ca, cb
}

func TestConnectPromotesToConnectedOnInboundData(t *testing.T) {
	a, b, ca, cb := twoConnections(t)

	var gotState State
	var gotErr error
	require.NoError(t, ca.Connect(b, 0, func(peer ids.NodeId, s State, err error) {
		gotState = s
		gotErr = err
	}))

	st, err := ca.GetState(b)
	require.NoError(t, err)
	require.Equal(t, Connecting, st)

	_, err = cb.chat.SendText(a, "hi", nil)
	require.NoError(t, err)

	require.NoError(t, gotErr)
	require.Equal(t, Connected, gotState)
	st, err = ca.GetState(b)
	require.NoError(t, err)
	require.Equal(t, Connected, st)
}

func TestConnectTimesOutAndFallsBackToRelay(t *testing.T) {
	net := transport.NewNetwork()
	var a, b, server ids.NodeId
	a[0] = 1
	b[0] = 2
	server[0] = 3
	ta := transport.NewFake(net, a, [32]byte{})
	_ = transport.NewFake(net, b, [32]byte{})
	serverT := transport.NewFake(net, server, [32]byte{})

	ca := newTestConnection(t, a, ta)
	require.NoError(t, ca.AddRelay(serverT.RawAddr()))

	serverT.SetRawCallback(func(addr string, data []byte) {
		if len(data) == 0 {
			return
		}
		if data[0] == 0xF0 { // TypeConnect: payload is from:32B|to:32B
			ack := []byte{0xF1}
			ack = append(ack, data[1+ids.NodeIDSize:1+ids.NodeIDSize*2]...)
			ack = append(ack, 1)
			_ = serverT.Send(addr, ack)
		}
	})

	var gotState State
	var gotErr error
	require.NoError(t, ca.Connect(b, 0, func(peer ids.NodeId, s State, err error) {
		gotState = s
		gotErr = err
	}))

	ca.Poll(DefaultConfig().HolePunchTimeoutMS + 1)

	require.NoError(t, gotErr)
	require.Equal(t, Relaying, gotState)
	relayed, err := ca.IsRelayed(b)
	require.NoError(t, err)
	require.True(t, relayed)
}

func TestSendRoutesDirectWhenNotRelayed(t *testing.T) {
	a, b, ca, cb := twoConnections(t)

	require.NoError(t, ca.Connect(b, 0, func(ids.NodeId, State, error) {}))
	_, err := ca.chat.SendText(b, "ping", nil)
	require.NoError(t, err)

	ev, ok := cb.chat.RecvNext()
	require.True(t, ok)
	require.Equal(t, chat.EventText, ev.Kind)
	require.Equal(t, "ping", ev.Text)
}

func TestDisconnectCancelsPendingWithoutCallback(t *testing.T) {
	_, b, ca, _ := twoConnections(t)

	called := false
	require.NoError(t, ca.Connect(b, 0, func(ids.NodeId, State, error) { called = true }))
	require.NoError(t, ca.Disconnect(b))

	_, err := ca.GetState(b)
	require.Error(t, err)
	require.False(t, called)
}

func TestAnnounceThrottleSuppressesRepeat(t *testing.T) {
	a, b, ca, cb := twoConnections(t)

	// The receiver stamps LastKeyExchange with its own poll clock, so advance
	// it alongside the sender's announce times.
	cb.Poll(1000)
	require.NoError(t, ca.SendAnnounce(b, 1000))
	cb.Poll(1100)
	require.NoError(t, ca.SendAnnounce(b, 1100))

	info, err := cb.GetInfo(a)
	require.NoError(t, err)
	require.EqualValues(t, 1000, info.LastKeyExchange)
}

func TestGetStatusReportsActiveCount(t *testing.T) {
	a, b, ca, cb := twoConnections(t)
	require.NoError(t, ca.Connect(b, 0, func(ids.NodeId, State, error) {}))
	_, err := cb.chat.SendText(a, "hi", nil)
	require.NoError(t, err)

	status := ca.GetStatus()
	require.Equal(t, 1, status.Active)
	require.Equal(t, 0, status.Relayed)
}

func TestConnectRejectsDuplicatePending(t *testing.T) {
	_, b, ca, _ := twoConnections(t)
	require.NoError(t, ca.Connect(b, 0, func(ids.NodeId, State, error) {}))
	err := ca.Connect(b, 0, func(ids.NodeId, State, error) {})
	require.Error(t, err)
}

// TestReceiveOnlyPeerSurvivesWallClockPoll guards against stamping inbound
// activity with a hardcoded 0: under a real daemon, Poll is driven by
// wall-clock unix-ms (~1.7e12), so a peer promoted to Connected purely by an
// inbound frame (it never sends) must not be evicted on the very next Poll
// tick just because its activity timestamp predates the poll domain.
func TestReceiveOnlyPeerSurvivesWallClockPoll(t *testing.T) {
	a, b, ca, cb := twoConnections(t)

	const wallClockStart int64 = 1_700_000_000_000

	// Establish the realistic poll clock before any traffic arrives, the way
	// a long-running daemon's poll loop would.
	ca.Poll(wallClockStart)

	require.NoError(t, ca.Connect(b, wallClockStart, func(ids.NodeId, State, error) {}))

	// b -> a only; a never sends, so its activity is stamped solely by the
	// inbound callback path (handleDeliver), not by an outbound Send call.
	_, err := cb.chat.SendText(a, "hi", nil)
	require.NoError(t, err)

	st, err := ca.GetState(b)
	require.NoError(t, err)
	require.Equal(t, Connected, st)

	// A poll tick shortly after (well under ConnTimeoutMS) must not evict a
	// peer whose only activity was receiving.
	ca.Poll(wallClockStart + 200)

	st, err = ca.GetState(b)
	require.NoError(t, err)
	require.Equal(t, Connected, st)
}
