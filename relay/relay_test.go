package relay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/transport"
)

func TestRelayConnectQueuesUntilAck(t *testing.T) {
	net := transport.NewNetwork()
	var self, peer, serverNode ids.NodeId
	self[0] = 1
	peer[0] = 2
	serverNode[0] = 3

	selfT := transport.NewFake(net, self, [32]byte{})
	serverT := transport.NewFake(net, serverNode, [32]byte{})
	serverAddr := serverT.RawAddr()

	var acked bool
	serverT.SetRawCallback(func(addr string, data []byte) {
		if len(data) < 1 {
			return
		}
		switch data[0] {
		case TypeConnect:
			from, _, err := decodeConnect(data[1:])
			require.NoError(t, err)
			ackFrame := encodeConnectAck(from, true)
			require.NoError(t, serverT.Send(addr, ackFrame))
			acked = true
		}
	})

	var gotOpen bool
	client := New(selfT, self, []string{serverAddr}, nil, func(p ids.NodeId, st CircuitState) {
		if st == StateOpen {
			gotOpen = true
		}
	})

	require.NoError(t, client.Connect(peer, 0))
	require.True(t, gotOpen)
	require.True(t, acked)
	require.True(t, client.IsConnected(peer))
}

func TestRelaySendQueuesBeforeAck(t *testing.T) {
	net := transport.NewNetwork()
	var self, peer, serverNode ids.NodeId
	self[0] = 1
	peer[0] = 2
	serverNode[0] = 3

	selfT := transport.NewFake(net, self, [32]byte{})
	serverT := transport.NewFake(net, serverNode, [32]byte{})
	serverAddr := serverT.RawAddr()

	var receivedData [][]byte
	serverT.SetRawCallback(func(addr string, data []byte) {
		if len(data) < 1 {
			return
		}
		if data[0] == TypeData {
			receivedData = append(receivedData, append([]byte(nil), data...))
		}
	})

	client := New(selfT, self, []string{serverAddr}, nil, nil)

	// The server callback above records DATA frames but never acks CONNECT,
	// so the circuit stays unacknowledged and Send must queue, not transmit.
	require.NoError(t, client.Connect(peer, 0))
	require.NoError(t, client.Send(peer, []byte("hello"), 0))
	require.Empty(t, receivedData)
}

func TestRelayConnectAckFailureClosesCircuit(t *testing.T) {
	net := transport.NewNetwork()
	var self, peer, serverNode ids.NodeId
	self[0] = 1
	peer[0] = 2
	serverNode[0] = 3

	selfT := transport.NewFake(net, self, [32]byte{})
	serverT := transport.NewFake(net, serverNode, [32]byte{})
	serverAddr := serverT.RawAddr()

	serverT.SetRawCallback(func(addr string, data []byte) {
		if len(data) < 1 || data[0] != TypeConnect {
			return
		}
		from, _, err := decodeConnect(data[1:])
		require.NoError(t, err)
		require.NoError(t, serverT.Send(addr, encodeConnectAck(from, false)))
	})

	var closed bool
	client := New(selfT, self, []string{serverAddr}, nil, func(p ids.NodeId, st CircuitState) {
		if st == StateClosed {
			closed = true
		}
	})

	require.NoError(t, client.Connect(peer, 0))
	require.True(t, closed)
	require.False(t, client.IsConnected(peer))
}

func TestRelayDataDeliveredToCallback(t *testing.T) {
	net := transport.NewNetwork()
	var self, peer, serverNode ids.NodeId
	self[0] = 1
	peer[0] = 2
	serverNode[0] = 3

	selfT := transport.NewFake(net, self, [32]byte{})
	serverT := transport.NewFake(net, serverNode, [32]byte{})
	serverAddr := serverT.RawAddr()

	var gotFrom ids.NodeId
	var gotData []byte
	client := New(selfT, self, []string{serverAddr}, func(from ids.NodeId, data []byte) {
		gotFrom = from
		gotData = data
	}, nil)

	frame, err := encodeData(peer, self, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, serverT.Send(selfT.RawAddr(), frame))

	require.Equal(t, peer, gotFrom)
	require.Equal(t, []byte("payload"), gotData)
}

func TestRelayPollTimesOutIdleCircuit(t *testing.T) {
	net := transport.NewNetwork()
	var self, peer, serverNode ids.NodeId
	self[0] = 1
	peer[0] = 2
	serverNode[0] = 3

	selfT := transport.NewFake(net, self, [32]byte{})
	serverT := transport.NewFake(net, serverNode, [32]byte{})
	serverAddr := serverT.RawAddr()

	serverT.SetRawCallback(func(addr string, data []byte) {
		if len(data) < 1 || data[0] != TypeConnect {
			return
		}
		from, _, err := decodeConnect(data[1:])
		require.NoError(t, err)
		require.NoError(t, serverT.Send(addr, encodeConnectAck(from, true)))
	})

	var closed bool
	client := New(selfT, self, []string{serverAddr}, nil, func(p ids.NodeId, st CircuitState) {
		if st == StateClosed {
			closed = true
		}
	})

	require.NoError(t, client.Connect(peer, 0))
	client.Poll(TimeoutMS + 1)
	require.True(t, closed)
	require.Equal(t, 0, client.CircuitCount())
}
