// Package relay implements the virtual-circuit relay client of spec §4.3,
// grounded on the teacher's mixnet.go relay-hop forwarding and peers.go
// per-peer accounting, generalized from the teacher's fixed mix-hop chain
// to the spec's up-to-4-relay-server, up-to-16-circuit client.
package relay

import (
	"sync"

	golog "github.com/ipfs/go-log/v2"

	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/transport"
)

var logger = golog.Logger("relay")

const (
	// MaxRelayConnections bounds live virtual circuits (spec §4.3).
	MaxRelayConnections = 16
	// MaxRelayServers bounds distinct relay servers in rotation.
	MaxRelayServers = 4
	// KeepaliveMS is the per-circuit keepalive interval.
	KeepaliveMS int64 = 30_000
	// TimeoutMS is how long a circuit may sit idle before being freed.
	TimeoutMS int64 = 10_000
	// sentinel marks a synthetic relay-server address distinct from a NodeId.
	addrSentinel = 0xFF
)

// CircuitState mirrors the open/closed lifecycle fired to State callbacks.
type CircuitState int

const (
	StateOpen CircuitState = iota
	StateClosed
)

type circuit struct {
	peer           ids.NodeId
	serverAddr     string
	acked          bool
	connectSentMS  int64
	pending        [][]byte // outbound DATA queued until CONNECT_ACK (Design Notes §9 open question 2)
	bytesSent      uint32
	bytesRecv      uint32
	lastActivity   int64
	lastKeep       int64
}

// DataFunc is invoked with (from, payload) for every DATA frame addressed to
// the local node that arrives over any circuit.
type DataFunc func(from ids.NodeId, data []byte)

// StateFunc is invoked whenever a circuit opens or closes.
type StateFunc func(peer ids.NodeId, state CircuitState)

// Client is the relay virtual-circuit client.
type Client struct {
	transport transport.RawTransport
	self      ids.NodeId
	servers   []string // round-robin relay server addresses

	mu       sync.Mutex
	circuits map[ids.NodeId]*circuit
	// lastPollMS is the nowMS most recently passed to Poll, the cooperative
	// clock's only source of "now" (spec §5). handleRaw fires from the
	// RawTransport's own I/O goroutine with no caller-supplied nowMS, so it
	// stamps circuit activity with this instead of calling time.Now().
	lastPollMS int64

	onData  DataFunc
	onState StateFunc
}

// New builds a relay Client. t.SetRawCallback is called here since relay
// owns the RawTransport's single callback slot exclusively (unlike
// OnionTransport, which the connection package demuxes itself).
func New(t transport.RawTransport, self ids.NodeId, servers []string, onData DataFunc, onState StateFunc) *Client {
	c := &Client{
		transport: t,
		self:      self,
		servers:   servers,
		circuits:  make(map[ids.NodeId]*circuit),
		onData:    onData,
		onState:   onState,
	}
	t.SetRawCallback(c.handleRaw)
	return c
}

// AddServer appends a relay server address to the rotation, up to
// MaxRelayServers.
func (c *Client) AddServer(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.servers) >= MaxRelayServers {
		return cxerr.New("relay.AddServer", cxerr.KindFull, nil)
	}
	c.servers = append(c.servers, addr)
	return nil
}

// Connect opens a virtual circuit to peer through server 0, firing
// onState(open) immediately per spec §4.3 ("no separate wait-for-ack
// state"); outbound data is queued internally until CONNECT_ACK arrives.
// If the circuit closes first (a failed ack, or no ack within KeepaliveMS),
// the queued data is discarded and onState(closed) fires.
func (c *Client) Connect(peer ids.NodeId, nowMS int64) error {
	c.mu.Lock()
	if len(c.servers) == 0 {
		c.mu.Unlock()
		return cxerr.New("relay.Connect", cxerr.KindInvalid, nil)
	}
	if _, exists := c.circuits[peer]; exists {
		c.mu.Unlock()
		return cxerr.New("relay.Connect", cxerr.KindExists, nil)
	}
	if len(c.circuits) >= MaxRelayConnections {
		c.mu.Unlock()
		return cxerr.New("relay.Connect", cxerr.KindFull, nil)
	}
	server := c.servers[0]
	ckt := &circuit{peer: peer, serverAddr: server, lastActivity: nowMS, lastKeep: nowMS, connectSentMS: nowMS}
	c.circuits[peer] = ckt
	c.mu.Unlock()

	frame := encodeConnect(c.self, peer)
	if err := c.transport.Send(server, frame); err != nil {
		c.mu.Lock()
		delete(c.circuits, peer)
		c.mu.Unlock()
		return cxerr.New("relay.Connect", cxerr.KindNetwork, err)
	}
	if c.onState != nil {
		c.onState(peer, StateOpen)
	}
	return nil
}

// Send builds a DATA frame for peer. If the circuit hasn't been
// CONNECT_ACK'd yet, the data is queued and flushed when the ack arrives,
// rather than sent and possibly dropped by the relay server; if the circuit
// is closed before that, the queued data is discarded.
func (c *Client) Send(peer ids.NodeId, data []byte, nowMS int64) error {
	c.mu.Lock()
	ckt, ok := c.circuits[peer]
	if !ok {
		c.mu.Unlock()
		return cxerr.New("relay.Send", cxerr.KindNotFound, nil)
	}
	if !ckt.acked {
		ckt.pending = append(ckt.pending, append([]byte(nil), data...))
		ckt.lastActivity = nowMS
		c.mu.Unlock()
		return nil
	}
	server := ckt.serverAddr
	c.mu.Unlock()

	frame, err := encodeData(c.self, peer, data)
	if err != nil {
		return err
	}
	if err := c.transport.Send(server, frame); err != nil {
		return cxerr.New("relay.Send", cxerr.KindNetwork, err)
	}
	c.mu.Lock()
	ckt.bytesSent += uint32(len(data))
	ckt.lastActivity = nowMS
	c.mu.Unlock()
	return nil
}

// Disconnect tears down the circuit to peer, notifying the relay server.
func (c *Client) Disconnect(peer ids.NodeId) error {
	c.mu.Lock()
	ckt, ok := c.circuits[peer]
	if !ok {
		c.mu.Unlock()
		return cxerr.New("relay.Disconnect", cxerr.KindNotFound, nil)
	}
	delete(c.circuits, peer)
	server := ckt.serverAddr
	c.mu.Unlock()

	frame := encodeDisconnect(c.self, peer)
	_ = c.transport.Send(server, frame)
	if c.onState != nil {
		c.onState(peer, StateClosed)
	}
	return nil
}

// handleRaw demultiplexes inbound relay control frames.
func (c *Client) handleRaw(addr string, data []byte) {
	if len(data) < 1 {
		return
	}
	switch data[0] {
	case TypeConnectAck:
		peer, success, err := decodeConnectAck(data[1:])
		if err != nil {
			return
		}
		c.handleConnectAck(peer, success)
	case TypeData:
		from, to, payload, err := decodeData(data[1:])
		if err != nil {
			return
		}
		if to != c.self {
			return
		}
		c.mu.Lock()
		ckt, ok := c.circuits[from]
		if ok {
			ckt.bytesRecv += uint32(len(payload))
			ckt.lastActivity = c.lastPollMS
		}
		c.mu.Unlock()
		if c.onData != nil {
			c.onData(from, payload)
		}
	case TypeDisconnect:
		from, _, err := decodeDisconnect(data[1:])
		if err != nil {
			return
		}
		c.mu.Lock()
		_, ok := c.circuits[from]
		delete(c.circuits, from)
		c.mu.Unlock()
		if ok && c.onState != nil {
			c.onState(from, StateClosed)
		}
	default:
		logger.Debugf("unhandled relay frame type 0x%x from %s", data[0], addr)
	}
}

func (c *Client) handleConnectAck(peer ids.NodeId, success bool) {
	c.mu.Lock()
	ckt, ok := c.circuits[peer]
	if !ok {
		c.mu.Unlock()
		return
	}
	if !success {
		delete(c.circuits, peer)
		c.mu.Unlock()
		if c.onState != nil {
			c.onState(peer, StateClosed)
		}
		return
	}
	ckt.acked = true
	pending := ckt.pending
	ckt.pending = nil
	server := ckt.serverAddr
	c.mu.Unlock()

	for _, data := range pending {
		frame, err := encodeData(c.self, peer, data)
		if err != nil {
			continue
		}
		_ = c.transport.Send(server, frame)
		c.mu.Lock()
		ckt.bytesSent += uint32(len(data))
		c.mu.Unlock()
	}
}

// Poll emits a keepalive on each circuit every KeepaliveMS, fails circuits whose CONNECT_ACK
// never arrived within KeepaliveMS (Design Notes §9 open question 2), and
// frees circuits that have exceeded TimeoutMS without activity (spec §4.3).
func (c *Client) Poll(nowMS int64) {
	c.mu.Lock()
	c.lastPollMS = nowMS
	var toKeepalive []*circuit
	var toClose []ids.NodeId
	for peer, ckt := range c.circuits {
		if !ckt.acked && nowMS-ckt.connectSentMS > KeepaliveMS {
			toClose = append(toClose, peer)
			continue
		}
		if nowMS-ckt.lastActivity > TimeoutMS {
			toClose = append(toClose, peer)
			continue
		}
		if nowMS-ckt.lastKeep > KeepaliveMS {
			ckt.lastKeep = nowMS
			toKeepalive = append(toKeepalive, ckt)
		}
	}
	for _, peer := range toClose {
		delete(c.circuits, peer)
	}
	c.mu.Unlock()

	for _, ckt := range toKeepalive {
		_ = c.transport.Send(ckt.serverAddr, encodeKeepalive(c.self))
	}
	for _, peer := range toClose {
		if c.onState != nil {
			c.onState(peer, StateClosed)
		}
	}
}

// IsConnected reports whether a circuit to peer exists (ack'd or pending).
func (c *Client) IsConnected(peer ids.NodeId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.circuits[peer]
	return ok
}

// CircuitCount reports how many circuits are currently live.
func (c *Client) CircuitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.circuits)
}
