// Package connection implements the per-peer connection manager of spec
// §4.1: NAT traversal via hole-punch with relay fallback, ANNOUNCE key
// exchange, and demultiplexing of inbound payloads into the chat and dns
// layers. Grounded on the teacher's node.go (libp2p host lifecycle,
// pingLoop/nearestPeer for NAT/RTT signal) and peers.go (per-peer
// bookkeeping), generalized from the teacher's always-direct model to the
// spec's Connecting → {Connected | Relaying} state machine.
package connection

import (
	"crypto/ed25519"
	"sync"

	golog "github.com/ipfs/go-log/v2"

	"github.com/code3hr/cyxchat-sub001/chat"
	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/dns"
	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/relay"
	"github.com/code3hr/cyxchat-sub001/transport"
	"github.com/code3hr/cyxchat-sub001/wire"
)

var logger = golog.Logger("connection")

// MaxPeers bounds the number of simultaneously tracked PeerConn entries
// (spec §4.1 connect() "Full if 32 peer slots used").
const MaxPeers = 32

// Config tunes the timing constants named in spec §6.
type Config struct {
	HolePunchTimeoutMS  int64
	HolePunchAttempts   int
	HolePunchIntervalMS int64
	ConnTimeoutMS       int64
	AnnounceThrottleMS  int64
	RelayServers        []string
}

// DefaultConfig returns spec §6's named defaults.
func DefaultConfig() Config {
	return Config{
		HolePunchTimeoutMS:  5_000,
		HolePunchAttempts:   5,
		HolePunchIntervalMS: 50,
		ConnTimeoutMS:       90_000,
		AnnounceThrottleMS:  60_000,
	}
}

// natStatusProvider is an optional capability a concrete OnionTransport may
// implement to feed get_status's nat_type/stun_complete fields; transport
// implementations that don't are simply reported as unknown/incomplete.
type natStatusProvider interface {
	NATStatus() (natType string, stunComplete bool)
}

// dhtStatsProvider is an optional capability for transports backed by a
// DHT (e.g. go-libp2p-kad-dht), feeding get_status's dht_stats field.
type dhtStatsProvider interface {
	DHTStats() map[string]int
}

// Status is the snapshot returned by GetStatus (spec §4.1).
type Status struct {
	PublicAddr         string
	NATType            string
	STUNComplete       bool
	BootstrapConnected bool
	Active             int
	Relayed            int
	DHTStats           map[string]int
}

// Connection is the per-peer lifecycle manager of spec §4.1.
type Connection struct {
	self      ids.NodeId
	transport transport.OnionTransport
	relay     *relay.Client
	chat      *chat.Chat
	dns       *dns.Dns
	cfg       Config
	throttle  *announceThrottle
	kx        keyExchange

	mu                 sync.Mutex
	peers              map[ids.NodeId]*PeerConn
	pending            map[ids.NodeId]*PendingConn
	bootstrapConnected bool
	// lastPollMS is the nowMS most recently passed to Poll, the cooperative
	// clock's only source of "now" (spec §5). The transport's own callbacks
	// (handleDeliver/handleRelayData) fire from I/O goroutines with no
	// caller-supplied nowMS of their own; they stamp LastActivity with this
	// instead of 0, so a receive-only peer isn't measured as idle since the
	// Unix epoch on the very next Poll tick.
	lastPollMS int64
}

// New builds a Connection and wires it as the transport's single inbound
// callback; signPriv/signPub seed the Dns instance's record signing key.
func New(t transport.OnionTransport, rawT transport.RawTransport, self ids.NodeId, signPriv ed25519.PrivateKey, signPub [ed25519.PublicKeySize]byte, cfg Config, chatCfg chat.Config, chatCb chat.Callbacks) (*Connection, error) {
	kx, err := newKeyExchange()
	if err != nil {
		return nil, err
	}
	c := &Connection{
		self:      self,
		transport: t,
		cfg:       cfg,
		throttle:  newAnnounceThrottle(cfg.AnnounceThrottleMS),
		kx:        kx,
		peers:     make(map[ids.NodeId]*PeerConn),
		pending:   make(map[ids.NodeId]*PendingConn),
	}
	c.chat = chat.New(t, self, chatCfg, chatCb)
	c.dns = dns.New(t, c, self, signPriv, signPub, kx.pub, dns.Config{})
	c.relay = relay.New(rawT, self, cfg.RelayServers, c.handleRelayData, c.handleRelayState)

	t.SetCallback(c.handleDeliver)
	return c, nil
}

// ConnectedPeers implements dns.PeerLister over this Connection's peer
// table, so Dns can gossip-broadcast without depending on connection's
// types directly.
func (c *Connection) ConnectedPeers() []ids.NodeId {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ids.NodeId, 0, len(c.peers))
	for id, p := range c.peers {
		if p.State == Connected || p.State == Relaying {
			out = append(out, id)
		}
	}
	return out
}

// Chat exposes the wired Chat layer for sending/receiving typed messages.
func (c *Connection) Chat() *chat.Chat { return c.chat }

// Dns exposes the wired Dns layer for registration/lookup.
func (c *Connection) Dns() *dns.Dns { return c.dns }

// Connect begins connecting to peer, invoking cb exactly once on success,
// relay-fallback success, or timeout (spec §4.1 protocol step 1).
func (c *Connection) Connect(peer ids.NodeId, nowMS int64, cb CompleteFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[peer]; ok {
		return cxerr.New("connection.Connect", cxerr.KindExists, nil)
	}
	p, ok := c.peers[peer]
	if !ok {
		if len(c.peers) >= MaxPeers {
			return cxerr.New("connection.Connect", cxerr.KindFull, nil)
		}
		p = &PeerConn{PeerID: peer}
		c.peers[peer] = p
	}
	if cb == nil {
		cb = func(ids.NodeId, State, error) {}
	}
	p.State = Connecting
	c.pending[peer] = newPendingConn(peer, cb, nowMS)
	return nil
}

// Disconnect tears down peer's connection and cancels any PendingConn
// without invoking its callback (spec §5 "Cancellation is structural").
func (c *Connection) Disconnect(peer ids.NodeId) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[peer]; !ok {
		return cxerr.New("connection.Disconnect", cxerr.KindNotFound, nil)
	}
	delete(c.peers, peer)
	delete(c.pending, peer)
	_ = c.relay.Disconnect(peer)
	return nil
}

// Send delivers bytes to peer, routing through the relay circuit if the
// peer is currently relayed, or directly over the onion transport otherwise.
func (c *Connection) Send(peer ids.NodeId, data []byte, nowMS int64) error {
	c.mu.Lock()
	p, ok := c.peers[peer]
	c.mu.Unlock()
	if !ok {
		return cxerr.New("connection.Send", cxerr.KindNotFound, nil)
	}

	if p.IsRelayed {
		if err := c.relay.Send(peer, data, nowMS); err != nil {
			return cxerr.New("connection.Send", cxerr.KindNetwork, err)
		}
	} else {
		if err := c.transport.SendTo(peer, data); err != nil {
			return cxerr.New("connection.Send", cxerr.KindNetwork, err)
		}
	}
	c.mu.Lock()
	p.BytesSent += uint32(len(data))
	p.LastActivity = nowMS
	c.mu.Unlock()
	return nil
}

// GetState returns peer's current lifecycle state.
func (c *Connection) GetState(peer ids.NodeId) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[peer]
	if !ok {
		return Disconnected, cxerr.New("connection.GetState", cxerr.KindNotFound, nil)
	}
	return p.State, nil
}

// GetInfo returns a copy of peer's full connection record.
func (c *Connection) GetInfo(peer ids.NodeId) (PeerConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[peer]
	if !ok {
		return PeerConn{}, cxerr.New("connection.GetInfo", cxerr.KindNotFound, nil)
	}
	return *p, nil
}

// IsRelayed reports whether traffic to peer currently flows via a relay.
func (c *Connection) IsRelayed(peer ids.NodeId) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[peer]
	if !ok {
		return false, cxerr.New("connection.IsRelayed", cxerr.KindNotFound, nil)
	}
	return p.IsRelayed, nil
}

// AddRelay registers addr as an additional relay server.
func (c *Connection) AddRelay(addr string) error { return c.relay.AddServer(addr) }

// ForceRelay skips hole-punching and goes straight to relay fallback for
// peer (spec §4.1 protocol step 4).
func (c *Connection) ForceRelay(peer ids.NodeId, nowMS int64) error {
	c.mu.Lock()
	p, ok := c.peers[peer]
	c.mu.Unlock()
	if !ok {
		return cxerr.New("connection.ForceRelay", cxerr.KindNotFound, nil)
	}
	return c.fallbackToRelay(p, nowMS)
}

func (c *Connection) fallbackToRelay(p *PeerConn, nowMS int64) error {
	err := c.relay.Connect(p.PeerID, nowMS)
	c.mu.Lock()
	defer c.mu.Unlock()
	pend := c.pending[p.PeerID]
	if err != nil {
		p.State = Disconnected
		delete(c.pending, p.PeerID)
		if pend != nil {
			pend.Callback(p.PeerID, Disconnected, err)
		}
		return err
	}
	p.State = Relaying
	p.IsRelayed = true
	delete(c.pending, p.PeerID)
	if pend != nil {
		pend.Callback(p.PeerID, Relaying, nil)
	}
	return nil
}

func (c *Connection) handleRelayData(from ids.NodeId, data []byte) {
	c.routeInbound(from, data, c.currentPollMS())
}

func (c *Connection) handleRelayState(peer ids.NodeId, st relay.CircuitState) {
	if st == relay.StateClosed {
		c.mu.Lock()
		if p, ok := c.peers[peer]; ok && p.IsRelayed {
			p.State = Disconnected
			p.IsRelayed = false
		}
		c.mu.Unlock()
	}
}

// handleDeliver is the OnionTransport's single callback: it advances
// accounting, promotes Connecting peers to Connected on first inbound byte,
// and demultiplexes by message type (spec §4.1 "Demultiplexing").
func (c *Connection) handleDeliver(from ids.NodeId, data []byte) {
	c.routeInbound(from, data, c.currentPollMS())
}

// currentPollMS returns the nowMS most recently observed by Poll, the
// cooperative clock inbound callbacks stamp PeerConn activity with.
func (c *Connection) currentPollMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPollMS
}

func (c *Connection) routeInbound(from ids.NodeId, data []byte, nowMS int64) {
	if len(data) < 1 {
		return
	}

	c.mu.Lock()
	p, ok := c.peers[from]
	if !ok {
		p = &PeerConn{PeerID: from}
		c.peers[from] = p
	}
	p.BytesReceived += uint32(len(data))
	p.LastActivity = nowMS

	var fired *PendingConn
	if p.State == Connecting {
		p.State = Connected
		fired = c.pending[from]
		delete(c.pending, from)
	}
	c.mu.Unlock()

	if fired != nil {
		fired.Callback(from, Connected, nil)
	}

	switch {
	case wire.IsDirectMessage(data[0]):
		if err := c.chat.Deliver(from, data, nowMS); err != nil {
			logger.Debugf("dropping malformed chat frame from %s: %v", from, err)
		}
	case data[0] == wire.TypeDNSAnnounce:
		c.handleAnnounce(from, data, nowMS)
	case wire.IsDNSMessage(data[0]):
		if err := c.dns.Deliver(from, data, uint64(nowMS), nowMS); err != nil {
			logger.Debugf("dropping malformed dns frame from %s: %v", from, err)
		}
	default:
		// group/presence/mail ranges are out of the core's scope (spec §1).
	}
}

func (c *Connection) handleAnnounce(from ids.NodeId, data []byte, nowMS int64) {
	_, onionPubkey, err := decodeAnnounce(data)
	if err != nil {
		return
	}
	if err := c.transport.AddPeerKey(from, onionPubkey); err != nil {
		logger.Debugf("add_peer_key failed for %s: %v", from, err)
		return
	}
	if tag, err := c.kx.confirmationTag(onionPubkey); err == nil {
		logger.Debugf("announce key agreement with %s, confirmation=%x", from, tag)
	}
	c.mu.Lock()
	if p, ok := c.peers[from]; ok {
		p.LastKeyExchange = nowMS
	}
	c.mu.Unlock()
}

// SendAnnounce sends this node's ANNOUNCE{local_id, onion_pubkey} to peer,
// subject to the per-peer AnnounceThrottleMS throttle (spec §4.1).
func (c *Connection) SendAnnounce(peer ids.NodeId, nowMS int64) error {
	if !c.throttle.Allow(peer, nowMS) {
		return nil
	}
	frame := encodeAnnounce(c.self, c.kx.pub)
	if err := c.transport.SendTo(peer, frame); err != nil {
		return cxerr.New("connection.SendAnnounce", cxerr.KindNetwork, err)
	}
	c.mu.Lock()
	if p, ok := c.peers[peer]; ok {
		p.LastAnnounceSent = nowMS
	}
	c.mu.Unlock()
	return nil
}

// Poll drives all cooperative timeouts: hole-punch fallback, peer idle
// eviction, and the chat/relay/dns subsystems' own Poll (spec §4.1
// "Cancellation & timeouts").
func (c *Connection) Poll(nowMS int64) int {
	events := 0

	c.mu.Lock()
	c.lastPollMS = nowMS
	var toFallback []*PeerConn
	for peer, pend := range c.pending {
		if nowMS-pend.StartTime >= c.cfg.HolePunchTimeoutMS {
			if p, ok := c.peers[peer]; ok && p.State == Connecting {
				toFallback = append(toFallback, p)
			}
		}
	}
	var toEvict []ids.NodeId
	for peer, p := range c.peers {
		if p.State == Connected || p.State == Relaying {
			if nowMS-p.LastActivity >= c.cfg.ConnTimeoutMS {
				toEvict = append(toEvict, peer)
			}
		}
	}
	c.mu.Unlock()

	for _, p := range toFallback {
		_ = c.fallbackToRelay(p, nowMS)
		events++
	}
	for _, peer := range toEvict {
		c.mu.Lock()
		delete(c.peers, peer)
		c.mu.Unlock()
		events++
	}

	c.chat.Poll(nowMS)
	c.relay.Poll(nowMS)
	c.dns.Poll(nowMS, uint64(nowMS))
	return events
}

// GetStatus returns a snapshot of connection-wide state (spec §4.1).
func (c *Connection) GetStatus() Status {
	c.mu.Lock()
	active, relayed := 0, 0
	for _, p := range c.peers {
		if p.State == Connected {
			active++
		}
		if p.State == Relaying {
			relayed++
		}
	}
	bootstrapConnected := c.bootstrapConnected
	c.mu.Unlock()

	s := Status{BootstrapConnected: bootstrapConnected, Active: active, Relayed: relayed}
	if nsp, ok := c.transport.(natStatusProvider); ok {
		s.NATType, s.STUNComplete = nsp.NATStatus()
	} else {
		s.NATType = "unknown"
	}
	if dsp, ok := c.transport.(dhtStatsProvider); ok {
		s.DHTStats = dsp.DHTStats()
	}
	return s
}

// MarkBootstrapConnected records that the initial bootstrap peer has
// answered, for GetStatus's bootstrap_connected field.
func (c *Connection) MarkBootstrapConnected() {
	c.mu.Lock()
	c.bootstrapConnected = true
	c.mu.Unlock()
}
