package transport

import (
	"sync"

	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
)

// registry lets a set of Fake transports created in the same test address
// each other by NodeId, the way the teacher's simpleDHT (dht.go) keeps an
// in-memory map instead of talking to a real network.
type registry struct {
	mu    sync.Mutex
	nodes map[ids.NodeId]*Fake
}

// NewNetwork returns a shared registry; every Fake built with the same
// registry can SendTo every other one registered on it.
func NewNetwork() *registry { return &registry{nodes: make(map[ids.NodeId]*Fake)} }

// Fake is an in-memory OnionTransport + RawTransport double for unit tests.
// It never drops or reorders messages (reordering is exercised explicitly by
// tests that care about it, by calling SendTo out of order themselves).
type Fake struct {
	net      *registry
	self     ids.NodeId
	pub      [32]byte
	mu       sync.Mutex
	cb       DeliverFunc
	rawCb    func(addr string, data []byte)
	peerKeys map[ids.NodeId][32]byte
	// Drop, when set, makes SendTo to that peer fail once then clear itself,
	// simulating a transient Network error without any core-side retry.
	Drop map[ids.NodeId]bool
}

// NewFake registers a new fake transport for self on net.
func NewFake(net *registry, self ids.NodeId, pub [32]byte) *Fake {
	f := &Fake{net: net, self: self, pub: pub, peerKeys: make(map[ids.NodeId][32]byte), Drop: make(map[ids.NodeId]bool)}
	net.mu.Lock()
	net.nodes[self] = f
	net.mu.Unlock()
	return f
}

func (f *Fake) SendTo(peer ids.NodeId, data []byte) error {
	f.mu.Lock()
	drop := f.Drop[peer]
	if drop {
		f.Drop[peer] = false
	}
	f.mu.Unlock()
	if drop {
		return cxerr.New("fake.SendTo", cxerr.KindNetwork, nil)
	}

	f.net.mu.Lock()
	dst, ok := f.net.nodes[peer]
	f.net.mu.Unlock()
	if !ok {
		return cxerr.New("fake.SendTo", cxerr.KindNetwork, nil)
	}
	dst.mu.Lock()
	cb := dst.cb
	dst.mu.Unlock()
	if cb != nil {
		cp := make([]byte, len(data))
		copy(cp, data)
		cb(f.self, cp)
	}
	return nil
}

func (f *Fake) Poll(nowMS int64) {}

func (f *Fake) SetCallback(fn DeliverFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = fn
}

func (f *Fake) AddPeerKey(peer ids.NodeId, x25519Pubkey [32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peerKeys[peer] = x25519Pubkey
	return nil
}

func (f *Fake) HasPeerKey(peer ids.NodeId) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.peerKeys[peer]
	return ok
}

func (f *Fake) LocalPubkey() [32]byte { return f.pub }

// RawTransport side: addresses are synthetic "fake:<nodeid-hex>" strings so
// the relay tests can route DATA/CONNECT/KEEPALIVE frames the same way the
// real RawTransport would route to a relay server's ip:port.
func (f *Fake) Send(addr string, data []byte) error {
	f.net.mu.Lock()
	var dst *Fake
	for _, n := range f.net.nodes {
		if n.rawAddr() == addr {
			dst = n
			break
		}
	}
	f.net.mu.Unlock()
	if dst == nil {
		return cxerr.New("fake.Send", cxerr.KindNetwork, nil)
	}
	dst.mu.Lock()
	cb := dst.rawCb
	dst.mu.Unlock()
	if cb != nil {
		cp := make([]byte, len(data))
		copy(cp, data)
		cb(f.rawAddr(), cp)
	}
	return nil
}

func (f *Fake) SetRawCallback(fn func(addr string, data []byte)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawCb = fn
}

func (f *Fake) rawAddr() string { return "fake:" + f.self.String() }

// RawAddr exposes the synthetic address tests need to address this node
// through the RawTransport side (e.g. configuring it as a relay server).
func (f *Fake) RawAddr() string { return f.rawAddr() }
