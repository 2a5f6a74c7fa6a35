package dns

import (
	"crypto/ed25519"
	"sync"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/transport"
	"github.com/code3hr/cyxchat-sub001/wire"
)

var logger = golog.Logger("dns")

// GossipHops is the maximum number of re-forwards a REGISTER/UPDATE may
// undergo before being dropped (spec §4.4).
const GossipHops uint8 = 3

// LookupTimeoutMS is how long a PendingLookup waits for a RESPONSE.
const LookupTimeoutMS int64 = 5_000

// RefreshIntervalMS is the re-sign/re-broadcast period for locally-owned
// records. Nothing in this package applies it: Poll does not refresh, and
// owned records are re-signed only when Refresh is called.
const RefreshIntervalMS int64 = 1_800_000

// DefaultTTLSeconds is the default record TTL new registrations use.
const DefaultTTLSeconds uint32 = 3_600

// LookupFunc receives the resolved record, or nil if the lookup timed out.
type LookupFunc func(r *Record)

type pendingLookup struct {
	name      string
	queryID   uint8
	startMS   int64
	callback  LookupFunc
	fulfilled bool
}

// Stats mirrors spec §4.4's named counters. Of these, only the cache entry
// count and registrations are also exported via Prometheus (Collectors) for
// the daemon's /metrics endpoint.
type Stats struct {
	CacheEntries     int
	CacheHits        uint64
	CacheMisses      uint64
	LookupsSent      uint64
	LookupsReceived  uint64
	Registrations    uint64
	GossipForwards   uint64
}

// PeerLister supplies the current connected-peer set the Dns instance
// broadcasts gossip to; the connection package implements it over its own
// peer table so dns has no direct dependency on connection (spec's
// dependency order: Dns depends on "a broadcast primitive over the peer
// table", not on connection's types).
type PeerLister interface {
	ConnectedPeers() []ids.NodeId
}

// Dns implements the gossip naming service of spec §4.4.
type Dns struct {
	transport transport.OnionTransport
	peers     PeerLister
	self      ids.NodeId
	signPriv  ed25519.PrivateKey
	signPub   [ed25519.PublicKeySize]byte
	x25519Pub [32]byte

	mu       sync.Mutex
	cache    *recordCache
	petnames *petnameStore
	pending  map[uint8]*pendingLookup
	nextQID  uint8
	owned    map[string]Record // locally-registered records, for refresh

	stats Stats

	metricCacheEntries prometheus.Gauge
	metricRegistrations prometheus.Counter
}

// Config tunes cache size; zero value uses spec defaults.
type Config struct {
	CacheSize int
}

// New builds a Dns instance. t.SetCallback is NOT called here; the
// connection package demuxes the 0xD0-0xD6 range to Dns.Deliver itself.
func New(t transport.OnionTransport, peers PeerLister, self ids.NodeId, signPriv ed25519.PrivateKey, signPub [ed25519.PublicKeySize]byte, x25519Pub [32]byte, cfg Config) *Dns {
	d := &Dns{
		transport: t,
		peers:     peers,
		self:      self,
		signPriv:  signPriv,
		signPub:   signPub,
		x25519Pub: x25519Pub,
		cache:     newRecordCache(cfg.CacheSize),
		petnames:  newPetnameStore(),
		pending:   make(map[uint8]*pendingLookup),
		owned:     make(map[string]Record),
		metricCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyxchat", Subsystem: "dns", Name: "cache_entries",
		}),
		metricRegistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyxchat", Subsystem: "dns", Name: "registrations_total",
		}),
	}
	return d
}

// Collectors exposes this Dns instance's Prometheus metrics for registration
// with a registry (the daemon does this once at startup).
func (d *Dns) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.metricCacheEntries, d.metricRegistrations}
}

// Register signs and broadcasts a new record binding name to this node,
// storing it as locally-owned so Poll can periodically Refresh it.
func (d *Dns) Register(name string, ttlSeconds uint32, stunHint []byte, nowUnixMS uint64) error {
	name = ids.Normalize(name)
	if ids.IsCryptoName(name) {
		return cxerr.New("dns.Register", cxerr.KindInvalid, nil)
	}
	if err := ids.ValidateName(name); err != nil {
		return cxerr.New("dns.Register", cxerr.KindInvalid, err)
	}
	sealedHint, err := sealStunHint(d.self, nowUnixMS, stunHint)
	if err != nil {
		return err
	}
	r, err := Sign(d.signPriv, name, d.self, d.signPub, d.x25519Pub, ttlSeconds, sealedHint, nowUnixMS)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.owned[name] = r
	d.mu.Unlock()

	return d.broadcastRegister(r, 0)
}

// Unregister broadcasts a ttl=0 record for name, per spec §4.4 "A ttl=0
// registration is treated as explicit unregister".
func (d *Dns) Unregister(name string, nowUnixMS uint64) error {
	name = ids.Normalize(name)
	d.mu.Lock()
	owned, ok := d.owned[name]
	d.mu.Unlock()
	if !ok {
		return cxerr.New("dns.Unregister", cxerr.KindNotFound, nil)
	}
	r, err := Sign(d.signPriv, name, owned.NodeID, owned.PubKeySign, owned.PubKeyX25519, 0, nil, nowUnixMS)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.owned[name] = r
	d.mu.Unlock()
	return d.broadcastRegister(r, 0)
}

func (d *Dns) broadcastRegister(r Record, hops uint8) error {
	frame, err := EncodeRegister(hops, r)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.stats.Registrations++
	d.mu.Unlock()
	d.metricRegistrations.Inc()
	return d.broadcast(frame)
}

func (d *Dns) broadcast(frame []byte) error {
	var firstErr error
	for _, p := range d.peers.ConnectedPeers() {
		if err := d.transport.SendTo(p, frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetPetname assigns a local-only alias to node.
func (d *Dns) SetPetname(node ids.NodeId, petname string) { d.petnames.Set(node, petname) }

// Petname returns node's local alias, if any.
func (d *Dns) Petname(node ids.NodeId) (string, bool) { return d.petnames.Get(node) }

// Lookup resolves name to a Record. Crypto-names resolve synchronously
// without any network round trip (spec §8 scenario 5); a non-expired cache
// hit also resolves synchronously; otherwise a LOOKUP is gossiped and cb is
// invoked (exactly once) on RESPONSE or LookupTimeoutMS.
func (d *Dns) Lookup(name string, nowUnixMS uint64, nowMS int64, cb LookupFunc) {
	normalized := ids.Normalize(name)

	if ids.IsCryptoName(normalized) {
		node, err := ids.CryptoNameNodeID(normalized)
		if err != nil {
			cb(nil)
			return
		}
		var pub [ed25519.PublicKeySize]byte
		copy(pub[:], node[:])
		r := Record{Name: normalized, NodeID: node, PubKeySign: pub, TimestampMS: nowUnixMS, TTLSeconds: ^uint32(0)}
		cb(&r)
		return
	}

	if r, ok := d.cache.get(normalized, nowUnixMS); ok {
		cb(&r)
		return
	}

	d.mu.Lock()
	qid := d.nextQID
	d.nextQID++
	d.pending[qid] = &pendingLookup{name: normalized, queryID: qid, startMS: nowMS, callback: cb}
	d.stats.LookupsSent++
	d.mu.Unlock()

	frame, err := EncodeLookup(qid, normalized)
	if err != nil {
		d.mu.Lock()
		delete(d.pending, qid)
		d.mu.Unlock()
		cb(nil)
		return
	}
	_ = d.broadcast(frame)
}

// Refresh re-signs and re-broadcasts every locally-owned record with a
// fresh timestamp (spec §4.4 "Refresh").
func (d *Dns) Refresh(nowUnixMS uint64) {
	d.mu.Lock()
	owned := make([]Record, 0, len(d.owned))
	for _, r := range d.owned {
		owned = append(owned, r)
	}
	d.mu.Unlock()

	for _, old := range owned {
		plainHint, err := OpenStunHint(old)
		if err != nil {
			continue
		}
		sealedHint, err := sealStunHint(old.NodeID, nowUnixMS, plainHint)
		if err != nil {
			continue
		}
		r, err := Sign(d.signPriv, old.Name, old.NodeID, old.PubKeySign, old.PubKeyX25519, old.TTLSeconds, sealedHint, nowUnixMS)
		if err != nil {
			continue
		}
		d.mu.Lock()
		d.owned[old.Name] = r
		d.mu.Unlock()
		_ = d.broadcastRegister(r, 0)
	}
}

// Deliver handles one inbound DNS-range frame (spec §4.1 demux hands the
// whole 0xD0-0xD6-ranged payload here, type byte included).
func (d *Dns) Deliver(from ids.NodeId, data []byte, nowUnixMS uint64, nowMS int64) error {
	if len(data) < 1 {
		return cxerr.New("dns.Deliver", cxerr.KindInvalid, nil)
	}
	switch data[0] {
	case wire.TypeDNSRegister:
		return d.handleRegisterLike(data, false)
	case wire.TypeDNSUpdate:
		return d.handleRegisterLike(data, true)
	case wire.TypeDNSRegisterAck, wire.TypeDNSUpdateAck:
		return nil // no synchronous waiter in this implementation; acks are ignored
	case wire.TypeDNSLookup:
		return d.handleLookup(from, data, nowUnixMS)
	case wire.TypeDNSResponse:
		return d.handleResponse(data, nowMS)
	default:
		return cxerr.New("dns.Deliver", cxerr.KindInvalid, nil)
	}
}

func (d *Dns) handleRegisterLike(data []byte, isUpdate bool) error {
	var hops uint8
	var r Record
	var err error
	if isUpdate {
		hops, r, err = DecodeUpdate(data)
	} else {
		hops, r, err = DecodeRegister(data)
	}
	if err != nil {
		return nil // malformed inbound bytes are dropped silently (spec §7)
	}
	if !r.Verify() {
		logger.Debugf("dropping record for %q: signature verification failed", r.Name)
		return nil
	}

	if cached, ok := d.cache.peek(r.Name); ok && cached.TimestampMS >= r.TimestampMS {
		return nil // not strictly newer, discard (spec §4.4 step 2)
	}

	d.cache.put(r, hops, monotonicNowPlaceholder())
	d.metricCacheEntries.Set(float64(d.cache.len()))

	if hops < GossipHops {
		frame, err := EncodeRegister(hops+1, r)
		if err == nil {
			d.mu.Lock()
			d.stats.GossipForwards++
			d.mu.Unlock()
			_ = d.broadcast(frame)
		}
	}
	return nil
}

func (d *Dns) handleLookup(from ids.NodeId, data []byte, nowUnixMS uint64) error {
	queryID, name, err := DecodeLookup(data)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	d.stats.LookupsReceived++
	d.mu.Unlock()

	r, ok := d.cache.get(name, nowUnixMS)
	var frame []byte
	if ok {
		frame, err = EncodeResponse(queryID, true, r)
	} else {
		frame, err = EncodeResponse(queryID, false, Record{})
	}
	if err != nil {
		return nil
	}
	return d.transport.SendTo(from, frame)
}

func (d *Dns) handleResponse(data []byte, nowMS int64) error {
	queryID, found, r, err := DecodeResponse(data)
	if err != nil {
		return nil
	}
	d.mu.Lock()
	pl, ok := d.pending[queryID]
	if ok {
		delete(d.pending, queryID)
	}
	d.mu.Unlock()
	if !ok || pl.fulfilled {
		return nil
	}

	if !found {
		pl.callback(nil)
		return nil
	}
	if !r.Verify() {
		pl.callback(nil)
		return nil
	}
	d.cache.put(r, 0, nowMS)
	pl.callback(&r)
	return nil
}

// Poll expires cache entries and times out pending lookups. It does not
// refresh owned records; Refresh re-signs them only when called.
func (d *Dns) Poll(nowMS int64, nowUnixMS uint64) {
	dropped := d.cache.expire(nowUnixMS)
	if dropped > 0 {
		logger.Debugf("expired %d dns cache entries", dropped)
	}
	d.metricCacheEntries.Set(float64(d.cache.len()))

	d.mu.Lock()
	var timedOut []*pendingLookup
	for qid, pl := range d.pending {
		if nowMS-pl.startMS >= LookupTimeoutMS {
			timedOut = append(timedOut, pl)
			delete(d.pending, qid)
		}
	}
	d.mu.Unlock()

	for _, pl := range timedOut {
		pl.callback(nil)
	}
}

// Stats returns a snapshot of the named counters (spec §4.4 "Statistics").
func (d *Dns) Stats() Stats {
	d.mu.Lock()
	s := d.stats
	d.mu.Unlock()
	s.CacheEntries = d.cache.len()
	s.CacheHits, s.CacheMisses = d.cache.stats()
	return s
}

// monotonicNowPlaceholder supplies cachedAt for REGISTER/UPDATE handling,
// which is not passed a monotonic nowMS. It returns wall-clock unix ms, so
// entries cached from gossip carry a wall-clock cachedAt while entries
// cached from a RESPONSE carry the monotonic nowMS. cachedAt is not read for
// eviction (eviction is LRU-capacity-driven, see cache.go).
func monotonicNowPlaceholder() int64 { return time.Now().UnixMilli() }
