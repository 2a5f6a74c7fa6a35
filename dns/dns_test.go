package dns

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code3hr/cyxchat-sub001/ids"
	"github.com/code3hr/cyxchat-sub001/transport"
)

type staticPeers struct{ peers []ids.NodeId }

func (s staticPeers) ConnectedPeers() []ids.NodeId { return s.peers }

func newTestDns(t *testing.T, self ids.NodeId, tr *transport.Fake, peers []ids.NodeId) *Dns {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pubArr [ed25519.PublicKeySize]byte
	copy(pubArr[:], pub)
	return New(tr, staticPeers{peers: peers}, self, priv, pubArr, [32]byte{}, Config{})
}

func twoDnsNodes(t *testing.T) (ids.NodeId, ids.NodeId, *Dns, *Dns) {
	t.Helper()
	net := transport.NewNetwork()
	var a, b ids.NodeId
	a[0] = 1
	b[0] = 2
	ta := transport.NewFake(net, a, [32]byte{})
	tb := transport.NewFake(net, b, [32]byte{})

	pubA, privA, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pubArrA [ed25519.PublicKeySize]byte
	copy(pubArrA[:], pubA)
	dnsA := New(ta, staticPeers{peers: []ids.NodeId{b}}, a, privA, pubArrA, [32]byte{}, Config{})

	pubB, privB, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var pubArrB [ed25519.PublicKeySize]byte
	copy(pubArrB[:], pubB)
	dnsB := New(tb, staticPeers{peers: []ids.NodeId{a}}, b, privB, pubArrB, [32]byte{}, Config{})

	ta.SetCallback(func(from ids.NodeId, data []byte) { _ = dnsA.Deliver(from, data, 0, 0) })
	tb.SetCallback(func(from ids.NodeId, data []byte) { _ = dnsB.Deliver(from, data, 0, 0) })

	return a, b, dnsA, dnsB
}

func TestRegisterGossipsAndCaches(t *testing.T) {
	_, _, dnsA, dnsB := twoDnsNodes(t)

	require.NoError(t, dnsA.Register("alice", DefaultTTLSeconds, nil, 1000))

	r, ok := dnsB.cache.get("alice", 1000)
	require.True(t, ok)
	require.Equal(t, "alice", r.Name)
}

func TestNewerTimestampSupersedes(t *testing.T) {
	_, _, dnsA, dnsB := twoDnsNodes(t)

	require.NoError(t, dnsA.Register("alice", DefaultTTLSeconds, nil, 1000))
	require.NoError(t, dnsA.Register("alice", DefaultTTLSeconds, nil, 2800))

	r, ok := dnsB.cache.get("alice", 2800)
	require.True(t, ok)
	require.EqualValues(t, 2800, r.TimestampMS)
}

func TestStaleRegisterDiscarded(t *testing.T) {
	_, _, dnsA, dnsB := twoDnsNodes(t)
	require.NoError(t, dnsA.Register("alice", DefaultTTLSeconds, nil, 2800))

	cached, ok := dnsB.cache.peek("alice")
	require.True(t, ok)
	stale := cached
	stale.TimestampMS = 1000
	sig := ed25519.Sign(dnsA.signPriv, signedBytes(stale.Name, stale.PubKeySign, stale.TimestampMS))
	copy(stale.Signature[:], sig)

	frame, err := EncodeRegister(0, stale)
	require.NoError(t, err)
	require.NoError(t, dnsB.Deliver(ids.NodeId{}, frame, 2800, 0))

	got, ok := dnsB.cache.peek("alice")
	require.True(t, ok)
	require.EqualValues(t, 2800, got.TimestampMS)
}

func TestLookupSynchronousCacheHit(t *testing.T) {
	_, _, dnsA, dnsB := twoDnsNodes(t)
	require.NoError(t, dnsA.Register("alice", DefaultTTLSeconds, nil, 1000))

	var got *Record
	dnsB.Lookup("alice", 1000, 0, func(r *Record) { got = r })
	require.NotNil(t, got)
	require.Equal(t, "alice", got.Name)
}

func TestLookupCryptoNameSynchronous(t *testing.T) {
	_, _, _, dnsB := twoDnsNodes(t)

	name := "abcdefgh.cyx"
	var got *Record
	dnsB.Lookup(name, 0, 0, func(r *Record) { got = r })
	require.NotNil(t, got)
	expected, err := ids.CryptoNameNodeID("abcdefgh")
	require.NoError(t, err)
	require.Equal(t, expected, got.NodeID)
}

func TestLookupTimesOutWithoutResponse(t *testing.T) {
	net := transport.NewNetwork()
	var a ids.NodeId
	a[0] = 9
	ta := transport.NewFake(net, a, [32]byte{})
	dnsA := newTestDns(t, a, ta, nil) // no peers: nothing will ever respond

	var called bool
	var got *Record
	dnsA.Lookup("nosuchname", 0, 0, func(r *Record) { called = true; got = r })
	require.False(t, called)

	dnsA.Poll(LookupTimeoutMS+1, 0)
	require.True(t, called)
	require.Nil(t, got)
}

func TestSafetyNumberSymmetric(t *testing.T) {
	var a, b ids.NodeId
	a[0] = 1
	b[0] = 2
	require.Equal(t, ids.SafetyNumber(a, b), ids.SafetyNumber(b, a))
}
