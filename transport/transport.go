// Package transport defines the two external collaborators the core
// consumes (spec §6): OnionTransport, an authenticated end-to-end-encrypted
// delivery service between NodeIds, and RawTransport, the raw addressed
// datagram sender the relay client uses to reach relay servers. Both are
// out of the core's scope per spec §1 — this package only pins their
// contracts plus one concrete OnionTransport (a libp2p host) and one fake
// (in-memory, for tests) so the core packages have something to compile and
// test against.
package transport

import (
	"github.com/code3hr/cyxchat-sub001/ids"
)

// DeliverFunc is the callback an OnionTransport invokes for every inbound
// payload it authenticates and decrypts on the core's behalf.
type DeliverFunc func(from ids.NodeId, data []byte)

// OnionTransport is the onion-routing primitive's interface, named in spec
// §1 as an external black box and pinned in §6.
type OnionTransport interface {
	// SendTo hands bytes to the transport for delivery to peer. The core
	// never retries; a non-nil error is surfaced to the caller verbatim.
	SendTo(peer ids.NodeId, data []byte) error
	// Poll drives any internal I/O the transport needs driven cooperatively.
	Poll(nowMS int64)
	// SetCallback installs the inbound-delivery sink; only one may be
	// registered at a time, mirroring the C API's single callback slot.
	SetCallback(fn DeliverFunc)
	// AddPeerKey seeds (or refreshes) the shared-secret material the
	// transport uses to encrypt traffic to peer, carried by the core's
	// ANNOUNCE packet (spec §4.1).
	AddPeerKey(peer ids.NodeId, x25519Pubkey [32]byte) error
	// LocalPubkey returns this node's X25519 public key, as advertised in
	// outbound ANNOUNCE packets.
	LocalPubkey() [32]byte
}

// RawTransport is the addressed datagram primitive the relay client uses to
// reach relay servers, which need not have a NodeId of their own (spec
// §4.3's "Addressing").
type RawTransport interface {
	Send(addr string, data []byte) error
	SetRawCallback(fn func(addr string, data []byte))
	Poll(nowMS int64)
}
