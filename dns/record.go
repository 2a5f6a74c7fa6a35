// Package dns implements the gossip-based naming service of spec §4.4:
// signed record registration, hop-limited gossip forwarding, asynchronous
// lookups correlated by query id, a TTL+LRU cache, petnames and
// self-certifying crypto-names. Grounded on the teacher's fingerprint.go
// (Ed25519 signing) and discover.go (gossip-style peer broadcast), since the
// teacher has no naming service of its own.
package dns

import (
	"crypto/ed25519"
	"time"

	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
)

// MaxNameLen is the longest normalized name a Record may bind (spec §4.4).
const MaxNameLen = 63

// MaxStunHintLen bounds the record's opaque STUN hint field.
const MaxStunHintLen = 24

// Record is a signed binding of a normalized name to (NodeId, pubkeys).
// Open Question decision 1 (SPEC_FULL.md §4): it carries both the Ed25519
// signing key and a separately-declared X25519 ECDH key, rather than
// replicating the teacher-lineage bug of verifying an Ed25519 signature
// with an X25519 key.
type Record struct {
	Name         string
	NodeID       ids.NodeId
	PubKeySign   [ed25519.PublicKeySize]byte
	PubKeyX25519 [32]byte
	Signature    [ed25519.SignatureSize]byte
	TimestampMS  uint64
	TTLSeconds   uint32
	StunHint     []byte
}

// signedBytes returns name_bytes || pubkey || timestamp_be_u64, the exact
// payload the Ed25519 signature covers (spec §4.4 "Record signature").
func signedBytes(name string, pubKeySign [ed25519.PublicKeySize]byte, timestampMS uint64) []byte {
	buf := make([]byte, 0, MaxNameLen+ed25519.PublicKeySize+8)
	buf = append(buf, []byte(name)...)
	buf = append(buf, pubKeySign[:]...)
	var ts [8]byte
	for i := 7; i >= 0; i-- {
		ts[i] = byte(timestampMS)
		timestampMS >>= 8
	}
	buf = append(buf, ts[:]...)
	return buf
}

// Sign produces a Record for name using priv, stamped with nowUnixMS (the
// caller's wall-clock time in unix ms) and ttlSeconds.
func Sign(priv ed25519.PrivateKey, name string, node ids.NodeId, pubKeySign [ed25519.PublicKeySize]byte, pubKeyX25519 [32]byte, ttlSeconds uint32, stunHint []byte, nowUnixMS uint64) (Record, error) {
	if len(name) > MaxNameLen {
		return Record{}, cxerr.New("dns.Sign", cxerr.KindInvalid, nil)
	}
	if len(stunHint) > MaxStunHintLen {
		return Record{}, cxerr.New("dns.Sign", cxerr.KindInvalid, nil)
	}
	r := Record{
		Name:         name,
		NodeID:       node,
		PubKeySign:   pubKeySign,
		PubKeyX25519: pubKeyX25519,
		TimestampMS:  nowUnixMS,
		TTLSeconds:   ttlSeconds,
		StunHint:     stunHint,
	}
	sig := ed25519.Sign(priv, signedBytes(name, pubKeySign, nowUnixMS))
	copy(r.Signature[:], sig)
	return r, nil
}

// Verify reports whether r's signature is valid over its own fields
// (spec invariant 5: a precondition for caching or re-gossip).
func (r Record) Verify() bool {
	return ed25519.Verify(r.PubKeySign[:], signedBytes(r.Name, r.PubKeySign, r.TimestampMS), r.Signature[:])
}

// IsUnregister reports whether this record is an explicit unregistration
// (ttl=0, spec §4.4 REGISTER protocol).
func (r Record) IsUnregister() bool { return r.TTLSeconds == 0 }

// Expired reports whether r's ttl has elapsed as of nowUnixMS.
func (r Record) Expired(nowUnixMS uint64) bool {
	if r.TTLSeconds == 0 {
		return true
	}
	ageMS := nowUnixMS - r.TimestampMS
	return ageMS >= uint64(r.TTLSeconds)*1000
}

// nowUnixMS returns the current wall-clock time in unix ms. Nothing in this
// module calls it; every exported operation takes the time as a parameter.
func nowUnixMS() uint64 { return uint64(time.Now().UnixMilli()) }
