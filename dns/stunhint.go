package dns

import (
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/code3hr/cyxchat-sub001/cxerr"
	"github.com/code3hr/cyxchat-sub001/ids"
)

// MaxStunHintPlaintextLen bounds the plaintext hint sealStunHint accepts;
// sealed output (plaintext + Poly1305's 16-byte tag) must still fit
// MaxStunHintLen, the wire field's literal size (spec §4.4).
const MaxStunHintPlaintextLen = MaxStunHintLen - chacha20poly1305.Overhead

// stunHintKey derives a symmetric key from owner's NodeId, grounded on the
// teacher's mixnet.go AEAD sealing of relay hops. Any peer can recompute
// this key from the NodeId alone, so sealing the hint only keeps it from
// being a plaintext-scannable NAT fingerprint to casual wire observers — it
// is obfuscation, not secrecy from other peers (spec §4.4 names the field
// "opaque", not confidential).
func stunHintKey(owner ids.NodeId) [32]byte {
	return blake2b.Sum256(append([]byte("cyxchat-stun-hint"), owner[:]...))
}

// stunHintNonce derives a deterministic nonce from the record's timestamp,
// rather than storing a random one, since the wire field has no room left
// for it once the Poly1305 tag is counted. Safe to reuse the (key,
// timestamp) pair across messages only because distinct registrations for
// the same owner always carry strictly increasing timestamps (spec §4.4's
// supersession rule), so the nonce never repeats for a given key.
func stunHintNonce(timestampMS uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	for i := chacha20poly1305.NonceSize - 1; i >= 0; i-- {
		nonce[i] = byte(timestampMS)
		timestampMS >>= 8
	}
	return nonce
}

// sealStunHint encrypts plaintext under owner's derived key. Nil/empty
// plaintext seals to nil (no hint present).
func sealStunHint(owner ids.NodeId, timestampMS uint64, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	if len(plaintext) > MaxStunHintPlaintextLen {
		return nil, cxerr.New("dns.sealStunHint", cxerr.KindInvalid, nil)
	}
	key := stunHintKey(owner)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, cxerr.New("dns.sealStunHint", cxerr.KindCrypto, err)
	}
	nonce := stunHintNonce(timestampMS)
	return aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// OpenStunHint decrypts r.StunHint, previously sealed by Register via
// sealStunHint. Returns nil, nil if r carries no hint.
func OpenStunHint(r Record) ([]byte, error) {
	if len(r.StunHint) == 0 {
		return nil, nil
	}
	key := stunHintKey(r.NodeID)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, cxerr.New("dns.OpenStunHint", cxerr.KindCrypto, err)
	}
	nonce := stunHintNonce(r.TimestampMS)
	plaintext, err := aead.Open(nil, nonce[:], r.StunHint, nil)
	if err != nil {
		return nil, cxerr.New("dns.OpenStunHint", cxerr.KindCrypto, err)
	}
	return plaintext, nil
}
