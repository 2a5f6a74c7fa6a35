package connection

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/code3hr/cyxchat-sub001/cxerr"
)

// keyExchange is the X25519 keypair a Connection advertises in its
// outbound ANNOUNCE packets (spec §4.1's "onion_pubkey"), grounded on the
// teacher's mixnet.go ECDH handshake. The resulting shared secret never
// touches the wire: it only feeds confirmationTag, a diagnostic HKDF output
// (grounded on crypto.go's hkdfBytes/fingerprint.go) that callers can log
// or compare out-of-band, since the ANNOUNCE frame itself carries no such
// field.
type keyExchange struct {
	priv [32]byte
	pub  [32]byte
}

func newKeyExchange() (keyExchange, error) {
	var kx keyExchange
	if _, err := rand.Read(kx.priv[:]); err != nil {
		return kx, cxerr.New("connection.newKeyExchange", cxerr.KindCrypto, err)
	}
	pub, err := curve25519.X25519(kx.priv[:], curve25519.Basepoint)
	if err != nil {
		return kx, cxerr.New("connection.newKeyExchange", cxerr.KindCrypto, err)
	}
	copy(kx.pub[:], pub)
	return kx, nil
}

// confirmationTag derives a 16-byte diagnostic tag from the ECDH shared
// secret with peerPub, used only to cross-check key agreement out of band.
func (kx keyExchange) confirmationTag(peerPub [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kx.priv[:], peerPub[:])
	if err != nil {
		return nil, cxerr.New("connection.confirmationTag", cxerr.KindCrypto, err)
	}
	h := hkdf.New(sha256.New, secret, nil, []byte("cyxchat-announce-confirm"))
	tag := make([]byte, 16)
	if _, err := io.ReadFull(h, tag); err != nil {
		return nil, cxerr.New("connection.confirmationTag", cxerr.KindCrypto, err)
	}
	return tag, nil
}
