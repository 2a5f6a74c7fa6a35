package ids

import (
	"encoding/hex"
	"errors"
	"strings"
)

const qrPrefix = "cyxchat://add/"

var ErrBadQR = errors.New("ids: malformed qr link")

// GenerateQR renders the QR / link form named in spec §6:
// cyxchat://add/<node_id_hex>/<pubkey_hex>.
func GenerateQR(node NodeId, pubkey []byte) string {
	return qrPrefix + NodeIDToHex(node) + "/" + hex.EncodeToString(pubkey)
}

// ParseQR is GenerateQR's inverse, satisfying the round-trip law in spec §8:
// parse_qr(generate_qr(node, pk)) == (node, pk).
func ParseQR(link string) (NodeId, []byte, error) {
	var zero NodeId
	rest, ok := strings.CutPrefix(link, qrPrefix)
	if !ok {
		return zero, nil, ErrBadQR
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return zero, nil, ErrBadQR
	}
	node, err := NodeIDFromHex(parts[0])
	if err != nil {
		return zero, nil, ErrBadQR
	}
	pub, err := hex.DecodeString(parts[1])
	if err != nil {
		return zero, nil, ErrBadQR
	}
	return node, pub, nil
}
